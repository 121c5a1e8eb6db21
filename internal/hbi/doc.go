// Package hbi holds the headset battery info data model: device and company
// identifiers, the decoded battery status record, the shared device state
// store and the collaborator interfaces the core talks to.
//
// Subpackages:
//   - parse: datagram classification and decoding
//   - network: UDP listener, update request and pcap replay
//   - reconcile: tick-driven display refresh
//   - icons: icon lookup backed by a directory of images
//   - core: Start/Tick lifecycle tying the pieces together
package hbi
