package hbi

import "sync"

// Store maps each Device to its latest Status. The listener is the only
// writer; the reconciler and the API only read snapshots.
type Store struct {
	mu         sync.Mutex
	entries    map[Device]Status
	registered map[Device]bool
}

// NewStore returns a seeded Store.
func NewStore() *Store {
	s := &Store{}
	s.Seed()
	return s
}

// Seed resets every device to the unknown status.
func (s *Store) Seed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[Device]Status, len(Devices))
	s.registered = make(map[Device]bool, len(Devices))
	for _, d := range Devices {
		s.entries[d] = UnknownStatus(d)
	}
}

// Apply replaces the entry for st.Device and reports whether this is the
// device's first transition away from the unknown level since the last Seed.
// It is true at most once per device, even if the device later reports the
// unknown level again. Statuses for devices outside the enumeration are
// ignored.
func (s *Store) Apply(st Status) (first bool) {
	if !st.Device.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[st.Device] = st
	if !st.Observed() || s.registered[st.Device] {
		return false
	}
	s.registered[st.Device] = true
	return true
}

// Snapshot returns a copy of every entry ordered by Device.
func (s *Store) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(Devices))
	for _, d := range Devices {
		out = append(out, s.entries[d])
	}
	return out
}

// Get returns the current entry for d.
func (s *Store) Get(d Device) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.entries[d]; ok {
		return st
	}
	return UnknownStatus(d)
}
