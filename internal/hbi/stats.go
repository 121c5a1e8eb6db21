package hbi

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/battery.report/internal/monitoring"
)

// PacketStats counts datagrams seen by the listener between log intervals and
// keeps running totals for the status API.
type PacketStats struct {
	mu            sync.Mutex
	packetCount   int64
	byteCount     int64
	notifications int64
	applied       int64
	rejected      int64
	dropped       int64
	totals        StatsTotals
	lastReset     time.Time
}

// StatsTotals are counters accumulated since start.
type StatsTotals struct {
	Packets       int64 `json:"packets"`
	Bytes         int64 `json:"bytes"`
	Notifications int64 `json:"notifications"`
	Applied       int64 `json:"applied"`
	Rejected      int64 `json:"rejected"`
	Dropped       int64 `json:"dropped"`
}

// NewPacketStats creates a new PacketStats instance
func NewPacketStats() *PacketStats {
	return &PacketStats{
		lastReset: time.Now(),
	}
}

// AddPacket records one received datagram of the given size.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
	ps.totals.Packets++
	ps.totals.Bytes += int64(bytes)
}

// AddNotification records one forwarded notification.
func (ps *PacketStats) AddNotification() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.notifications++
	ps.totals.Notifications++
}

// AddApplied records one status applied to the store.
func (ps *PacketStats) AddApplied() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.applied++
	ps.totals.Applied++
}

// AddRejected records one datagram the codec refused.
func (ps *PacketStats) AddRejected() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.rejected++
	ps.totals.Rejected++
}

// AddDropped records one status the history recorder could not queue.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.dropped++
	ps.totals.Dropped++
}

// Totals returns the counters accumulated since start.
func (ps *PacketStats) Totals() StatsTotals {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.totals
}

// GetAndReset returns the interval counters and resets them.
func (ps *PacketStats) GetAndReset() (packets, bytes, notifications, applied, rejected, dropped int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets, bytes = ps.packetCount, ps.byteCount
	notifications, applied = ps.notifications, ps.applied
	rejected, dropped = ps.rejected, ps.dropped

	ps.packetCount = 0
	ps.byteCount = 0
	ps.notifications = 0
	ps.applied = 0
	ps.rejected = 0
	ps.dropped = 0
	ps.lastReset = now

	return
}

// LogStats logs the interval counters if anything arrived.
func (ps *PacketStats) LogStats() {
	packets, bytes, notifications, applied, rejected, dropped, duration := ps.GetAndReset()
	if packets == 0 && dropped == 0 {
		return
	}
	msg := fmt.Sprintf("Telemetry stats (%v): %d packets, %d bytes, %d applied, %d notifications",
		duration.Round(time.Second), packets, bytes, applied, notifications)
	if rejected > 0 {
		msg += fmt.Sprintf(", %d rejected", rejected)
	}
	if dropped > 0 {
		msg += fmt.Sprintf(", %d dropped from history", dropped)
	}
	monitoring.Logf("%s", msg)
}
