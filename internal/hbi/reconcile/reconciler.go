// Package reconcile pushes the device store to the display on the host's tick.
package reconcile

import (
	"github.com/banshee-data/battery.report/internal/hbi"
)

// Snapshotter is the read side of hbi.Store.
type Snapshotter interface {
	Snapshot() []hbi.Status
}

// Reconciler emits one display update per observed device on every Tick.
// It never writes to the store, so repeated ticks without new data emit the
// same instructions.
type Reconciler struct {
	store   Snapshotter
	display hbi.Display
	icons   hbi.IconResolver
}

// New creates a Reconciler. icons may be nil when the display cannot swap
// icons.
func New(store Snapshotter, display hbi.Display, icons hbi.IconResolver) *Reconciler {
	return &Reconciler{store: store, display: display, icons: icons}
}

// Update is one emitted display instruction.
type Update struct {
	Key     string
	Percent float64
	State   hbi.ConnectionState
}

// State maps a level and charging flag to the display state.
func State(level int, charging bool) hbi.ConnectionState {
	return hbi.Status{Level: level, Charging: charging}.State()
}

// Percent maps a level to the display fraction.
func Percent(level int) float64 {
	return hbi.Status{Level: level}.Percent()
}

// Plan computes the updates for a snapshot, skipping devices that have never
// reported.
func Plan(snapshot []hbi.Status) []Update {
	updates := make([]Update, 0, len(snapshot))
	for _, st := range snapshot {
		if !st.Observed() {
			continue
		}
		updates = append(updates, Update{
			Key:     st.Device.Key(),
			Percent: st.Percent(),
			State:   st.State(),
		})
	}
	return updates
}

// Tick snapshots the store and sends the resulting updates. When the display
// also implements hbi.IconSetter the icon is refreshed with the current
// charging flag.
func (r *Reconciler) Tick() []Update {
	snapshot := r.store.Snapshot()
	updates := Plan(snapshot)
	for _, u := range updates {
		r.display.UpdateDevice(u.Key, u.Percent, u.State)
	}

	setter, ok := r.display.(hbi.IconSetter)
	if !ok || r.icons == nil {
		return updates
	}
	for _, st := range snapshot {
		if st.Observed() {
			setter.SetDeviceIcon(st.Device.Key(), r.icons.GetDeviceIcon(st.Device, st.Company, st.Charging))
		}
	}
	return updates
}
