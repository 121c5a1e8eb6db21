package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/battery.report/internal/hbi"
)

type recordingDisplay struct {
	updates []Update
}

func (d *recordingDisplay) RegisterDevice(string, float64, hbi.ConnectionState, []byte) {}

func (d *recordingDisplay) UpdateDevice(key string, percent float64, state hbi.ConnectionState) {
	d.updates = append(d.updates, Update{Key: key, Percent: percent, State: state})
}

type iconDisplay struct {
	recordingDisplay
	icons map[string]string
}

func (d *iconDisplay) SetDeviceIcon(key string, icon []byte) {
	if d.icons == nil {
		d.icons = make(map[string]string)
	}
	d.icons[key] = string(icon)
}

type stubIcons struct{}

func (stubIcons) GetDeviceIcon(d hbi.Device, c hbi.Company, charging bool) []byte {
	if charging {
		return []byte(d.String() + "+")
	}
	return []byte(d.String())
}

func TestTick_SkipsUnobservedDevices(t *testing.T) {
	store := hbi.NewStore()
	d := &recordingDisplay{}
	r := New(store, d, nil)

	if got := r.Tick(); len(got) != 0 {
		t.Fatalf("expected no updates for a fresh store, got %+v", got)
	}

	store.Apply(hbi.Status{Device: hbi.ControllerRight, Level: 25})
	want := []Update{{Key: hbi.ControllerRight.Key(), Percent: 0.25, State: hbi.Connected}}
	if diff := cmp.Diff(want, r.Tick()); diff != "" {
		t.Errorf("Tick() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, d.updates); diff != "" {
		t.Errorf("display updates mismatch (-want +got):\n%s", diff)
	}
}

func TestTick_ChargingExample(t *testing.T) {
	store := hbi.NewStore()
	store.Apply(hbi.Status{Device: hbi.Headset, Charging: true, Level: 42, Company: hbi.CompanyMeta})
	got := New(store, &recordingDisplay{}, nil).Tick()
	want := []Update{{Key: hbi.Headset.Key(), Percent: 0.42, State: hbi.Charging}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_States(t *testing.T) {
	tests := []struct {
		name string
		in   hbi.Status
		want hbi.ConnectionState
	}{
		{"zero is disconnected", hbi.Status{Level: 0}, hbi.Disconnected},
		{"zero charging is still disconnected", hbi.Status{Level: 0, Charging: true}, hbi.Disconnected},
		{"live charging", hbi.Status{Level: 1, Charging: true}, hbi.Charging},
		{"live", hbi.Status{Level: 100}, hbi.Connected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan([]hbi.Status{tt.in})
			if len(got) != 1 {
				t.Fatalf("expected one update, got %d", len(got))
			}
			if got[0].State != tt.want {
				t.Errorf("state = %v, want %v", got[0].State, tt.want)
			}
		})
	}
}

func TestTick_OneUpdatePerObservedDeviceAndIdempotent(t *testing.T) {
	store := hbi.NewStore()
	store.Apply(hbi.Status{Device: hbi.Headset, Level: 80})
	store.Apply(hbi.Status{Device: hbi.ControllerLeft, Level: 0, Charging: true})

	d := &recordingDisplay{}
	r := New(store, d, nil)
	first := r.Tick()
	second := r.Tick()

	want := []Update{
		{Key: hbi.Headset.Key(), Percent: 0.8, State: hbi.Connected},
		{Key: hbi.ControllerLeft.Key(), Percent: 0, State: hbi.Disconnected},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("first tick mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("ticks differ without new data (-first +second):\n%s", diff)
	}
	if len(d.updates) != 4 {
		t.Errorf("expected 4 display calls, got %d", len(d.updates))
	}
	// The store is untouched by reconciliation.
	if store.Get(hbi.ControllerRight).Observed() {
		t.Error("reconciler mutated the store")
	}
}

func TestTick_RefreshesIconsWhenSupported(t *testing.T) {
	store := hbi.NewStore()
	store.Apply(hbi.Status{Device: hbi.Headset, Level: 50, Charging: true})
	d := &iconDisplay{}
	New(store, d, stubIcons{}).Tick()

	want := map[string]string{hbi.Headset.Key(): "Headset+"}
	if diff := cmp.Diff(want, d.icons); diff != "" {
		t.Errorf("icons mismatch (-want +got):\n%s", diff)
	}
}

func TestHelpers(t *testing.T) {
	if got := Percent(-1); got != 0 {
		t.Errorf("Percent(-1) = %v, want 0", got)
	}
	if got := Percent(100); got != 1 {
		t.Errorf("Percent(100) = %v, want 1", got)
	}
	if got := State(0, true); got != hbi.Disconnected {
		t.Errorf("State(0, true) = %v", got)
	}
	if got := State(-1, true); got != hbi.Connected {
		t.Errorf("State(-1, true) = %v", got)
	}
}
