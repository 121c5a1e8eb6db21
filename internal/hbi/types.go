package hbi

import "fmt"

// Wire constants shared by the listener, the simulator and the tests.
const (
	// ListenPort is the local UDP port telemetry is received on.
	ListenPort = 28093
	// RequestPort is the loopback port of the telemetry source.
	RequestPort = 28092
	// RequestUpdateMessage asks the telemetry source for a full refresh.
	RequestUpdateMessage = "/hbi/requestUpdate"
	// UnknownLevel marks a device that has never reported.
	UnknownLevel = -1
	// MaxLevel is the highest valid battery percentage.
	MaxLevel = 100
)

// Device identifies one of the tracked devices. Values match the wire encoding.
type Device int32

const (
	Headset Device = iota
	ControllerLeft
	ControllerRight
)

// Devices lists every Device in wire order.
var Devices = [...]Device{Headset, ControllerLeft, ControllerRight}

// Valid reports whether d is one of the enumerated devices.
func (d Device) Valid() bool {
	return d >= Headset && d <= ControllerRight
}

func (d Device) String() string {
	switch d {
	case Headset:
		return "Headset"
	case ControllerLeft:
		return "ControllerLeft"
	case ControllerRight:
		return "ControllerRight"
	default:
		return fmt.Sprintf("Device(%d)", int32(d))
	}
}

// Key is the display key used for the device's widgets.
func (d Device) Key() string {
	return "HBI_Device" + d.String()
}

// DeviceFromKey maps a display key back to its Device.
func DeviceFromKey(key string) (Device, bool) {
	for _, d := range Devices {
		if d.Key() == key {
			return d, true
		}
	}
	return 0, false
}

// Company selects an icon family. Unknown is the fallback for anything
// unrecognised.
type Company int32

const (
	CompanyUnknown Company = -1
	CompanyPico    Company = 0
	CompanyMeta    Company = 1
)

// CompanyFromWire maps a wire value to a Company, falling back to
// CompanyUnknown.
func CompanyFromWire(v int32) Company {
	switch c := Company(v); c {
	case CompanyPico, CompanyMeta:
		return c
	default:
		return CompanyUnknown
	}
}

func (c Company) String() string {
	switch c {
	case CompanyPico:
		return "pico"
	case CompanyMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// Status is the decoded state of one device at one point in time.
type Status struct {
	Device   Device  `json:"device"`
	Charging bool    `json:"charging"`
	Level    int     `json:"level"`
	Company  Company `json:"company"`
}

// Observed reports whether the device has reported at least once.
func (s Status) Observed() bool {
	return s.Level != UnknownLevel
}

// Percent is the battery level as a fraction in [0, 1]; unknown reads as 0.
func (s Status) Percent() float64 {
	if !s.Observed() {
		return 0
	}
	return float64(s.Level) / MaxLevel
}

// State derives the display state: Disconnected at level 0, Charging when a
// live reading is charging, otherwise Connected.
func (s Status) State() ConnectionState {
	switch {
	case s.Level == 0:
		return Disconnected
	case s.Level > 0 && s.Charging:
		return Charging
	default:
		return Connected
	}
}

// UnknownStatus is the seeded entry for a device that has not reported yet.
func UnknownStatus(d Device) Status {
	return Status{Device: d, Level: UnknownLevel, Company: CompanyUnknown}
}

// ConnectionState is the display state derived from a Status.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
	Charging
)

func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Charging:
		return "charging"
	default:
		return "disconnected"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *ConnectionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "disconnected":
		*s = Disconnected
	case "connected":
		*s = Connected
	case "charging":
		*s = Charging
	default:
		return fmt.Errorf("unknown connection state %q", b)
	}
	return nil
}

// IconResolver returns the icon bytes for a device.
type IconResolver interface {
	GetDeviceIcon(device Device, company Company, charging bool) []byte
}

// Display receives widget instructions. Both calls are fire-and-forget and
// idempotent per key.
type Display interface {
	RegisterDevice(key string, percent float64, state ConnectionState, icon []byte)
	UpdateDevice(key string, percent float64, state ConnectionState)
}

// IconSetter is implemented by displays that can swap a device icon after
// registration.
type IconSetter interface {
	SetDeviceIcon(key string, icon []byte)
}

// Notifier shows a one-off message to the user.
type Notifier interface {
	Notify(title, message string)
}
