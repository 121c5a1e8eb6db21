// Package parse classifies and decodes telemetry datagrams.
//
// Two shapes share the port. A datagram starting with '/' is a notification
// ("/topic/message"); anything else is a fixed 16-byte battery record:
//
//	offset size field
//	0      4    device       int32, little-endian
//	4      1    isCharging   0 = false, anything else = true
//	5      3    padding      ignored
//	8      4    batteryLevel int32, little-endian, -1..100
//	12     4    company      int32, little-endian, unknown values -> Unknown
//
// Every function here is pure and bounds-checks before reading.
package parse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/battery.report/internal/hbi"
)

// RecordSize is the encoded size of a battery record.
const RecordSize = 16

const (
	offDevice   = 0
	offCharging = 4
	offLevel    = 8
	offCompany  = 12
)

// NotificationMarker is the leading byte of a notification datagram.
const NotificationMarker = '/'

var (
	// ErrInvalidPacket is wrapped by every decode failure.
	ErrInvalidPacket = errors.New("invalid packet")

	ErrTruncated       = fmt.Errorf("%w: truncated", ErrInvalidPacket)
	ErrInvalidDevice   = fmt.Errorf("%w: device out of range", ErrInvalidPacket)
	ErrLevelOutOfRange = fmt.Errorf("%w: battery level out of range", ErrInvalidPacket)
)

// Kind is the datagram shape.
type Kind int

const (
	KindStatus Kind = iota
	KindNotification
)

func (k Kind) String() string {
	if k == KindNotification {
		return "notification"
	}
	return "status"
}

// Notification is the text carried by a '/'-prefixed datagram.
type Notification struct {
	Topic   string
	Message string
}

// Datagram is one decoded datagram; exactly one of Status and Notification is
// meaningful, selected by Kind.
type Datagram struct {
	Kind         Kind
	Status       hbi.Status
	Notification Notification
}

// Classify returns the datagram shape from its first byte.
func Classify(b []byte) Kind {
	if len(b) > 0 && b[0] == NotificationMarker {
		return KindNotification
	}
	return KindStatus
}

// Decode classifies b and decodes it. Notifications never fail.
func Decode(b []byte) (Datagram, error) {
	if Classify(b) == KindNotification {
		return Datagram{Kind: KindNotification, Notification: DecodeNotification(b)}, nil
	}
	st, err := DecodeStatus(b)
	if err != nil {
		return Datagram{}, err
	}
	return Datagram{Kind: KindStatus, Status: st}, nil
}

// DecodeNotification splits "/topic/message" at the last '/'. Without a second
// '/' the whole remainder is the topic and the message is empty. Each byte is
// taken as one character.
func DecodeNotification(b []byte) Notification {
	if len(b) == 0 {
		return Notification{}
	}
	body := b[1:]
	cut := -1
	for i := len(body) - 1; i >= 0; i-- {
		if body[i] == NotificationMarker {
			cut = i
			break
		}
	}
	if cut < 0 {
		return Notification{Topic: bytesToText(body)}
	}
	return Notification{
		Topic:   bytesToText(body[:cut]),
		Message: bytesToText(body[cut+1:]),
	}
}

func bytesToText(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// DecodeStatus decodes a battery record. Bytes past RecordSize are ignored.
func DecodeStatus(b []byte) (hbi.Status, error) {
	if len(b) < RecordSize {
		return hbi.Status{}, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, RecordSize, len(b))
	}

	device := hbi.Device(int32(binary.LittleEndian.Uint32(b[offDevice : offDevice+4])))
	if !device.Valid() {
		return hbi.Status{}, fmt.Errorf("%w: %d", ErrInvalidDevice, int32(device))
	}

	level := int32(binary.LittleEndian.Uint32(b[offLevel : offLevel+4]))
	if level < hbi.UnknownLevel || level > hbi.MaxLevel {
		return hbi.Status{}, fmt.Errorf("%w: %d", ErrLevelOutOfRange, level)
	}

	return hbi.Status{
		Device:   device,
		Charging: b[offCharging] != 0,
		Level:    int(level),
		Company:  hbi.CompanyFromWire(int32(binary.LittleEndian.Uint32(b[offCompany : offCompany+4]))),
	}, nil
}

// EncodeStatus writes s in wire layout with zeroed padding.
func EncodeStatus(s hbi.Status) []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(b[offDevice:], uint32(int32(s.Device)))
	if s.Charging {
		b[offCharging] = 1
	}
	binary.LittleEndian.PutUint32(b[offLevel:], uint32(int32(s.Level)))
	binary.LittleEndian.PutUint32(b[offCompany:], uint32(int32(s.Company)))
	return b
}

// EncodeNotification builds "/topic/message".
func EncodeNotification(topic, message string) []byte {
	return []byte(string(NotificationMarker) + topic + string(NotificationMarker) + message)
}
