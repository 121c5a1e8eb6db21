// Package display provides an in-process display and notifier for running the
// telemetry core without a host UI. Board keeps one widget per device key and
// a bounded list of notifications, and fans every change out to subscribers
// (the HTTP event stream, tests).
package display

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/battery.report/internal/hbi"
	"github.com/banshee-data/battery.report/internal/timeutil"
)

// DefaultMaxNotes bounds the notification history kept in memory.
const DefaultMaxNotes = 50

// subscriberBuffer lets a slow subscriber fall this far behind before events
// to it are dropped.
const subscriberBuffer = 16

// Widget is the board's view of one device.
type Widget struct {
	Key        string              `json:"key"`
	Percent    float64             `json:"percent"`
	State      hbi.ConnectionState `json:"state"`
	Icon       []byte              `json:"-"`
	IconBytes  int                 `json:"icon_bytes"`
	Registered time.Time           `json:"registered"`
	Updated    time.Time           `json:"updated"`
}

// Note is one notification shown to the user.
type Note struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// EventType names a board change.
type EventType string

const (
	EventRegister EventType = "register"
	EventUpdate   EventType = "update"
	EventIcon     EventType = "icon"
	EventNotify   EventType = "notify"
)

// Event is delivered to subscribers for every change.
type Event struct {
	Type   EventType `json:"type"`
	Widget *Widget   `json:"widget,omitempty"`
	Note   *Note     `json:"note,omitempty"`
}

// Board implements hbi.Display, hbi.IconSetter and hbi.Notifier.
type Board struct {
	clock    timeutil.Clock
	maxNotes int

	mu      sync.Mutex
	widgets map[string]Widget
	notes   []Note

	subscriberMu sync.Mutex
	subscribers  map[string]chan Event
	closing      bool
}

// Config configures a Board.
type Config struct {
	Clock    timeutil.Clock
	MaxNotes int
}

// NewBoard creates an empty board.
func NewBoard(cfg Config) *Board {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.MaxNotes <= 0 {
		cfg.MaxNotes = DefaultMaxNotes
	}
	return &Board{
		clock:       cfg.Clock,
		maxNotes:    cfg.MaxNotes,
		widgets:     make(map[string]Widget),
		subscribers: make(map[string]chan Event),
	}
}

// RegisterDevice creates or replaces the widget for key.
func (b *Board) RegisterDevice(key string, percent float64, state hbi.ConnectionState, icon []byte) {
	now := b.clock.Now()
	w := Widget{
		Key:        key,
		Percent:    percent,
		State:      state,
		Icon:       icon,
		IconBytes:  len(icon),
		Registered: now,
		Updated:    now,
	}
	b.mu.Lock()
	b.widgets[key] = w
	b.mu.Unlock()
	b.publish(Event{Type: EventRegister, Widget: &w})
}

// UpdateDevice sets the level and state of key. Keys that were never
// registered get a widget without an icon.
func (b *Board) UpdateDevice(key string, percent float64, state hbi.ConnectionState) {
	now := b.clock.Now()
	b.mu.Lock()
	w, ok := b.widgets[key]
	if !ok {
		w = Widget{Key: key, Registered: now}
	}
	w.Percent = percent
	w.State = state
	w.Updated = now
	b.widgets[key] = w
	b.mu.Unlock()
	b.publish(Event{Type: EventUpdate, Widget: &w})
}

// SetDeviceIcon swaps the icon of an existing widget. Unchanged icons are not
// republished.
func (b *Board) SetDeviceIcon(key string, icon []byte) {
	b.mu.Lock()
	w, ok := b.widgets[key]
	if !ok || string(w.Icon) == string(icon) {
		b.mu.Unlock()
		return
	}
	w.Icon = icon
	w.IconBytes = len(icon)
	b.widgets[key] = w
	b.mu.Unlock()
	b.publish(Event{Type: EventIcon, Widget: &w})
}

// Notify records a notification.
func (b *Board) Notify(title, message string) {
	n := Note{
		ID:      uuid.NewString(),
		Title:   title,
		Message: message,
		At:      b.clock.Now(),
	}
	b.mu.Lock()
	b.notes = append(b.notes, n)
	if over := len(b.notes) - b.maxNotes; over > 0 {
		b.notes = append([]Note(nil), b.notes[over:]...)
	}
	b.mu.Unlock()
	b.publish(Event{Type: EventNotify, Note: &n})
}

// Widgets returns all widgets ordered by key.
func (b *Board) Widgets() []Widget {
	b.mu.Lock()
	out := make([]Widget, 0, len(b.widgets))
	for _, w := range b.widgets {
		out = append(out, w)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Widget returns the widget for key.
func (b *Board) Widget(key string) (Widget, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.widgets[key]
	return w, ok
}

// Notes returns the retained notifications, oldest first.
func (b *Board) Notes() []Note {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Note(nil), b.notes...)
}

// Subscribe returns an ID and a channel receiving every subsequent event.
// After Close the returned channel is already closed.
func (b *Board) Subscribe() (string, chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if b.closing {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscriber.
func (b *Board) Unsubscribe(id string) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Subscribers returns the number of active subscribers.
func (b *Board) Subscribers() int {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	return len(b.subscribers)
}

func (b *Board) publish(ev Event) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if b.closing {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// never block the telemetry path on a slow reader
		}
	}
}

// Close closes every subscriber channel. Later changes are still recorded but
// no longer published.
func (b *Board) Close() error {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if b.closing {
		return nil
	}
	b.closing = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	return nil
}
