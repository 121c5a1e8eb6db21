package network

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/battery.report/internal/hbi"
	"github.com/banshee-data/battery.report/internal/hbi/parse"
	"github.com/banshee-data/battery.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

type registerCall struct {
	Key     string
	Percent float64
	State   hbi.ConnectionState
	Icon    []byte
}

type fakeDisplay struct {
	mu        sync.Mutex
	registers []registerCall
	updates   int
}

func (d *fakeDisplay) RegisterDevice(key string, percent float64, state hbi.ConnectionState, icon []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registers = append(d.registers, registerCall{key, percent, state, icon})
}

func (d *fakeDisplay) UpdateDevice(string, float64, hbi.ConnectionState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates++
}

func (d *fakeDisplay) Registers() []registerCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]registerCall(nil), d.registers...)
}

type note struct{ Title, Message string }

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *fakeNotifier) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note{title, message})
}

func (n *fakeNotifier) Notes() []note {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]note(nil), n.notes...)
}

type iconKey struct {
	Device   hbi.Device
	Company  hbi.Company
	Charging bool
}

type fakeIcons struct {
	mu    sync.Mutex
	calls []iconKey
}

func (f *fakeIcons) GetDeviceIcon(d hbi.Device, c hbi.Company, charging bool) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, iconKey{d, c, charging})
	return []byte(d.String() + "/" + c.String())
}

type fakeObserver struct {
	mu   sync.Mutex
	seen []hbi.Status
}

func (o *fakeObserver) ObserveStatus(st hbi.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, st)
}

type fixture struct {
	listener *UDPListener
	socket   *MockUDPSocket
	factory  *MockUDPSocketFactory
	stats    *hbi.PacketStats
	store    *hbi.Store
	display  *fakeDisplay
	notifier *fakeNotifier
	icons    *fakeIcons
	observer *fakeObserver
}

func newFixture() *fixture {
	f := &fixture{
		socket:   NewMockUDPSocket(),
		stats:    hbi.NewPacketStats(),
		store:    hbi.NewStore(),
		display:  &fakeDisplay{},
		notifier: &fakeNotifier{},
		icons:    &fakeIcons{},
		observer: &fakeObserver{},
	}
	f.factory = NewMockUDPSocketFactory(f.socket)
	f.listener = NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:28093",
		RcvBuf:        4096,
		SocketFactory: f.factory,
		Stats:         f.stats,
		Store:         f.store,
		Display:       f.display,
		Notifier:      f.notifier,
		Icons:         f.icons,
		Observer:      f.observer,
	})
	return f
}

func TestNewUDPListener_Defaults(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{})
	if l.address != ":28093" {
		t.Errorf("Expected default address ':28093', got %q", l.address)
	}
	if l.logInterval != time.Minute {
		t.Errorf("Expected default log interval 1 minute, got %v", l.logInterval)
	}
	if l.notifyTitle != DefaultNotifyTitle {
		t.Errorf("Expected default title %q, got %q", DefaultNotifyTitle, l.notifyTitle)
	}
	if l.stats == nil || l.display == nil || l.notifier == nil || l.icons == nil || l.store == nil {
		t.Error("Expected no-op collaborators to be filled in")
	}
	// No-op collaborators must tolerate a full packet cycle.
	l.HandlePacket(parse.EncodeStatus(hbi.Status{Device: hbi.Headset, Level: 10}))
	l.HandlePacket([]byte("/t/m"))
}

func TestHandlePacket_FirstRecordRegisters(t *testing.T) {
	f := newFixture()
	st := hbi.Status{Device: hbi.ControllerLeft, Charging: true, Level: 64, Company: hbi.CompanyPico}

	f.listener.HandlePacket(parse.EncodeStatus(st))

	regs := f.display.Registers()
	if len(regs) != 1 {
		t.Fatalf("Expected 1 register call, got %d", len(regs))
	}
	got := regs[0]
	if got.Key != hbi.ControllerLeft.Key() {
		t.Errorf("Expected key %q, got %q", hbi.ControllerLeft.Key(), got.Key)
	}
	if got.Percent != 0.64 {
		t.Errorf("Expected percent 0.64, got %v", got.Percent)
	}
	if got.State != hbi.Connected {
		t.Errorf("Expected connected state, got %v", got.State)
	}
	if string(got.Icon) != "ControllerLeft/pico" {
		t.Errorf("Unexpected icon %q", got.Icon)
	}
	// Registration icon is always the non-charging variant.
	if len(f.icons.calls) != 1 || f.icons.calls[0] != (iconKey{hbi.ControllerLeft, hbi.CompanyPico, false}) {
		t.Errorf("Unexpected icon lookups: %+v", f.icons.calls)
	}
	if f.store.Get(hbi.ControllerLeft) != st {
		t.Errorf("Store not updated: %+v", f.store.Get(hbi.ControllerLeft))
	}
}

func TestHandlePacket_SubsequentRecordsDoNotRegister(t *testing.T) {
	f := newFixture()
	for _, level := range []int{50, 49, 0, 30} {
		f.listener.HandlePacket(parse.EncodeStatus(hbi.Status{Device: hbi.Headset, Level: level}))
	}
	if n := len(f.display.Registers()); n != 1 {
		t.Errorf("Expected exactly 1 registration, got %d", n)
	}
	if f.display.updates != 0 {
		t.Errorf("Listener must not emit updates, got %d", f.display.updates)
	}
	if got := f.store.Get(hbi.Headset).Level; got != 30 {
		t.Errorf("Expected level 30, got %d", got)
	}
	if n := len(f.observer.seen); n != 4 {
		t.Errorf("Expected observer to see 4 statuses, got %d", n)
	}
	if f.stats.Totals().Applied != 4 {
		t.Errorf("Expected 4 applied, got %d", f.stats.Totals().Applied)
	}
}

func TestHandlePacket_UnknownAgainDoesNotReregister(t *testing.T) {
	f := newFixture()
	for _, level := range []int{42, hbi.UnknownLevel, 50} {
		f.listener.HandlePacket(parse.EncodeStatus(hbi.Status{Device: hbi.ControllerRight, Level: level}))
	}
	regs := f.display.Registers()
	if len(regs) != 1 {
		t.Fatalf("Expected exactly 1 registration, got %d", len(regs))
	}
	if regs[0].Percent != 0.42 {
		t.Errorf("Expected registration at 0.42, got %v", regs[0].Percent)
	}
	if got := f.store.Get(hbi.ControllerRight).Level; got != 50 {
		t.Errorf("Expected level 50, got %d", got)
	}
}

func TestHandlePacket_Notification(t *testing.T) {
	f := newFixture()
	f.listener.HandlePacket([]byte("/hbi/update/Battery low"))

	notes := f.notifier.Notes()
	if len(notes) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(notes))
	}
	if notes[0].Message != "Battery low" || notes[0].Title != DefaultNotifyTitle {
		t.Errorf("Unexpected notification %+v", notes[0])
	}
	for _, st := range f.store.Snapshot() {
		if st.Observed() {
			t.Errorf("Notification must not touch the store: %+v", st)
		}
	}
	if len(f.display.Registers()) != 0 {
		t.Error("Notification must not register devices")
	}
}

func TestHandlePacket_RejectedSilently(t *testing.T) {
	f := newFixture()
	bad := parse.EncodeStatus(hbi.Status{Device: hbi.Headset, Level: 50})
	bad[8] = 200 // level out of range

	for _, pkt := range [][]byte{{1, 2, 3}, {}, bad} {
		f.listener.HandlePacket(pkt)
	}

	if len(f.display.Registers()) != 0 || len(f.notifier.Notes()) != 0 {
		t.Error("Rejected datagrams must not reach collaborators")
	}
	if f.store.Get(hbi.Headset).Observed() {
		t.Error("Rejected datagram reached the store")
	}
	totals := f.stats.Totals()
	if totals.Rejected != 3 || totals.Packets != 3 {
		t.Errorf("Unexpected stats %+v", totals)
	}
}

func TestBind_FailureNotifiesOnce(t *testing.T) {
	f := newFixture()
	f.factory.Error = errors.New("address already in use")

	err := f.listener.Start(context.Background())
	if !errors.Is(err, ErrListenerUnavailable) {
		t.Fatalf("Expected ErrListenerUnavailable, got %v", err)
	}
	notes := f.notifier.Notes()
	if len(notes) != 1 || notes[0].Message != ListenFailedMessage {
		t.Errorf("Expected one listen failure notification, got %+v", notes)
	}
	if err := f.listener.RequestUpdate("127.0.0.1:28092", hbi.RequestUpdateMessage); !errors.Is(err, ErrListenerUnavailable) {
		t.Errorf("Expected RequestUpdate to fail when unbound, got %v", err)
	}
}

func TestBind_SetsReadBuffer(t *testing.T) {
	f := newFixture()
	if err := f.listener.Bind(); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if got := f.socket.ReadBufferSize(); got != 4096 {
		t.Errorf("Expected read buffer 4096, got %d", got)
	}
	calls := f.factory.ListenCalls()
	if len(calls) != 1 || calls[0].Addr.Port != 28093 {
		t.Errorf("Unexpected listen calls %+v", calls)
	}
	// Second Bind is a no-op.
	if err := f.listener.Bind(); err != nil {
		t.Fatalf("Second Bind failed: %v", err)
	}
	if len(f.factory.ListenCalls()) != 1 {
		t.Error("Bind should not reopen the socket")
	}
}

func TestRequestUpdate_SendsFromSocket(t *testing.T) {
	f := newFixture()
	if err := f.listener.Bind(); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := f.listener.RequestUpdate("127.0.0.1:28092", hbi.RequestUpdateMessage); err != nil {
		t.Fatalf("RequestUpdate failed: %v", err)
	}
	written := f.socket.Written()
	if len(written) != 1 {
		t.Fatalf("Expected 1 datagram, got %d", len(written))
	}
	if string(written[0].Data) != "/hbi/requestUpdate" || written[0].Addr.Port != 28092 {
		t.Errorf("Unexpected datagram %q to %v", written[0].Data, written[0].Addr)
	}
}

func TestRequestUpdate_WriteErrorIsNonFatal(t *testing.T) {
	f := newFixture()
	f.socket.WriteError = errors.New("network unreachable")
	if err := f.listener.Bind(); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := f.listener.RequestUpdate("127.0.0.1:28092", hbi.RequestUpdateMessage); err == nil {
		t.Error("Expected error from RequestUpdate")
	}
	// The listener stays usable.
	f.listener.HandlePacket(parse.EncodeStatus(hbi.Status{Device: hbi.Headset, Level: 5}))
	if !f.store.Get(hbi.Headset).Observed() {
		t.Error("Listener stopped applying after a send failure")
	}
}

func TestStart_ReceivesUntilCancelled(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.listener.Start(ctx) }()

	f.socket.Deliver(parse.EncodeStatus(hbi.Status{Device: hbi.ControllerRight, Level: 77, Company: hbi.CompanyMeta}))
	f.socket.Deliver([]byte("/hbi/hello"))
	f.socket.Deliver([]byte("/hbi/x/Controller paired"))

	deadline := time.Now().Add(2 * time.Second)
	for len(f.notifier.Notes()) < 1 || !f.store.Get(hbi.ControllerRight).Observed() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for datagrams to be processed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	if !f.socket.Closed() {
		t.Error("Socket should be closed after Start returns")
	}
	notes := f.notifier.Notes()
	// "/hbi/hello" has no second slash, so its message is empty.
	if notes[0].Message != "" {
		t.Errorf("Expected empty message, got %q", notes[0].Message)
	}
}

func TestStart_ReturnsWhenClosed(t *testing.T) {
	f := newFixture()
	done := make(chan error, 1)
	go func() { done <- f.listener.Start(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.listener.LocalAddr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Listener never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := f.listener.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil after Close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Close")
	}
}
