package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/battery.report/internal/hbi"
	"github.com/banshee-data/battery.report/internal/hbi/parse"
	"github.com/banshee-data/battery.report/internal/monitoring"
)

// ErrListenerUnavailable is returned when the socket cannot be bound. The
// caller keeps running without telemetry.
var ErrListenerUnavailable = errors.New("telemetry listener unavailable")

// ListenFailedMessage is sent to the notifier when binding fails.
const ListenFailedMessage = "Failed to create listen socket!"

// DefaultNotifyTitle titles notifications raised by the listener.
const DefaultNotifyTitle = "Headset Battery Info"

// maxDatagramSize covers any UDP payload.
const maxDatagramSize = 65536

// readErrorBackoff throttles the loop when reads fail without the socket
// being closed.
const readErrorBackoff = 100 * time.Millisecond

// PacketStatsInterface provides packet statistics management
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddNotification()
	AddApplied()
	AddRejected()
	LogStats()
}

// StatusObserver is told about every status applied to the store.
type StatusObserver interface {
	ObserveStatus(st hbi.Status)
}

// PacketHandler consumes raw datagrams. UDPListener implements it so pcap
// replay can share the live path.
type PacketHandler interface {
	HandlePacket(packet []byte)
}

// UDPListener receives telemetry datagrams, applies battery records to the
// store and forwards notifications.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	notifyTitle string
	factory     UDPSocketFactory
	stats       PacketStatsInterface
	store       *hbi.Store
	display     hbi.Display
	notifier    hbi.Notifier
	icons       hbi.IconResolver
	observer    StatusObserver

	mu   sync.Mutex
	conn UDPSocket
}

// UDPListenerConfig contains configuration options for the UDP listener
type UDPListenerConfig struct {
	Address       string
	RcvBuf        int
	LogInterval   time.Duration
	NotifyTitle   string
	SocketFactory UDPSocketFactory
	Stats         PacketStatsInterface
	Store         *hbi.Store
	Display       hbi.Display
	Notifier      hbi.Notifier
	Icons         hbi.IconResolver
	Observer      StatusObserver
}

// NewUDPListener creates a new UDP listener with the provided configuration.
// Missing collaborators are replaced by no-op implementations.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	l := &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: config.LogInterval,
		notifyTitle: config.NotifyTitle,
		factory:     config.SocketFactory,
		stats:       config.Stats,
		store:       config.Store,
		display:     config.Display,
		notifier:    config.Notifier,
		icons:       config.Icons,
		observer:    config.Observer,
	}
	if l.address == "" {
		l.address = fmt.Sprintf(":%d", hbi.ListenPort)
	}
	if l.logInterval == 0 {
		l.logInterval = time.Minute
	}
	if l.notifyTitle == "" {
		l.notifyTitle = DefaultNotifyTitle
	}
	if l.factory == nil {
		l.factory = NewRealUDPSocketFactory()
	}
	if l.stats == nil {
		l.stats = noopStats{}
	}
	if l.store == nil {
		l.store = hbi.NewStore()
	}
	if l.display == nil {
		l.display = noopDisplay{}
	}
	if l.notifier == nil {
		l.notifier = noopNotifier{}
	}
	if l.icons == nil {
		l.icons = noopIcons{}
	}
	return l
}

type noopStats struct{}

func (noopStats) AddPacket(int)    {}
func (noopStats) AddNotification() {}
func (noopStats) AddApplied()      {}
func (noopStats) AddRejected()     {}
func (noopStats) LogStats()        {}

type noopDisplay struct{}

func (noopDisplay) RegisterDevice(string, float64, hbi.ConnectionState, []byte) {}
func (noopDisplay) UpdateDevice(string, float64, hbi.ConnectionState)           {}

type noopNotifier struct{}

func (noopNotifier) Notify(string, string) {}

type noopIcons struct{}

func (noopIcons) GetDeviceIcon(hbi.Device, hbi.Company, bool) []byte { return nil }

// Store returns the store the listener writes to.
func (l *UDPListener) Store() *hbi.Store {
	return l.store
}

// Bind opens the socket. On failure the notifier is told once and the returned
// error wraps ErrListenerUnavailable.
func (l *UDPListener) Bind() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return l.unavailable(fmt.Errorf("failed to resolve UDP address %q: %w", l.address, err))
	}
	conn, err := l.factory.ListenUDP("udp", addr)
	if err != nil {
		return l.unavailable(fmt.Errorf("failed to listen on UDP address %q: %w", l.address, err))
	}
	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	l.conn = conn
	monitoring.Logf("UDP listener bound on %s", conn.LocalAddr())
	return nil
}

func (l *UDPListener) unavailable(err error) error {
	monitoring.Logf("Telemetry listener unavailable: %v", err)
	l.notifier.Notify(l.notifyTitle, ListenFailedMessage)
	return fmt.Errorf("%w: %w", ErrListenerUnavailable, err)
}

func (l *UDPListener) socket() UDPSocket {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// LocalAddr returns the bound address, or nil before Bind.
func (l *UDPListener) LocalAddr() net.Addr {
	if conn := l.socket(); conn != nil {
		return conn.LocalAddr()
	}
	return nil
}

// RequestUpdate sends message once to addr from the bound socket, asking the
// telemetry source for a full refresh. Failures are logged and returned; they
// are never retried.
func (l *UDPListener) RequestUpdate(addr, message string) error {
	conn := l.socket()
	if conn == nil {
		return fmt.Errorf("request update: %w", ErrListenerUnavailable)
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		monitoring.Logf("Failed to resolve update peer %q: %v", addr, err)
		return fmt.Errorf("failed to resolve update peer: %w", err)
	}
	if _, err := conn.WriteToUDP([]byte(message), raddr); err != nil {
		monitoring.Logf("Failed to send update request to %s: %v", raddr, err)
		return fmt.Errorf("failed to send update request: %w", err)
	}
	monitoring.Logf("Sent update request %q to %s", message, raddr)
	return nil
}

// Start binds if needed and receives datagrams until ctx is done or the socket
// is closed. Reads block without a deadline; cancellation closes the socket.
func (l *UDPListener) Start(ctx context.Context) error {
	if err := l.Bind(); err != nil {
		return err
	}
	conn := l.socket()
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	statsCtx, cancelStats := context.WithCancel(ctx)
	defer cancelStats()
	go l.startStatsLogging(statsCtx)

	buffer := make([]byte, maxDatagramSize)
	for {
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil {
				monitoring.Logf("UDP listener stopping due to context cancellation")
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				monitoring.Logf("UDP listener socket closed")
				return nil
			}
			monitoring.Logf("UDP read error: %v", err)
			time.Sleep(readErrorBackoff)
			continue
		}
		l.HandlePacket(buffer[:n])
	}
}

// startStatsLogging logs packet statistics on the configured interval.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// HandlePacket classifies and applies one datagram. Undecodable datagrams are
// counted and dropped.
func (l *UDPListener) HandlePacket(packet []byte) {
	l.stats.AddPacket(len(packet))

	d, err := parse.Decode(packet)
	if err != nil {
		l.stats.AddRejected()
		return
	}

	switch d.Kind {
	case parse.KindNotification:
		l.stats.AddNotification()
		l.notifier.Notify(l.notifyTitle, d.Notification.Message)
	case parse.KindStatus:
		l.applyStatus(d.Status)
	}
}

func (l *UDPListener) applyStatus(st hbi.Status) {
	first := l.store.Apply(st)
	l.stats.AddApplied()
	if l.observer != nil {
		l.observer.ObserveStatus(st)
	}
	if !first {
		return
	}
	icon := l.icons.GetDeviceIcon(st.Device, st.Company, false)
	l.display.RegisterDevice(st.Device.Key(), st.Percent(), hbi.Connected, icon)
	monitoring.Logf("Registered %s at %d%% (%s)", st.Device, st.Level, st.Company)
}

// Close closes the socket, unblocking Start.
func (l *UDPListener) Close() error {
	if conn := l.socket(); conn != nil {
		return conn.Close()
	}
	return nil
}
