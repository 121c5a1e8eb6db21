// Package core wires the store, listener and reconciler into the lifecycle a
// host drives: Start once, Tick on the host's refresh cadence, Close on
// shutdown.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/battery.report/internal/hbi"
	"github.com/banshee-data/battery.report/internal/hbi/network"
	"github.com/banshee-data/battery.report/internal/hbi/reconcile"
	"github.com/banshee-data/battery.report/internal/monitoring"
)

// DefaultRequestAddress is the telemetry source's request port.
var DefaultRequestAddress = fmt.Sprintf("127.0.0.1:%d", hbi.RequestPort)

// Options configures Start. Zero values select the defaults of the wire
// protocol.
type Options struct {
	ListenAddress  string
	ReceiveBuffer  int
	RequestAddress string
	RequestMessage string
	NotifyTitle    string
	StatsInterval  time.Duration

	Display  hbi.Display
	Notifier hbi.Notifier
	Icons    hbi.IconResolver
	Observer network.StatusObserver
	Stats    *hbi.PacketStats

	SocketFactory network.UDPSocketFactory

	// ReplayPCAP, when set, feeds datagrams from a capture file instead of
	// binding the socket. No update request is sent.
	ReplayPCAP     string
	ReplayPort     int
	ReplayRealtime bool
}

// Handle is a running telemetry core.
type Handle struct {
	store      *hbi.Store
	stats      *hbi.PacketStats
	listener   *network.UDPListener
	reconciler *reconcile.Reconciler
	available  bool

	tickMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
	errMu  sync.Mutex
	err    error
}

type discardDisplay struct{}

func (discardDisplay) RegisterDevice(string, float64, hbi.ConnectionState, []byte) {}
func (discardDisplay) UpdateDevice(string, float64, hbi.ConnectionState)           {}

// Start seeds a fresh store, binds the listener and launches the receive loop.
// It never fails: when the socket cannot be bound the notifier has been told,
// the handle reports Available() == false and Tick keeps working against the
// seeded store.
func Start(ctx context.Context, opts Options) *Handle {
	if opts.Display == nil {
		opts.Display = discardDisplay{}
	}
	if opts.Stats == nil {
		opts.Stats = hbi.NewPacketStats()
	}
	if opts.RequestAddress == "" {
		opts.RequestAddress = DefaultRequestAddress
	}
	if opts.RequestMessage == "" {
		opts.RequestMessage = hbi.RequestUpdateMessage
	}
	if opts.ReplayPort == 0 {
		opts.ReplayPort = hbi.ListenPort
	}

	store := hbi.NewStore()
	listener := network.NewUDPListener(network.UDPListenerConfig{
		Address:       opts.ListenAddress,
		RcvBuf:        opts.ReceiveBuffer,
		LogInterval:   opts.StatsInterval,
		NotifyTitle:   opts.NotifyTitle,
		SocketFactory: opts.SocketFactory,
		Stats:         opts.Stats,
		Store:         store,
		Display:       opts.Display,
		Notifier:      opts.Notifier,
		Icons:         opts.Icons,
		Observer:      opts.Observer,
	})

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		store:      store,
		stats:      opts.Stats,
		listener:   listener,
		reconciler: reconcile.New(store, opts.Display, opts.Icons),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	if opts.ReplayPCAP != "" {
		h.available = true
		monitoring.Logf("Replaying telemetry from %s (port %d)", opts.ReplayPCAP, opts.ReplayPort)
		go h.run(func() error {
			return network.ReadPCAPFile(ctx, opts.ReplayPCAP, network.ReplayOptions{
				Port:     opts.ReplayPort,
				Realtime: opts.ReplayRealtime,
			}, listener)
		})
		return h
	}

	if err := listener.Bind(); err != nil {
		h.setErr(err)
		close(h.done)
		return h
	}
	h.available = true

	// Fire and forget; the listener logs failures.
	_ = listener.RequestUpdate(opts.RequestAddress, opts.RequestMessage)

	go h.run(func() error { return listener.Start(ctx) })
	return h
}

func (h *Handle) run(loop func() error) {
	defer close(h.done)
	if err := loop(); err != nil && !errors.Is(err, context.Canceled) {
		monitoring.Logf("Telemetry loop stopped: %v", err)
		h.setErr(err)
	}
}

func (h *Handle) setErr(err error) {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	h.err = err
}

// Err returns the bind failure or the error that stopped the receive loop.
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

// Tick pushes the current snapshot to the display. Concurrent calls are
// serialised.
func (h *Handle) Tick() []reconcile.Update {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()
	return h.reconciler.Tick()
}

// Store returns the device state store.
func (h *Handle) Store() *hbi.Store { return h.store }

// Stats returns the packet counters.
func (h *Handle) Stats() *hbi.PacketStats { return h.stats }

// Available reports whether telemetry is being received.
func (h *Handle) Available() bool { return h.available }

// LocalAddr is the bound socket address, nil in degraded or replay mode.
func (h *Handle) LocalAddr() net.Addr { return h.listener.LocalAddr() }

// Done is closed when the receive loop (or replay) has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Close cancels the receive loop and waits for it to exit.
func (h *Handle) Close() error {
	h.cancel()
	err := h.listener.Close()
	<-h.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
