package network

import (
	"net"
	"sync"

	"github.com/banshee-data/battery.report/internal/hbi"
)

// UDPSocket defines the socket operations the listener needs.
// This abstraction enables unit testing without real network connections.
type UDPSocket interface {
	// ReadFromUDP blocks until a datagram arrives or the socket is closed.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// WriteToUDP sends a datagram from the bound socket.
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)

	// SetReadBuffer sets the size of the operating system's receive buffer.
	SetReadBuffer(bytes int) error

	// Close closes the socket and unblocks pending reads.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// UDPSocketFactory creates UDP sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
type RealUDPSocketFactory struct{}

// NewRealUDPSocketFactory creates a new RealUDPSocketFactory.
func NewRealUDPSocketFactory() *RealUDPSocketFactory {
	return &RealUDPSocketFactory{}
}

// ListenUDP binds a *net.UDPConn, which already satisfies UDPSocket.
func (f *RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket implements UDPSocket for testing. Reads block until a packet
// is pushed with Deliver or the socket is closed.
type MockUDPSocket struct {
	packets chan MockUDPPacket
	done    chan struct{}

	mu             sync.Mutex
	closed         bool
	written        []MockUDPPacket
	readBufferSize int

	// LocalAddress is returned by LocalAddr.
	LocalAddress *net.UDPAddr
	// WriteError is returned by WriteToUDP if set.
	WriteError error
	// SetReadBufferError is returned by SetReadBuffer if set.
	SetReadBufferError error
}

// MockUDPPacket represents a packet for mock testing.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockUDPSocket creates a new MockUDPSocket bound to the listen port.
func NewMockUDPSocket() *MockUDPSocket {
	return &MockUDPSocket{
		packets: make(chan MockUDPPacket, 64),
		done:    make(chan struct{}),
		LocalAddress: &net.UDPAddr{
			IP:   net.ParseIP("127.0.0.1"),
			Port: hbi.ListenPort,
		},
	}
}

// Deliver queues a datagram for the next ReadFromUDP.
func (m *MockUDPSocket) Deliver(data []byte) {
	m.packets <- MockUDPPacket{
		Data: append([]byte(nil), data...),
		Addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: hbi.RequestPort},
	}
}

// ReadFromUDP returns the next delivered packet.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	select {
	case <-m.done:
		return 0, nil, net.ErrClosed
	case pkt := <-m.packets:
		return copy(b, pkt.Data), pkt.Addr, nil
	}
}

// WriteToUDP records the datagram.
func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, MockUDPPacket{Data: append([]byte(nil), b...), Addr: addr})
	return len(b), nil
}

// Written returns every datagram passed to WriteToUDP.
func (m *MockUDPSocket) Written() []MockUDPPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockUDPPacket(nil), m.written...)
}

// SetReadBuffer records the buffer size.
func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	if m.SetReadBufferError != nil {
		return m.SetReadBufferError
	}
	m.mu.Lock()
	m.readBufferSize = bytes
	m.mu.Unlock()
	return nil
}

// ReadBufferSize returns the value set by SetReadBuffer.
func (m *MockUDPSocket) ReadBufferSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBufferSize
}

// Close marks the socket as closed and unblocks readers.
func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// Closed reports whether Close was called.
func (m *MockUDPSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// LocalAddr returns the mock local address.
func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// MockUDPSocketFactory implements UDPSocketFactory for testing.
type MockUDPSocketFactory struct {
	// Socket is the socket to return from ListenUDP.
	Socket *MockUDPSocket
	// Error is returned by ListenUDP if set.
	Error error

	mu          sync.Mutex
	listenCalls []MockListenCall
}

// MockListenCall records a call to ListenUDP.
type MockListenCall struct {
	Network string
	Addr    *net.UDPAddr
}

// NewMockUDPSocketFactory creates a new MockUDPSocketFactory.
func NewMockUDPSocketFactory(socket *MockUDPSocket) *MockUDPSocketFactory {
	return &MockUDPSocketFactory{Socket: socket}
}

// ListenUDP returns the configured mock socket.
func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.mu.Lock()
	f.listenCalls = append(f.listenCalls, MockListenCall{Network: network, Addr: laddr})
	f.mu.Unlock()
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}

// ListenCalls returns every recorded ListenUDP call.
func (f *MockUDPSocketFactory) ListenCalls() []MockListenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MockListenCall(nil), f.listenCalls...)
}
