package transport

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

// MockTransport records every packet it is asked to send.
type MockTransport struct {
	mu      sync.Mutex
	packets [][]byte
	closed  bool
	// SendErr, if set, is called before each send with the zero-based send
	// number; a non-nil result fails that send.
	SendErr func(n int, p []byte) error
	// CloseErr is returned by Close if set.
	CloseErr error
	// SendDelay stalls every send, to simulate a slow link.
	SendDelay time.Duration
	sent      chan struct{}
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{sent: make(chan struct{}, 1024)}
}

// Send records a copy of p.
func (m *MockTransport) Send(p []byte) error {
	if m.SendDelay > 0 {
		time.Sleep(m.SendDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	n := len(m.packets)
	m.packets = append(m.packets, append([]byte(nil), p...))
	select {
	case m.sent <- struct{}{}:
	default:
	}
	if m.SendErr != nil {
		if err := m.SendErr(n, p); err != nil {
			return err
		}
	}
	return nil
}

// Sent signals once per recorded packet.
func (m *MockTransport) Sent() <-chan struct{} {
	return m.sent
}

// Packets returns copies of the recorded packets, failed sends included.
func (m *MockTransport) Packets() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.packets))
	for i, p := range m.packets {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseErr
}

func (m *MockTransport) String() string { return "mock" }

// MockOpener hands out a fresh MockTransport per Open call.
type MockOpener struct {
	mu         sync.Mutex
	Err        error
	Targets    []Target
	Transports []*MockTransport
	// Configure, if set, is applied to each new transport before it is returned.
	Configure func(*MockTransport)
}

// Open records target and returns a new MockTransport.
func (o *MockOpener) Open(target Target) (Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Targets = append(o.Targets, target)
	if o.Err != nil {
		return nil, o.Err
	}
	t := NewMockTransport()
	if o.Configure != nil {
		o.Configure(t)
	}
	o.Transports = append(o.Transports, t)
	return t, nil
}

// Last returns the most recently opened transport, or nil.
func (o *MockOpener) Last() *MockTransport {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Transports) == 0 {
		return nil
	}
	return o.Transports[len(o.Transports)-1]
}

// MockUDPSocket implements UDPSocket for testing.
type MockUDPSocket struct {
	mu sync.Mutex
	// Packets holds the packets to return from ReadFromUDP.
	Packets []MockUDPPacket
	// ReadIndex tracks the current position in Packets.
	ReadIndex int
	// Written records datagrams passed to WriteToUDP.
	Written []MockUDPPacket
	// WriteError is returned by WriteToUDP if set.
	WriteError error
	// ShortWrite makes WriteToUDP report one byte less than requested.
	ShortWrite bool
	// Closed indicates whether Close was called.
	Closed bool
	// ReadBufferSize holds the value set by SetReadBuffer.
	ReadBufferSize int
	// ReadDeadline holds the value set by SetReadDeadline.
	ReadDeadline time.Time
	// LocalAddress is returned by LocalAddr.
	LocalAddress *net.UDPAddr
}

// MockUDPPacket represents a packet for mock testing.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockUDPSocket creates a new MockUDPSocket with the given packets.
func NewMockUDPSocket(packets []MockUDPPacket) *MockUDPSocket {
	return &MockUDPSocket{
		Packets: packets,
		LocalAddress: &net.UDPAddr{
			IP:   net.ParseIP("127.0.0.1"),
			Port: 4210,
		},
	}
}

// ReadFromUDP returns the next packet from the mock buffer, then a timeout
// once the buffer is exhausted.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadIndex >= len(m.Packets) {
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	n := copy(b, pkt.Data)
	return n, pkt.Addr, nil
}

// WriteToUDP records the datagram.
func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return 0, net.ErrClosed
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.Written = append(m.Written, MockUDPPacket{Data: append([]byte(nil), b...), Addr: addr})
	if m.ShortWrite {
		return len(b) - 1, nil
	}
	return len(b), nil
}

// SetReadBuffer records the buffer size.
func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadBufferSize = bytes
	return nil
}

// SetReadDeadline records the deadline.
func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadDeadline = t
	return nil
}

// Close marks the socket as closed.
func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// LocalAddr returns the mock local address.
func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// IsClosed reports whether Close was called.
func (m *MockUDPSocket) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

// MockUDPSocketFactory implements UDPSocketFactory for testing.
type MockUDPSocketFactory struct {
	// Socket is the socket to return from ListenUDP.
	Socket *MockUDPSocket
	// Error is returned by ListenUDP if set.
	Error error
	// ListenCalls records all ListenUDP calls.
	ListenCalls []*net.UDPAddr
}

// NewMockUDPSocketFactory creates a new MockUDPSocketFactory.
func NewMockUDPSocketFactory(socket *MockUDPSocket) *MockUDPSocketFactory {
	return &MockUDPSocketFactory{Socket: socket}
}

// ListenUDP returns the configured mock socket.
func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.ListenCalls = append(f.ListenCalls, laddr)
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// MockSerialPort is an in-memory SerialPorter. Lines written with Emit are
// returned by Read, as if printed by the hub.
type MockSerialPort struct {
	mu      sync.Mutex
	written bytes.Buffer
	reader  *io.PipeReader
	writer  *io.PipeWriter
	closed  bool
	// WriteError is returned by Write if set.
	WriteError error
}

// NewMockSerialPort creates an open MockSerialPort.
func NewMockSerialPort() *MockSerialPort {
	r, w := io.Pipe()
	return &MockSerialPort{reader: r, writer: w}
}

// Emit makes the port output line followed by a newline.
func (m *MockSerialPort) Emit(line string) error {
	_, err := m.writer.Write([]byte(line + "\n"))
	return err
}

// Read returns hub output.
func (m *MockSerialPort) Read(p []byte) (int, error) {
	return m.reader.Read(p)
}

// Write records the bytes sent to the hub.
func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	return m.written.Write(p)
}

// Written returns everything written so far.
func (m *MockSerialPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

// Close closes the port, unblocking readers.
func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.writer.Close()
	return m.reader.Close()
}
