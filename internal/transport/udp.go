package transport

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// UDPSocket defines an interface for UDP socket operations.
// This abstraction enables unit testing without real network connections.
type UDPSocket interface {
	// ReadFromUDP reads a UDP packet from the socket.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// WriteToUDP sends a datagram to addr.
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)

	// SetReadBuffer sets the size of the operating system's receive buffer.
	SetReadBuffer(bytes int) error

	// SetReadDeadline sets the deadline for future Read calls.
	SetReadDeadline(t time.Time) error

	// Close closes the socket.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// UDPSocketFactory defines an interface for creating UDP sockets.
// This abstraction enables dependency injection of socket creation.
type UDPSocketFactory interface {
	// ListenUDP creates and returns a new UDP socket.
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
type RealUDPSocketFactory struct{}

// NewRealUDPSocketFactory creates a new RealUDPSocketFactory.
func NewRealUDPSocketFactory() *RealUDPSocketFactory {
	return &RealUDPSocketFactory{}
}

// ListenUDP creates a new UDP socket. *net.UDPConn satisfies UDPSocket directly.
func (f *RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// UDP sends packets from an unconnected socket, so ICMP errors from an absent
// robot do not surface as send failures on later ticks. Nothing is ever read
// back: the link has no acknowledgements.
type UDP struct {
	sock   UDPSocket
	addr   *net.UDPAddr
	closed bool
}

// NewUDP resolves host:port and opens an ephemeral local socket.
func NewUDP(host string, port int, factory UDPSocketFactory) (*UDP, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target address %s: %w", address, err)
	}

	sock, err := factory.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket: %w", err)
	}
	return &UDP{sock: sock, addr: addr}, nil
}

// Send writes one datagram.
func (u *UDP) Send(p []byte) error {
	if u.closed {
		return ErrClosed
	}
	n, err := u.sock.WriteToUDP(p, u.addr)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(p))
	}
	return nil
}

// Close closes the socket. Further calls are no-ops.
func (u *UDP) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	return u.sock.Close()
}

func (u *UDP) String() string {
	return "udp:" + u.addr.String()
}
