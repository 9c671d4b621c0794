// Package transport carries encoded wheel packets to the robot. The default
// transport is fire-and-forget UDP; a USB serial hub can be used instead.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	// ErrShortWrite is returned when a transport accepted only part of a packet.
	ErrShortWrite = errors.New("short write")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport closed")
)

// Transport sends single packets. Implementations are owned by one goroutine
// and need not be safe for concurrent use.
type Transport interface {
	Send(p []byte) error
	Close() error
	String() string
}

// Target describes where packets go. An empty SerialPort selects UDP.
type Target struct {
	Host       string
	Port       int
	SerialPort string
	Baud       int
}

func (t Target) String() string {
	if t.SerialPort != "" {
		return fmt.Sprintf("serial:%s@%d", t.SerialPort, t.Baud)
	}
	return "udp:" + net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Opener opens a transport for a target.
type Opener interface {
	Open(target Target) (Transport, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(target Target) (Transport, error)

// Open calls f(target).
func (f OpenerFunc) Open(target Target) (Transport, error) { return f(target) }

// DefaultOpener opens real sockets and serial ports.
type DefaultOpener struct {
	UDP    UDPSocketFactory
	Serial SerialPortOpener
	// Hub receives lines printed by a serial hub. Optional.
	Hub *Hub
}

// NewDefaultOpener returns an opener backed by the operating system.
func NewDefaultOpener(hub *Hub) *DefaultOpener {
	return &DefaultOpener{
		UDP:    NewRealUDPSocketFactory(),
		Serial: OpenSerialPort,
		Hub:    hub,
	}
}

// Open dials the target.
func (o *DefaultOpener) Open(target Target) (Transport, error) {
	if target.SerialPort != "" {
		return NewSerial(target.SerialPort, PortOptions{BaudRate: target.Baud}, o.Serial, o.Hub)
	}
	return NewUDP(target.Host, target.Port, o.UDP)
}
