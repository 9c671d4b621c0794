package transport

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortOpener is a function type for opening serial ports.
// This allows for easier testing by replacing the opener function.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)

// OpenSerialPort opens a real serial port with go.bug.st/serial.
func OpenSerialPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// drainer is implemented by ports that can wait for the output buffer to be
// transmitted (serial.Port does).
type drainer interface {
	Drain() error
}

// Serial sends packets to a USB serial hub that relays them to the robot.
// Lines the hub prints are published to the Hub, if one is attached.
type Serial struct {
	path   string
	port   SerialPorter
	hub    *Hub
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewSerial opens the hub port at path.
func NewSerial(path string, opts PortOptions, open SerialPortOpener, hub *Hub) (*Serial, error) {
	if open == nil {
		open = OpenSerialPort
	}
	port, err := open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	s := &Serial{
		path: path,
		port: port,
		hub:  hub,
		done: make(chan struct{}),
	}
	go s.monitor()
	return s, nil
}

// monitor reads hub output lines until the port is closed.
func (s *Serial) monitor() {
	defer close(s.done)
	scan := bufio.NewScanner(s.port)
	for scan.Scan() {
		if s.hub != nil {
			s.hub.Publish(scan.Text())
		}
	}
}

// Send writes one packet and waits for it to leave the output buffer.
func (s *Serial) Send(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	n, err := s.port.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(p))
	}
	if d, ok := s.port.(drainer); ok {
		return d.Drain()
	}
	return nil
}

// Close closes the port and waits for the hub reader to finish.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.port.Close()
	<-s.done
	return err
}

func (s *Serial) String() string {
	return "serial:" + s.path
}
