// Package sim is a stand-in for the robot: it receives wheel packets, prints
// what the motors would be told, and notices when the link goes quiet.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/packet"
	"github.com/banshee-data/wheelcast/internal/timeutil"
	"github.com/banshee-data/wheelcast/internal/transport"
)

const (
	// DefaultListen matches the sender's default port.
	DefaultListen = ":4210"
	// DefaultWatchdog is how long the link may stay silent before it is
	// reported lost.
	DefaultWatchdog = 500 * time.Millisecond

	readTimeout = 100 * time.Millisecond
	maxDatagram = 64
)

// Counters tallies what the receiver has seen.
type Counters struct {
	Packets     uint64    `json:"packets"`
	ChecksumOK  uint64    `json:"checksum_ok"`
	ChecksumBad uint64    `json:"checksum_bad"`
	NoChecksum  uint64    `json:"no_checksum"`
	Short       uint64    `json:"short"`
	Oversize    uint64    `json:"oversize"`
	LinkLost    uint64    `json:"link_lost"`
	LastFrom    string    `json:"last_from,omitempty"`
	LastAt      time.Time `json:"last_at"`
	LastLeft    float64   `json:"last_left"`
	LastRight   float64   `json:"last_right"`
}

// Config configures a Receiver.
type Config struct {
	Listen   string
	Watchdog time.Duration
}

// Receiver prints one line per datagram to its output.
type Receiver struct {
	cfg     Config
	factory transport.UDPSocketFactory
	clock   timeutil.Clock
	out     io.Writer

	mu       sync.Mutex
	counters Counters
	linkLost bool
}

// NewReceiver creates a receiver. Zero config fields take their defaults and
// a nil clock uses the wall clock.
func NewReceiver(cfg Config, factory transport.UDPSocketFactory, clock timeutil.Clock, out io.Writer) *Receiver {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Watchdog <= 0 {
		cfg.Watchdog = DefaultWatchdog
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Receiver{cfg: cfg, factory: factory, clock: clock, out: out}
}

// Counters returns a copy of the tallies.
func (r *Receiver) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// Run listens until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := r.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	monitoring.Logf("Listening on %s", conn.LocalAddr())

	buffer := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			c := r.Counters()
			monitoring.Logf("sim stopping: %d packets (%d bad checksum, %d short), link lost %d times",
				c.Packets, c.ChecksumBad, c.Short, c.LinkLost)
			return nil
		default:
		}

		if err := conn.SetReadDeadline(r.clock.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				r.checkWatchdog(r.clock.Now())
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("UDP read error: %w", err)
		}

		host := ""
		if from != nil {
			host = from.IP.String()
		}
		r.observe(r.clock.Now(), host, buffer[:n], "")
	}
}

// FormatLine renders one datagram the way the robot firmware would
// interpret it. Values are clamped to [-1, 1] for display.
func FormatLine(from string, data []byte) string {
	if len(data) < packet.Len {
		return fmt.Sprintf("%s short packet: %x", from, data)
	}
	state := packet.ChecksumAbsent
	if f, err := packet.Decode(data); err == nil {
		state = f.Checksum
	}
	left := packet.Clamp(packet.ToUnitFloat(int8(data[0])))
	right := packet.Clamp(packet.ToUnitFloat(int8(data[1])))
	return fmt.Sprintf("%s l=%+.3f r=%+.3f bytes=%x checksum=%s", from, left, right, data, state)
}

// observe updates the counters for one datagram received at now and prints
// its line with the given prefix.
func (r *Receiver) observe(now time.Time, from string, data []byte, prefix string) {
	r.checkWatchdog(now)

	r.mu.Lock()
	c := &r.counters
	c.Packets++
	switch {
	case len(data) < packet.Len:
		c.Short++
	case len(data) > packet.LenWithChecksum:
		c.Oversize++
	default:
		f, _ := packet.Decode(data)
		switch f.Checksum {
		case packet.ChecksumValid:
			c.ChecksumOK++
		case packet.ChecksumInvalid:
			c.ChecksumBad++
		default:
			c.NoChecksum++
		}
		c.LastLeft, c.LastRight = f.Unit()
	}
	c.LastFrom = from
	c.LastAt = now
	if r.linkLost {
		r.linkLost = false
		monitoring.Logf("link restored: packet from %s", from)
	}
	r.mu.Unlock()

	if _, err := fmt.Fprintln(r.out, prefix+FormatLine(from, data)); err != nil {
		monitoring.Warnf("failed to write line: %v", err)
	}
}

// checkWatchdog reports the link lost once per silence longer than the
// watchdog. Nothing is reported before the first packet.
func (r *Receiver) checkWatchdog(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linkLost || r.counters.LastAt.IsZero() {
		return
	}
	if silent := now.Sub(r.counters.LastAt); silent > r.cfg.Watchdog {
		r.linkLost = true
		r.counters.LinkLost++
		monitoring.Warnf("link lost: no packets for %v (last l=%+.3f r=%+.3f); a robot would stop its motors now",
			silent.Round(time.Millisecond), r.counters.LastLeft, r.counters.LastRight)
	}
}
