package sim

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/wheelcast/internal/monitoring"
)

// pcapng section header block type.
const pcapngMagic = 0x0A0D0D0A

type packetDataSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openCapture(r io.Reader) (packetDataSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng capture: %w", err)
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap capture: %w", err)
	}
	return pr, nil
}

// Replay decodes wheel packets from a pcap or pcapng capture, printing one
// line per UDP datagram to or from port. A zero port accepts every UDP
// datagram. The watchdog runs on capture timestamps, so gaps in the
// recording are reported as lost links.
func (r *Receiver) Replay(ctx context.Context, capture io.Reader, port int) error {
	src, err := openCapture(capture)
	if err != nil {
		return err
	}

	packetSource := gopacket.NewPacketSource(src, src.LinkType())
	packetSource.NoCopy = true
	var first time.Time
	seen := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pkt, err := packetSource.NextPacket()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read capture record %d: %w", seen+1, err)
		}
		seen++

		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}
		if port != 0 && int(udp.DstPort) != port && int(udp.SrcPort) != port {
			continue
		}

		from := "?"
		if nl := pkt.NetworkLayer(); nl != nil {
			from = nl.NetworkFlow().Src().String()
		}
		ts := pkt.Metadata().Timestamp
		if first.IsZero() {
			first = ts
		}
		prefix := fmt.Sprintf("%10.6f ", ts.Sub(first).Seconds())
		r.observe(ts, from, udp.Payload, prefix)
	}

	c := r.Counters()
	monitoring.Logf("replay complete: %d of %d captured packets were wheel packets", c.Packets, seen)
	return nil
}
