package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/wheelcast/internal/sim"
	"github.com/banshee-data/wheelcast/internal/transport"
)

func newSimCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Pretend to be the robot and print the wheel packets it receives",
		Long: `Listen for wheel packets and print one line per datagram:

  192.168.0.10 l=+0.500 r=-0.252 bytes=40e0a0 checksum=OK

checksum is OK or BAD for 3-byte packets and ? for 2-byte ones. A link that
stays silent longer than --watchdog is reported once as lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.loadSettings(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			r := sim.NewReceiver(sim.Config{Listen: s.Sim.Listen, Watchdog: s.Sim.Watchdog},
				transport.NewRealUDPSocketFactory(), nil, cmd.OutOrStdout())
			return r.Run(ctx)
		},
	}
	cmd.Flags().String("listen", sim.DefaultListen, "UDP address to listen on")
	cmd.Flags().Duration("watchdog", sim.DefaultWatchdog, "report the link lost after this much silence")
	return cmd
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Decode wheel packets from a packet capture",
		Long: `Read a pcap or pcapng capture (for example from tcpdump -w) and print the
wheel packets sent to or from --port, using capture timestamps for the
link-lost watchdog.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.loadSettings(cmd)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open capture: %w", err)
			}
			defer f.Close()

			r := sim.NewReceiver(sim.Config{Watchdog: s.Sim.Watchdog}, nil, nil, cmd.OutOrStdout())
			if err := r.Replay(cmd.Context(), f, s.Loop.Port); err != nil {
				return err
			}
			c := r.Counters()
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"%d packets: %d checksum OK, %d BAD, %d without checksum, %d short, %d oversize; link lost %d times\n",
				c.Packets, c.ChecksumOK, c.ChecksumBad, c.NoChecksum, c.Short, c.Oversize, c.LinkLost)
			return err
		},
	}
	cmd.Flags().Int("port", 4210, "UDP port carrying wheel packets (0 for all)")
	cmd.Flags().Duration("watchdog", sim.DefaultWatchdog, "report the link lost after this much silence")
	return cmd
}
