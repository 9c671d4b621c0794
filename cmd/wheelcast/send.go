package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/wheelcast/internal/config"
	"github.com/banshee-data/wheelcast/internal/db"
	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/sender"
	"github.com/banshee-data/wheelcast/internal/session"
	"github.com/banshee-data/wheelcast/internal/transport"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Stream controller input to the robot until interrupted",
		Long: `Stream the controller's vertical stick axes to the robot at a fixed rate.

The run ends on Ctrl-C, when --duration elapses, or (with
--stop-on-disconnect) when the controller goes away. In every case one zero
packet is sent before the socket is closed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.loadSettings(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSend(ctx, cmd, s)
		},
	}
	addLoopFlags(cmd.Flags())
	return cmd
}

func runSend(ctx context.Context, cmd *cobra.Command, s *config.Settings) error {
	src, release, err := openSource(s)
	if err != nil {
		return err
	}
	defer release()

	hub := transport.NewHub()
	defer hub.Close()
	if s.Loop.SerialPort != "" {
		id, lines := hub.Subscribe()
		defer hub.Unsubscribe(id)
		go func() {
			for line := range lines {
				monitoring.Logf("hub: %s", line)
			}
		}()
	}

	deps := session.Deps{
		Source: src,
		Opener: transport.NewDefaultOpener(hub),
	}
	if s.DB.Path != "" {
		runs, err := db.OpenAndMigrate(s.DB.Path)
		if err != nil {
			return err
		}
		defer runs.Close()
		deps.Recorder = runs.NewRecorder
	}

	ctl := session.NewController(deps)
	cfg := s.LoopConfig()
	h, err := ctl.Start(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start sending: %w", err)
	}
	monitoring.Logf("sending to %s at %g Hz (controller %d, checksum %t, invert-y %t); Ctrl-C to stop",
		cfg.Target(), cfg.Rate, cfg.ControllerIndex, cfg.Checksum, cfg.InvertY)

	// The loop watches ctx itself; waiting without it lets the failsafe
	// packet go out before we return.
	final, err := ctl.Wait(context.Background(), h)
	if err != nil {
		return err
	}
	return printSummary(cmd, h, final)
}

func printSummary(cmd *cobra.Command, h session.Handle, st sender.Status) error {
	failsafe := "sent"
	if !st.FailsafeSent {
		failsafe = fmt.Sprintf("FAILED (%v)", st.FailsafeErr)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(),
		"run %s stopped (%s) after %v: %d packets sent, %d send failures, %d input failures, failsafe %s\n",
		h.ID, st.StopReason, st.StoppedAt.Sub(st.StartedAt).Round(time.Millisecond), st.Sent, st.SendFailures, st.InputFailures, failsafe)
	return err
}
