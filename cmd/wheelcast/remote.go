package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/banshee-data/wheelcast/internal/api"
	"github.com/banshee-data/wheelcast/internal/httputil"
)

type remoteOptions struct {
	server  string
	timeout time.Duration
	wait    bool
}

func newRemoteCmd(opts *rootOptions) *cobra.Command {
	ro := &remoteOptions{}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Control a running wheelcast serve process",
		Long: `Query, start and stop runs on a wheelcast serve process. The server address
defaults to serve.listen from the settings.`,
	}
	cmd.PersistentFlags().StringVar(&ro.server, "server", "", "address of the serve process (host:port or URL)")
	cmd.PersistentFlags().DurationVar(&ro.timeout, "timeout", 10*time.Second, "request timeout")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the current run status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ro.dial(cmd, opts)
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printRemoteStatus(cmd.OutOrStdout(), st)
		},
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start a run; loop flags override the server's settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := startRequestFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			c, err := ro.dial(cmd, opts)
			if err != nil {
				return err
			}
			st, err := c.Start(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printRemoteStatus(cmd.OutOrStdout(), st)
		},
	}
	addRemoteLoopFlags(start.Flags())

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the current run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ro.dial(cmd, opts)
			if err != nil {
				return err
			}
			st, err := c.Stop(cmd.Context(), ro.wait)
			if err != nil {
				return err
			}
			return printRemoteStatus(cmd.OutOrStdout(), st)
		},
	}
	stop.Flags().BoolVar(&ro.wait, "wait", true, "wait until the failsafe packet has been sent")

	cmd.AddCommand(status, start, stop)
	return cmd
}

func (ro *remoteOptions) dial(cmd *cobra.Command, opts *rootOptions) (*api.Client, error) {
	addr := ro.server
	if addr == "" {
		s, err := opts.loadSettings(cmd)
		if err != nil {
			return nil, err
		}
		addr = s.Serve.Listen
	}
	return api.NewClient(addr, httputil.NewStandardClient(ro.timeout)), nil
}

// addRemoteLoopFlags registers the loop overrides a remote start may send.
// Only flags given on the command line are sent.
func addRemoteLoopFlags(f *pflag.FlagSet) {
	f.String("ip", "", "robot IP address")
	f.Int("port", 0, "robot UDP port")
	f.Float64("rate", 0, "send rate in Hz")
	f.Int("controller", 0, "controller index (0-3)")
	f.Bool("no-invert-y", false, "do not invert the Y axes")
	f.Bool("no-checksum", false, "send 2-byte packets without the XOR checksum")
	f.Float64("duration", 0, "stop after this many seconds (0 runs until stopped)")
	f.Bool("stop-on-disconnect", false, "stop when the controller disconnects")
	f.Bool("verbose", false, "log every packet on the server")
}

func startRequestFromFlags(f *pflag.FlagSet) (api.StartRequest, error) {
	var req api.StartRequest
	var err error
	str := func(name string) *string {
		if err != nil || !f.Changed(name) {
			return nil
		}
		var v string
		v, err = f.GetString(name)
		return &v
	}
	integer := func(name string) *int {
		if err != nil || !f.Changed(name) {
			return nil
		}
		var v int
		v, err = f.GetInt(name)
		return &v
	}
	float := func(name string) *float64 {
		if err != nil || !f.Changed(name) {
			return nil
		}
		var v float64
		v, err = f.GetFloat64(name)
		return &v
	}
	boolean := func(name string, negate bool) *bool {
		if err != nil || !f.Changed(name) {
			return nil
		}
		var v bool
		v, err = f.GetBool(name)
		if negate {
			v = !v
		}
		return &v
	}

	req.Host = str("ip")
	req.Port = integer("port")
	req.Rate = float("rate")
	req.Controller = integer("controller")
	req.InvertY = boolean("no-invert-y", true)
	req.Checksum = boolean("no-checksum", true)
	req.Duration = float("duration")
	req.StopOnDisconnect = boolean("stop-on-disconnect", false)
	req.Verbose = boolean("verbose", false)
	return req, err
}

func printRemoteStatus(w io.Writer, rs api.RemoteStatus) error {
	st := rs.Status
	if rs.Handle == "" {
		_, err := fmt.Fprintf(w, "%s, no run\n", st.State)
		return err
	}
	_, err := fmt.Fprintf(w, "run %s: %s, %s, target %s, %d packets sent, %d send failures, %d input failures\n",
		rs.Handle, st.State, st.Connection, st.Target, st.Sent, st.SendFailures, st.InputFailures)
	if err != nil || st.StopReason == "" {
		return err
	}
	failsafe := "failsafe sent"
	if !st.FailsafeSent {
		failsafe = "failsafe FAILED"
		if st.FailsafeError != "" {
			failsafe += ": " + st.FailsafeError
		}
	}
	_, err = fmt.Fprintf(w, "stopped (%s), %s\n", st.StopReason, failsafe)
	return err
}
