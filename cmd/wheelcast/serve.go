package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/wheelcast/internal/api"
	"github.com/banshee-data/wheelcast/internal/config"
	"github.com/banshee-data/wheelcast/internal/db"
	"github.com/banshee-data/wheelcast/internal/health"
	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/sender"
	"github.com/banshee-data/wheelcast/internal/session"
	"github.com/banshee-data/wheelcast/internal/transport"
)

const shutdownTimeout = 2 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control server and gRPC health endpoint",
		Long: `Run a long-lived process that starts and stops transmit runs on request.

  GET  /api/status          current run status
  POST /api/start           start a run; optional JSON body overrides loop settings
  POST /api/stop            stop the current run (?wait=true waits for the failsafe)
  GET  /api/runs            recorded runs (requires --db)
  GET  /api/runs/{id}/chart chart of a recorded run (?format=png, ?download=true)
  /debug/                   session state, serial hub tail, SQL console and backup

Loop settings are re-read from the settings file for every start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.loadSettings(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			loadCfg := func() (sender.Config, error) {
				fresh, err := config.Load(opts.configFile, cmd.Flags(), nil)
				if err != nil {
					return sender.Config{}, err
				}
				return fresh.LoopConfig(), nil
			}
			return runServe(ctx, s, loadCfg)
		},
	}
	addLoopFlags(cmd.Flags())
	cmd.Flags().String("listen", "127.0.0.1:8088", "HTTP listen address")
	cmd.Flags().String("grpc-listen", "127.0.0.1:8089", "gRPC health listen address (empty disables)")
	cmd.Flags().Bool("auto-start", false, "start a run as soon as the server is up")
	return cmd
}

func runServe(ctx context.Context, s *config.Settings, loadCfg api.ConfigLoader) error {
	src, release, err := openSource(s)
	if err != nil {
		return err
	}
	defer release()

	hub := transport.NewHub()
	defer hub.Close()

	deps := session.Deps{
		Source: src,
		Opener: transport.NewDefaultOpener(hub),
	}
	var runs *db.DB
	if s.DB.Path != "" {
		runs, err = db.OpenAndMigrate(s.DB.Path)
		if err != nil {
			return err
		}
		defer runs.Close()
		deps.Recorder = runs.NewRecorder
	}
	ctl := session.NewController(deps)

	mux := api.NewServer(ctx, ctl, runs, loadCfg).ServeMux()
	hub.AttachAdminRoutes(mux)
	if runs != nil {
		if err := runs.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}

	httpLis, err := net.Listen("tcp", s.Serve.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Serve.Listen, err)
	}
	var grpcLis net.Listener
	if s.Serve.GRPCListen != "" {
		grpcLis, err = net.Listen("tcp", s.Serve.GRPCListen)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.Serve.GRPCListen, err)
		}
	}
	server := &http.Server{Handler: api.LoggingMiddleware(mux)}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		monitoring.Logf("HTTP server listening on %s", httpLis.Addr())
		if err := server.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		monitoring.Logf("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Halt the robot before the control surface goes away.
		if err := ctl.Shutdown(shutdownCtx); err != nil {
			monitoring.Errorf("run did not stop cleanly: %v", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Warnf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Errorf("HTTP server force close error: %v", err)
			}
		}
		return nil
	})

	if grpcLis != nil {
		mon := health.NewMonitor(ctl, nil, 0)
		g.Go(func() error { return mon.Serve(gctx, grpcLis) })
	}

	if s.Serve.AutoStart {
		cfg, err := loadCfg()
		if err == nil {
			_, err = ctl.Start(ctx, cfg)
		}
		if err != nil {
			monitoring.Errorf("auto-start failed: %v", err)
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	monitoring.Logf("Graceful shutdown complete")
	return nil
}
