// Package health reports the transmit loop over the standard gRPC health
// protocol so supervisors can tell whether wheel packets are flowing.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/sender"
	"github.com/banshee-data/wheelcast/internal/session"
	"github.com/banshee-data/wheelcast/internal/timeutil"
)

// ServiceName is the health service reporting the transmit loop. The empty
// service name reports the process itself and is always SERVING.
const ServiceName = "wheelcast.sender"

// DefaultInterval is how often the loop status is sampled.
const DefaultInterval = 250 * time.Millisecond

// StatusSource is satisfied by *session.Controller.
type StatusSource interface {
	Current() (session.Handle, sender.Status, bool)
}

// Monitor mirrors the loop status into a grpc health server.
type Monitor struct {
	src      StatusSource
	clock    timeutil.Clock
	interval time.Duration
	srv      *health.Server

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

// NewMonitor creates a monitor. A zero interval uses DefaultInterval and a
// nil clock the wall clock.
func NewMonitor(src StatusSource, clock timeutil.Clock, interval time.Duration) *Monitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{src: src, clock: clock, interval: interval, srv: health.NewServer()}
	m.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	m.Update()
	return m
}

// ServingStatus maps a loop status to a health status: SERVING only while
// the loop runs with a connected controller.
func ServingStatus(st sender.Status) healthpb.HealthCheckResponse_ServingStatus {
	if st.State == sender.Running && st.Connection == sender.Connected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Update samples the loop once and publishes the result.
func (m *Monitor) Update() healthpb.HealthCheckResponse_ServingStatus {
	_, st, _ := m.src.Current()
	status := ServingStatus(st)

	m.mu.Lock()
	changed := status != m.last
	m.last = status
	m.mu.Unlock()

	if changed {
		monitoring.Logf("health: %s is %s", ServiceName, status)
	}
	m.srv.SetServingStatus(ServiceName, status)
	return status
}

// Run samples the loop until ctx is cancelled, then marks every service
// NOT_SERVING.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.srv.Shutdown()
			return
		case <-ticker.C():
			m.Update()
		}
	}
}

// Server returns the underlying health server.
func (m *Monitor) Server() *health.Server { return m.srv }

// Register adds the health service to s.
func (m *Monitor) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, m.srv)
}

// Serve runs a gRPC server with the health service on lis until ctx is
// cancelled.
func (m *Monitor) Serve(ctx context.Context, lis net.Listener) error {
	s := grpc.NewServer()
	m.Register(s)

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("gRPC health listening on %s", lis.Addr())
		errCh <- s.Serve(lis)
	}()
	go m.Run(ctx)

	select {
	case <-ctx.Done():
		s.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gRPC health server: %w", err)
		}
		return nil
	}
}
