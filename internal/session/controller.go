// Package session is the front door to the transmit loop. Display layers (the
// CLI, the HTTP API and the health service) start, stop and observe runs only
// through a Controller.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/wheelcast/internal/input"
	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/sender"
	"github.com/banshee-data/wheelcast/internal/timeutil"
	"github.com/banshee-data/wheelcast/internal/transport"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("a run is already active")
	// ErrUnknownHandle is returned for handles this controller never issued.
	ErrUnknownHandle = errors.New("unknown run handle")
)

// Handle identifies one run.
type Handle struct {
	ID string `json:"id"`
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h.ID == "" }

// RecorderFactory creates the recorder for a new run.
type RecorderFactory func(runID string, cfg sender.Config, startedAt time.Time) (sender.TickRecorder, error)

// Deps are shared by every run the controller starts.
type Deps struct {
	Source input.Source
	Opener transport.Opener
	Clock  timeutil.Clock
	// Recorder is optional.
	Recorder RecorderFactory
}

type run struct {
	handle Handle
	loop   *sender.Loop
}

// Controller serialises starts so that at most one loop is active.
type Controller struct {
	deps Deps

	mu      sync.Mutex
	current *run
	runs    map[string]*run
}

// NewController creates a controller with no runs.
func NewController(deps Deps) *Controller {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	return &Controller{deps: deps, runs: make(map[string]*run)}
}

// Start launches a new run with cfg and returns without waiting for the first
// tick. Cancelling ctx stops the run as if Stop had been called.
func (c *Controller) Start(ctx context.Context, cfg sender.Config) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.loop.Status().Active() {
		return Handle{}, ErrAlreadyRunning
	}
	if err := cfg.Validate(); err != nil {
		return Handle{}, err
	}

	h := Handle{ID: uuid.NewString()}
	var rec sender.TickRecorder
	if c.deps.Recorder != nil {
		r, err := c.deps.Recorder(h.ID, cfg, c.deps.Clock.Now())
		if err != nil {
			return Handle{}, fmt.Errorf("failed to create run recorder: %w", err)
		}
		rec = r
	}

	loop, err := sender.New(cfg, sender.Deps{
		Source:    c.deps.Source,
		Transport: c.deps.Opener,
		Clock:     c.deps.Clock,
		Recorder:  rec,
		RunID:     h.ID,
	})
	if err != nil {
		return Handle{}, err
	}
	if err := loop.Start(ctx); err != nil {
		if rec != nil {
			if ferr := rec.FinishRun(loop.Status()); ferr != nil {
				monitoring.Warnf("run %s: failed to close run record: %v", h.ID, ferr)
			}
		}
		return Handle{}, err
	}

	r := &run{handle: h, loop: loop}
	c.current = r
	c.runs[h.ID] = r
	return h, nil
}

// Stop requests the run to stop. Unknown and finished handles are ignored.
func (c *Controller) Stop(h Handle) {
	if r := c.lookup(h); r != nil {
		r.loop.Stop()
	}
}

// Status returns the latest snapshot of the run without blocking.
func (c *Controller) Status(h Handle) (sender.Status, error) {
	r := c.lookup(h)
	if r == nil {
		return sender.Status{}, fmt.Errorf("%w: %q", ErrUnknownHandle, h.ID)
	}
	return r.loop.Status(), nil
}

// Current returns the most recent run, which may have finished.
func (c *Controller) Current() (Handle, sender.Status, bool) {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return Handle{}, sender.Status{State: sender.Idle}, false
	}
	return r.handle, r.loop.Status(), true
}

// Config returns the configuration of the run.
func (c *Controller) Config(h Handle) (sender.Config, error) {
	r := c.lookup(h)
	if r == nil {
		return sender.Config{}, fmt.Errorf("%w: %q", ErrUnknownHandle, h.ID)
	}
	return r.loop.Config(), nil
}

// Wait blocks until the run has sent its failsafe packet and is Idle again.
func (c *Controller) Wait(ctx context.Context, h Handle) (sender.Status, error) {
	r := c.lookup(h)
	if r == nil {
		return sender.Status{}, fmt.Errorf("%w: %q", ErrUnknownHandle, h.ID)
	}
	select {
	case <-r.loop.Done():
		return r.loop.Status(), nil
	case <-ctx.Done():
		return r.loop.Status(), ctx.Err()
	}
}

// Shutdown stops the active run, if any, and waits for its failsafe packet.
func (c *Controller) Shutdown(ctx context.Context) error {
	h, st, ok := c.Current()
	if !ok || !st.Active() {
		return nil
	}
	c.Stop(h)
	_, err := c.Wait(ctx, h)
	return err
}

func (c *Controller) lookup(h Handle) *run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[h.ID]
}
