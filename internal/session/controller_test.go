package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wheelcast/internal/input"
	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/sender"
	"github.com/banshee-data/wheelcast/internal/timeutil"
	"github.com/banshee-data/wheelcast/internal/transport"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func testConfig() sender.Config {
	cfg := sender.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Rate = 20
	return cfg
}

func newTestController(opener *transport.MockOpener) (*Controller, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	c := NewController(Deps{
		Source: input.NewScripted(input.SampleStep(0.25, 0.25)),
		Opener: opener,
		Clock:  clock,
	})
	return c, clock
}

func TestController_StartStopRestart(t *testing.T) {
	opener := &transport.MockOpener{}
	c, _ := newTestController(opener)

	_, _, ok := c.Current()
	assert.False(t, ok)

	ctx := context.Background()
	h1, err := c.Start(ctx, testConfig())
	require.NoError(t, err)
	assert.False(t, h1.IsZero())

	_, err = c.Start(ctx, testConfig())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	st, err := c.Status(h1)
	require.NoError(t, err)
	assert.True(t, st.Active())

	c.Stop(h1)
	c.Stop(h1)
	st, err = c.Wait(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, sender.Idle, st.State)
	assert.Equal(t, sender.StopRequested, st.StopReason)

	// Finished runs keep their final status.
	st, err = c.Status(h1)
	require.NoError(t, err)
	assert.Equal(t, sender.Idle, st.State)
	c.Stop(h1)

	cfg := testConfig()
	cfg.Port = 5000
	h2, err := c.Start(ctx, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	got, err := c.Config(h2)
	require.NoError(t, err)
	assert.Equal(t, 5000, got.Port)
	require.Len(t, opener.Targets, 2)
	assert.Equal(t, 5000, opener.Targets[1].Port)

	cur, _, ok := c.Current()
	assert.True(t, ok)
	assert.Equal(t, h2, cur)

	require.NoError(t, c.Shutdown(ctx))
	st, err = c.Status(h2)
	require.NoError(t, err)
	assert.Equal(t, sender.Idle, st.State)
	assert.True(t, packet0(opener.Transports[1].Packets()))
}

func packet0(pkts [][]byte) bool {
	if len(pkts) == 0 {
		return false
	}
	last := pkts[len(pkts)-1]
	for _, b := range last {
		if b != 0 {
			return false
		}
	}
	return true
}

func TestController_UnknownHandle(t *testing.T) {
	c, _ := newTestController(&transport.MockOpener{})
	_, err := c.Status(Handle{ID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownHandle)
	_, err = c.Wait(context.Background(), Handle{ID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownHandle)
	c.Stop(Handle{ID: "nope"})
	assert.NoError(t, c.Shutdown(context.Background()))
}

func TestController_InvalidConfig(t *testing.T) {
	c, _ := newTestController(&transport.MockOpener{})
	cfg := testConfig()
	cfg.Rate = 0
	_, err := c.Start(context.Background(), cfg)
	assert.ErrorIs(t, err, sender.ErrInvalidConfig)
	_, _, ok := c.Current()
	assert.False(t, ok)
}

func TestController_OpenFailureAllowsRetry(t *testing.T) {
	opener := &transport.MockOpener{Err: errors.New("unreachable")}
	c, _ := newTestController(opener)
	_, err := c.Start(context.Background(), testConfig())
	require.Error(t, err)

	opener.Err = nil
	h, err := c.Start(context.Background(), testConfig())
	require.NoError(t, err)
	c.Stop(h)
	_, err = c.Wait(context.Background(), h)
	require.NoError(t, err)
}

func TestController_WaitHonoursContext(t *testing.T) {
	c, _ := newTestController(&transport.MockOpener{})
	h, err := c.Start(context.Background(), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	st, err := c.Wait(ctx, h)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, sender.Running, st.State)

	require.NoError(t, c.Shutdown(context.Background()))
}

type stubRecorder struct {
	mu       sync.Mutex
	ticks    int
	finished []sender.Status
}

func (s *stubRecorder) RecordTick(sender.TickRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	return nil
}

func (s *stubRecorder) FinishRun(st sender.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, st)
	return nil
}

func TestController_RecorderFactory(t *testing.T) {
	rec := &stubRecorder{}
	var gotID string
	opener := &transport.MockOpener{}
	clock := timeutil.NewMockClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	c := NewController(Deps{
		Source: input.NewScripted(input.SampleStep(0, 0)),
		Opener: opener,
		Clock:  clock,
		Recorder: func(runID string, cfg sender.Config, startedAt time.Time) (sender.TickRecorder, error) {
			gotID = runID
			return rec, nil
		},
	})

	h, err := c.Start(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, h.ID, gotID)
	clock.BlockUntil(1)
	c.Stop(h)
	_, err = c.Wait(context.Background(), h)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.ticks)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, h.ID, rec.finished[0].RunID)
}

func TestController_RecorderFactoryError(t *testing.T) {
	c := NewController(Deps{
		Source: input.NewScripted(),
		Opener: &transport.MockOpener{},
		Recorder: func(string, sender.Config, time.Time) (sender.TickRecorder, error) {
			return nil, errors.New("disk full")
		},
	})
	_, err := c.Start(context.Background(), testConfig())
	assert.ErrorContains(t, err, "disk full")
}
