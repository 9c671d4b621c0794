// Package sender implements the transmit loop: it polls the controller at a
// fixed rate, encodes each sample and sends it, and guarantees that a zero
// packet is the last thing sent however the run ends.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/wheelcast/internal/input"
	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/packet"
	"github.com/banshee-data/wheelcast/internal/timeutil"
	"github.com/banshee-data/wheelcast/internal/transport"
)

var (
	// ErrTransmitFailure wraps transport errors recorded in the status.
	ErrTransmitFailure = errors.New("transmit failure")
	// ErrAlreadyStarted is returned when Start is called twice on one loop.
	ErrAlreadyStarted = errors.New("loop already started")
)

// failureLogInterval limits repeated input and send failure logs.
const failureLogInterval = time.Second

// Deps are the collaborators of a loop.
type Deps struct {
	Source    input.Source
	Transport transport.Opener
	// Clock defaults to the real clock.
	Clock timeutil.Clock
	// Recorder, if set, receives every packet sent during the run.
	Recorder TickRecorder
	// RunID labels the status and log lines.
	RunID string
}

// Loop is a single run of the transmit state machine. It goes from Idle to
// Running on Start and back to Idle through Stopping exactly once.
type Loop struct {
	cfg   Config
	deps  Deps
	clock timeutil.Clock

	status atomic.Pointer[Status]

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// Owned by the loop goroutine.
	tr          transport.Transport
	queue       *recordQueue
	cur         Status
	seq         uint64
	lastSendLog time.Time
	lastPollLog time.Time
	log         *logrus.Entry
}

// New validates cfg and creates an idle loop.
func New(cfg Config, deps Deps) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil {
		return nil, errors.New("input source is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("transport opener is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	l := &Loop{
		cfg:    cfg,
		deps:   deps,
		clock:  clock,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		log:    monitoring.RunLogger(deps.RunID, cfg.Target().String()),
	}
	l.cur = Status{
		RunID:      deps.RunID,
		State:      Idle,
		Connection: Disconnected,
		Target:     cfg.Target().String(),
	}
	l.publish()
	return l, nil
}

// Config returns the configuration the loop was created with.
func (l *Loop) Config() Config { return l.cfg }

// Status returns the latest snapshot without blocking.
func (l *Loop) Status() Status {
	return *l.status.Load()
}

// Done is closed once the loop has sent its failsafe packet and returned to Idle.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Start opens the transport and launches the tick goroutine. If the transport
// cannot be opened the loop stays Idle. Cancelling ctx is a stop request.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return ErrAlreadyStarted
	}

	target := l.cfg.Target()
	tr, err := l.deps.Transport.Open(target)
	if err != nil {
		return fmt.Errorf("failed to open transport %s: %w", target, err)
	}
	l.started = true
	l.tr = tr
	if l.deps.Recorder != nil {
		l.queue = newRecordQueue(l.deps.Recorder, recordQueueSize)
	}

	start := l.clock.Now()
	l.cur.State = Running
	l.cur.StartedAt = start
	l.publish()

	l.log.Infof("sending to %s at %g Hz (checksum=%t invert_y=%t controller=%d)",
		tr, l.cfg.Rate, l.cfg.Checksum, l.cfg.InvertY, l.cfg.ControllerIndex)

	go l.run(ctx, start)
	return nil
}

// Stop requests the loop to stop at the next tick boundary. It is safe to
// call any number of times, and is a no-op on a loop that never started.
func (l *Loop) Stop() {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return
	}
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Loop) run(ctx context.Context, start time.Time) {
	defer close(l.done)

	interval := l.cfg.Interval()
	var timer timeutil.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	reason := StopNone
	for k := int64(0); reason == StopNone; k++ {
		if r := l.stopRequested(ctx); r != StopNone {
			reason = r
			break
		}

		scheduled := start.Add(time.Duration(k) * interval)
		if wait := l.clock.Until(scheduled); wait > 0 {
			if timer == nil {
				timer = l.clock.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			select {
			case <-timer.C():
			case <-l.stopCh:
				reason = StopRequested
				continue
			case <-ctx.Done():
				reason = StopRequested
				continue
			}
		}

		reason = l.tick(start, scheduled)
	}
	l.stopping(reason)
}

func (l *Loop) stopRequested(ctx context.Context) StopReason {
	select {
	case <-l.stopCh:
		return StopRequested
	case <-ctx.Done():
		return StopRequested
	default:
		return StopNone
	}
}

// tick runs one poll/encode/send cycle and returns a non-zero reason when the
// loop must stop.
func (l *Loop) tick(start, scheduled time.Time) StopReason {
	now := l.clock.Now()
	if l.cfg.Duration > 0 && now.Sub(start) >= l.cfg.Duration {
		return StopDuration
	}

	l.cur.Ticks++
	reading, err := l.poll()
	if err != nil {
		l.cur.InputFailures++
		l.cur.LastInputError = err
		if now.Sub(l.lastPollLog) >= failureLogInterval {
			l.log.Warnf("input failure (%d so far): %v", l.cur.InputFailures, err)
			l.lastPollLog = now
		}
		reading = input.Disconnected
	}

	if !reading.Connected {
		l.cur.Connection = Disconnected
		if l.cfg.StopOnDisconnect {
			l.publish()
			return StopDisconnected
		}
		l.send(scheduled, packet.Zero(l.cfg.Checksum), false, false)
	} else {
		l.cur.Connection = Connected
		p := packet.Encode(reading.Sample.Left, reading.Sample.Right, l.cfg.InvertY, l.cfg.Checksum)
		l.send(scheduled, p, true, false)
	}

	if l.cfg.Verbose {
		conn := 0
		if reading.Connected {
			conn = 1
		}
		l.log.Infof("%s conn=%d", l.cur.LastSample, conn)
	}
	l.publish()
	return StopNone
}

// poll reads the controller, turning a panic inside the source into an
// ErrInputUnavailable failure.
func (l *Loop) poll() (r input.Reading, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = input.Disconnected, fmt.Errorf("%w: poll panicked: %v", input.ErrInputUnavailable, p)
		}
	}()
	return l.deps.Source.Poll(l.cfg.ControllerIndex)
}

// send hands p to the transport and updates the working status. A failure is
// counted and recorded; it never ends the run.
func (l *Loop) send(scheduled time.Time, p []byte, connected, failsafe bool) error {
	err := l.tr.Send(p)
	now := l.clock.Now()

	frame, _ := packet.Decode(p)
	left, right := frame.Unit()
	l.cur.LastPacket = p
	l.cur.LastSample = input.AxisSample{Left: left, Right: right}

	var sendErr string
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrTransmitFailure, err)
		sendErr = err.Error()
		if !failsafe {
			l.cur.SendFailures++
			l.cur.LastSendError = err
			if now.Sub(l.lastSendLog) >= failureLogInterval {
				l.log.Warnf("send to %s failed (%d so far): %v", l.tr, l.cur.SendFailures, err)
				l.lastSendLog = now
			}
		}
	} else {
		l.cur.Sent++
	}

	if l.queue != nil {
		l.seq++
		l.queue.push(TickRecord{
			Seq:       l.seq,
			Scheduled: scheduled,
			SentAt:    now,
			Left:      left,
			Right:     right,
			Packet:    p,
			Connected: connected,
			Failsafe:  failsafe,
			SendError: sendErr,
		})
	}
	return err
}

// stopping sends the single failsafe packet, releases the transport and
// publishes the final Idle status.
func (l *Loop) stopping(reason StopReason) {
	l.cur.State = Stopping
	l.cur.StopReason = reason
	l.publish()

	err := l.send(l.clock.Now(), packet.Zero(l.cfg.Checksum), false, true)
	l.cur.FailsafeSent = err == nil
	l.cur.FailsafeErr = err
	if err != nil {
		l.log.Errorf("failsafe packet to %s failed: %v", l.tr, err)
	}
	if cerr := l.tr.Close(); cerr != nil {
		l.log.Warnf("failed to close %s: %v", l.tr, cerr)
	}

	if l.queue != nil {
		l.queue.close()
		l.cur.RecordsDropped = l.queue.dropped.Load()
	}

	l.cur.State = Idle
	l.cur.StoppedAt = l.clock.Now()
	final := l.cur
	if l.deps.Recorder != nil {
		if rerr := l.deps.Recorder.FinishRun(final); rerr != nil {
			l.log.Warnf("failed to finish run record: %v", rerr)
		}
	}
	l.publish()

	l.log.Infof("stopped (%s) after %d ticks, %d sent, %d send failures, %d input failures",
		reason, l.cur.Ticks, l.cur.Sent, l.cur.SendFailures, l.cur.InputFailures)
}

func (l *Loop) publish() {
	s := l.cur
	if l.queue != nil && s.State != Idle {
		s.RecordsDropped = l.queue.dropped.Load()
	}
	l.status.Store(&s)
}
