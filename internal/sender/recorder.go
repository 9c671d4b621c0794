package sender

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/wheelcast/internal/monitoring"
)

// TickRecord describes one packet handed to the transport.
type TickRecord struct {
	Seq       uint64
	Scheduled time.Time
	SentAt    time.Time
	Left      float64
	Right     float64
	Packet    []byte
	Connected bool
	Failsafe  bool
	SendError string
}

// Lateness is how far behind its absolute schedule the packet was sent.
func (r TickRecord) Lateness() time.Duration {
	return r.SentAt.Sub(r.Scheduled)
}

// TickRecorder persists the history of a run. RecordTick is called from a
// background goroutine, never from the tick itself; FinishRun is called once
// with the final status after the last record has been delivered.
type TickRecorder interface {
	RecordTick(rec TickRecord) error
	FinishRun(final Status) error
}

const recordQueueSize = 512

// recordQueue hands records to a TickRecorder without blocking the loop. When
// the buffer is full the record is dropped and counted.
type recordQueue struct {
	rec     TickRecorder
	ch      chan TickRecord
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

func newRecordQueue(rec TickRecorder, size int) *recordQueue {
	q := &recordQueue{rec: rec, ch: make(chan TickRecord, size)}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *recordQueue) run() {
	defer q.wg.Done()
	var failures int
	var lastErr error
	for r := range q.ch {
		if err := q.rec.RecordTick(r); err != nil {
			failures++
			lastErr = err
		}
	}
	if failures > 0 {
		monitoring.Warnf("failed to record %d ticks (latest: %v)", failures, lastErr)
	}
}

// push enqueues r without blocking.
func (q *recordQueue) push(r TickRecord) {
	select {
	case q.ch <- r:
	default:
		q.dropped.Add(1)
	}
}

// close flushes the queue and waits for the recorder to drain it.
func (q *recordQueue) close() {
	close(q.ch)
	q.wg.Wait()
}
