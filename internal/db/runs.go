package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/wheelcast/internal/sender"
)

// ErrRunNotFound is returned for run IDs with no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one row of the runs table.
type Run struct {
	ID               string        `json:"id"`
	Target           string        `json:"target"`
	RateHz           float64       `json:"rate_hz"`
	Controller       int           `json:"controller"`
	Checksum         bool          `json:"checksum"`
	InvertY          bool          `json:"invert_y"`
	Duration         time.Duration `json:"duration"`
	StopOnDisconnect bool          `json:"stop_on_disconnect"`
	StartedAt        time.Time     `json:"started_at"`
	StoppedAt        *time.Time    `json:"stopped_at,omitempty"`
	StopReason       string        `json:"stop_reason,omitempty"`
	Ticks            uint64        `json:"ticks"`
	Sent             uint64        `json:"sent"`
	SendFailures     uint64        `json:"send_failures"`
	InputFailures    uint64        `json:"input_failures"`
	RecordsDropped   uint64        `json:"records_dropped"`
	FailsafeSent     bool          `json:"failsafe_sent"`
	FailsafeError    string        `json:"failsafe_error,omitempty"`
}

// Finished reports whether the run reached Idle.
func (r Run) Finished() bool { return r.StoppedAt != nil }

// Tick is one row of the ticks table.
type Tick struct {
	Seq       uint64    `json:"seq"`
	Scheduled time.Time `json:"scheduled"`
	SentAt    time.Time `json:"sent_at"`
	Left      float64   `json:"left"`
	Right     float64   `json:"right"`
	Packet    []byte    `json:"packet"`
	Connected bool      `json:"connected"`
	Failsafe  bool      `json:"failsafe"`
	SendError string    `json:"send_error,omitempty"`
}

// Lateness is how far behind schedule the packet left.
func (t Tick) Lateness() time.Duration { return t.SentAt.Sub(t.Scheduled) }

// CreateRun inserts the row for a run that is about to start.
func (db *DB) CreateRun(id string, cfg sender.Config, startedAt time.Time) error {
	_, err := db.Exec(`INSERT INTO runs (
			run_id, target, rate_hz, controller, checksum, invert_y,
			duration_ns, stop_on_disconnect, started_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, cfg.Target().String(), cfg.Rate, cfg.ControllerIndex, cfg.Checksum, cfg.InvertY,
		int64(cfg.Duration), cfg.StopOnDisconnect, startedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", id, err)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (db *DB) FinishRun(id string, st sender.Status) error {
	var failsafeErr sql.NullString
	if st.FailsafeErr != nil {
		failsafeErr = sql.NullString{String: st.FailsafeErr.Error(), Valid: true}
	}
	stopped := st.StoppedAt
	if stopped.IsZero() {
		stopped = time.Now()
	}
	res, err := db.Exec(`UPDATE runs SET
			stopped_ns = ?, stop_reason = ?, ticks = ?, sent = ?, send_failures = ?,
			input_failures = ?, records_dropped = ?, failsafe_sent = ?, failsafe_error = ?
		WHERE run_id = ?`,
		stopped.UnixNano(), st.StopReason.String(), st.Ticks, st.Sent, st.SendFailures,
		st.InputFailures, st.RecordsDropped, st.FailsafeSent, failsafeErr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// InsertTick appends one packet to a run.
func (db *DB) InsertTick(runID string, rec sender.TickRecord) error {
	var sendErr sql.NullString
	if rec.SendError != "" {
		sendErr = sql.NullString{String: rec.SendError, Valid: true}
	}
	_, err := db.Exec(`INSERT INTO ticks (
			run_id, seq, scheduled_ns, sent_ns, left_value, right_value,
			packet, connected, failsafe, send_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Seq, rec.Scheduled.UnixNano(), rec.SentAt.UnixNano(), rec.Left, rec.Right,
		rec.Packet, rec.Connected, rec.Failsafe, sendErr,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tick %d of run %s: %w", rec.Seq, runID, err)
	}
	return nil
}

const runColumns = `run_id, target, rate_hz, controller, checksum, invert_y,
	duration_ns, stop_on_disconnect, started_ns, stopped_ns, stop_reason, ticks,
	sent, send_failures, input_failures, records_dropped, failsafe_sent, failsafe_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r           Run
		durationNs  int64
		startedNs   int64
		stoppedNs   sql.NullInt64
		stopReason  sql.NullString
		failsafeErr sql.NullString
	)
	if err := row.Scan(
		&r.ID, &r.Target, &r.RateHz, &r.Controller, &r.Checksum, &r.InvertY,
		&durationNs, &r.StopOnDisconnect, &startedNs, &stoppedNs, &stopReason, &r.Ticks,
		&r.Sent, &r.SendFailures, &r.InputFailures, &r.RecordsDropped, &r.FailsafeSent, &failsafeErr,
	); err != nil {
		return Run{}, err
	}
	r.Duration = time.Duration(durationNs)
	r.StartedAt = time.Unix(0, startedNs).UTC()
	if stoppedNs.Valid {
		t := time.Unix(0, stoppedNs.Int64).UTC()
		r.StoppedAt = &t
	}
	r.StopReason = stopReason.String
	r.FailsafeError = failsafeErr.String
	return r, nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns one run by ID.
func (db *DB) GetRun(id string) (Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return r, nil
}

// RunTicks returns the packets of a run in send order.
func (db *DB) RunTicks(id string) ([]Tick, error) {
	rows, err := db.Query(`SELECT seq, scheduled_ns, sent_ns, left_value, right_value,
			packet, connected, failsafe, send_error
		FROM ticks WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks of run %s: %w", id, err)
	}
	defer rows.Close()

	var ticks []Tick
	for rows.Next() {
		var (
			t           Tick
			scheduledNs int64
			sentNs      int64
			sendErr     sql.NullString
		)
		if err := rows.Scan(&t.Seq, &scheduledNs, &sentNs, &t.Left, &t.Right,
			&t.Packet, &t.Connected, &t.Failsafe, &sendErr); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		t.Scheduled = time.Unix(0, scheduledNs).UTC()
		t.SentAt = time.Unix(0, sentNs).UTC()
		t.SendError = sendErr.String
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ticks, nil
}

// DeleteRun removes a run and its ticks.
func (db *DB) DeleteRun(id string) error {
	res, err := db.Exec(`DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Recorder writes the history of one run. It implements sender.TickRecorder.
type Recorder struct {
	db    *DB
	runID string
}

// NewRecorder inserts the run row and returns a recorder for its ticks. Its
// signature matches the session recorder factory.
func (db *DB) NewRecorder(runID string, cfg sender.Config, startedAt time.Time) (sender.TickRecorder, error) {
	if err := db.CreateRun(runID, cfg, startedAt); err != nil {
		return nil, err
	}
	return &Recorder{db: db, runID: runID}, nil
}

// RecordTick stores one packet.
func (r *Recorder) RecordTick(rec sender.TickRecord) error {
	return r.db.InsertTick(r.runID, rec)
}

// FinishRun stores the final status.
func (r *Recorder) FinishRun(final sender.Status) error {
	return r.db.FinishRun(r.runID, final)
}
