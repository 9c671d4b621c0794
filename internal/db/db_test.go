package db

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/sender"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenAndMigrate(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func TestMigrations(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	st, err := db.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, uint(0), st.Current)
	assert.Equal(t, uint(2), st.Latest)
	assert.True(t, st.Pending())

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.MigrateUp(), "second up is a no-op")
	st, err = db.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, MigrationStatus{Current: 2, Latest: 2}, st)

	require.NoError(t, db.MigrateDown())
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='ticks'`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, db.MigrateForce(2))
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestLatestMigrationVersion(t *testing.T) {
	v, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestRecorderLifecycle(t *testing.T) {
	db := newTestDB(t)
	cfg := sender.DefaultConfig()
	cfg.Duration = 5 * time.Second

	rec, err := db.NewRecorder("run-1", cfg, t0)
	require.NoError(t, err)

	require.NoError(t, rec.RecordTick(sender.TickRecord{
		Seq: 1, Scheduled: t0, SentAt: t0.Add(2 * time.Millisecond),
		Left: -1, Right: 0.5, Packet: []byte{0x81, 0x40, 0xc1}, Connected: true,
	}))
	require.NoError(t, rec.RecordTick(sender.TickRecord{
		Seq: 2, Scheduled: t0.Add(time.Second / 30), SentAt: t0.Add(time.Second / 30),
		Packet: []byte{0, 0, 0}, Failsafe: true, SendError: "transmit failure: host down",
	}))

	run, err := db.GetRun("run-1")
	require.NoError(t, err)
	assert.False(t, run.Finished())
	assert.Equal(t, "udp:192.168.0.23:4210", run.Target)
	assert.Equal(t, 5*time.Second, run.Duration)
	assert.Equal(t, t0, run.StartedAt)

	stopped := t0.Add(time.Second)
	require.NoError(t, rec.FinishRun(sender.Status{
		State:        sender.Idle,
		StopReason:   sender.StopDuration,
		StoppedAt:    stopped,
		Ticks:        1,
		Sent:         1,
		SendFailures: 0,
		FailsafeErr:  errors.New("transmit failure: host down"),
	}))

	run, err = db.GetRun("run-1")
	require.NoError(t, err)
	require.True(t, run.Finished())
	assert.Equal(t, stopped, *run.StoppedAt)
	assert.Equal(t, "duration", run.StopReason)
	assert.False(t, run.FailsafeSent)
	assert.Equal(t, "transmit failure: host down", run.FailsafeError)

	ticks, err := db.RunTicks("run-1")
	require.NoError(t, err)
	want := []Tick{
		{Seq: 1, Scheduled: t0, SentAt: t0.Add(2 * time.Millisecond), Left: -1, Right: 0.5, Packet: []byte{0x81, 0x40, 0xc1}, Connected: true},
		{Seq: 2, Scheduled: t0.Add(time.Second / 30), SentAt: t0.Add(time.Second / 30), Packet: []byte{0, 0, 0}, Failsafe: true, SendError: "transmit failure: host down"},
	}
	if diff := cmp.Diff(want, ticks); diff != "" {
		t.Errorf("ticks mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2*time.Millisecond, ticks[0].Lateness())
}

func TestListRunsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.CreateRun(id, sender.DefaultConfig(), t0.Add(time.Duration(i)*time.Minute)))
	}
	runs, err := db.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	runs, err = db.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestMissingRun(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetRun("ghost")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, db.FinishRun("ghost", sender.Status{}), ErrRunNotFound)
	assert.ErrorIs(t, db.DeleteRun("ghost"), ErrRunNotFound)

	ticks, err := db.RunTicks("ghost")
	require.NoError(t, err)
	assert.Empty(t, ticks)
}

func TestDeleteRunCascades(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateRun("x", sender.DefaultConfig(), t0))
	require.NoError(t, db.InsertTick("x", sender.TickRecord{Seq: 1, Scheduled: t0, SentAt: t0, Packet: []byte{0, 0}}))
	require.NoError(t, db.DeleteRun("x"))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM ticks`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestTickForUnknownRunRejected(t *testing.T) {
	db := newTestDB(t)
	err := db.InsertTick("nobody", sender.TickRecord{Seq: 1, Packet: []byte{0, 0}})
	assert.Error(t, err)
}

func TestAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateRun("backup-me", sender.DefaultConfig(), t0))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, len(body) > 16)
	assert.Equal(t, "SQLite format 3\x00", string(body[:16]))
}
