package monitoring

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogger(t *testing.T) {
	logf, debugf, warnf, errorf := Logf, Debugf, Warnf, Errorf
	defer func() {
		Logf, Debugf, Warnf, Errorf = logf, debugf, warnf, errorf
		SetOutput(os.Stderr)
	}()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Warnf("test message")
	assert.True(t, called, "custom logger was not called")

	called = false
	SetLogger(nil)
	// must not panic and must not reach the previous logger
	Logf("test message")
	assert.False(t, called)
}

func TestDefaultLogfWritesToLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Logf("sent %d packets", 3)
	assert.Contains(t, buf.String(), "sent 3 packets")
}

func TestInit(t *testing.T) {
	defer func() {
		require.NoError(t, Init(Options{}))
	}()

	require.NoError(t, Init(Options{Level: "debug", Format: "json"}))
	assert.Equal(t, logrus.DebugLevel, Base().GetLevel())
	_, isJSON := Base().Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)

	assert.Error(t, Init(Options{Level: "loud"}))
	assert.Error(t, Init(Options{Format: "xml"}))
}

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wheelcast.log")
	require.NoError(t, Init(Options{File: FileOptions{Path: path, MaxSizeMB: 1}}))
	defer func() {
		require.NoError(t, Close())
		require.NoError(t, Init(Options{}))
	}()

	Logger().Info("hello file")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}

func TestLevels(t *testing.T) {
	defer func() {
		require.NoError(t, Init(Options{}))
	}()

	var buf bytes.Buffer
	require.NoError(t, Init(Options{Level: "warn"}))
	SetOutput(&buf)

	Debugf("tick %d", 1)
	Logf("sent %d packets", 3)
	Warnf("send to %s failed", "udp:10.0.0.2:4210")
	Errorf("failsafe packet failed")
	out := buf.String()
	assert.NotContains(t, out, "tick 1")
	assert.NotContains(t, out, "sent 3 packets")
	assert.Contains(t, out, "level=warning")
	assert.Contains(t, out, "send to udp:10.0.0.2:4210 failed")
	assert.Contains(t, out, "level=error")
	assert.Contains(t, out, "failsafe packet failed")

	buf.Reset()
	require.NoError(t, Init(Options{Level: "debug"}))
	SetOutput(&buf)
	Debugf("tick %d", 1)
	assert.Contains(t, buf.String(), "tick 1")
}

func TestRunLogger(t *testing.T) {
	defer func() {
		require.NoError(t, Init(Options{}))
	}()

	var buf bytes.Buffer
	require.NoError(t, Init(Options{Format: "json"}))
	SetOutput(&buf)

	RunLogger("r1", "udp:10.0.0.2:4210").Warn("send failed")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "r1", entry["run"])
	assert.Equal(t, "udp:10.0.0.2:4210", entry["target"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "send failed", entry["msg"])
}
