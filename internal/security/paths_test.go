package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDir(t *testing.T) {
	root := t.TempDir()
	safe := filepath.Join(root, "safe")
	outside := filepath.Join(root, "outside")
	require.NoError(t, os.MkdirAll(safe, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(safe, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safe, "run.html"), false},
		{"nested new dir", filepath.Join(safe, "a", "b", "run.png"), false},
		{"dir itself", safe, false},
		{"parent", filepath.Join(safe, "..", "run.html"), true},
		{"sibling", filepath.Join(outside, "run.html"), true},
		{"through symlink", filepath.Join(safe, "link", "run.html"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDir(tt.path, safe)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateChartPath(t *testing.T) {
	tmp := t.TempDir()
	assert.NoError(t, ValidateChartPath(filepath.Join(tmp, "run.html")))
	assert.NoError(t, ValidateChartPath(filepath.Join(tmp, "RUN.PNG")))
	assert.Error(t, ValidateChartPath(filepath.Join(tmp, "run.txt")))
	assert.Error(t, ValidateChartPath(filepath.Join(tmp, "run")))
	assert.Error(t, ValidateChartPath("/proc/self/run.html"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                 "unknown",
		"...":              "unknown",
		"run-1.html":       "run-1.html",
		"../../etc/passwd": "etc_passwd",
		"a b\tc":           "a_b_c",
		"wheel  cast!!":    "wheel_cast",
		"résumé":           "r_sum",
		"9c2f_4d1e":        "9c2f_4d1e",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
	assert.Len(t, SanitizeFilename(strings.Repeat("x", 300)), maxFilenameLen)
}
