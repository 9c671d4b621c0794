package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	v, sha, built := Version, GitSHA, BuildTime
	defer func() { Version, GitSHA, BuildTime = v, sha, built }()

	Version = "1.2.0"
	GitSHA = "0123456789abcdef0123"
	BuildTime = "2026-03-01T10:00:00Z"
	assert.Equal(t, "1.2.0 (0123456789ab, built 2026-03-01T10:00:00Z, "+runtime.Version()+")", String())

	GitSHA = "abc"
	assert.Contains(t, String(), "(abc, ")
}
