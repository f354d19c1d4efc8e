package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	orig := [3]string{Version, GitSHA, BuildTime}
	t.Cleanup(func() { Version, GitSHA, BuildTime = orig[0], orig[1], orig[2] })

	assert.Equal(t, "lanedecode dev (unknown, built unknown)", String("lanedecode"))

	Version, GitSHA, BuildTime = "v0.3.0", "abc1234", "2026-10-19T00:00:00Z"
	assert.Equal(t, "lanedecode v0.3.0 (abc1234, built 2026-10-19T00:00:00Z)", String("lanedecode"))
}
