package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func resetVersionVars() {
	Version = "0.3.0-dev"
	Revision = "HEAD"
	BuildDate = ""
}

func TestApplyBuildInfo(t *testing.T) {
	t.Run("dev build picks up vcs metadata", func(t *testing.T) {
		resetVersionVars()
		applyBuildInfo("(devel)", map[string]string{
			"vcs.revision": "abc1234",
			"vcs.time":     "2026-01-02T03:04:05Z",
		})
		assert.Equal(t, "0.3.0-dev", Version)
		assert.Equal(t, "abc1234", Revision)
		assert.Equal(t, "2026-01-02T03:04:05Z", BuildDate)
	})

	t.Run("dirty worktree is marked", func(t *testing.T) {
		resetVersionVars()
		applyBuildInfo("", map[string]string{
			"vcs.revision": "abc1234",
			"vcs.modified": "true",
		})
		assert.Equal(t, "abc1234-dirty", Revision)
	})

	t.Run("module version overrides dev default", func(t *testing.T) {
		resetVersionVars()
		applyBuildInfo("v1.2.3", nil)
		assert.Equal(t, "1.2.3", Version)
	})

	t.Run("ldflags values win over build info", func(t *testing.T) {
		resetVersionVars()
		Version = "9.9.9"
		Revision = "deadbeef"
		applyBuildInfo("v1.2.3", map[string]string{"vcs.revision": "abc1234"})
		assert.Equal(t, "9.9.9", Version)
		assert.Equal(t, "deadbeef", Revision)
	})
}

func TestVersionStrings(t *testing.T) {
	resetVersionVars()
	Version = "1.0.0"
	Revision = "5e23a4f"

	assert.Equal(t, "1.0.0 (5e23a4f)", Short())
	assert.Equal(t, "Tandem 1.0.0 (5e23a4f)", ShortWithApp())
	assert.True(t, strings.HasPrefix(Detailed(), "1.0.0 (5e23a4f;"))
}
