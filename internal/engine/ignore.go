package engine

import (
	"bufio"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/tandemsync/tandem/internal/config"
	"github.com/tandemsync/tandem/internal/utils"
)

// IgnoreFileName is the per-root ignore file, gitignore syntax, merged
// into the profile rules on every run.
const IgnoreFileName = ".tandemignore"

var defaultIgnoreLines = []string{
	// tandem's own artifacts
	IgnoreFileName,
	"*.conflict.*",
	".tandem.tmp.*",
	// General excludes
	".git",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

// IgnoreMatcher decides which paths take part in a sync. The profile's
// ordered Name/Path/Regex rules and the per-root ignore files are compiled
// once per run; any match ignores, so evaluation short-circuits.
type IgnoreMatcher struct {
	rules []config.Rule
	git   *gitignore.GitIgnore
}

// NewIgnoreMatcher compiles the profile rules plus the defaults and any
// .tandemignore file found in the given roots.
func NewIgnoreMatcher(rules []config.Rule, roots ...string) *IgnoreMatcher {
	lines := make([]string, 0, len(defaultIgnoreLines))
	lines = append(lines, defaultIgnoreLines...)
	for _, root := range roots {
		lines = append(lines, readIgnoreFile(filepath.Join(root, IgnoreFileName))...)
	}

	return &IgnoreMatcher{
		rules: rules,
		git:   gitignore.CompileIgnoreLines(lines...),
	}
}

// ShouldIgnore reports whether the slash-separated relative path is
// excluded from sync. A path under an ignored directory is itself ignored,
// so baseline rows below a newly ignored directory never surface as
// deletions.
func (m *IgnoreMatcher) ShouldIgnore(relPath string) bool {
	if relPath == "" || relPath == "." {
		return false
	}
	if m.git.MatchesPath(relPath) {
		return true
	}
	for p := relPath; p != "." && p != "/"; p = path.Dir(p) {
		if config.MatchAny(m.rules, p) {
			return true
		}
	}
	return false
}

func readIgnoreFile(ignorePath string) []string {
	if !utils.FileExists(ignorePath) {
		return nil
	}

	file, err := os.Open(ignorePath)
	if err != nil {
		slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
	} else if len(lines) > 0 {
		slog.Debug("loaded ignore file", "path", ignorePath, "rules", len(lines))
	}
	return lines
}
