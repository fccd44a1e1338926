package engine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tandemsync/tandem/internal/utils"
)

const backupTimeFormat = "20060102T150405.000000000"

// BackupVersion is one stored copy of a synced path.
type BackupVersion struct {
	Name    string
	Path    string
	Size    int64
	SavedAt time.Time
}

// BackupStore keeps timestamped copies of file content about to be
// overwritten or deleted. Versions live under <dir>/<h2>/<hash>/ where
// hash is the SHA-1 of the slash-separated relative path, so arbitrary
// path names never collide with the store layout.
type BackupStore struct {
	dir         string
	maxVersions int
}

// NewBackupStore returns a store rooted at dir keeping up to maxVersions
// copies per path. maxVersions <= 0 keeps every version.
func NewBackupStore(dir string, maxVersions int) *BackupStore {
	return &BackupStore{dir: dir, maxVersions: maxVersions}
}

func (s *BackupStore) Dir() string {
	return s.dir
}

func (s *BackupStore) pathDir(relPath string) string {
	sum := sha1.Sum([]byte(relPath))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(s.dir, h[:2], h)
}

// Preserve stores the current content of abs before it changes and
// returns the stored location. Missing paths and directories preserve
// nothing; symlinks store their target string.
func (s *BackupStore) Preserve(ctx context.Context, abs, relPath string) (string, error) {
	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if info.IsDir() {
		return "", nil
	}

	dir := s.pathDir(relPath)
	if err := utils.EnsureDir(dir); err != nil {
		return "", err
	}

	name := time.Now().UTC().Format(backupTimeFormat) + "_" + filepath.Base(relPath)
	dst := filepath.Join(dir, name)

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(abs)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(dst, []byte(target), 0o600); err != nil {
			return "", err
		}
	} else if _, err := copyFileSimple(ctx, abs, dst); err != nil {
		return "", err
	}

	if err := s.prune(dir); err != nil {
		slog.Warn("backup prune failed", "path", relPath, "error", err)
	}
	return dst, nil
}

// Versions lists the stored copies of relPath, oldest first.
func (s *BackupStore) Versions(relPath string) ([]BackupVersion, error) {
	dir := s.pathDir(relPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	versions := make([]BackupVersion, 0, len(entries))
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		versions = append(versions, BackupVersion{
			Name:    de.Name(),
			Path:    filepath.Join(dir, de.Name()),
			Size:    info.Size(),
			SavedAt: versionTime(de.Name(), info),
		})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Name < versions[j].Name })
	return versions, nil
}

// prune drops the oldest versions beyond maxVersions. The timestamp
// prefix is fixed width, so lexicographic order is chronological.
func (s *BackupStore) prune(dir string) error {
	if s.maxVersions <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, de := range entries {
		if !de.IsDir() {
			names = append(names, de.Name())
		}
	}
	if len(names) <= s.maxVersions {
		return nil
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names[:len(names)-s.maxVersions] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func versionTime(name string, info fs.FileInfo) time.Time {
	stamp, _, ok := strings.Cut(name, "_")
	if ok {
		if t, err := time.Parse(backupTimeFormat, stamp); err == nil {
			return t
		}
	}
	return info.ModTime()
}
