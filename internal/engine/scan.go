package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tandemsync/tandem/internal/utils"
)

const digestCacheSize = 65536

type digestCacheEntry struct {
	size    int64
	modTime time.Time
	digest  string
}

// Scanner walks one root and produces Snapshots. The digest cache keyed by
// (path, size, mtime) survives across scans so unchanged files are not
// re-hashed on every run. The matcher is per-scan because .tandemignore
// files are re-read each run.
type Scanner struct {
	root    string
	digests *lru.Cache[string, digestCacheEntry]
}

func NewScanner(root string) *Scanner {
	cache, _ := lru.New[string, digestCacheEntry](digestCacheSize)
	return &Scanner{
		root:    root,
		digests: cache,
	}
}

// Scan walks the root. Ignored directories are pruned before descent.
// Unreadable entries become ScanErrors on the snapshot, not failures;
// only an unreachable root or cancellation fails the scan.
func (s *Scanner) Scan(ctx context.Context, ignore *IgnoreMatcher) (*Snapshot, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", s.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", s.root)
	}

	snap := &Snapshot{
		Root:    s.root,
		TakenAt: time.Now(),
		Entries: make(map[string]*Entry),
	}

	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := utils.NormalizeRel(s.root, path)
		if relErr != nil {
			snap.Errors = append(snap.Errors, &ScanError{Root: s.root, Path: path, Err: relErr})
			return nil
		}

		if walkErr != nil {
			snap.Errors = append(snap.Errors, &ScanError{Root: s.root, Path: rel, Err: walkErr})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if rel == "." {
			return nil
		}

		if ignore.ShouldIgnore(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		entry, entryErr := s.entryFor(path, rel, d)
		if entryErr != nil {
			snap.Errors = append(snap.Errors, &ScanError{Root: s.root, Path: rel, Err: entryErr})
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		snap.Entries[rel] = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}

	return snap, nil
}

func (s *Scanner) entryFor(absPath, relPath string, d fs.DirEntry) (*Entry, error) {
	switch {
	case d.IsDir():
		info, err := d.Info()
		if err != nil {
			return nil, err
		}
		return &Entry{
			Path:    relPath,
			Kind:    KindDir,
			ModTime: info.ModTime(),
			Mode:    info.Mode().Perm(),
		}, nil

	case d.Type()&fs.ModeSymlink != 0:
		// Symlinks are recorded, never followed.
		target, err := os.Readlink(absPath)
		if err != nil {
			return nil, err
		}
		info, err := os.Lstat(absPath)
		if err != nil {
			return nil, err
		}
		return &Entry{
			Path:       relPath,
			Kind:       KindSymlink,
			ModTime:    info.ModTime(),
			Mode:       info.Mode().Perm(),
			LinkTarget: target,
			Digest:     stringDigest(target),
		}, nil

	default:
		info, err := d.Info()
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("unsupported file type %v", info.Mode().Type())
		}
		digest, err := s.fileDigest(absPath, relPath, info)
		if err != nil {
			return nil, err
		}
		return &Entry{
			Path:    relPath,
			Kind:    KindFile,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Mode:    info.Mode().Perm(),
			Digest:  digest,
		}, nil
	}
}

func (s *Scanner) fileDigest(absPath, relPath string, info fs.FileInfo) (string, error) {
	if cached, ok := s.digests.Get(relPath); ok &&
		cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.digest, nil
	}

	digest, err := utils.FileHash(absPath)
	if err != nil {
		return "", err
	}

	s.digests.Add(relPath, digestCacheEntry{
		size:    info.Size(),
		modTime: info.ModTime(),
		digest:  digest,
	})
	return digest, nil
}

func stringDigest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
