package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// tmpPrefix marks in-flight copies. The default ignore set excludes it so
// a concurrent scan never picks up half-written files.
const tmpPrefix = ".tandem.tmp."

// ctxReader aborts a long copy as soon as its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// atomicWriteFile copies src to dst through a temp file in dst's
// directory, fsyncs, verifies the digest when one is expected, and
// renames into place. dst is never left half-written, even on
// cancellation.
func atomicWriteFile(ctx context.Context, src, dst, wantDigest string, perm fs.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), tmpPrefix+"*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	hash := md5.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), &ctxReader{ctx: ctx, r: in})
	if err != nil {
		return n, err
	}
	if wantDigest != "" {
		if got := hex.EncodeToString(hash.Sum(nil)); got != wantDigest {
			return n, fmt.Errorf("digest mismatch copying %s: source changed during sync", src)
		}
	}
	if err := tmp.Sync(); err != nil {
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return n, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return n, err
	}
	tmpName = "" // renamed, nothing to clean up
	return n, nil
}

// atomicSymlink replaces dst with a symlink to target. The temp link is
// renamed over dst so readers never see a missing path.
func atomicSymlink(target, dst string) error {
	tmpName := filepath.Join(filepath.Dir(dst), tmpPrefix+stringDigest(dst)[:8])
	os.Remove(tmpName)
	if err := os.Symlink(target, tmpName); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// copyFileSimple is a plain temp-and-rename copy without digest
// verification, used for backup snapshots.
func copyFileSimple(ctx context.Context, src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	return atomicWriteFile(ctx, src, dst, "", info.Mode().Perm())
}

// removePath removes one entry. Directories must already be empty;
// delete ordering guarantees children go first.
func removePath(abs string) error {
	err := os.Remove(abs)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
