package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupStore_PreserveAndVersions(t *testing.T) {
	root := t.TempDir()
	store := NewBackupStore(filepath.Join(t.TempDir(), "backups"), 5)

	abs := filepath.Join(root, "doc.txt")
	require.NoError(t, os.WriteFile(abs, []byte("v1"), 0o644))

	stored, err := store.Preserve(context.Background(), abs, "doc.txt")
	require.NoError(t, err)
	require.NotEmpty(t, stored)

	content, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))

	versions, err := store.Versions("doc.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, int64(2), versions[0].Size)
}

func TestBackupStore_VersionsOldestFirst(t *testing.T) {
	root := t.TempDir()
	store := NewBackupStore(filepath.Join(t.TempDir(), "backups"), 5)
	abs := filepath.Join(root, "doc.txt")

	for _, content := range []string{"v1", "v2!", "v3!!"} {
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
		_, err := store.Preserve(context.Background(), abs, "doc.txt")
		require.NoError(t, err)
	}

	versions, err := store.Versions("doc.txt")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, int64(2), versions[0].Size)
	assert.Equal(t, int64(4), versions[2].Size)
	assert.True(t, !versions[2].SavedAt.Before(versions[0].SavedAt))
}

func TestBackupStore_PrunesOldest(t *testing.T) {
	root := t.TempDir()
	store := NewBackupStore(filepath.Join(t.TempDir(), "backups"), 2)
	abs := filepath.Join(root, "doc.txt")

	for _, content := range []string{"v1", "v2!", "v3!!", "v4!!!"} {
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
		_, err := store.Preserve(context.Background(), abs, "doc.txt")
		require.NoError(t, err)
	}

	versions, err := store.Versions("doc.txt")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	// the newest two survive
	assert.Equal(t, int64(4), versions[0].Size)
	assert.Equal(t, int64(5), versions[1].Size)
}

func TestBackupStore_UnlimitedWhenMaxZero(t *testing.T) {
	root := t.TempDir()
	store := NewBackupStore(filepath.Join(t.TempDir(), "backups"), 0)
	abs := filepath.Join(root, "doc.txt")

	for i := 0; i < 7; i++ {
		require.NoError(t, os.WriteFile(abs, []byte("content"), 0o644))
		_, err := store.Preserve(context.Background(), abs, "doc.txt")
		require.NoError(t, err)
	}

	versions, err := store.Versions("doc.txt")
	require.NoError(t, err)
	assert.Len(t, versions, 7)
}

func TestBackupStore_MissingAndDirPreserveNothing(t *testing.T) {
	root := t.TempDir()
	store := NewBackupStore(filepath.Join(t.TempDir(), "backups"), 5)

	stored, err := store.Preserve(context.Background(), filepath.Join(root, "absent.txt"), "absent.txt")
	require.NoError(t, err)
	assert.Empty(t, stored)

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	stored, err = store.Preserve(context.Background(), sub, "sub")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestBackupStore_SymlinkStoresTarget(t *testing.T) {
	root := t.TempDir()
	store := NewBackupStore(filepath.Join(t.TempDir(), "backups"), 5)

	abs := filepath.Join(root, "link")
	require.NoError(t, os.Symlink("some/target", abs))

	stored, err := store.Preserve(context.Background(), abs, "link")
	require.NoError(t, err)
	require.NotEmpty(t, stored)

	content, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, "some/target", string(content))
}

func TestBackupStore_DistinctPathsDoNotCollide(t *testing.T) {
	root := t.TempDir()
	store := NewBackupStore(filepath.Join(t.TempDir(), "backups"), 5)

	for _, rel := range []string{"a/doc.txt", "b/doc.txt"} {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(rel), 0o644))
		_, err := store.Preserve(context.Background(), abs, rel)
		require.NoError(t, err)
	}

	va, err := store.Versions("a/doc.txt")
	require.NoError(t, err)
	vb, err := store.Versions("b/doc.txt")
	require.NoError(t, err)
	assert.Len(t, va, 1)
	assert.Len(t, vb, 1)

	contentA, err := os.ReadFile(va[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "a/doc.txt", string(contentA))
}
