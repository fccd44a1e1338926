package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoRoots(t *testing.T) (string, string) {
	t.Helper()
	return t.TempDir(), t.TempDir()
}

func TestProfileValidate_NormalizesRoots(t *testing.T) {
	alpha, beta := twoRoots(t)

	p := Default()
	p.Roots = []string{alpha, beta}
	require.NoError(t, p.Validate())

	assert.True(t, filepath.IsAbs(p.Alpha()))
	assert.True(t, filepath.IsAbs(p.Beta()))
	assert.Equal(t, alpha, p.Alpha())
	assert.Equal(t, beta, p.Beta())
}

func TestProfileValidate_Errors(t *testing.T) {
	alpha, beta := twoRoots(t)

	tests := []struct {
		name    string
		mutate  func(p *Profile)
		wantErr string
	}{
		{
			name:    "one root",
			mutate:  func(p *Profile) { p.Roots = []string{alpha} },
			wantErr: "exactly 2 roots",
		},
		{
			name:    "duplicate roots",
			mutate:  func(p *Profile) { p.Roots = []string{alpha, alpha} },
			wantErr: "distinct",
		},
		{
			name:    "nested roots",
			mutate:  func(p *Profile) { p.Roots = []string{alpha, filepath.Join(alpha, "sub")} },
			wantErr: "nested",
		},
		{
			name:    "bad prefer",
			mutate:  func(p *Profile) { p.Prefer = "fastest" },
			wantErr: "prefer",
		},
		{
			name:    "force not a root",
			mutate:  func(p *Profile) { p.Force = filepath.Join(alpha, "..", "elsewhere") },
			wantErr: "force",
		},
		{
			name:    "negative retry",
			mutate:  func(p *Profile) { p.Retry = -1 },
			wantErr: "retry",
		},
		{
			name:    "negative max_threads",
			mutate:  func(p *Profile) { p.MaxThreads = -2 },
			wantErr: "max_threads",
		},
		{
			name:    "bad ignore rule",
			mutate:  func(p *Profile) { p.Ignore = []string{"Glob *.tmp"} },
			wantErr: "ignore",
		},
		{
			name:    "bad backup_not rule",
			mutate:  func(p *Profile) { p.BackupNot = []string{"Regex ("} },
			wantErr: "backup_not",
		},
		{
			name:    "perm mask with type bits",
			mutate:  func(p *Profile) { p.PermMask = os.ModeDir | 0o644 },
			wantErr: "perm_mask",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			p.Roots = []string{alpha, beta}
			tt.mutate(p)

			err := p.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProfileValidate_PreferRoot(t *testing.T) {
	alpha, beta := twoRoots(t)

	p := Default()
	p.Roots = []string{alpha, beta}
	p.Prefer = beta
	require.NoError(t, p.Validate())

	root, ok := p.PreferRoot()
	assert.True(t, ok)
	assert.Equal(t, beta, root)

	p2 := Default()
	p2.Roots = []string{alpha, beta}
	require.NoError(t, p2.Validate())
	_, ok = p2.PreferRoot()
	assert.False(t, ok)
}

func TestProfileValidate_ModeImplications(t *testing.T) {
	alpha, beta := twoRoots(t)

	t.Run("batch implies auto", func(t *testing.T) {
		p := Default()
		p.Roots = []string{alpha, beta}
		p.Batch = true
		require.NoError(t, p.Validate())
		assert.True(t, p.Auto)
	})

	t.Run("silent implies batch and auto", func(t *testing.T) {
		p := Default()
		p.Roots = []string{alpha, beta}
		p.Silent = true
		require.NoError(t, p.Validate())
		assert.True(t, p.Batch)
		assert.True(t, p.Auto)
	})
}

func TestLoadProfile_FromFile(t *testing.T) {
	alpha, beta := twoRoots(t)
	tmp := t.TempDir()
	profilePath := filepath.Join(tmp, "work.yaml")

	content := "roots:\n  - " + alpha + "\n  - " + beta + "\n" +
		"prefer: older\nretry: 4\nio_timeout: 5s\nignore:\n  - \"Name *.tmp\"\n"
	require.NoError(t, os.WriteFile(profilePath, []byte(content), 0o644))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(profilePath)
	require.NoError(t, v.ReadInConfig())

	p, err := LoadProfile(v)
	require.NoError(t, err)

	assert.Equal(t, "work", p.Name)
	assert.Equal(t, profilePath, p.Path)
	assert.Equal(t, PreferOlder, p.Prefer)
	assert.Equal(t, 4, p.Retry)
	assert.Equal(t, 5*time.Second, p.IOTimeout)
	assert.Len(t, p.IgnoreRules(), 1)

	// Defaults fill unset keys.
	assert.True(t, p.Backup)
	assert.Equal(t, 5, p.MaxBackups)
	assert.True(t, p.ConfirmBigDel)
}

func TestFindProfile(t *testing.T) {
	tmp := t.TempDir()

	t.Run("direct path", func(t *testing.T) {
		p := filepath.Join(tmp, "direct.yaml")
		require.NoError(t, os.WriteFile(p, []byte("roots: []\n"), 0o644))

		found, err := FindProfile(p)
		require.NoError(t, err)
		assert.Equal(t, p, found)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := FindProfile(filepath.Join(tmp, "nope.yaml"))
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})

	t.Run("by name", func(t *testing.T) {
		old := DefaultProfilesDir
		DefaultProfilesDir = tmp
		defer func() { DefaultProfilesDir = old }()

		p := filepath.Join(tmp, "named.yaml")
		require.NoError(t, os.WriteFile(p, []byte("roots: []\n"), 0o644))

		found, err := FindProfile("named")
		require.NoError(t, err)
		assert.Equal(t, p, found)

		_, err = FindProfile("absent")
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})
}

func TestListProfiles(t *testing.T) {
	tmp := t.TempDir()
	old := DefaultProfilesDir
	DefaultProfilesDir = tmp
	defer func() { DefaultProfilesDir = old }()

	require.NoError(t, os.WriteFile(filepath.Join(tmp, "b.yaml"), []byte{}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "a.yml"), []byte{}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "notes.txt"), []byte{}, 0o644))

	names, err := ListProfiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestListProfiles_MissingDir(t *testing.T) {
	old := DefaultProfilesDir
	DefaultProfilesDir = filepath.Join(t.TempDir(), "does-not-exist")
	defer func() { DefaultProfilesDir = old }()

	names, err := ListProfiles()
	require.NoError(t, err)
	assert.Empty(t, names)
}
