package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tandemsync/tandem/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultTandemDir   = filepath.Join(home, ".tandem")
	DefaultProfilesDir = filepath.Join(home, ".tandem", "profiles")
	DefaultStateDir    = filepath.Join(home, ".tandem", "state")
	DefaultLogFilePath = filepath.Join(home, ".tandem", "logs", "tandem.log")
)

var ErrProfileNotFound = errors.New("profile not found")

const (
	PreferNewer = "newer"
	PreferOlder = "older"
)

const DefaultPermMask = fs.FileMode(0o644)

// Profile is the full per-pair sync configuration. It is validated once at
// load time and then threaded through the engine unchanged.
type Profile struct {
	Name string `mapstructure:"-" yaml:"-"`
	Path string `mapstructure:"-" yaml:"-"`

	Roots         []string      `mapstructure:"roots" yaml:"roots"`
	Auto          bool          `mapstructure:"auto" yaml:"auto"`
	Batch         bool          `mapstructure:"batch" yaml:"batch"`
	Silent        bool          `mapstructure:"silent" yaml:"silent"`
	Prefer        string        `mapstructure:"prefer" yaml:"prefer"`
	Force         string        `mapstructure:"force" yaml:"force,omitempty"`
	Backup        bool          `mapstructure:"backup" yaml:"backup"`
	BackupCurrent bool          `mapstructure:"backup_current" yaml:"backup_current"`
	BackupNot     []string      `mapstructure:"backup_not" yaml:"backup_not,omitempty"`
	MaxBackups    int           `mapstructure:"max_backups" yaml:"max_backups"`
	Ignore        []string      `mapstructure:"ignore" yaml:"ignore,omitempty"`
	Retry         int           `mapstructure:"retry" yaml:"retry"`
	IOTimeout     time.Duration `mapstructure:"io_timeout" yaml:"io_timeout"`
	ConfirmBigDel bool          `mapstructure:"confirm_bigdel" yaml:"confirm_bigdel"`
	MaxThreads    int           `mapstructure:"max_threads" yaml:"max_threads"`
	PermMask      fs.FileMode   `mapstructure:"perm_mask" yaml:"perm_mask"`
	Times         bool          `mapstructure:"times" yaml:"times"`
	Perms         bool          `mapstructure:"perms" yaml:"perms"`

	ignoreRules    []Rule
	backupNotRules []Rule
}

// Default returns a profile with every knob at its documented default.
// Roots are left empty and must be supplied by the caller.
func Default() *Profile {
	return &Profile{
		Auto:          false,
		Batch:         false,
		Silent:        false,
		Prefer:        PreferNewer,
		Backup:        true,
		MaxBackups:    5,
		Retry:         2,
		IOTimeout:     30 * time.Second,
		ConfirmBigDel: true,
		MaxThreads:    0,
		PermMask:      DefaultPermMask,
		Times:         true,
		Perms:         false,
	}
}

// SetDefaults registers every profile key with viper so that flag, env and
// file layers all resolve against the same defaults.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("roots", []string{})
	v.SetDefault("auto", false)
	v.SetDefault("batch", false)
	v.SetDefault("silent", false)
	v.SetDefault("prefer", PreferNewer)
	v.SetDefault("force", "")
	v.SetDefault("backup", true)
	v.SetDefault("backup_current", false)
	v.SetDefault("backup_not", []string{})
	v.SetDefault("max_backups", 5)
	v.SetDefault("ignore", []string{})
	v.SetDefault("retry", 2)
	v.SetDefault("io_timeout", "30s")
	v.SetDefault("confirm_bigdel", true)
	v.SetDefault("max_threads", 0)
	v.SetDefault("perm_mask", uint32(DefaultPermMask))
	v.SetDefault("times", true)
	v.SetDefault("perms", false)
}

// LoadProfile unmarshals and validates the profile assembled by viper
// (flags > env > profile file > defaults).
func LoadProfile(v *viper.Viper) (*Profile, error) {
	p := &Profile{}
	if err := v.Unmarshal(p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	if used := v.ConfigFileUsed(); used != "" {
		p.Path = used
		p.Name = strings.TrimSuffix(filepath.Base(used), filepath.Ext(used))
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// FindProfile resolves a profile reference, either a name under the profiles
// directory or a direct path to a YAML file.
func FindProfile(ref string) (string, error) {
	if strings.ContainsRune(ref, os.PathSeparator) || strings.HasSuffix(ref, ".yaml") || strings.HasSuffix(ref, ".yml") {
		resolved, err := utils.ResolvePath(ref)
		if err != nil {
			return "", err
		}
		if !utils.FileExists(resolved) {
			return "", fmt.Errorf("%w: %s", ErrProfileNotFound, ref)
		}
		return resolved, nil
	}

	for _, ext := range []string{".yaml", ".yml"} {
		candidate := filepath.Join(DefaultProfilesDir, ref+ext)
		if utils.FileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrProfileNotFound, ref)
}

// ListProfiles returns the sorted names of profiles in the profiles directory.
func ListProfiles() ([]string, error) {
	entries, err := os.ReadDir(DefaultProfilesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, strings.TrimSuffix(e.Name(), ext))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Validate normalizes paths, applies mode-flag implications and compiles
// the rule lists. A profile that passes is safe to hand to the engine.
func (p *Profile) Validate() error {
	if len(p.Roots) != 2 {
		return fmt.Errorf("expected exactly 2 roots, got %d", len(p.Roots))
	}
	for i, root := range p.Roots {
		resolved, err := utils.ResolvePath(root)
		if err != nil {
			return fmt.Errorf("root %q: %w", root, err)
		}
		p.Roots[i] = resolved
	}
	if p.Roots[0] == p.Roots[1] {
		return errors.New("roots must be distinct")
	}
	if nested(p.Roots[0], p.Roots[1]) || nested(p.Roots[1], p.Roots[0]) {
		return errors.New("roots must not be nested in each other")
	}

	switch p.Prefer {
	case "", PreferNewer, PreferOlder:
	default:
		resolved, err := utils.ResolvePath(p.Prefer)
		if err != nil || !p.isRoot(resolved) {
			return fmt.Errorf("prefer must be %q, %q or one of the roots, got %q", PreferNewer, PreferOlder, p.Prefer)
		}
		p.Prefer = resolved
	}

	if p.Force != "" {
		resolved, err := utils.ResolvePath(p.Force)
		if err != nil || !p.isRoot(resolved) {
			return fmt.Errorf("force must be one of the roots, got %q", p.Force)
		}
		p.Force = resolved
	}

	// silent implies batch implies auto
	if p.Silent {
		p.Batch = true
	}
	if p.Batch {
		p.Auto = true
	}

	if p.Retry < 0 {
		return fmt.Errorf("retry must be >= 0, got %d", p.Retry)
	}
	if p.MaxThreads < 0 {
		return fmt.Errorf("max_threads must be >= 0, got %d", p.MaxThreads)
	}
	if p.IOTimeout < 0 {
		return fmt.Errorf("io_timeout must be >= 0, got %s", p.IOTimeout)
	}
	if p.PermMask == 0 {
		p.PermMask = DefaultPermMask
	}
	if p.PermMask&^fs.ModePerm != 0 {
		return fmt.Errorf("perm_mask must be a permission mask, got %O", p.PermMask)
	}

	var err error
	if p.ignoreRules, err = ParseRules(p.Ignore); err != nil {
		return fmt.Errorf("ignore: %w", err)
	}
	if p.backupNotRules, err = ParseRules(p.BackupNot); err != nil {
		return fmt.Errorf("backup_not: %w", err)
	}

	return nil
}

// Alpha is the first root of the pair.
func (p *Profile) Alpha() string {
	return p.Roots[0]
}

// Beta is the second root of the pair.
func (p *Profile) Beta() string {
	return p.Roots[1]
}

// IgnoreRules returns the compiled ignore rules. Valid after Validate.
func (p *Profile) IgnoreRules() []Rule {
	return p.ignoreRules
}

// BackupNotRules returns the compiled backup exemption rules. Valid after Validate.
func (p *Profile) BackupNotRules() []Rule {
	return p.backupNotRules
}

// PreferRoot returns the preferred root path when prefer is root-priority.
func (p *Profile) PreferRoot() (string, bool) {
	if p.Prefer == "" || p.Prefer == PreferNewer || p.Prefer == PreferOlder {
		return "", false
	}
	return p.Prefer, true
}

func (p *Profile) isRoot(path string) bool {
	return path == p.Roots[0] || path == p.Roots[1]
}

// nested reports whether child sits at or below parent.
func nested(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
