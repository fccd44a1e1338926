// Package pair manages the identity and on-disk state of one sync pair.
package pair

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/tandemsync/tandem/internal/utils"
)

const (
	lockFile      = "pair.lock"
	baselineFile  = "baseline.db"
	backupsDir    = "backups"
	machineIDFile = "machine-id"
	machineIDApp  = "tandem"
)

var ErrPairLocked = errors.New("sync pair locked by another process")

// Pair is one (alpha, beta) root pairing and its state directory under the
// state root. The same roots on the same machine always map to the same
// state directory, so the baseline survives across runs.
type Pair struct {
	Alpha        string
	Beta         string
	ID           string
	StateDir     string
	BaselinePath string
	BackupsDir   string

	flock *flock.Flock
}

// New derives the pair identity from the machine ID plus both canonical
// root paths and lays out the state directory paths. Nothing is created
// on disk until Lock.
func New(stateRoot, alpha, beta string) (*Pair, error) {
	a, err := utils.ResolvePath(alpha)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", alpha, err)
	}
	b, err := utils.ResolvePath(beta)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", beta, err)
	}

	id := pairID(stateRoot, a, b)
	stateDir := filepath.Join(stateRoot, id)

	return &Pair{
		Alpha:        a,
		Beta:         b,
		ID:           id,
		StateDir:     stateDir,
		BaselinePath: filepath.Join(stateDir, baselineFile),
		BackupsDir:   filepath.Join(stateDir, backupsDir),
		flock:        flock.New(filepath.Join(stateDir, lockFile)),
	}, nil
}

// Lock creates the state directory and takes the pair lock. A second
// concurrent run on the same pair fails fast with ErrPairLocked.
func (p *Pair) Lock() error {
	if err := utils.EnsureDir(p.StateDir); err != nil {
		return fmt.Errorf("create state dir %s: %w", p.StateDir, err)
	}

	locked, err := p.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock pair: %w", err)
	}
	if !locked {
		return ErrPairLocked
	}

	return nil
}

// Unlock releases the pair lock and removes the lock file.
func (p *Pair) Unlock() error {
	// if this process doesn't hold the lock, leave the file alone
	if !p.flock.Locked() {
		return nil
	}

	if err := p.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock pair: %w", err)
	}

	return os.Remove(p.flock.Path())
}

func pairID(stateRoot, alpha, beta string) string {
	mid := machineIdentity(stateRoot)
	sum := sha1.Sum([]byte(mid + "\x00" + alpha + "\x00" + beta))
	return hex.EncodeToString(sum[:])[:16]
}

// machineIdentity returns a stable per-machine identifier. Hosts without a
// readable machine ID get a random one persisted under the state root.
func machineIdentity(stateRoot string) string {
	if id, err := machineid.ProtectedID(machineIDApp); err == nil {
		return id
	}

	idPath := filepath.Join(stateRoot, machineIDFile)
	if data, err := os.ReadFile(idPath); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	id := uuid.NewString()
	if err := utils.EnsureParent(idPath); err == nil {
		_ = os.WriteFile(idPath, []byte(id+"\n"), 0o600)
	}
	return id
}
