// Package tokenstore persists the activation token and offline grace counters
// of one product on disk.
//
// Every write goes to a temporary file that is renamed over the target, so an
// interrupted operation leaves either the old or the new content. Access is
// serialized in-process with a mutex and across processes with an advisory
// file lock.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	activationFile = "activation.json"
	countersFile   = "grace.json"
	lockFile       = ".lock"
	dirPerm        = 0700
	filePerm       = 0600

	lockRetryDelay = 25 * time.Millisecond
	lockTimeout    = 5 * time.Second
)

// ErrLocked is returned when another process holds the store lock for longer
// than the lock timeout.
var ErrLocked = errors.New("token store is locked by another process")

// ErrCorrupt is returned when a stored file exists but cannot be decoded.
var ErrCorrupt = errors.New("token store file is corrupt")

// Activation is the persisted activation record.
type Activation struct {
	Token        string    `json:"token"`
	ActivationID string    `json:"activation_id,omitempty"`
	LicenseHash  string    `json:"license_hash,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// Counters are the offline grace-period counters.
type Counters struct {
	OfflineLaunchCount    int       `json:"offline_launch_count"`
	LastSuccessfulConnect time.Time `json:"last_successful_connect"`
	LastDayOfExpiration   time.Time `json:"last_day_of_expiration"`
}

// Store implements file-based persistence rooted at a directory.
type Store struct {
	dir  string
	mu   sync.RWMutex
	lock *flock.Flock
}

// New creates a store at dir. The directory is created lazily on first write.
func New(dir string) *Store {
	return &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFile)),
	}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads the activation record. Returns nil, nil when none is stored and
// ErrCorrupt when the record cannot be decoded.
func (s *Store) Load() (*Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a Activation
	ok, err := s.readJSON(activationFile, &a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

// Save replaces the activation record.
func (s *Store) Save(a *Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(func() error {
		return s.writeJSON(activationFile, a)
	})
}

// Remove deletes the activation record. Removing a missing record is not an error.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(func() error {
		path := filepath.Join(s.dir, activationFile)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove activation file: %w", err)
		}
		return nil
	})
}

// LoadCounters reads the grace counters. The bool is false when none are stored.
func (s *Store) LoadCounters() (Counters, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Counters
	ok, err := s.readJSON(countersFile, &c)
	return c, ok, err
}

// SaveCounters replaces the grace counters.
func (s *Store) SaveCounters(c Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(func() error {
		return s.writeJSON(countersFile, c)
	})
}

func (s *Store) withFileLock(fn func() error) error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			return ErrLocked
		}
		return fmt.Errorf("lock store: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

func (s *Store) readJSON(name string, dest interface{}) (bool, error) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path) //nolint:gosec // path is constructed from the configured store dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, name, err)
	}
	return true, nil
}

// writeJSON writes atomically: temp file in the same directory, fsync, rename.
func (s *Store) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
