// Package lock provides the file-based advisory lock used by the scaling
// engine, guarding a JSON state file with github.com/gofrs/flock.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/oddlot-labs/foreman/internal/atomicstore"
	"github.com/oddlot-labs/foreman/internal/errkind"
)

// StaleAfter is the age after which a lock file is considered abandoned and
// may be stolen with a warning
const StaleAfter = 5 * time.Minute

// holder is the JSON content of a lock file: {pid, acquired_at}.
type holder struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Acquire takes the exclusive advisory lock at path, recording the current
// pid and timestamp. If an existing lock file is older than StaleAfter, it
// is overwritten and errkind.ErrLockStaleRecovered is returned alongside a
// valid release function — the caller should log a warning and proceed.
// Acquire blocks on the underlying flock until it is available; callers
// that need a deadline should wrap this with a context timeout externally.
func Acquire(path string) (release func(), err error) {
	if err := atomicstore.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}

	release = func() {
		_ = fl.Unlock()
	}

	var existing holder
	ok, _ := atomicstore.ReadJSON(path, &existing, "lock_holder")

	now := time.Now()
	// The holder record is rewritten in place: renaming a new file over path
	// would leave the flock on an unlinked inode and let another process
	// lock the new file at the same time.
	data, _ := json.Marshal(holder{PID: os.Getpid(), AcquiredAt: now})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		release()
		return nil, fmt.Errorf("recording lock holder %s: %w", path, err)
	}

	if ok && now.Sub(existing.AcquiredAt) > StaleAfter {
		return release, errkind.ErrLockStaleRecovered
	}
	return release, nil
}

// IsStale reports whether the lock file at path was last acquired more than
// StaleAfter ago, without taking the lock. Used by callers that want to
// decide whether to steal a lock before blocking on it.
func IsStale(path string) bool {
	var h holder
	ok, _ := atomicstore.ReadJSON(path, &h, "lock_holder")
	if !ok {
		return false
	}
	return time.Since(h.AcquiredAt) > StaleAfter
}

