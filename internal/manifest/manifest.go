// Package manifest owns the team manifest: load/save, and the monotone
// next_task_id / next_worker_index counters whose increments must be
// serialized across processes (an ordering guarantee on counter increments).
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oddlot-labs/foreman/internal/atomicstore"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/errkind"
	"github.com/oddlot-labs/foreman/internal/layout"
	"github.com/oddlot-labs/foreman/internal/lock"
)

// Load reads the team manifest. A missing manifest returns (nil, nil).
func Load(root string) (*config.Manifest, error) {
	var m config.Manifest
	ok, err := atomicstore.ReadJSON(layout.Manifest(root), &m, "manifest")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// Save writes the team manifest atomically.
func Save(root string, m *config.Manifest) error {
	m.SchemaVersion = layout.SchemaVersion
	return atomicstore.WriteJSON(layout.Manifest(root), m)
}

// withCounterLock serializes a read-modify-write cycle over the manifest's
// monotone counters across processes ordering guarantee (d).
func withCounterLock(root string, fn func(m *config.Manifest) error) error {
	release, err := lock.Acquire(layout.ManifestLock(root))
	if err != nil && err != errkind.ErrLockStaleRecovered {
		return err
	}
	defer release()

	m, loadErr := Load(root)
	if loadErr != nil {
		return loadErr
	}
	if m == nil {
		return errkind.ErrNotFound
	}
	if fnErr := fn(m); fnErr != nil {
		return fnErr
	}
	return Save(root, m)
}

// NextTaskID atomically allocates and persists the next task id, returning
// it as "T<n>" (team-unique monotone, string; following the T1/T2 convention).
func NextTaskID(root string) (string, error) {
	var id string
	err := withCounterLock(root, func(m *config.Manifest) error {
		n := m.NextTaskID
		if n == 0 {
			n = 1
		}
		id = fmt.Sprintf("T%d", n)
		m.NextTaskID = n + 1
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// NextWorkerIndex atomically allocates and persists the next worker index.
// Indices are never reused within a team's lifetime, even across
// remove+add cycles.
func NextWorkerIndex(root string) (int, error) {
	var idx int
	err := withCounterLock(root, func(m *config.Manifest) error {
		idx = m.NextWorkerIndex
		m.NextWorkerIndex = idx + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return idx, nil
}

// AddWorker appends a worker to workers[] and bumps the active/worker
// counts, in the same manifest write as allocating its index would use if
// called together — callers typically call NextWorkerIndex first, then
// AddWorker with the resulting ref.
func AddWorker(root string, ref config.WorkerRef) error {
	return withCounterLock(root, func(m *config.Manifest) error {
		for _, w := range m.Workers {
			if w.Name == ref.Name {
				return fmt.Errorf("worker %s already present in manifest", ref.Name)
			}
		}
		m.Workers = append(m.Workers, ref)
		m.WorkerCount = len(m.Workers)
		m.ActiveWorkerCount = len(m.Workers)
		return nil
	})
}

// RemoveWorker deletes a worker from workers[] (used by scale-down once a
// drained worker's slot has been killed) and any draining_workers entry for
// it. The worker's name/index is never reassigned.
func RemoveWorker(root, name string) error {
	return withCounterLock(root, func(m *config.Manifest) error {
		out := m.Workers[:0]
		for _, w := range m.Workers {
			if w.Name != name {
				out = append(out, w)
			}
		}
		m.Workers = out
		m.WorkerCount = len(m.Workers)
		m.ActiveWorkerCount = len(m.Workers)
		m.DrainingWorkers = removeString(m.DrainingWorkers, name)
		return nil
	})
}

// SetDraining adds name to draining_workers (idempotent).
func SetDraining(root, name string) error {
	return withCounterLock(root, func(m *config.Manifest) error {
		for _, d := range m.DrainingWorkers {
			if d == name {
				return nil
			}
		}
		m.DrainingWorkers = append(m.DrainingWorkers, name)
		return nil
	})
}

// ClearDraining removes name from draining_workers (idempotent).
func ClearDraining(root, name string) error {
	return withCounterLock(root, func(m *config.Manifest) error {
		m.DrainingWorkers = removeString(m.DrainingWorkers, name)
		return nil
	})
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// IsDraining reports whether name is currently in draining_workers.
func IsDraining(m *config.Manifest, name string) bool {
	for _, d := range m.DrainingWorkers {
		if d == name {
			return true
		}
	}
	return false
}

// ListTaskIDs returns every task id with a persisted JSON file under the
// team's tasks directory, sorted for deterministic iteration.
func ListTaskIDs(root string) ([]string, error) {
	dir := layout.TasksDir(root)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing tasks dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(ids)
	return ids, nil
}
