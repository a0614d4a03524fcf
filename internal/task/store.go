// Package task implements the task store: creation,
// claim leasing with optimistic concurrency on Task.Version, release,
// terminal transitions, general field updates, and dependency readiness.
//
// Every persisted task lives at layout.Task(root, id). Mutations follow a
// read-mutate-write-if-version-unchanged pattern: tasks use optimistic
// concurrency on Task.Version instead of a file lock.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oddlot-labs/foreman/internal/atomicstore"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/errkind"
	"github.com/oddlot-labs/foreman/internal/layout"
	"github.com/oddlot-labs/foreman/internal/manifest"
)

// DefaultLeaseDuration is the default claim lease.
const DefaultLeaseDuration = 15 * time.Minute

// Store operates on the tasks persisted under a single team's state root.
type Store struct {
	root string
}

// New returns a task Store rooted at the given team state root.
func New(root string) *Store {
	return &Store{root: root}
}

// Get reads a single task by id. A missing or malformed task returns
// (nil, nil) — not found is not an error.
func (s *Store) Get(id string) (*config.Task, error) {
	var t config.Task
	ok, err := atomicstore.ReadJSON(layout.Task(s.root, id), &t, "task")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// List returns every task for the team, in no particular order.
func (s *Store) List() ([]config.Task, error) {
	entries, err := manifest.ListTaskIDs(s.root)
	if err != nil {
		return nil, err
	}
	out := make([]config.Task, 0, len(entries))
	for _, id := range entries {
		t, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

// CreateInput describes a new task.
type CreateInput struct {
	Subject            string
	Description         string
	DependsOn           []string
	RequiresCodeChange  bool
	Labels              []string
}

// Create allocates a team-unique monotone id from the manifest's
// next_task_id counter and persists a new pending task. It does not
// validate that DependsOn entries exist yet — a task may reference a
// sibling created later in the same bootstrap batch.
func Create(root string, in CreateInput) (*config.Task, error) {
	id, err := manifest.NextTaskID(root)
	if err != nil {
		return nil, err
	}

	t := config.Task{
		ID:                 id,
		Subject:            in.Subject,
		Description:        in.Description,
		Status:             config.TaskPending,
		RequiresCodeChange: in.RequiresCodeChange,
		DependsOn:          in.DependsOn,
		Labels:             in.Labels,
		Version:            1,
		CreatedAt:          time.Now(),
	}
	if err := atomicstore.WriteJSON(layout.Task(root, id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ClaimResult is the structured outcome of a Claim call.
type ClaimResult struct {
	OK         bool
	Task       *config.Task
	ClaimToken string
	Err        error // one of errkind.ErrNotFound / ErrWrongStatus / ErrClaimConflict / ErrBlockedDependency / ErrDrainingWorker
}

// Claim attempts to lease a pending task for a worker. It is a no-op unless
// the task is currently pending, not claimed, and its dependencies are
// satisfied. On a version race it retries exactly once before reporting
// claim_conflict.
func (s *Store) Claim(id, worker string, draining map[string]bool, leaseDuration time.Duration) ClaimResult {
	if leaseDuration <= 0 {
		leaseDuration = DefaultLeaseDuration
	}
	if draining[worker] {
		return ClaimResult{Err: errkind.ErrDrainingWorker}
	}

	for attempt := 0; attempt < 2; attempt++ {
		t, err := s.Get(id)
		if err != nil {
			return ClaimResult{Err: err}
		}
		if t == nil {
			return ClaimResult{Err: errkind.ErrNotFound}
		}
		if t.Status != config.TaskPending {
			if t.Status == config.TaskInProgress && t.Claim != nil && t.Claim.Worker != worker {
				return ClaimResult{Err: errkind.ErrClaimConflict}
			}
			if t.Status == config.TaskBlocked {
				return ClaimResult{Err: errkind.ErrBlockedDependency}
			}
			return ClaimResult{Err: errkind.ErrWrongStatus}
		}

		ready, reason, _ := Readiness(s, *t)
		if !ready {
			_ = reason
			return ClaimResult{Err: errkind.ErrBlockedDependency}
		}

		before := t.Version
		now := time.Now()
		t.Status = config.TaskInProgress
		t.Claim = &config.Claim{
			Token:          uuid.NewString(),
			Worker:         worker,
			AcquiredAt:     now,
			LeaseExpiresAt: now.Add(leaseDuration),
		}
		t.Version = before + 1

		ok, err := s.writeIfVersionUnchanged(id, before, t)
		if err != nil {
			return ClaimResult{Err: err}
		}
		if ok {
			return ClaimResult{OK: true, Task: t, ClaimToken: t.Claim.Token}
		}
		// Version changed underneath us: retry once
	}
	return ClaimResult{Err: errkind.ErrClaimConflict}
}

// Release voluntarily clears a claim and returns the task to pending. The
// supplied token must match the current claim.
func (s *Store) Release(id, claimToken string) (*config.Task, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errkind.ErrNotFound
	}
	if t.Claim == nil || t.Claim.Token != claimToken {
		return nil, errkind.ErrClaimConflict
	}

	before := t.Version
	t.Status = config.TaskPending
	t.Claim = nil
	t.Version = before + 1

	if _, err := s.writeIfVersionUnchangedRetry(id, before, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Transition moves an in_progress task to a terminal status (completed or
// failed). The supplied token must match the current claim.
func (s *Store) Transition(id, claimToken string, target config.TaskStatus, result, errMsg string) (*config.Task, error) {
	if target != config.TaskCompleted && target != config.TaskFailed {
		return nil, fmt.Errorf("transition: invalid terminal target %q", target)
	}

	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errkind.ErrNotFound
	}
	if t.Status != config.TaskInProgress {
		return nil, errkind.ErrWrongStatus
	}
	if t.Claim == nil || t.Claim.Token != claimToken {
		return nil, errkind.ErrClaimConflict
	}

	before := t.Version
	now := time.Now()
	t.Status = target
	t.Result = result
	t.Error = errMsg
	t.CompletedAt = &now
	t.Claim = nil
	t.Version = before + 1

	if _, err := s.writeIfVersionUnchangedRetry(id, before, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Patch is a general-purpose field update under optimistic concurrency.
// Any non-nil field is applied; status is unrestricted here for
// administrative correction.
type Patch struct {
	Subject     *string
	Description *string
	Status      *config.TaskStatus
	Owner       *string
	Result      *string
	Error       *string
	DependsOn   *[]string
}

// Update applies a Patch to a task, bumping Version. Every write bumps
// version regardless of which fields changed.
func (s *Store) Update(id string, p Patch) (*config.Task, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errkind.ErrNotFound
	}

	before := t.Version
	if p.Subject != nil {
		t.Subject = *p.Subject
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Owner != nil {
		t.Owner = *p.Owner
	}
	if p.Result != nil {
		t.Result = *p.Result
	}
	if p.Error != nil {
		t.Error = *p.Error
	}
	if p.DependsOn != nil {
		t.DependsOn = *p.DependsOn
	}
	t.Version = before + 1

	if _, err := s.writeIfVersionUnchangedRetry(id, before, t); err != nil {
		return nil, err
	}
	return t, nil
}

// writeIfVersionUnchanged writes t only if the on-disk version still
// matches before; returns ok=false (no error) on a lost race so callers can
// decide whether to retry.
func (s *Store) writeIfVersionUnchanged(id string, before int, t *config.Task) (bool, error) {
	current, err := s.Get(id)
	if err != nil {
		return false, err
	}
	if current == nil || current.Version != before {
		return false, nil
	}
	if err := atomicstore.WriteJSON(layout.Task(s.root, id), t); err != nil {
		return false, err
	}
	return true, nil
}

// writeIfVersionUnchangedRetry retries once on a lost race before
// surfacing errkind.ErrVersionConflict, per the one-retry-on-conflict rule
// for non-claim writers.
func (s *Store) writeIfVersionUnchangedRetry(id string, before int, t *config.Task) (bool, error) {
	ok, err := s.writeIfVersionUnchanged(id, before, t)
	if err != nil || ok {
		return ok, err
	}

	current, err := s.Get(id)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, errkind.ErrNotFound
	}
	before = current.Version
	t.Version = before + 1
	ok, err = s.writeIfVersionUnchanged(id, before, t)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errkind.ErrVersionConflict
	}
	return true, nil
}

// ReadinessResult is the outcome of Readiness.
type ReadinessResult struct {
	Ready        bool
	Reason       string
	Dependencies []string // unmet dependency ids, in depends_on order
}

// Readiness computes whether t is ready to claim: every id in
// t.DependsOn must resolve to a completed task. Pure function — does not
// mutate any task.
func Readiness(s *Store, t config.Task) (bool, string, []string) {
	if len(t.DependsOn) == 0 {
		return true, "", nil
	}
	var unmet []string
	for _, depID := range t.DependsOn {
		dep, err := s.Get(depID)
		if err != nil || dep == nil || dep.Status != config.TaskCompleted {
			unmet = append(unmet, depID)
		}
	}
	if len(unmet) > 0 {
		return false, "blocked_dependency", unmet
	}
	return true, "", nil
}

// SweepExpiredLeases rewrites expired in_progress tasks back to pending
// when their claim's lease has expired AND the claiming worker is observed
// dead. isDead reports worker liveness.
// Returns the ids of tasks that were reset.
func (s *Store) SweepExpiredLeases(isDead func(worker string) bool) ([]string, error) {
	tasks, err := s.List()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var reset []string
	for _, t := range tasks {
		if t.Status != config.TaskInProgress || t.Claim == nil {
			continue
		}
		if now.Before(t.Claim.LeaseExpiresAt) {
			continue
		}
		if !isDead(t.Claim.Worker) {
			continue
		}

		before := t.Version
		t.Status = config.TaskPending
		t.Claim = nil
		t.Version = before + 1
		if ok, err := s.writeIfVersionUnchanged(t.ID, before, &t); err != nil {
			return reset, err
		} else if ok {
			reset = append(reset, t.ID)
		}
	}
	return reset, nil
}
