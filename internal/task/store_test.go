package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/errkind"
	"github.com/oddlot-labs/foreman/internal/manifest"
)

func newTeam(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, manifest.Save(root, &config.Manifest{TeamName: "t1", CreatedAt: time.Now()}))
	return root
}

// TestBootstrapAndFirstClaim covers creating a task and claiming it.
func TestBootstrapAndFirstClaim(t *testing.T) {
	root := newTeam(t)
	s := New(root)

	t1, err := Create(root, CreateInput{Subject: "do A"})
	require.NoError(t, err)
	require.Equal(t, "T1", t1.ID)

	t2, err := Create(root, CreateInput{Subject: "do B"})
	require.NoError(t, err)
	require.Equal(t, "T2", t2.ID)

	m, err := manifest.Load(root)
	require.NoError(t, err)
	require.Equal(t, 3, m.NextTaskID)

	result := s.Claim(t1.ID, "worker-1", nil, 0)
	require.True(t, result.OK)
	require.Equal(t, config.TaskInProgress, result.Task.Status)
	require.Equal(t, "worker-1", result.Task.Claim.Worker)
	require.Equal(t, 2, result.Task.Version)

	conflict := s.Claim(t1.ID, "worker-2", nil, 0)
	require.False(t, conflict.OK)
	require.ErrorIs(t, conflict.Err, errkind.ErrClaimConflict)
}

// TestLeaseExpiry covers a claim lease expiring and becoming reclaimable.
func TestLeaseExpiry(t *testing.T) {
	root := newTeam(t)
	s := New(root)

	t1, err := Create(root, CreateInput{Subject: "do A"})
	require.NoError(t, err)

	result := s.Claim(t1.ID, "worker-1", nil, 50*time.Millisecond)
	require.True(t, result.OK)

	time.Sleep(100 * time.Millisecond)

	dead := func(w string) bool { return w == "worker-1" }
	reset, err := s.SweepExpiredLeases(dead)
	require.NoError(t, err)
	require.Equal(t, []string{t1.ID}, reset)

	after, err := s.Get(t1.ID)
	require.NoError(t, err)
	require.Equal(t, config.TaskPending, after.Status)
	require.Nil(t, after.Claim)
	require.Equal(t, 3, after.Version)

	claim2 := s.Claim(t1.ID, "worker-2", nil, 0)
	require.True(t, claim2.OK)
}

// TestDependencyReadiness covers a task blocked on an incomplete dependency.
func TestDependencyReadiness(t *testing.T) {
	root := newTeam(t)
	s := New(root)

	t1, err := Create(root, CreateInput{Subject: "A"})
	require.NoError(t, err)
	t2, err := Create(root, CreateInput{Subject: "B"})
	require.NoError(t, err)
	t3, err := Create(root, CreateInput{Subject: "C", DependsOn: []string{t1.ID, t2.ID}})
	require.NoError(t, err)

	ready, reason, deps := Readiness(s, *t3)
	require.False(t, ready)
	require.Equal(t, "blocked_dependency", reason)
	require.ElementsMatch(t, []string{t1.ID, t2.ID}, deps)

	claim1 := s.Claim(t1.ID, "worker-1", nil, 0)
	require.True(t, claim1.OK)
	_, err = s.Transition(t1.ID, claim1.ClaimToken, config.TaskCompleted, "done", "")
	require.NoError(t, err)

	t3reload, err := s.Get(t3.ID)
	require.NoError(t, err)
	ready, _, deps = Readiness(s, *t3reload)
	require.False(t, ready)
	require.Equal(t, []string{t2.ID}, deps)

	claim2 := s.Claim(t2.ID, "worker-1", nil, 0)
	require.True(t, claim2.OK)
	_, err = s.Transition(t2.ID, claim2.ClaimToken, config.TaskCompleted, "done", "")
	require.NoError(t, err)

	t3reload, err = s.Get(t3.ID)
	require.NoError(t, err)
	ready, _, _ = Readiness(s, *t3reload)
	require.True(t, ready)
}

func TestReleaseClaimRestoresPending(t *testing.T) {
	root := newTeam(t)
	s := New(root)

	t1, err := Create(root, CreateInput{Subject: "A"})
	require.NoError(t, err)

	claim := s.Claim(t1.ID, "worker-1", nil, 0)
	require.True(t, claim.OK)

	released, err := s.Release(t1.ID, claim.ClaimToken)
	require.NoError(t, err)
	require.Equal(t, config.TaskPending, released.Status)
	require.Nil(t, released.Claim)
}

func TestDrainingWorkerCannotClaim(t *testing.T) {
	root := newTeam(t)
	s := New(root)

	t1, err := Create(root, CreateInput{Subject: "A"})
	require.NoError(t, err)

	result := s.Claim(t1.ID, "worker-1", map[string]bool{"worker-1": true}, 0)
	require.False(t, result.OK)
	require.ErrorIs(t, result.Err, errkind.ErrDrainingWorker)
}

func TestTransitionRequiresMatchingClaimToken(t *testing.T) {
	root := newTeam(t)
	s := New(root)

	t1, err := Create(root, CreateInput{Subject: "A"})
	require.NoError(t, err)
	claim := s.Claim(t1.ID, "worker-1", nil, 0)
	require.True(t, claim.OK)

	_, err = s.Transition(t1.ID, "wrong-token", config.TaskCompleted, "", "")
	require.ErrorIs(t, err, errkind.ErrClaimConflict)
}

func TestUpdateBumpsVersionEveryWrite(t *testing.T) {
	root := newTeam(t)
	s := New(root)

	t1, err := Create(root, CreateInput{Subject: "A"})
	require.NoError(t, err)

	owner := "worker-7"
	updated, err := s.Update(t1.ID, Patch{Owner: &owner})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)
	require.Equal(t, "worker-7", updated.Owner)
}
