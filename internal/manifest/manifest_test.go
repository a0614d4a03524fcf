package manifest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddlot-labs/foreman/internal/config"
)

func newTeam(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, Save(root, &config.Manifest{
		TeamName:  "t1",
		CreatedAt: time.Now(),
	}))
	return root
}

func TestNextTaskIDMonotone(t *testing.T) {
	root := newTeam(t)

	id1, err := NextTaskID(root)
	require.NoError(t, err)
	require.Equal(t, "T1", id1)

	id2, err := NextTaskID(root)
	require.NoError(t, err)
	require.Equal(t, "T2", id2)

	m, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, 3, m.NextTaskID)
}

func TestNextWorkerIndexNeverReused(t *testing.T) {
	root := newTeam(t)

	idx1, err := NextWorkerIndex(root)
	require.NoError(t, err)
	require.Equal(t, 0, idx1)

	require.NoError(t, AddWorker(root, config.WorkerRef{Name: "worker-0", Index: idx1}))
	require.NoError(t, RemoveWorker(root, "worker-0"))

	idx2, err := NextWorkerIndex(root)
	require.NoError(t, err)
	require.Equal(t, 1, idx2, "index must not be reused after remove")
}

func TestAddWorkerRejectsDuplicateName(t *testing.T) {
	root := newTeam(t)
	require.NoError(t, AddWorker(root, config.WorkerRef{Name: "worker-0", Index: 0}))
	err := AddWorker(root, config.WorkerRef{Name: "worker-0", Index: 1})
	require.Error(t, err)
}

func TestDrainingWorkersTracking(t *testing.T) {
	root := newTeam(t)
	require.NoError(t, SetDraining(root, "worker-3"))

	m, err := Load(root)
	require.NoError(t, err)
	require.True(t, IsDraining(m, "worker-3"))

	require.NoError(t, ClearDraining(root, "worker-3"))
	m, err = Load(root)
	require.NoError(t, err)
	require.False(t, IsDraining(m, "worker-3"))
}

func TestListTaskIDsEmptyDir(t *testing.T) {
	root := newTeam(t)
	ids, err := ListTaskIDs(root)
	require.NoError(t, err)
	require.Empty(t, ids)
	_ = filepath.Join(root, "tasks")
}
