package scaling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/heartbeat"
	"github.com/oddlot-labs/foreman/internal/manifest"
	"github.com/oddlot-labs/foreman/internal/transport"
)

type fakeTransport struct {
	nextAddr int
	slots    []string
	killed   []string
}

func (f *fakeTransport) CreateSession(name string) (string, error) { return name, nil }

func (f *fakeTransport) AddSlot(handle string, spec transport.SlotSpec) (string, error) {
	f.nextAddr++
	addr := "%" + string(rune('0'+f.nextAddr))
	f.slots = append(f.slots, addr)
	return addr, nil
}

func (f *fakeTransport) SendText(address, text string) error { return nil }

func (f *fakeTransport) Capture(address string) (string, error) { return "> ", nil }

func (f *fakeTransport) Activity(address string) <-chan struct{} { return nil }

func (f *fakeTransport) KillSlot(address string, grace time.Duration) error {
	f.killed = append(f.killed, address)
	var out []string
	for _, s := range f.slots {
		if s != address {
			out = append(out, s)
		}
	}
	f.slots = out
	return nil
}

func (f *fakeTransport) ListSlots(handle string) ([]string, error) { return f.slots, nil }

func (f *fakeTransport) DestroySession(handle string) error { return nil }

func TestRecommendScaleUpWhenPendingRatioExceedsThreshold(t *testing.T) {
	snap := config.ResourceSnapshot{ActiveWorkers: 2, PendingTasks: 10}
	policy := config.ScalingPolicy{ScaleUpThreshold: 3.0}

	rec := Recommend(snap, policy, false, nil)
	require.Equal(t, config.ScaleUpAction, rec.Action)
	require.GreaterOrEqual(t, rec.Count, 1)
}

func TestRecommendScaleDownRequiresIdleTimeoutElapsed(t *testing.T) {
	snap := config.ResourceSnapshot{ActiveWorkers: 4, IdleWorkers: 3}
	policy := config.ScalingPolicy{ScaleDownThreshold: 0.5}

	rec := Recommend(snap, policy, false, nil)
	require.Equal(t, config.RecommendationAction, rec.Action)

	rec = Recommend(snap, policy, true, nil)
	require.Equal(t, config.ScaleDownAction, rec.Action)
}

func TestRecommendHighConfidenceAfterThreeConsecutive(t *testing.T) {
	snap := config.ResourceSnapshot{ActiveWorkers: 2, PendingTasks: 10}
	policy := config.ScalingPolicy{ScaleUpThreshold: 3.0}

	rec := Recommend(snap, policy, false, []config.ScalingAction{config.ScaleUpAction, config.ScaleUpAction})
	require.True(t, rec.HighConfidence)
}

func TestSelectScaleDownCandidatesPrefersHighestIndexIdle(t *testing.T) {
	root := t.TempDir()
	m := &config.Manifest{
		Workers: []config.WorkerRef{
			{Name: "worker-0", Index: 0},
			{Name: "worker-1", Index: 1},
			{Name: "worker-2", Index: 2},
		},
		Scaling: config.ScalingPolicy{MinWorkers: 1},
	}
	hbm := heartbeat.New(root)
	require.NoError(t, hbm.SetStatus("worker-0", config.WorkerStatus{State: config.WorkerIdle}))
	require.NoError(t, hbm.SetStatus("worker-1", config.WorkerStatus{State: config.WorkerWorking}))
	require.NoError(t, hbm.SetStatus("worker-2", config.WorkerStatus{State: config.WorkerIdle}))

	selected, err := SelectScaleDownCandidates(m, hbm, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"worker-2"}, selected)
}

func TestScaleDownDrainsRequestsShutdownAndKillsLiveSlot(t *testing.T) {
	root := t.TempDir()
	ft := &fakeTransport{slots: []string{"%1", "%2"}}
	require.NoError(t, manifest.Save(root, &config.Manifest{
		TeamName:        "t1",
		TransportHandle: "t1",
		Workers: []config.WorkerRef{
			{Name: "worker-0", Index: 0, Address: "%1"},
			{Name: "worker-1", Index: 1, Address: "%2"},
		},
		Scaling: config.ScalingPolicy{MinWorkers: 1},
	}))
	hbm := heartbeat.New(root)
	require.NoError(t, hbm.SetStatus("worker-1", config.WorkerStatus{State: config.WorkerIdle}))

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = hbm.WriteAck("worker-1", config.AckAccept, "")
	}()

	stopped, err := ScaleDown(root, ft, "t1", "leader", ScaleDownInput{Count: 1, DrainTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, []string{"worker-1"}, stopped)
	require.Contains(t, ft.killed, "%2")

	m, err := manifest.Load(root)
	require.NoError(t, err)
	require.Len(t, m.Workers, 1)
	require.Equal(t, "worker-0", m.Workers[0].Name)
}

func TestScaleUpRejectsWhenExceedingMaxWorkers(t *testing.T) {
	root := t.TempDir()
	ft := &fakeTransport{}
	require.NoError(t, manifest.Save(root, &config.Manifest{
		TeamName:          "t1",
		ActiveWorkerCount: 3,
		Scaling:           config.ScalingPolicy{MaxWorkers: 3},
	}))

	_, err := ScaleUp(root, ft, "t1", config.ResourceSnapshot{}, ScaleUpInput{Count: 1, AgentType: "claude"})
	require.Error(t, err)
}

func TestAppendHistoryEvictsOldestPast100Entries(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 105; i++ {
		require.NoError(t, appendHistory(root, config.ScalingEvent{Action: config.ScaleUpAction}))
	}
	events, err := LoadHistory(root)
	require.NoError(t, err)
	require.Len(t, events, historyCap)
}
