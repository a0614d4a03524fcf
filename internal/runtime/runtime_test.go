package runtime

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/errkind"
	"github.com/oddlot-labs/foreman/internal/heartbeat"
	"github.com/oddlot-labs/foreman/internal/layout"
	"github.com/oddlot-labs/foreman/internal/manifest"
	"github.com/oddlot-labs/foreman/internal/transport"
)

// fakeTransport is a minimal in-memory Transport double, ready-shaped by
// default, for runtime tests that don't need real tmux/process machinery.
type fakeTransport struct {
	nextAddr int
	slots    []string
	sent     []string
	killed   []string
	destroyed bool
}

func (f *fakeTransport) CreateSession(name string) (string, error) { return name, nil }

func (f *fakeTransport) AddSlot(handle string, spec transport.SlotSpec) (string, error) {
	f.nextAddr++
	addr := "%" + string(rune('0'+f.nextAddr))
	f.slots = append(f.slots, addr)
	return addr, nil
}

func (f *fakeTransport) SendText(address, text string) error {
	f.sent = append(f.sent, address+":"+text)
	return nil
}

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

func (f *fakeTransport) DestroySession(handle string) error { f.destroyed = true; return nil }

func testEnv() config.Env {
	e := config.DefaultEnv()
	e.LeaderNudge = time.Hour
	e.ReadyTimeout = 50 * time.Millisecond
	return e
}

func TestStartTeamBootstrapsWorkersAndTasks(t *testing.T) {
	root := t.TempDir()
	ft := &fakeTransport{}

	rt, err := StartTeam(root, ft, testEnv(), StartInput{
		TeamName:    "t1",
		WorkerCount: 2,
		AgentTypes:  []string{"claude", "codex"},
		Tasks:       []TaskInput{{Subject: "do A"}, {Subject: "do B"}},
		Leader:      config.LeaderIdentity{SessionID: "s1"},
	})
	require.NoError(t, err)
	require.NotNil(t, rt)

	m, err := manifest.Load(root)
	require.NoError(t, err)
	require.Len(t, m.Workers, 2)
	require.Equal(t, "worker-0", m.Workers[0].Name)
	require.Equal(t, "worker-1", m.Workers[1].Name)

	snapshot, err := rt.Tick()
	require.NoError(t, err)
	require.Equal(t, 2, snapshot.Counts.Pending)

	inbox, err := os.ReadFile(layout.Inbox(root, "worker-0"))
	require.NoError(t, err)
	require.Contains(t, string(inbox), "do A")
	require.Contains(t, string(inbox), "do B")
}

func TestTickWithNoTasksStaysAtStartPhase(t *testing.T) {
	root := t.TempDir()
	ft := &fakeTransport{}
	require.NoError(t, manifest.Save(root, &config.Manifest{TeamName: "t1", CreatedAt: time.Now()}))
	rt := New(root, ft, testEnv())

	snapshot, err := rt.Tick()
	require.NoError(t, err)
	require.Equal(t, config.PhaseStart, snapshot.Phase)
}

func TestShutdownTeamGracefulKillsLiveSlotsAndDestroysSession(t *testing.T) {
	root := t.TempDir()
	ft := &fakeTransport{}
	rt, err := StartTeam(root, ft, testEnv(), StartInput{
		TeamName:    "t1",
		WorkerCount: 1,
		AgentTypes:  []string{"claude"},
	})
	require.NoError(t, err)

	hbm := heartbeat.New(root)
	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = hbm.WriteAck("worker-0", config.AckAccept, "")
	}()

	err = rt.ShutdownTeam(ShutdownInput{GraceBudget: 200 * time.Millisecond, RequestedBy: "leader"})
	require.NoError(t, err)
	require.Equal(t, []string{"%1"}, ft.killed)
	require.True(t, ft.destroyed)
}

// The graceful termination gate is the default for every team, not
// something a team has to opt into via Policy.CleanupRequiresAllInactive —
// that flag only affects whether the forced cleanup command also checks
// it. A zero-value Policy must still block shutdown of a working worker.
func TestShutdownTeamGateBlocksOnActiveWorkerByDefault(t *testing.T) {
	root := t.TempDir()
	ft := &fakeTransport{}
	require.NoError(t, manifest.Save(root, &config.Manifest{
		TeamName:  "t1",
		Workers:   []config.WorkerRef{{Name: "worker-0", Index: 0}},
		CreatedAt: time.Now(),
	}))
	hbm := heartbeat.New(root)
	require.NoError(t, hbm.SetStatus("worker-0", config.WorkerStatus{State: config.WorkerWorking}))

	rt := New(root, ft, testEnv())
	err := rt.ShutdownTeam(ShutdownInput{RequestedBy: "leader"})
	require.Error(t, err)
	require.ErrorIs(t, err, errkind.ErrShutdownGateBlocked)
}

// ShutdownForced bypasses the gate entirely, even with an active worker.
func TestShutdownTeamForcedBypassesGate(t *testing.T) {
	root := t.TempDir()
	ft := &fakeTransport{}
	require.NoError(t, manifest.Save(root, &config.Manifest{
		TeamName:  "t1",
		Workers:   []config.WorkerRef{{Name: "worker-0", Index: 0}},
		CreatedAt: time.Now(),
	}))
	hbm := heartbeat.New(root)
	require.NoError(t, hbm.SetStatus("worker-0", config.WorkerStatus{State: config.WorkerWorking}))

	rt := New(root, ft, testEnv())
	err := rt.ShutdownTeam(ShutdownInput{Mode: ShutdownForced, RequestedBy: "leader"})
	require.NoError(t, err)
}
