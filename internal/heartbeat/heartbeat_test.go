package heartbeat

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddlot-labs/foreman/internal/atomicstore"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/layout"
)

func TestInitialHeartbeatAndRecordTurn(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	require.NoError(t, m.InitialHeartbeat("worker-0", os.Getpid()))

	hb, err := m.Get("worker-0")
	require.NoError(t, err)
	require.True(t, hb.Alive)
	require.Equal(t, 0, hb.TurnCount)

	require.NoError(t, m.RecordTurn("worker-0"))
	hb, err = m.Get("worker-0")
	require.NoError(t, err)
	require.Equal(t, 1, hb.TurnCount)
}

func TestMarkDeadPreservesRecord(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.InitialHeartbeat("worker-0", os.Getpid()))

	require.NoError(t, m.MarkDead("worker-0"))
	hb, err := m.Get("worker-0")
	require.NoError(t, err)
	require.False(t, hb.Alive)
	require.Equal(t, os.Getpid(), hb.PID)
}

func TestIsObservedDeadByMissingPID(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.InitialHeartbeat("worker-0", 999999999))

	dead, err := m.IsObservedDead("worker-0", "%2", time.Hour, []string{"%2"})
	require.NoError(t, err)
	require.True(t, dead)
}

func TestIsObservedDeadBySlotAbsence(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.InitialHeartbeat("worker-0", os.Getpid()))

	dead, err := m.IsObservedDead("worker-0", "%2", time.Hour, []string{"%3"})
	require.NoError(t, err)
	require.True(t, dead)
}

func TestIsObservedDeadFalseWhenLive(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, m.InitialHeartbeat("worker-0", os.Getpid()))

	dead, err := m.IsObservedDead("worker-0", "%2", time.Hour, []string{"%2"})
	require.NoError(t, err)
	require.False(t, dead)
}

func TestShutdownRendezvousStaleAckIgnored(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	require.NoError(t, atomicstore.WriteJSON(layout.ShutdownAck(root, "worker-0"), config.ShutdownAck{
		Status:    config.AckAccept,
		UpdatedAt: time.Unix(50, 0),
	}))

	reqAt, err := m.RequestShutdown("worker-0", "leader")
	require.NoError(t, err)
	_ = reqAt

	ack, err := m.ReadAckWithMin("worker-0", time.Unix(100, 0))
	require.NoError(t, err)
	require.Nil(t, ack, "ack older than request time must be treated as stale")

	require.NoError(t, m.WriteAck("worker-0", config.AckAccept, ""))
	ack, err = m.ReadAckWithMin("worker-0", time.Unix(100, 0))
	require.NoError(t, err)
	require.NotNil(t, ack)
	require.Equal(t, config.AckAccept, ack.Status)
}
