package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/manifest"
)

func newTeam(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, manifest.Save(root, &config.Manifest{TeamName: "t1", CreatedAt: time.Now()}))
	return root
}

func TestSendAndList(t *testing.T) {
	root := newTeam(t)
	b := New(root)

	msg, err := b.Send("leader", "worker-0", "start on T1", config.PriorityNormal)
	require.NoError(t, err)
	require.NotEmpty(t, msg.MessageID)

	msgs, err := b.List("worker-0")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "start on T1", msgs[0].Body)
	require.Nil(t, msgs[0].DeliveredAt)
}

func TestBroadcastExcludesSender(t *testing.T) {
	root := newTeam(t)
	require.NoError(t, manifest.AddWorker(root, config.WorkerRef{Name: "worker-0"}))
	require.NoError(t, manifest.AddWorker(root, config.WorkerRef{Name: "worker-1"}))

	b := New(root)
	sent, err := b.Broadcast("worker-0", "status check", config.PriorityUrgent)
	require.NoError(t, err)
	require.Len(t, sent, 1)

	msgs, err := b.List("worker-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	own, err := b.List("worker-0")
	require.NoError(t, err)
	require.Empty(t, own)
}

func TestMarkDeliveredIsIdempotent(t *testing.T) {
	root := newTeam(t)
	b := New(root)

	msg, err := b.Send("leader", "worker-0", "hi", "")
	require.NoError(t, err)

	changed, err := b.MarkDelivered("worker-0", msg.MessageID)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = b.MarkDelivered("worker-0", msg.MessageID)
	require.NoError(t, err)
	require.False(t, changed, "second mark should be a no-op")

	msgs, err := b.List("worker-0")
	require.NoError(t, err)
	require.NotNil(t, msgs[0].DeliveredAt)
}

func TestUndeliveredFiltersDelivered(t *testing.T) {
	root := newTeam(t)
	b := New(root)

	m1, err := b.Send("leader", "worker-0", "one", "")
	require.NoError(t, err)
	_, err = b.Send("leader", "worker-0", "two", "")
	require.NoError(t, err)

	_, err = b.MarkDelivered("worker-0", m1.MessageID)
	require.NoError(t, err)

	pending, err := b.Undelivered("worker-0")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "two", pending[0].Body)
}

func TestAppendEventRoundTrip(t *testing.T) {
	root := newTeam(t)
	b := New(root)

	require.NoError(t, b.AppendEvent(config.Event{Type: config.EventWorkerIdle, Worker: "worker-0"}))
	require.NoError(t, b.AppendEvent(config.Event{Type: config.EventTaskCompleted, TaskID: "T1"}))

	events, err := b.ReadEvents()
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, config.EventWorkerIdle, events[0].Type)
	require.Equal(t, config.EventTaskCompleted, events[1].Type)
	require.NotEmpty(t, events[0].EventID)
}

func TestReadEventsMissingLogIsEmpty(t *testing.T) {
	root := newTeam(t)
	b := New(root)

	events, err := b.ReadEvents()
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestSendLogsMessageReceivedEvent(t *testing.T) {
	root := newTeam(t)
	b := New(root)

	_, err := b.Send("leader", "worker-0", "hi", "")
	require.NoError(t, err)

	events, err := b.ReadEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, config.EventMessageReceived, events[0].Type)
	require.Equal(t, "worker-0", events[0].Worker)
}
