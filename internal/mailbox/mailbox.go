// Package mailbox implements direct/broadcast messaging with delivery and
// notification marks, plus the append-only event log.
// Each worker's mailbox is a single JSON array file, read-modify-written
// atomically — an append-with-compaction store using one file per
// recipient rather than one file per message.
package mailbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/oddlot-labs/foreman/internal/atomicstore"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/layout"
	"github.com/oddlot-labs/foreman/internal/manifest"
)

// Box operates on the mailboxes and event log of a single team.
type Box struct {
	root string
}

// New returns a mailbox Box rooted at the given team state root.
func New(root string) *Box {
	return &Box{root: root}
}

func (b *Box) readAll(worker string) ([]config.Message, error) {
	var msgs []config.Message
	ok, err := atomicstore.ReadJSON(layout.Mailbox(b.root, worker), &msgs, "mailbox")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return msgs, nil
}

func (b *Box) writeAll(worker string, msgs []config.Message) error {
	return atomicstore.WriteJSON(layout.Mailbox(b.root, worker), msgs)
}

// Send appends a direct message to the recipient's mailbox and logs a
// message_received event.
func (b *Box) Send(from, to, body string, priority config.Priority) (*config.Message, error) {
	msg := config.Message{
		MessageID: uuid.NewString(),
		From:      from,
		To:        to,
		Body:      body,
		Priority:  priority,
		CreatedAt: time.Now(),
	}

	msgs, err := b.readAll(to)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, msg)
	if err := b.writeAll(to, msgs); err != nil {
		return nil, err
	}

	if err := b.AppendEvent(config.Event{
		Type:      config.EventMessageReceived,
		Worker:    to,
		MessageID: msg.MessageID,
	}); err != nil {
		return &msg, err
	}
	return &msg, nil
}

// Broadcast fans a message out to every worker in the manifest except the
// sender, each recipient getting a distinct message id.
func (b *Box) Broadcast(from, body string, priority config.Priority) ([]config.Message, error) {
	m, err := manifest.Load(b.root)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("broadcast: team manifest not found")
	}

	var sent []config.Message
	for _, w := range m.Workers {
		if w.Name == from {
			continue
		}
		msg, err := b.Send(from, w.Name, body, priority)
		if err != nil {
			return sent, err
		}
		sent = append(sent, *msg)
	}
	return sent, nil
}

// List returns the full mailbox array for a worker.
func (b *Box) List(worker string) ([]config.Message, error) {
	return b.readAll(worker)
}

// MarkDelivered sets delivered_at on a message id, idempotently. Returns
// whether a change occurred.
func (b *Box) MarkDelivered(worker, messageID string) (bool, error) {
	return b.markTimestamp(worker, messageID, func(m *config.Message) *bool {
		if m.DeliveredAt != nil {
			return nil
		}
		now := time.Now()
		m.DeliveredAt = &now
		changed := true
		return &changed
	})
}

// MarkNotified sets notified_at on a message id, idempotently.
func (b *Box) MarkNotified(worker, messageID string) (bool, error) {
	return b.markTimestamp(worker, messageID, func(m *config.Message) *bool {
		if m.NotifiedAt != nil {
			return nil
		}
		now := time.Now()
		m.NotifiedAt = &now
		changed := true
		return &changed
	})
}

func (b *Box) markTimestamp(worker, messageID string, apply func(*config.Message) *bool) (bool, error) {
	msgs, err := b.readAll(worker)
	if err != nil {
		return false, err
	}
	changed := false
	for i := range msgs {
		if msgs[i].MessageID != messageID {
			continue
		}
		if res := apply(&msgs[i]); res != nil {
			changed = *res
		}
		break
	}
	if !changed {
		return false, nil
	}
	if err := b.writeAll(worker, msgs); err != nil {
		return false, err
	}
	return true, nil
}

// Undelivered returns messages for worker that have not yet been marked
// delivered — the set that still needs a notify/trigger.
func (b *Box) Undelivered(worker string) ([]config.Message, error) {
	msgs, err := b.readAll(worker)
	if err != nil {
		return nil, err
	}
	var out []config.Message
	for _, m := range msgs {
		if m.DeliveredAt == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// AppendEvent appends one NDJSON record to the team's event log. The log
// is append-only: consumers read forward and no reader blocks a writer
//. Appends use O_APPEND so writers never need the rename
// dance used for whole-file entities.
func (b *Box) AppendEvent(e config.Event) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	path := layout.Events(b.root)
	if err := atomicstore.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// ReadEvents reads every event in the log, in append order.
func (b *Box) ReadEvents() ([]config.Event, error) {
	f, err := os.Open(layout.Events(b.root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	var events []config.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e config.Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue // malformed line: skip, never fatal for an append-only log
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("reading event log: %w", err)
	}
	return events, nil
}
