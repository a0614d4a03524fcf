// Package layout gives every component the canonical on-disk paths for a
// team's state root. No package outside layout
// should hand-assemble these paths.
package layout

import (
	"fmt"
	"path/filepath"
)

// SchemaVersion is the current team manifest schema version.
const SchemaVersion = 2

// Root returns the state root for a team given the project-local base
// directory (e.g. "<project>/state") and team name.
func Root(base, team string) string {
	return filepath.Join(base, "team", team)
}

// Manifest returns the path to the team manifest.
func Manifest(root string) string {
	return filepath.Join(root, fmt.Sprintf("manifest.v%d.json", SchemaVersion))
}

// TasksDir returns the directory holding per-task JSON files.
func TasksDir(root string) string {
	return filepath.Join(root, "tasks")
}

// Task returns the path to a single task's JSON file.
func Task(root, id string) string {
	return filepath.Join(TasksDir(root), id+".json")
}

// WorkerDir returns a worker's private directory.
func WorkerDir(root, name string) string {
	return filepath.Join(root, "workers", name)
}

// Identity returns the path to a worker's identity file.
func Identity(root, name string) string {
	return filepath.Join(WorkerDir(root, name), "identity.json")
}

// Heartbeat returns the path to a worker's heartbeat file.
func Heartbeat(root, name string) string {
	return filepath.Join(WorkerDir(root, name), "heartbeat.json")
}

// Status returns the path to a worker's status file.
func Status(root, name string) string {
	return filepath.Join(WorkerDir(root, name), "status.json")
}

// Inbox returns the path to a worker's inbox markdown file.
func Inbox(root, name string) string {
	return filepath.Join(WorkerDir(root, name), "inbox.md")
}

// ShutdownRequest returns the path to a worker's shutdown request file.
func ShutdownRequest(root, name string) string {
	return filepath.Join(WorkerDir(root, name), "shutdown-request.json")
}

// ShutdownAck returns the path to a worker's shutdown ack file.
// Same path convention as the request: acks overwrite in place.
func ShutdownAck(root, name string) string {
	return filepath.Join(WorkerDir(root, name), "shutdown-ack.json")
}

// MailboxDir returns the directory holding per-worker mailbox files.
func MailboxDir(root string) string {
	return filepath.Join(root, "mailbox")
}

// Mailbox returns the path to a single worker's mailbox file.
func Mailbox(root, name string) string {
	return filepath.Join(MailboxDir(root), name+".json")
}

// Events returns the path to the append-only event log.
func Events(root string) string {
	return filepath.Join(root, "events.ndjson")
}

// ApprovalsDir returns the directory holding per-task approval decisions.
func ApprovalsDir(root string) string {
	return filepath.Join(root, "approvals")
}

// Approval returns the path to a single task's approval decision file.
func Approval(root, taskID string) string {
	return filepath.Join(ApprovalsDir(root), taskID+".json")
}

// MonitorSnapshot returns the path to the most recent reconciled monitor view.
func MonitorSnapshot(root string) string {
	return filepath.Join(root, "monitor.snapshot.json")
}

// ScalingHistory returns the path to the FIFO-evicted scaling event log.
func ScalingHistory(root string) string {
	return filepath.Join(root, "scaling-history.json")
}

// ScalingLock returns the path to the scaling advisory lock file.
func ScalingLock(root string) string {
	return filepath.Join(root, "scaling.lock")
}

// ManifestLock returns the path to the advisory lock serializing manifest
// counter increments (next_task_id, next_worker_index)
// "read, incremented, and written in a single atomic rewrite" guarantee.
func ManifestLock(root string) string {
	return filepath.Join(root, "manifest.lock")
}

// ConfigOverlay returns the path to the optional TOML policy overlay.
// Callers tolerate its absence.
func ConfigOverlay(root string) string {
	return filepath.Join(root, "foreman.toml")
}
