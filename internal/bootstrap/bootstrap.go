// Package bootstrap implements the worker bootstrap procedure: the seven
// ordered steps that bring one new worker online, whether at team start or
// at scale-up time.
package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/oddlot-labs/foreman/internal/atomicstore"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/errkind"
	"github.com/oddlot-labs/foreman/internal/heartbeat"
	"github.com/oddlot-labs/foreman/internal/layout"
	"github.com/oddlot-labs/foreman/internal/manifest"
	"github.com/oddlot-labs/foreman/internal/spawner"
	"github.com/oddlot-labs/foreman/internal/transport"
)

// Request describes one worker to bring online.
type Request struct {
	AgentType   string
	TaskRefs    []TaskRef // subject + id references only step 5
	ShellRC     string
	ModelEnv    string
	LeaderFlags []string
	EnvOverlay  map[string]string
	WorkDir     string
	ReadyTimeout time.Duration
}

// TaskRef is a lightweight subject+id reference written into inbox.md.
type TaskRef struct {
	ID      string
	Subject string
}

// Result is the outcome of bootstrapping one worker.
type Result struct {
	Name    string
	Index   int
	Address string
}

// Bootstrapper wires path layout, the atomic store, the manifest, the
// transport session and a spawner together to bring workers online.
type Bootstrapper struct {
	root      string
	transport transport.Transport
	sessionHandle string
	hb        *heartbeat.Monitor
}

// New returns a Bootstrapper for a team whose transport session is already
// created.
func New(root string, tr transport.Transport, sessionHandle string) *Bootstrapper {
	return &Bootstrapper{root: root, transport: tr, sessionHandle: sessionHandle, hb: heartbeat.New(root)}
}

// Bootstrap runs the seven ordered steps for one new worker.
func (b *Bootstrapper) Bootstrap(req Request) (*Result, error) {
	sp, err := spawner.For(req.AgentType)
	if err != nil {
		return nil, err
	}

	// Step 1: allocate name/index, append to workers[] (atomic manifest write).
	index, err := manifest.NextWorkerIndex(b.root)
	if err != nil {
		return nil, fmt.Errorf("allocating worker index: %w", err)
	}
	name := fmt.Sprintf("worker-%d", index)
	ref := config.WorkerRef{Name: name, Index: index, Role: req.AgentType}
	if err := manifest.AddWorker(b.root, ref); err != nil {
		return nil, fmt.Errorf("registering worker in manifest: %w", err)
	}

	// Step 2: create worker directory and identity.json.
	if err := atomicstore.EnsureDir(layout.WorkerDir(b.root, name)); err != nil {
		return nil, err
	}
	identity := config.WorkerIdentity{Name: name, Index: index, Role: req.AgentType}
	if err := atomicstore.WriteJSON(layout.Identity(b.root, name), identity); err != nil {
		return nil, fmt.Errorf("writing identity: %w", err)
	}

	// Step 3: add a transport slot; record its address on the identity and
	// on the worker's manifest workers[] entry.
	cfg := spawner.Config{
		Team:        teamNameFromRoot(b.root),
		WorkerIndex: index,
		AgentType:   req.AgentType,
		ShellRC:     req.ShellRC,
		ModelEnv:    req.ModelEnv,
		LeaderFlags: req.LeaderFlags,
		EnvOverlay:  req.EnvOverlay,
	}
	command, err := sp.BuildCommand(cfg)
	if err != nil {
		return nil, fmt.Errorf("building spawn command: %w", err)
	}
	address, err := b.transport.AddSlot(b.sessionHandle, transport.SlotSpec{WorkDir: req.WorkDir, Command: command})
	if err != nil {
		return nil, fmt.Errorf("adding transport slot: %w", err)
	}
	identity.Address = address
	if err := atomicstore.WriteJSON(layout.Identity(b.root, name), identity); err != nil {
		return nil, fmt.Errorf("recording slot address: %w", err)
	}
	m, err := manifest.Load(b.root)
	if err != nil || m == nil {
		return nil, fmt.Errorf("recording slot address in manifest: %v", err)
	}
	for i := range m.Workers {
		if m.Workers[i].Name == name {
			m.Workers[i].Address = address
		}
	}
	if err := manifest.Save(b.root, m); err != nil {
		return nil, fmt.Errorf("recording slot address in manifest: %w", err)
	}
	b.watchActivity(name, address)

	// Step 4: write initial heartbeat (alive=true, turn_count=0) and status (idle).
	if err := b.hb.InitialHeartbeat(name, pidFromProcessAddress(address)); err != nil {
		return nil, fmt.Errorf("writing initial heartbeat: %w", err)
	}
	if err := b.hb.SetStatus(name, config.WorkerStatus{State: config.WorkerIdle}); err != nil {
		return nil, fmt.Errorf("writing initial status: %w", err)
	}

	// Step 5: write inbox.md.
	if err := writeInbox(b.root, name, req.TaskRefs); err != nil {
		return nil, fmt.Errorf("writing inbox: %w", err)
	}

	// Step 6: readiness wait.
	timeout := req.ReadyTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ready := b.waitForReady(sp, address, timeout)
	if !ready {
		_ = b.hb.SetStatus(name, config.WorkerStatus{State: config.WorkerFailed, Reason: "ready_timeout"})
		return &Result{Name: name, Index: index, Address: address}, errkind.ErrReadyTimeout
	}

	// Step 7: trigger control sequence (carriage return + Enter) to nudge the
	// CLI into consuming its inbox.
	if err := b.transport.SendText(address, "\r"); err != nil {
		return nil, fmt.Errorf("sending trigger sequence: %w", err)
	}

	return &Result{Name: name, Index: index, Address: address}, nil
}

// watchActivity starts the per-worker consumer of the transport's activity
// channel: one channel per worker carrying observed stdout/stderr events
// into the heartbeat updater. A nil channel (multiplexed transport, which
// has no streaming notification) is a no-op — those workers rely on
// IsObservedDead's slot-presence and pid checks instead.
func (b *Bootstrapper) watchActivity(name, address string) {
	ch := b.transport.Activity(address)
	if ch == nil {
		return
	}
	go func() {
		for range ch {
			_ = b.hb.RecordTurn(name)
		}
		_ = b.hb.MarkDead(name)
	}()
}

func (b *Bootstrapper) waitForReady(sp spawner.Spawner, address string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		capture, err := b.transport.Capture(address)
		if err == nil && sp.IsReady(capture) {
			return true
		}
		time.Sleep(250 * time.Millisecond)
	}
	return false
}

// instructionsOverlay is the standing worker-agent guidance written into
// every inbox.md, ahead of the worker's own task list.
const instructionsOverlay = `## Instructions

You are one worker in a multi-agent team. Work the tasks assigned to you
below in order. Report progress and blockers through the status channel
your harness already watches; do not wait on other workers unless a task
says to. When your assigned tasks are done, go idle rather than inventing
new work.
`

func writeInbox(root, name string, refs []TaskRef) error {
	if err := atomicstore.EnsureDir(layout.WorkerDir(root, name)); err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString("# Inbox\n\n")
	sb.WriteString(instructionsOverlay)
	sb.WriteString("\n## Assigned tasks\n\n")
	if len(refs) == 0 {
		sb.WriteString("(none yet)\n")
	}
	for _, r := range refs {
		fmt.Fprintf(&sb, "- %s: %s\n", r.ID, r.Subject)
	}
	return atomicstore.WriteText(layout.Inbox(root, name), sb.String())
}

// pidFromProcessAddress extracts the pid from a "proc:<pid>" address
// (process transport); returns 0 for multiplexed pane addresses, which
// carry no pid of their own.
func pidFromProcessAddress(address string) int {
	if !strings.HasPrefix(address, "proc:") {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(address, "proc:%d", &pid); err != nil {
		return 0
	}
	return pid
}

func teamNameFromRoot(root string) string {
	parts := strings.Split(strings.TrimRight(root, "/"), "/")
	if len(parts) == 0 {
		return root
	}
	return parts[len(parts)-1]
}
