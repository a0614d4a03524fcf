// Package runtime implements start/monitor/shutdown for a team: composing
// transport and spawner to materialize workers, reconciling observed state
// into a phase every tick, and tearing teams down gracefully or by force.
package runtime

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oddlot-labs/foreman/internal/atomicstore"
	"github.com/oddlot-labs/foreman/internal/bootstrap"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/errkind"
	"github.com/oddlot-labs/foreman/internal/heartbeat"
	"github.com/oddlot-labs/foreman/internal/layout"
	"github.com/oddlot-labs/foreman/internal/mailbox"
	"github.com/oddlot-labs/foreman/internal/manifest"
	"github.com/oddlot-labs/foreman/internal/scaling"
	"github.com/oddlot-labs/foreman/internal/task"
	"github.com/oddlot-labs/foreman/internal/transport"
)

// Runtime owns the lifecycle of one team's state root, transport session,
// and reconciliation loop. env's LeaderNudge value doubles as both the
// leader-nudge cooldown and the inactivity ceiling for observed-dead
// detection (only one configured interval covers both).
type Runtime struct {
	root      string
	transport transport.Transport
	env       config.Env
	hb        *heartbeat.Monitor
	mb        *mailbox.Box
	tasks     *task.Store

	lastLeaderNudge time.Time
}

// StartInput mirrors the stdin JSON start contract.
type StartInput struct {
	TeamName    string
	WorkerCount int
	AgentTypes  []string
	Tasks       []TaskInput
	CWD         string
	Leader      config.LeaderIdentity
}

// TaskInput is one entry of the initial task set.
type TaskInput struct {
	Subject     string
	Description string
}

// New wires a Runtime around an already-created team and transport
// session (use StartTeam to create a new one).
func New(root string, tr transport.Transport, env config.Env) *Runtime {
	return &Runtime{
		root:      root,
		transport: tr,
		env:       env,
		hb:        heartbeat.New(root),
		mb:        mailbox.New(root),
		tasks:     task.New(root),
	}
}

// scalingPolicyFromEnv seeds a team's scaling policy from the resolved
// environment at creation time, so that scale-up/scale-down decisions have
// real thresholds instead of Go zero values.
func scalingPolicyFromEnv(env config.Env) config.ScalingPolicy {
	return config.ScalingPolicy{
		AutoApply:          env.AutoScale,
		MaxWorkers:         env.ScaleMaxWorkers,
		MinWorkers:         env.ScaleMinWorkers,
		ScaleUpThreshold:   env.ScaleUpThresh,
		ScaleDownThreshold: env.ScaleDownThresh,
		IdleTimeoutMs:      env.ScaleIdleTO.Milliseconds(),
		CooldownMs:         env.ScaleCooldown.Milliseconds(),
		PerWorkerMemMB:     env.ScalePerWorker,
		DrainTimeoutMs:     env.DrainTimeout.Milliseconds(),
	}
}

// StartTeam initializes the manifest, creates the transport session,
// creates the initial task set, and then bootstraps workers sequentially. On
// any failure after the session is created but before bootstraps complete,
// the session is destroyed and the state root is removed; a worker that only
// misses its readiness deadline is marked failed and does not abort the
// start.
func StartTeam(root string, tr transport.Transport, env config.Env, in StartInput) (*Runtime, error) {
	m := &config.Manifest{
		TeamName:           in.TeamName,
		Leader:             in.Leader,
		InitialWorkerCount: in.WorkerCount,
		CreatedAt:          time.Now(),
		Scaling:            scalingPolicyFromEnv(env),
		ResourceLimits:     config.ResourceLimits{MaxCPUPercent: env.ScaleMaxCPU, MinFreeMemMB: env.ScaleMinFreeMem},
	}
	if err := manifest.Save(root, m); err != nil {
		return nil, fmt.Errorf("%w: writing initial manifest: %v", errkind.ErrIO, err)
	}

	handle, err := tr.CreateSession(in.TeamName)
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("%w: creating transport session: %v", errkind.ErrIO, err)
	}
	m.TransportHandle = handle
	if err := manifest.Save(root, m); err != nil {
		_ = tr.DestroySession(handle)
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("%w: recording session handle: %v", errkind.ErrIO, err)
	}

	rt := New(root, tr, env)

	var refs []bootstrap.TaskRef
	for _, ti := range in.Tasks {
		t, err := task.Create(root, task.CreateInput{Subject: ti.Subject, Description: ti.Description})
		if err != nil {
			_ = tr.DestroySession(handle)
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("%w: creating initial tasks: %v", errkind.ErrIO, err)
		}
		refs = append(refs, bootstrap.TaskRef{ID: t.ID, Subject: t.Subject})
	}

	b := bootstrap.New(root, tr, handle)
	for i := 0; i < in.WorkerCount; i++ {
		agentType := "claude"
		if i < len(in.AgentTypes) {
			agentType = in.AgentTypes[i]
		}
		res, err := b.Bootstrap(bootstrap.Request{
			AgentType:    agentType,
			TaskRefs:     refs,
			WorkDir:      in.CWD,
			ReadyTimeout: env.ReadyTimeout,
		})
		if err != nil {
			if errors.Is(err, errkind.ErrReadyTimeout) && res != nil {
				// ready_timeout marks the worker failed and emits
				// an event, but does not abort team start.
				_ = rt.mb.AppendEvent(config.Event{Type: config.EventWorkerStopped, Worker: res.Name, Reason: "ready_timeout"})
				continue
			}
			_ = tr.DestroySession(handle)
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("bootstrapping worker %d: %w", i, err)
		}
	}

	return rt, nil
}

// Tick runs the single monitor pass of "Monitor": lease
// sweep, phase derivation, dead-worker computation, notification
// triggering, leader-nudge policy, scaling recommendation, and snapshot
// write. Returns the resulting snapshot.
func (r *Runtime) Tick() (*config.MonitorSnapshot, error) {
	start := time.Now()

	m, err := manifest.Load(r.root)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errkind.ErrNotFound
	}

	liveSlots, err := r.transport.ListSlots(m.TransportHandle)
	if err != nil {
		liveSlots = nil
	}

	// Step 2: lease-expiry sweep, driven off observed-dead computed per
	// worker below.
	deadSet := map[string]bool{}
	for _, w := range m.Workers {
		dead, _ := r.hb.IsObservedDead(w.Name, w.Address, r.env.LeaderNudge, liveSlots)
		deadSet[w.Name] = dead
	}
	if _, err := r.tasks.SweepExpiredLeases(func(worker string) bool { return deadSet[worker] }); err != nil {
		return nil, err
	}

	tasks, err := r.tasks.List()
	if err != nil {
		return nil, err
	}
	counts := countTasks(tasks)

	prevSnapshot, _ := loadSnapshot(r.root)
	phase, history := derivePhase(prevSnapshot, counts)

	var deadWorkers []string
	workerStates := map[string]config.WorkerState{}
	idleSince := map[string]time.Time{}
	for _, w := range m.Workers {
		st, _ := r.hb.GetStatus(w.Name)
		state := config.WorkerUnknown
		if st != nil {
			state = st.State
			if state == config.WorkerIdle {
				idleSince[w.Name] = st.UpdatedAt
			}
		}
		workerStates[w.Name] = state
		if deadSet[w.Name] {
			deadWorkers = append(deadWorkers, w.Name)
		}
	}

	// Step 5: notification triggering, rate-limited to one trigger per
	// message per tick.
	for _, w := range m.Workers {
		if deadSet[w.Name] {
			continue
		}
		undelivered, err := r.mb.Undelivered(w.Name)
		if err != nil {
			continue
		}
		for _, msg := range undelivered {
			if w.Address != "" {
				_ = r.transport.SendText(w.Address, "\r")
			}
			_, _ = r.mb.MarkNotified(w.Name, msg.MessageID)
			_, _ = r.mb.MarkDelivered(w.Name, msg.MessageID)
		}
	}

	// Step 6: leader-nudge cooldown — no worker turn observed within the
	// nudge window while workers exist.
	if r.shouldNudgeLeader(m, deadSet) {
		_ = r.mb.AppendEvent(config.Event{Type: config.EventLeaderNudge})
		r.lastLeaderNudge = time.Now()
	}

	// Step 7: scaling recommendation.
	idleTimeout := time.Duration(m.Scaling.IdleTimeoutMs) * time.Millisecond
	idleTimeoutElapsed := idleTimeout > 0
	for name, since := range idleSince {
		if deadSet[name] {
			continue
		}
		if time.Since(since) < idleTimeout {
			idleTimeoutElapsed = false
			break
		}
	}
	snap := config.ResourceSnapshot{
		ActiveWorkers: len(m.Workers),
		PendingTasks:  counts.Pending,
		IdleWorkers:   countIdle(workerStates),
	}
	rec := scaling.Recommend(snap, m.Scaling, idleTimeoutElapsed, scaling.RecentActions(r.root, 2))

	ms := &config.MonitorSnapshot{
		Counts:          counts,
		WorkerStates:    workerStates,
		DeadWorkers:     deadWorkers,
		Phase:           phase,
		PhaseHistory:    history,
		Recommendations: []config.Recommendation{rec},
		TickDurationMs:  time.Since(start).Milliseconds(),
		UpdatedAt:       time.Now(),
	}

	if err := atomicstore.WriteJSON(layout.MonitorSnapshot(r.root), ms); err != nil {
		return nil, err
	}
	return ms, nil
}

func (r *Runtime) shouldNudgeLeader(m *config.Manifest, deadSet map[string]bool) bool {
	if len(m.Workers) == 0 {
		return false
	}
	if time.Since(r.lastLeaderNudge) < r.env.LeaderNudge {
		return false
	}
	for _, w := range m.Workers {
		if deadSet[w.Name] {
			continue
		}
		hb, err := r.hb.Get(w.Name)
		if err == nil && hb != nil && time.Since(hb.LastTurnAt) < r.env.LeaderNudge {
			return false
		}
	}
	return true
}

func countIdle(states map[string]config.WorkerState) int {
	n := 0
	for _, s := range states {
		if s == config.WorkerIdle {
			n++
		}
	}
	return n
}

func countTasks(tasks []config.Task) config.TaskCounts {
	var c config.TaskCounts
	for _, t := range tasks {
		switch t.Status {
		case config.TaskPending:
			c.Pending++
		case config.TaskBlocked:
			c.Blocked++
		case config.TaskInProgress:
			c.InProgress++
		case config.TaskCompleted:
			c.Completed++
		case config.TaskFailed:
			c.Failed++
		}
	}
	return c
}

func loadSnapshot(root string) (*config.MonitorSnapshot, error) {
	var ms config.MonitorSnapshot
	ok, err := atomicstore.ReadJSON(layout.MonitorSnapshot(root), &ms, "monitor_snapshot")
	if err != nil || !ok {
		return nil, err
	}
	return &ms, nil
}

// derivePhase implements the team's phase state machine:
// complete if all tasks terminal and none failed; team-fix if all tasks
// terminal but >=1 failed; a team still at start with at least one task
// moves straight to team-exec (this function never enters team-prd or
// team-verify); otherwise the currently recorded phase is inherited.
func derivePhase(prev *config.MonitorSnapshot, counts config.TaskCounts) (config.Phase, []config.PhaseTransition) {
	current := config.PhaseStart
	var history []config.PhaseTransition
	if prev != nil {
		current = prev.Phase
		history = prev.PhaseHistory
	}

	total := counts.Pending + counts.Blocked + counts.InProgress + counts.Completed + counts.Failed
	allTerminal := total > 0 && counts.Pending == 0 && counts.Blocked == 0 && counts.InProgress == 0

	next := current
	switch {
	case allTerminal && counts.Failed == 0:
		next = config.PhaseComplete
	case allTerminal && counts.Failed > 0:
		next = config.PhaseTeamFix
	case current == config.PhaseStart && total > 0:
		next = config.PhaseTeamExec
	}

	if next != current {
		history = append(history, config.PhaseTransition{From: current, To: next, At: time.Now()})
	}
	return next, history
}

// ShutdownMode selects graceful-with-grace-budget vs. immediate-force
// shutdown.
type ShutdownMode int

const (
	ShutdownGraceful ShutdownMode = iota
	ShutdownForced
)

// ShutdownInput parameterizes a shutdown_team call.
type ShutdownInput struct {
	Mode             ShutdownMode
	GraceBudget      time.Duration
	RequestedBy      string
	PreserveOnForce  bool // if true and Mode==ShutdownForced, state root is not removed
}

// ShutdownTeam tears a team down: checks the termination gate (unless
// forced), writes a shutdown request to every worker in the manifest, and
// polls for acks up to the grace budget (skipped entirely in forced mode);
// if any worker rejects, it returns errkind.ErrShutdownRejected without
// killing anything. Otherwise it kill_slots every accepted/timed-out worker
// — restricted to the intersection of manifest-known and transport-live
// addresses and never the leader/HUD pane — then destroys the session and
// removes the state subtree.
func (r *Runtime) ShutdownTeam(in ShutdownInput) error {
	m, err := manifest.Load(r.root)
	if err != nil {
		return err
	}
	if m == nil {
		return errkind.ErrNotFound
	}

	if in.Mode != ShutdownForced {
		if blocked, reason := r.TerminationGateBlocked(m); blocked {
			return fmt.Errorf("%w: %s", errkind.ErrShutdownGateBlocked, reason)
		}
	}

	grace := in.GraceBudget
	if grace <= 0 {
		grace = r.env.ShutdownGrace
	}
	if grace <= 0 {
		grace = 30 * time.Second
	}

	liveSlots, _ := r.transport.ListSlots(m.TransportHandle)
	liveSet := map[string]bool{}
	for _, s := range liveSlots {
		liveSet[s] = true
	}

	reqAt := map[string]time.Time{}
	for _, w := range m.Workers {
		at, err := r.hb.RequestShutdown(w.Name, in.RequestedBy)
		if err != nil {
			continue
		}
		reqAt[w.Name] = at
	}

	if in.Mode != ShutdownForced {
		rejected := map[string]bool{}
		deadline := time.Now().Add(grace)
		for time.Now().Before(deadline) {
			allAcked := true
			for _, w := range m.Workers {
				ack, err := r.hb.ReadAckWithMin(w.Name, reqAt[w.Name])
				if err != nil || ack == nil {
					allAcked = false
					continue
				}
				if ack.Status == config.AckReject {
					rejected[w.Name] = true
				}
				_ = r.mb.AppendEvent(config.Event{Type: config.EventShutdownAck, Worker: w.Name, Reason: string(ack.Status)})
			}
			if allAcked {
				break
			}
			time.Sleep(250 * time.Millisecond)
		}
		var names []string
		for _, w := range m.Workers {
			if rejected[w.Name] {
				names = append(names, w.Name)
			}
		}
		if len(names) > 0 {
			return fmt.Errorf("%w: %s", errkind.ErrShutdownRejected, strings.Join(names, ", "))
		}
	}

	for _, w := range m.Workers {
		if w.Address == "" || !liveSet[w.Address] {
			continue
		}
		_ = r.transport.KillSlot(w.Address, 5*time.Second)
	}

	if err := r.transport.DestroySession(m.TransportHandle); err != nil {
		return fmt.Errorf("%w: destroying transport session: %v", errkind.ErrIO, err)
	}

	if in.Mode == ShutdownForced && in.PreserveOnForce {
		return nil
	}
	if err := os.RemoveAll(r.root); err != nil {
		return fmt.Errorf("%w: removing state root: %v", errkind.ErrIO, err)
	}
	return nil
}

// TerminationGateBlocked implements the default graceful-shutdown
// termination gate: blocked unless every worker is idle, done, failed, or
// draining. ShutdownTeam always enforces this gate in graceful mode, so a
// team whose workers are actively working is never torn down silently;
// ShutdownForced skips it entirely. The forced cleanup command also
// consults this gate, but only when a team opts in via
// Policy.CleanupRequiresAllInactive — cleanup's default is to reclaim state
// unconditionally, since it exists for the post-crash case where no worker
// may be reachable to report a state at all.
func (r *Runtime) TerminationGateBlocked(m *config.Manifest) (bool, string) {
	for _, w := range m.Workers {
		st, err := r.hb.GetStatus(w.Name)
		if err != nil || st == nil {
			continue
		}
		switch st.State {
		case config.WorkerIdle, config.WorkerDone, config.WorkerFailed, config.WorkerDraining:
			continue
		default:
			return true, fmt.Sprintf("worker %s is %s", w.Name, st.State)
		}
	}
	return false, ""
}
