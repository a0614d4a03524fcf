// Package scaling implements the scale-up/scale-down engine: a pure
// recommendation function, the gated scale-up procedure, LIFO-idle-first
// scale-down with draining, and the FIFO-evicted scaling-history log.
package scaling

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/oddlot-labs/foreman/internal/atomicstore"
	"github.com/oddlot-labs/foreman/internal/bootstrap"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/errkind"
	"github.com/oddlot-labs/foreman/internal/heartbeat"
	"github.com/oddlot-labs/foreman/internal/layout"
	"github.com/oddlot-labs/foreman/internal/lock"
	"github.com/oddlot-labs/foreman/internal/manifest"
	"github.com/oddlot-labs/foreman/internal/transport"
)

// historyCap bounds the FIFO-evicted scaling-history log.
const historyCap = 100

// defaultScaleUpThreshold and defaultScaleDownThreshold are the fallbacks
// used when a team's ScalingPolicy leaves a threshold at its zero value.
const (
	defaultScaleUpThreshold   = 3.0
	defaultScaleDownThreshold = 0.5
)

// Recommend is the pure scale recommendation function: if pending/active
// exceeds the scale-up threshold, recommend scaling up by the shortfall;
// else if idle/active exceeds the scale-down threshold
// and every idle worker has sat idle past the configured timeout,
// recommend scaling down to the policy's target idle ratio; otherwise
// recommend nothing. highConfidence is set when history's last two
// entries already match the action this tick produces.
func Recommend(snap config.ResourceSnapshot, policy config.ScalingPolicy, idleTimeoutElapsed bool, history []config.ScalingAction) config.Recommendation {
	upThreshold := policy.ScaleUpThreshold
	if upThreshold <= 0 {
		upThreshold = defaultScaleUpThreshold
	}
	downThreshold := policy.ScaleDownThreshold
	if downThreshold <= 0 {
		downThreshold = defaultScaleDownThreshold
	}

	active := snap.ActiveWorkers
	if active <= 0 {
		return finalize(config.Recommendation{Action: config.RecommendationAction, Reason: "no_active_workers"}, history)
	}

	if float64(snap.PendingTasks)/float64(active) > upThreshold {
		count := int(math.Ceil(float64(snap.PendingTasks)/upThreshold)) - active
		if count < 1 {
			count = 1
		}
		return finalize(config.Recommendation{
			Action: config.ScaleUpAction,
			Count:  count,
			Reason: fmt.Sprintf("pending/active ratio %.2f exceeds threshold %.2f", float64(snap.PendingTasks)/float64(active), upThreshold),
		}, history)
	}

	if float64(snap.IdleWorkers)/float64(active) > downThreshold && idleTimeoutElapsed {
		target := int(math.Ceil(float64(active) * downThreshold))
		count := snap.IdleWorkers - target
		if count < 1 {
			count = 1
		}
		return finalize(config.Recommendation{
			Action: config.ScaleDownAction,
			Count:  count,
			Reason: fmt.Sprintf("idle/active ratio %.2f exceeds threshold %.2f", float64(snap.IdleWorkers)/float64(active), downThreshold),
		}, history)
	}

	return finalize(config.Recommendation{Action: config.RecommendationAction, Reason: "within_thresholds"}, history)
}

// finalize marks a recommendation high-confidence when the last two
// history entries already agree with it (three consecutive identical
// recommendations)
func finalize(rec config.Recommendation, history []config.ScalingAction) config.Recommendation {
	if len(history) >= 2 && history[len(history)-1] == rec.Action && history[len(history)-2] == rec.Action && rec.Action != config.RecommendationAction {
		rec.HighConfidence = true
	}
	return rec
}

// LoadHistory reads the scaling-history log, oldest first. A missing file
// returns (nil, nil).
func LoadHistory(root string) ([]config.ScalingEvent, error) {
	var events []config.ScalingEvent
	ok, err := atomicstore.ReadJSON(layout.ScalingHistory(root), &events, "scaling-history")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return events, nil
}

// appendHistory appends an event, evicting the oldest entries past
// historyCap.
func appendHistory(root string, ev config.ScalingEvent) error {
	events, err := LoadHistory(root)
	if err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	events = append(events, ev)
	if len(events) > historyCap {
		events = events[len(events)-historyCap:]
	}
	return atomicstore.WriteJSON(layout.ScalingHistory(root), events)
}

// RecentActions returns up to n of the most recent history actions, oldest
// first, for feeding Recommend's high-confidence check.
func RecentActions(root string, n int) []config.ScalingAction {
	events, err := LoadHistory(root)
	if err != nil || len(events) == 0 {
		return nil
	}
	if len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]config.ScalingAction, len(events))
	for i, e := range events {
		out[i] = e.Action
	}
	return out
}

// lastActionAt returns the timestamp of the most recent scale_up or
// scale_down history entry (recommendations don't count toward cooldown).
func lastActionAt(root string) (time.Time, bool) {
	events, err := LoadHistory(root)
	if err != nil {
		return time.Time{}, false
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Action == config.ScaleUpAction || events[i].Action == config.ScaleDownAction {
			return events[i].Timestamp, true
		}
	}
	return time.Time{}, false
}

// ScaleUpInput parameterizes one scale-up call.
type ScaleUpInput struct {
	Count       int
	AgentType   string
	WorkDir     string
	ShellRC     string
	ModelEnv    string
	LeaderFlags []string
	EnvOverlay  map[string]string
	Trigger     config.ScalingTrigger
}

// ScaleUp implements the scale-up procedure: precondition checks
// (active+k <= max_workers, cooldown elapsed, resource check),
// then bootstrap k workers under the scaling lock, update manifest
// counts, and append a scaling event.
func ScaleUp(root string, tr transport.Transport, sessionHandle string, snap config.ResourceSnapshot, in ScaleUpInput) ([]*bootstrap.Result, error) {
	m, err := manifest.Load(root)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errkind.ErrNotFound
	}

	if m.ActiveWorkerCount+in.Count > m.Scaling.MaxWorkers && m.Scaling.MaxWorkers > 0 {
		return nil, fmt.Errorf("%w: scale-up to %d exceeds max_workers %d", errkind.ErrResourceDenied, m.ActiveWorkerCount+in.Count, m.Scaling.MaxWorkers)
	}
	if cooldown := time.Duration(m.Scaling.CooldownMs) * time.Millisecond; cooldown > 0 {
		if last, ok := lastActionAt(root); ok && time.Since(last) < cooldown {
			return nil, fmt.Errorf("%w: cooldown has not elapsed", errkind.ErrResourceDenied)
		}
	}

	resourceAllowed := math.MaxInt32
	// A zero FreeMemMB means no memory sample was taken; it does not gate.
	if m.Scaling.PerWorkerMemMB > 0 && snap.FreeMemMB > 0 {
		resourceAllowed = int(math.Floor(float64(snap.FreeMemMB-m.ResourceLimits.MinFreeMemMB) / float64(m.Scaling.PerWorkerMemMB)))
	}
	cpuExceeded := m.ResourceLimits.MaxCPUPercent > 0 && snap.CPULoad1m > m.ResourceLimits.MaxCPUPercent
	if resourceAllowed < in.Count || cpuExceeded {
		return nil, fmt.Errorf("%w: insufficient resources for %d new workers", errkind.ErrResourceDenied, in.Count)
	}

	release, err := lock.Acquire(layout.ScalingLock(root))
	if err != nil && err != errkind.ErrLockStaleRecovered {
		return nil, err
	}
	defer release()

	b := bootstrap.New(root, tr, sessionHandle)
	results := make([]*bootstrap.Result, 0, in.Count)
	for i := 0; i < in.Count; i++ {
		res, err := b.Bootstrap(bootstrap.Request{
			AgentType:   in.AgentType,
			WorkDir:     in.WorkDir,
			ShellRC:     in.ShellRC,
			ModelEnv:    in.ModelEnv,
			LeaderFlags: in.LeaderFlags,
			EnvOverlay:  in.EnvOverlay,
		})
		// A ready-timeout still registers the worker in the manifest, so its
		// Result is counted even when err is non-nil.
		if res != nil {
			results = append(results, res)
		}
	}

	trigger := in.Trigger
	if trigger == "" {
		trigger = config.TriggerManual
	}
	if err := appendHistory(root, config.ScalingEvent{
		Action:       config.ScaleUpAction,
		Trigger:      trigger,
		WorkersAdded: len(results),
		Reason:       "scale_up",
		ResourceSnap: snap,
	}); err != nil {
		return results, err
	}
	return results, nil
}

// ScaleDownInput parameterizes one scale-down call.
type ScaleDownInput struct {
	Count       int
	Worker      string // if set, drain this specific worker instead of LIFO selection
	DrainTimeout time.Duration
	Trigger     config.ScalingTrigger
}

// candidate pairs a worker ref with its last-known status, for LIFO-idle
// selection.
type candidate struct {
	name  string
	index int
	idle  bool
}

// SelectScaleDownCandidates implements LIFO-idle-first selection: prefer
// the highest-index idle workers; never select below min_workers.
func SelectScaleDownCandidates(m *config.Manifest, hb *heartbeat.Monitor, count int) ([]string, error) {
	var cands []candidate
	for _, w := range m.Workers {
		st, err := hb.GetStatus(w.Name)
		if err != nil {
			return nil, err
		}
		idle := st != nil && st.State == config.WorkerIdle
		cands = append(cands, candidate{name: w.Name, index: w.Index, idle: idle})
	}

	// Highest index first among idle workers; fall back to highest-index
	// non-idle only if no idle workers remain and count still isn't met.
	var idleSorted, busySorted []candidate
	for _, c := range cands {
		if c.idle {
			idleSorted = append(idleSorted, c)
		} else {
			busySorted = append(busySorted, c)
		}
	}
	sortDesc := func(cs []candidate) {
		for i := 0; i < len(cs); i++ {
			for j := i + 1; j < len(cs); j++ {
				if cs[j].index > cs[i].index {
					cs[i], cs[j] = cs[j], cs[i]
				}
			}
		}
	}
	sortDesc(idleSorted)
	sortDesc(busySorted)

	floor := m.Scaling.MinWorkers
	available := len(m.Workers) - floor
	if available < count {
		count = available
	}
	if count < 0 {
		count = 0
	}

	var selected []string
	for _, c := range idleSorted {
		if len(selected) >= count {
			break
		}
		selected = append(selected, c.name)
	}
	for _, c := range busySorted {
		if len(selected) >= count {
			break
		}
		selected = append(selected, c.name)
	}
	return selected, nil
}

// ScaleDown implements the scale-down procedure: mark
// candidates draining, request shutdown, poll for acks up to the drain
// timeout, kill_slot every accepted/timed-out worker (restricted to the
// intersection of manifest-known and transport-live addresses, and never
// the leader/HUD), then remove them from the manifest. A worker that
// rejects is taken off the draining list and left running.
func ScaleDown(root string, tr transport.Transport, sessionHandle, requestedBy string, in ScaleDownInput) ([]string, error) {
	m, err := manifest.Load(root)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errkind.ErrNotFound
	}

	hb := heartbeat.New(root)
	var targets []string
	if in.Worker != "" {
		targets = []string{in.Worker}
	} else {
		targets, err = SelectScaleDownCandidates(m, hb, in.Count)
		if err != nil {
			return nil, err
		}
	}

	liveSlots, _ := tr.ListSlots(sessionHandle)
	liveSet := map[string]bool{}
	for _, s := range liveSlots {
		liveSet[s] = true
	}

	drainTimeout := in.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = time.Duration(m.Scaling.DrainTimeoutMs) * time.Millisecond
	}
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}

	var stopped []string
	for _, name := range targets {
		if err := manifest.SetDraining(root, name); err != nil {
			continue
		}
		_ = hb.SetStatus(name, config.WorkerStatus{State: config.WorkerDraining})

		reqAt, err := hb.RequestShutdown(name, requestedBy)
		if err != nil {
			continue
		}

		var address string
		for _, w := range m.Workers {
			if w.Name == name {
				address = w.Address
				break
			}
		}

		rejected := false
		deadline := time.Now().Add(drainTimeout)
		for time.Now().Before(deadline) {
			ack, err := hb.ReadAckWithMin(name, reqAt)
			if err == nil && ack != nil {
				rejected = ack.Status == config.AckReject
				break
			}
			time.Sleep(250 * time.Millisecond)
		}
		if rejected {
			_ = manifest.ClearDraining(root, name)
			continue
		}

		// Kill only addresses the manifest knows about that transport still
		// reports live; never touch anything outside that intersection.
		if address != "" && liveSet[address] {
			_ = tr.KillSlot(address, 5*time.Second)
		}
		_ = manifest.RemoveWorker(root, name)
		_ = manifest.ClearDraining(root, name)
		stopped = append(stopped, name)
	}

	trigger := in.Trigger
	if trigger == "" {
		trigger = config.TriggerManual
	}
	if err := appendHistory(root, config.ScalingEvent{
		Action:         config.ScaleDownAction,
		Trigger:        trigger,
		WorkersRemoved: len(stopped),
		Reason:         "scale_down",
	}); err != nil {
		return stopped, err
	}
	return stopped, nil
}
