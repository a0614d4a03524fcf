// Package config holds the data model shared across foreman's components:
// the team manifest, worker identity/heartbeat/status, policy, and the
// environment/TOML configuration that parameterizes the runtime and
// scaling engine, and the policy overlay.
package config

import "time"

// DisplayMode controls how worker panes are presented (consumed by the
// out-of-scope HUD; foreman only persists the choice).
type DisplayMode string

const (
	DisplaySplitPane DisplayMode = "split_pane"
	DisplayAuto      DisplayMode = "auto"
)

// Policy captures the team-level behavioral switches for a manifest.
type Policy struct {
	DelegationOnly                bool        `json:"delegation_only"`
	PlanApprovalRequired          bool        `json:"plan_approval_required"`
	CleanupRequiresAllInactive    bool        `json:"cleanup_requires_all_workers_inactive"`
	DisplayMode                   DisplayMode `json:"display_mode"`
	NestedTeamsAllowed            bool        `json:"nested_teams_allowed"`
	OneTeamPerLeaderSession       bool        `json:"one_team_per_leader_session"`
}

// Permissions is a snapshot of the permission posture in effect when the
// team was created.
type Permissions struct {
	ApprovalMode  string `json:"approval_mode"`
	SandboxMode   string `json:"sandbox_mode"`
	NetworkAccess string `json:"network_access"`
}

// ResourceLimits bounds scale-up.
type ResourceLimits struct {
	MaxCPUPercent float64 `json:"max_cpu_percent" toml:"max_cpu_percent"`
	MinFreeMemMB  int     `json:"min_free_mem_mb" toml:"min_free_mem_mb"`
}

// ScalingPolicy configures the scaling engine.
type ScalingPolicy struct {
	AutoApply          bool    `json:"auto_apply"`
	MaxWorkers         int     `json:"max_workers"`
	MinWorkers         int     `json:"min_workers"`
	ScaleUpThreshold   float64 `json:"scale_up_threshold"`
	ScaleDownThreshold float64 `json:"scale_down_threshold"`
	IdleTimeoutMs      int64   `json:"idle_timeout_ms"`
	CooldownMs         int64   `json:"cooldown_ms"`
	PerWorkerMemMB     int     `json:"per_worker_mem_mb"`
	DrainTimeoutMs     int64   `json:"drain_timeout_ms"`
}

// LeaderIdentity identifies the owning leader process.
type LeaderIdentity struct {
	SessionID string `json:"session_id"`
	WorkerID  string `json:"worker_id"`
	Role      string `json:"role"`
}

// WorkerRef is a manifest-level worker entry (Worker identity,
// as embedded in workers[]).
type WorkerRef struct {
	Name         string `json:"name"`
	Index        int    `json:"index"`
	Role         string `json:"role"`
	Address      string `json:"address"`
	HUDPane      string `json:"hud_pane,omitempty"`
	LeaderPane   string `json:"leader_pane,omitempty"`
}

// Manifest is the authoritative per-team JSON file.
type Manifest struct {
	SchemaVersion     int             `json:"schema_version"`
	TeamName          string          `json:"team_name"`
	TaskDescription   string          `json:"task_description"`
	Leader            LeaderIdentity  `json:"leader"`
	Policy            Policy          `json:"policy"`
	Permissions       Permissions     `json:"permissions"`
	TransportHandle   string          `json:"transport_handle"`
	WorkerCount       int             `json:"worker_count"`
	Workers           []WorkerRef     `json:"workers"`
	InitialWorkerCount int            `json:"initial_worker_count"`
	ActiveWorkerCount int             `json:"active_worker_count"`
	DrainingWorkers   []string        `json:"draining_workers"`
	Scaling           ScalingPolicy   `json:"scaling_policy"`
	ResourceLimits    ResourceLimits  `json:"resource_limits"`
	NextTaskID        int             `json:"next_task_id"`
	NextWorkerIndex   int             `json:"next_worker_index"`
	CreatedAt         time.Time       `json:"created_at"`
	CreatedBy         string          `json:"created_by,omitempty"`
	ForemanVersion    string          `json:"foreman_version,omitempty"`
}

// WorkerIdentity is a worker's own identity file.
type WorkerIdentity struct {
	Name    string `json:"name"`
	Index   int    `json:"index"`
	Role    string `json:"role"`
	Address string `json:"address"`
}

// Heartbeat is a worker's liveness record.
type Heartbeat struct {
	PID         int       `json:"pid"`
	LastTurnAt  time.Time `json:"last_turn_at"`
	TurnCount   int       `json:"turn_count"`
	Alive       bool      `json:"alive"`
}

// WorkerState enumerates the worker status state machine.
type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerWorking  WorkerState = "working"
	WorkerBlocked  WorkerState = "blocked"
	WorkerDone     WorkerState = "done"
	WorkerFailed   WorkerState = "failed"
	WorkerDraining WorkerState = "draining"
	WorkerUnknown  WorkerState = "unknown"
)

// WorkerStatus is a worker's current status record.
type WorkerStatus struct {
	State         WorkerState `json:"state"`
	CurrentTaskID string      `json:"current_task_id,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TaskStatus enumerates the task state machine.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// Claim is a lease on a task held by a worker.
type Claim struct {
	Token          string    `json:"token"`
	Worker         string    `json:"worker"`
	AcquiredAt     time.Time `json:"acquired_at"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

// Task is a unit of work tracked by the task store.
type Task struct {
	ID                  string     `json:"id"`
	Subject             string     `json:"subject"`
	Description         string     `json:"description"`
	Status              TaskStatus `json:"status"`
	RequiresCodeChange  bool       `json:"requires_code_change"`
	Owner               string     `json:"owner,omitempty"`
	Result              string     `json:"result,omitempty"`
	Error               string     `json:"error,omitempty"`
	DependsOn           []string   `json:"depends_on,omitempty"`
	Labels              []string   `json:"labels,omitempty"`
	Version             int        `json:"version"`
	Claim               *Claim     `json:"claim,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// Priority mirrors the mail priority conventions a number of orchestrators
// use, kept simple here: normal and urgent.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// BroadcastTo is the sentinel recipient meaning "every worker but the
// sender".
const BroadcastTo = "*"

// Message is a mailbox entry.
type Message struct {
	MessageID   string     `json:"message_id"`
	From        string     `json:"from_worker"`
	To          string     `json:"to_worker"`
	Body        string     `json:"body"`
	Priority    Priority   `json:"priority,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// EventType enumerates the append-only event log's event kinds.
type EventType string

const (
	EventTaskCompleted   EventType = "task_completed"
	EventWorkerIdle      EventType = "worker_idle"
	EventWorkerStopped   EventType = "worker_stopped"
	EventMessageReceived EventType = "message_received"
	EventShutdownAck     EventType = "shutdown_ack"
	EventApprovalDecision EventType = "approval_decision"
	EventLeaderNudge     EventType = "team_leader_nudge"
)

// Event is one append-only NDJSON record.
type Event struct {
	EventID   string    `json:"event_id"`
	Team      string    `json:"team"`
	Type      EventType `json:"type"`
	Worker    string    `json:"worker,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ShutdownRequest is the rendezvous request file.
type ShutdownRequest struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// AckStatus enumerates a worker's response to a shutdown request.
type AckStatus string

const (
	AckAccept AckStatus = "accept"
	AckReject AckStatus = "reject"
)

// ShutdownAck is the rendezvous ack file, overwritten in place at the same
// path as the request.
type ShutdownAck struct {
	Status    AckStatus `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Phase is the coarse team lifecycle label.
type Phase string

const (
	PhaseStart      Phase = "start"
	PhaseTeamPRD    Phase = "team-prd"
	PhaseTeamExec   Phase = "team-exec"
	PhaseTeamVerify Phase = "team-verify"
	PhaseTeamFix    Phase = "team-fix"
	PhaseComplete   Phase = "complete"
)

// PhaseTransition records one forward move in the phase state machine.
type PhaseTransition struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	At   time.Time `json:"at"`
}

// TaskCounts summarizes task status distribution (the
// status-line contract).
type TaskCounts struct {
	Pending    int `json:"pending"`
	Blocked    int `json:"blocked"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// ScalingAction enumerates a recorded scaling event's action.
type ScalingAction string

const (
	ScaleUpAction         ScalingAction = "scale_up"
	ScaleDownAction       ScalingAction = "scale_down"
	RecommendationAction  ScalingAction = "recommendation"
)

// ScalingTrigger enumerates what caused a scaling action.
type ScalingTrigger string

const (
	TriggerManual ScalingTrigger = "manual"
	TriggerAuto   ScalingTrigger = "auto"
)

// ResourceSnapshot is a cheap, on-demand sample of system load used to gate
// scale-up.
type ResourceSnapshot struct {
	CPULoad1m     float64 `json:"cpu_load_1m"`
	FreeMemMB     int     `json:"free_mem_mb"`
	ActiveWorkers int     `json:"active_workers"`
	PendingTasks  int     `json:"pending_tasks"`
	IdleWorkers   int     `json:"idle_workers"`
}

// ScalingEvent is one entry of the FIFO-evicted scaling-history log
// (evicted at 100 entries).
type ScalingEvent struct {
	ID            string           `json:"id"`
	Timestamp     time.Time        `json:"timestamp"`
	Action        ScalingAction    `json:"action"`
	Trigger       ScalingTrigger   `json:"trigger"`
	WorkersAdded  int              `json:"workers_added,omitempty"`
	WorkersRemoved int             `json:"workers_removed,omitempty"`
	Reason        string           `json:"reason"`
	ResourceSnap  ResourceSnapshot `json:"resource_snapshot"`
}

// Recommendation is a structured scale-up/scale-down suggestion produced
// by the scaling engine.
type Recommendation struct {
	Action         ScalingAction `json:"action"`
	Count          int           `json:"count"`
	Reason         string        `json:"reason"`
	HighConfidence bool          `json:"high_confidence"`
}

// MonitorSnapshot is the most recent reconciled view of a team, written
// to disk after every monitor tick.
type MonitorSnapshot struct {
	Counts          TaskCounts        `json:"counts"`
	WorkerStates    map[string]WorkerState `json:"worker_states"`
	DeadWorkers     []string          `json:"dead_workers"`
	Phase           Phase             `json:"phase"`
	PhaseHistory    []PhaseTransition `json:"phase_history"`
	Recommendations []Recommendation  `json:"recommendations"`
	TickDurationMs  int64             `json:"tick_duration_ms"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
