// Package heartbeat owns per-worker liveness files and the shutdown
// request/ack rendezvous.
package heartbeat

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/oddlot-labs/foreman/internal/atomicstore"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/layout"
)

// Monitor reads and writes heartbeat/status/shutdown files for one team.
type Monitor struct {
	root string
}

// New returns a heartbeat Monitor rooted at the given team state root.
func New(root string) *Monitor {
	return &Monitor{root: root}
}

// InitialHeartbeat writes a worker's first heartbeat at bootstrap:
// alive=true, turn_count=0.
func (m *Monitor) InitialHeartbeat(worker string, pid int) error {
	return atomicstore.WriteJSON(layout.Heartbeat(m.root, worker), config.Heartbeat{
		PID:        pid,
		LastTurnAt: time.Now(),
		TurnCount:  0,
		Alive:      true,
	})
}

// RecordTurn updates a worker's heartbeat on an observed stdout/stderr
// event, bumping turn_count.
func (m *Monitor) RecordTurn(worker string) error {
	hb, err := m.Get(worker)
	if err != nil {
		return err
	}
	if hb == nil {
		return fmt.Errorf("heartbeat: worker %s has no heartbeat file", worker)
	}
	hb.LastTurnAt = time.Now()
	hb.TurnCount++
	hb.Alive = true
	return atomicstore.WriteJSON(layout.Heartbeat(m.root, worker), hb)
}

// MarkDead persists alive=false, preserving the rest of the record for
// post-mortem inspection ("preserved after process death until
// cleanup").
func (m *Monitor) MarkDead(worker string) error {
	hb, err := m.Get(worker)
	if err != nil {
		return err
	}
	if hb == nil {
		return nil
	}
	hb.Alive = false
	return atomicstore.WriteJSON(layout.Heartbeat(m.root, worker), hb)
}

// Get reads a worker's heartbeat; a missing file returns (nil, nil).
func (m *Monitor) Get(worker string) (*config.Heartbeat, error) {
	var hb config.Heartbeat
	ok, err := atomicstore.ReadJSON(layout.Heartbeat(m.root, worker), &hb, "heartbeat")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &hb, nil
}

// GetStatus reads a worker's status; a missing file returns (nil, nil).
func (m *Monitor) GetStatus(worker string) (*config.WorkerStatus, error) {
	var st config.WorkerStatus
	ok, err := atomicstore.ReadJSON(layout.Status(m.root, worker), &st, "status")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// SetStatus writes a worker's status record.
func (m *Monitor) SetStatus(worker string, st config.WorkerStatus) error {
	st.UpdatedAt = time.Now()
	return atomicstore.WriteJSON(layout.Status(m.root, worker), st)
}

// pidLive reports whether pid answers a signal-0 probe.
func pidLive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// IsObservedDead implements three-way "observed dead" test:
// (a) pid no longer live, (b) last_turn_at older than inactivityCeiling AND
// pid check fails, (c) the worker's transport slot is absent from
// liveSlots. knownAddress is the address recorded in the worker's identity.
func (m *Monitor) IsObservedDead(worker, knownAddress string, inactivityCeiling time.Duration, liveSlots []string) (bool, error) {
	hb, err := m.Get(worker)
	if err != nil {
		return false, err
	}
	if hb == nil {
		return true, nil
	}

	// A pid of 0 means the transport variant in use (e.g. multiplexed
	// panes) never recorded one; skip the pid-based checks and rely on
	// inactivity and slot-presence instead.
	if hb.PID > 0 {
		if !pidLive(hb.PID) {
			return true, nil
		}
		if time.Since(hb.LastTurnAt) > inactivityCeiling && !pidLive(hb.PID) {
			return true, nil
		}
	}
	if knownAddress != "" && !contains(liveSlots, knownAddress) {
		return true, nil
	}
	return false, nil
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

// RequestShutdown writes the shutdown request file for a worker.
func (m *Monitor) RequestShutdown(worker, requestedBy string) (time.Time, error) {
	now := time.Now()
	req := config.ShutdownRequest{RequestedBy: requestedBy, RequestedAt: now}
	if err := atomicstore.WriteJSON(layout.ShutdownRequest(m.root, worker), req); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// ReadAckWithMin reads a worker's shutdown ack and returns it only if
// `ack.updated_at >= minUpdatedAt`; otherwise it is treated as stale (a
// leftover ack from a prior run) and (nil, nil) is returned.
func (m *Monitor) ReadAckWithMin(worker string, minUpdatedAt time.Time) (*config.ShutdownAck, error) {
	var ack config.ShutdownAck
	ok, err := atomicstore.ReadJSON(layout.ShutdownAck(m.root, worker), &ack, "shutdown-ack")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if ack.UpdatedAt.Before(minUpdatedAt) {
		return nil, nil
	}
	return &ack, nil
}

// WriteAck is called from the worker side of the rendezvous: it writes an
// ack at the same path as the request, overwriting any prior ack.
func (m *Monitor) WriteAck(worker string, status config.AckStatus, reason string) error {
	return atomicstore.WriteJSON(layout.ShutdownAck(m.root, worker), config.ShutdownAck{
		Status:    status,
		Reason:    reason,
		UpdatedAt: time.Now(),
	})
}
