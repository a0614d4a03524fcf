package transport

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Common tmux errors surfaced by the multiplexed transport.
var (
	ErrNoServer        = errors.New("no tmux server running")
	ErrSessionNotFound = errors.New("tmux session not found")
)

// MultiplexedTransport hosts each worker as a pane inside one shared tmux
// session.
type MultiplexedTransport struct {
	bin string
}

// NewMultiplexedTransport returns a MultiplexedTransport invoking the system
// tmux binary.
func NewMultiplexedTransport() *MultiplexedTransport {
	return &MultiplexedTransport{bin: "tmux"}
}

// ProbeAvailable runs the capability probe: `tmux -V`.
func ProbeAvailable() bool {
	cmd := exec.Command("tmux", "-V")
	return cmd.Run() == nil
}

func (m *MultiplexedTransport) run(args ...string) (string, error) {
	cmd := exec.Command(m.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", m.wrapError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (m *MultiplexedTransport) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)
	if strings.Contains(stderr, "no server running") || strings.Contains(stderr, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "session not found") || strings.Contains(stderr, "can't find session") {
		return ErrSessionNotFound
	}
	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// CreateSession starts a detached tmux session and returns its name as the
// opaque handle.
func (m *MultiplexedTransport) CreateSession(name string) (string, error) {
	if _, err := m.run("new-session", "-d", "-s", name); err != nil {
		return "", err
	}
	return name, nil
}

// AddSlot splits a new pane in the session and sends spec.Command as its
// initial input, returning the new pane's id ("%N").
func (m *MultiplexedTransport) AddSlot(handle string, spec SlotSpec) (string, error) {
	args := []string{"split-window", "-t", handle, "-P", "-F", "#{pane_id}"}
	if spec.WorkDir != "" {
		args = append(args, "-c", spec.WorkDir)
	}
	out, err := m.run(args...)
	if err != nil {
		return "", fmt.Errorf("adding slot to session %s: %w", handle, err)
	}
	address := strings.TrimSpace(out)
	if err := validatePaneAddress(address); err != nil {
		return "", err
	}
	if spec.Command != "" {
		if err := m.SendText(address, spec.Command); err != nil {
			return address, err
		}
	}
	return address, nil
}

// SendText sends literal text then a separate Enter key: paste in literal
// mode, debounce, Enter with retry.
func (m *MultiplexedTransport) SendText(address, text string) error {
	if err := validatePaneAddress(address); err != nil {
		return err
	}
	if _, err := m.run("send-keys", "-t", address, "-l", text); err != nil {
		return err
	}
	time.Sleep(250 * time.Millisecond)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(200 * time.Millisecond)
		}
		if _, err := m.run("send-keys", "-t", address, "Enter"); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("sending Enter to %s: %w", address, lastErr)
}

// Capture returns the last 30 visible lines of a pane.
func (m *MultiplexedTransport) Capture(address string) (string, error) {
	if err := validatePaneAddress(address); err != nil {
		return "", err
	}
	return m.run("capture-pane", "-p", "-t", address, "-S", "-30")
}

// Activity always returns nil: tmux gives no streaming notification of pane
// output, only the polled Capture snapshot, so per-worker turn detection
// for multiplexed sessions relies on IsObservedDead's slot-presence and
// pid checks instead.
func (m *MultiplexedTransport) Activity(address string) <-chan struct{} {
	return nil
}

// KillSlot kills the pane hosting address. tmux has no graceful
// SIGTERM-then-SIGKILL pane primitive, so grace is honored by sending a
// C-c interrupt first and waiting before force-killing the pane.
func (m *MultiplexedTransport) KillSlot(address string, grace time.Duration) error {
	if err := validatePaneAddress(address); err != nil {
		return err
	}
	_, _ = m.run("send-keys", "-t", address, "C-c")
	if grace > 0 {
		time.Sleep(grace)
	}
	_, err := m.run("kill-pane", "-t", address)
	if err != nil && errors.Is(err, ErrSessionNotFound) {
		return nil // already gone
	}
	return err
}

// ListSlots lists every pane id currently live in the session.
func (m *MultiplexedTransport) ListSlots(handle string) ([]string, error) {
	out, err := m.run("list-panes", "-t", handle, "-F", "#{pane_id}")
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// DestroySession kills the whole tmux session.
func (m *MultiplexedTransport) DestroySession(handle string) error {
	_, err := m.run("kill-session", "-t", handle)
	if err != nil && errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}
