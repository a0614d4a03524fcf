// Package transport abstracts the means of hosting worker processes: a
// shared terminal-multiplexer session with one pane per worker, or a plain
// child process per worker, generalized behind a small capability interface
// so the runtime never imports tmux directly.
package transport

import (
	"fmt"
	"time"

	"github.com/oddlot-labs/foreman/internal/errkind"
)

// SlotSpec describes what to run in a newly added slot.
type SlotSpec struct {
	WorkDir string
	Command string // shell-quoted command string, built by a spawner
}

// Transport is the pluggable hosting abstraction. Addresses are opaque
// strings; the multiplexed implementation returns `%`-prefixed pane ids,
// the process implementation returns `proc:<pid>` tokens.
type Transport interface {
	// CreateSession starts a new session/process group for a team.
	CreateSession(name string) (handle string, err error)
	// AddSlot adds one worker slot to the session and returns its address.
	AddSlot(handle string, spec SlotSpec) (address string, err error)
	// SendText sends text to a slot, as a single CLI submission (sending
	// both a carriage return and an Enter keypress to cover dual submit
	// bindings is a bootstrap-level concern, not this interface's).
	SendText(address, text string) error
	// Capture returns a bounded tail of the slot's visible output.
	Capture(address string) (string, error)
	// Activity returns a channel that receives a value each time output is
	// observed on the slot, and is closed when the slot's output stream
	// ends (process exit). Returns nil when the transport variant cannot
	// observe turns this way (e.g. multiplexed panes, whose activity is
	// only visible through periodic Capture polling, not a stream).
	Activity(address string) <-chan struct{}
	// KillSlot terminates a slot: SIGTERM-equivalent, wait up to grace, then
	// force.
	KillSlot(address string, grace time.Duration) error
	// ListSlots lists every live slot address in the session.
	ListSlots(handle string) ([]string, error)
	// DestroySession tears down the whole session.
	DestroySession(handle string) error
}

// Kind enumerates the two shipped transport variants.
type Kind string

const (
	KindMultiplexed Kind = "multiplexed"
	KindProcess     Kind = "process"
)

// Resolve runs the capability probe: if forceTransport is non-nil it is
// authoritative; otherwise a multiplexed transport is used iff the
// multiplexer binary is available.
func Resolve(forceTransport *bool, probe func() bool) Kind {
	if forceTransport != nil {
		if *forceTransport {
			return KindMultiplexed
		}
		return KindProcess
	}
	if probe() {
		return KindMultiplexed
	}
	return KindProcess
}

// New builds the resolved transport implementation.
func New(kind Kind) Transport {
	switch kind {
	case KindMultiplexed:
		return NewMultiplexedTransport()
	default:
		return NewProcessTransport()
	}
}

func validatePaneAddress(address string) error {
	if len(address) == 0 || address[0] != '%' {
		return fmt.Errorf("%w: address %q is not a valid pane id", errkind.ErrIO, address)
	}
	return nil
}
