package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveHonorsForceOverride(t *testing.T) {
	forceOn := true
	require.Equal(t, KindMultiplexed, Resolve(&forceOn, func() bool { return false }))

	forceOff := false
	require.Equal(t, KindProcess, Resolve(&forceOff, func() bool { return true }))
}

func TestResolveFallsBackToProbe(t *testing.T) {
	require.Equal(t, KindMultiplexed, Resolve(nil, func() bool { return true }))
	require.Equal(t, KindProcess, Resolve(nil, func() bool { return false }))
}

func TestValidatePaneAddressRejectsNonPaneForm(t *testing.T) {
	require.Error(t, validatePaneAddress("proc:123"))
	require.NoError(t, validatePaneAddress("%4"))
}

func TestProcessTransportSendTextAndCapture(t *testing.T) {
	p := NewProcessTransport()
	handle, err := p.CreateSession("t1")
	require.NoError(t, err)

	addr, err := p.AddSlot(handle, SlotSpec{Command: "cat"})
	require.NoError(t, err)
	require.Contains(t, addr, "proc:")

	require.NoError(t, p.SendText(addr, "hello"))
	require.Eventually(t, func() bool {
		out, _ := p.Capture(addr)
		return len(out) > 0
	}, 2*time.Second, 20*time.Millisecond)

	slots, err := p.ListSlots(handle)
	require.NoError(t, err)
	require.Contains(t, slots, addr)

	require.NoError(t, p.KillSlot(addr, 200*time.Millisecond))

	slots, err = p.ListSlots(handle)
	require.NoError(t, err)
	require.NotContains(t, slots, addr)
}

func TestProcessTransportDestroySessionKillsAllSlots(t *testing.T) {
	p := NewProcessTransport()
	handle, err := p.CreateSession("t2")
	require.NoError(t, err)

	addr1, err := p.AddSlot(handle, SlotSpec{Command: "cat"})
	require.NoError(t, err)
	addr2, err := p.AddSlot(handle, SlotSpec{Command: "cat"})
	require.NoError(t, err)

	require.NoError(t, p.DestroySession(handle))

	_, err = p.Capture(addr1)
	require.Error(t, err)
	_, err = p.Capture(addr2)
	require.Error(t, err)
}

func TestPidFromAddress(t *testing.T) {
	pid, err := pidFromAddress("proc:4242")
	require.NoError(t, err)
	require.Equal(t, 4242, pid)
}
