package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oddlot-labs/foreman/internal/cliutil"
	"github.com/oddlot-labs/foreman/internal/config"
)

func TestParseCount(t *testing.T) {
	n, err := parseCount("3")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = parseCount("0")
	require.Error(t, err)

	_, err = parseCount("not-a-number")
	require.Error(t, err)
}

func TestParseWorkerDescriptorDefaultsAgentType(t *testing.T) {
	n, agentType, err := parseWorkerDescriptor("2")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "claude", agentType)
}

func TestParseWorkerDescriptorExplicitAgentType(t *testing.T) {
	n, agentType, err := parseWorkerDescriptor("4:codex")
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "codex", agentType)
}

func TestParseWorkerDescriptorRejectsZero(t *testing.T) {
	_, _, err := parseWorkerDescriptor("0:claude")
	require.Error(t, err)
}

func TestParseWorkerDescriptorRejectsAboveCeiling(t *testing.T) {
	_, _, err := parseWorkerDescriptor("999:claude")
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds absolute ceiling")
}

func TestParseWorkerDescriptorRejectsGarbage(t *testing.T) {
	_, _, err := parseWorkerDescriptor("nope")
	require.Error(t, err)
}

func TestUsageExitReturnsExitCodeTwo(t *testing.T) {
	err := usageExit("bad args: %s", "oops")
	require.Equal(t, 2, cliutil.ExitCode(err))
}

func TestNewSilentExitRoundTripsThroughExitCode(t *testing.T) {
	err := NewSilentExit(5)
	require.Equal(t, 5, cliutil.ExitCode(err))
}

func TestAbsoluteMaxWorkersCeilingIsPositive(t *testing.T) {
	require.Greater(t, config.AbsoluteMaxWorkers, 0)
}

func TestPrintWorkerTableEmptySnapshotIsNoOp(t *testing.T) {
	snapshot := &config.MonitorSnapshot{}
	require.NotPanics(t, func() { printWorkerTable(snapshot) })
}

func TestDedupeAddrsDropsRepeats(t *testing.T) {
	out := dedupeAddrs([]string{"%1", "%2", "%1", "%3", "%2"})
	require.Equal(t, []string{"%1", "%2", "%3"}, out)
}

func TestDedupeAddrsEmptyInput(t *testing.T) {
	require.Empty(t, dedupeAddrs(nil))
}

func TestPrintWorkerTablePopulatedSnapshotDoesNotPanic(t *testing.T) {
	snapshot := &config.MonitorSnapshot{
		WorkerStates: map[string]config.WorkerState{
			"worker-1": config.WorkerIdle,
			"worker-2": config.WorkerWorking,
		},
	}
	require.NotPanics(t, func() { printWorkerTable(snapshot) })
}
