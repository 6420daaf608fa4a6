package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runctl/internal/testutil"
	"github.com/roach88/runctl/internal/wire"
)

func TestScript_LinkSteps(t *testing.T) {
	scenario := &Scenario{
		Name: "script",
		Steps: []Step{
			{Command: "RunPrepare", Payload: []int{1, 2, 3, 4}},
			{Settle: true},
			{Raw: []int{0x7F}},
			{Idle: 2},
			{Error: &ErrorStep{Data: 0x12, Flags: []string{"parity", "decode"}}},
			{LoseTraining: 1},
		},
	}

	syms, err := Script(scenario, 3)
	require.NoError(t, err)

	want := testutil.Concat(
		testutil.Command(wire.OpRunPrepare, 1, 2, 3, 4),
		testutil.Idle(3),
		[]wire.Symbol{wire.DataSymbol(0x7F)},
		testutil.Idle(2),
		[]wire.Symbol{testutil.Faulty(0x12, wire.ErrParity|wire.ErrDecode)},
		testutil.LostTraining(1),
	)
	assert.Equal(t, want, syms)
}

func TestScript_ZeroSettleGap(t *testing.T) {
	scenario := &Scenario{Steps: []Step{
		{Command: "StartRun"},
		{Settle: true},
		{Command: "EndRun"},
	}}

	syms, err := Script(scenario, 0)
	require.NoError(t, err)
	assert.Equal(t, testutil.Concat(
		testutil.Command(wire.OpStartRun),
		testutil.Command(wire.OpEndRun),
	), syms)
}

func TestScript_RejectsOutOfBandSteps(t *testing.T) {
	guard := uint32(1)
	tests := []struct {
		name string
		step Step
		want string
	}{
		{"hard reset", Step{HardReset: 4}, "step 1: hard_reset cannot be scripted"},
		{"mgmt reset", Step{MgmtReset: true}, "step 1: management steps"},
		{"mgmt write", Step{MgmtWrite: &guard}, "step 1: management steps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := &Scenario{Steps: []Step{{Command: "StartRun"}, tt.step}}

			_, err := Script(scenario, 8)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestScript_UnknownCommand(t *testing.T) {
	scenario := &Scenario{Steps: []Step{{Command: "Launch"}}}

	_, err := Script(scenario, 8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0")
}
