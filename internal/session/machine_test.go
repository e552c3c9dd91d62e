package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanStartGuards(t *testing.T) {
	_, err := PlanStart(State{GameID: "g1", MaxSteps: 10}, "r", "b", 10)
	assert.ErrorIs(t, err, ErrGameActive)

	_, err = PlanStart(State{}, "r", "b", 0)
	assert.ErrorIs(t, err, ErrInvalidMaxSteps)

	_, err = PlanStart(State{}, "", "b", 5)
	assert.ErrorIs(t, err, ErrMissingAgent)

	eff, err := PlanStart(State{}, "B_lineAgent", "BlueRemove", 10)
	require.NoError(t, err)
	assert.Equal(t, EffectStart, eff.Kind)
	assert.Equal(t, "B_lineAgent", eff.Start.RedAgent)
	assert.Equal(t, "BlueRemove", eff.Start.BlueAgent)
	assert.Equal(t, 10, eff.Start.MaxSteps)

	st := Apply(State{}, eff, "abc")
	assert.Equal(t, State{GameID: "abc", RedAgent: "B_lineAgent", BlueAgent: "BlueRemove", MaxSteps: 10}, st)
}

func TestPlanNextPolicy(t *testing.T) {
	cases := []struct {
		name     string
		in       State
		wantKind EffectKind
		wantErr  error
		want     State
	}{
		{
			name:     "at latest mints a new step",
			in:       State{GameID: "g", MaxSteps: 10, CurrentStep: 3, LatestStep: 3},
			wantKind: EffectAdvance,
			want:     State{GameID: "g", MaxSteps: 10, CurrentStep: 4, LatestStep: 4},
		},
		{
			name:     "behind latest replays",
			in:       State{GameID: "g", MaxSteps: 10, CurrentStep: 2, LatestStep: 5},
			wantKind: EffectFetchHistorical,
			want:     State{GameID: "g", MaxSteps: 10, CurrentStep: 3, LatestStep: 5},
		},
		{
			name:     "from zero",
			in:       State{GameID: "g", MaxSteps: 1},
			wantKind: EffectAdvance,
			want:     State{GameID: "g", MaxSteps: 1, CurrentStep: 1, LatestStep: 1},
		},
		{name: "final step", in: State{GameID: "g", MaxSteps: 10, CurrentStep: 10, LatestStep: 10}, wantErr: ErrFinalStep},
		{name: "no game", in: State{}, wantErr: ErrNoGame},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eff, err := PlanNext(tc.in)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, eff.Kind)
			assert.Equal(t, tc.in.CurrentStep+1, eff.Step)
			assert.Equal(t, tc.want, Apply(tc.in, eff, ""))
		})
	}
}

func TestPlanPrevious(t *testing.T) {
	_, err := PlanPrevious(State{})
	assert.ErrorIs(t, err, ErrNoGame)

	for _, step := range []int{0, 1} {
		_, err = PlanPrevious(State{GameID: "g", MaxSteps: 10, CurrentStep: step, LatestStep: step})
		assert.ErrorIs(t, err, ErrFirstStep, "step %d", step)
	}

	in := State{GameID: "g", MaxSteps: 10, CurrentStep: 4, LatestStep: 6}
	eff, err := PlanPrevious(in)
	require.NoError(t, err)
	assert.Equal(t, EffectFetchHistorical, eff.Kind)
	assert.Equal(t, 3, eff.Step)
	assert.Equal(t, State{GameID: "g", MaxSteps: 10, CurrentStep: 3, LatestStep: 6}, Apply(in, eff, ""))
}

func TestPlanEnd(t *testing.T) {
	_, err := PlanEnd(State{})
	assert.ErrorIs(t, err, ErrNoGame)

	eff, err := PlanEnd(State{GameID: "g", MaxSteps: 3, CurrentStep: 2, LatestStep: 2})
	require.NoError(t, err)
	assert.Equal(t, "g", eff.GameID)
	assert.Equal(t, State{}, Apply(State{GameID: "g", CurrentStep: 2}, eff, ""))
}

func TestHeadlineAndPhase(t *testing.T) {
	assert.Equal(t, "No Game has started yet", State{}.Headline())
	assert.Equal(t, PhaseNoGame, State{}.Phase())

	assert.Equal(t, "Initialized Game: g1", State{GameID: "g1", MaxSteps: 10}.Headline())
	assert.Equal(t, "Round: 4", State{GameID: "g1", MaxSteps: 10, CurrentStep: 4}.Headline())
	assert.Equal(t, PhaseActive, State{GameID: "g1", MaxSteps: 10, CurrentStep: 4}.Phase())

	done := State{GameID: "g1", MaxSteps: 10, CurrentStep: 10, LatestStep: 10}
	assert.Equal(t, "Reached Round 10, End of Game!", done.Headline())
	assert.Equal(t, PhaseFinished, done.Phase())
}
