package reconciliation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-engine/conclave/internal/motion"
	"github.com/conclave-engine/conclave/internal/ports"
	"github.com/conclave-engine/conclave/internal/vote"
)

func TestRecomputeTallyInvariantHolds(t *testing.T) {
	m := motion.NewMotion("T", motion.TypePolicy, "Commerce", "king-01", nil, []string{"Commerce"}, "text", "criteria", nil)
	votes := []*vote.Vote{
		{FinalChoice: ports.ChoiceAye},
		{FinalChoice: ports.ChoiceAye},
		{FinalChoice: ports.ChoiceNay},
		{FinalChoice: ports.ChoiceAbstain},
	}

	tally, err := Recompute(m, votes, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, tally.Ayes)
	assert.Equal(t, 1, tally.Nays)
	assert.Equal(t, 1, tally.Abstentions)
	assert.True(t, tally.Passed)
}

func TestRecomputeZeroVotingVotesFails(t *testing.T) {
	m := motion.NewMotion("T", motion.TypePolicy, "Commerce", "king-01", nil, []string{"Commerce"}, "text", "criteria", nil)
	votes := []*vote.Vote{
		{FinalChoice: ports.ChoiceAbstain},
		{FinalChoice: ports.ChoiceAbstain},
	}

	tally, err := Recompute(m, votes, 0.5)
	require.NoError(t, err)
	assert.False(t, tally.Passed)
}

func TestRecomputeThresholdAppliesToAyesOverAyesPlusNays(t *testing.T) {
	m := motion.NewMotion("T", motion.TypeConstitutional, "Commerce", "king-01", nil, []string{"Commerce"}, "text", "criteria", nil)
	votes := make([]*vote.Vote, 0, 72)
	for i := 0; i < 48; i++ {
		votes = append(votes, &vote.Vote{FinalChoice: ports.ChoiceAye})
	}
	for i := 0; i < 24; i++ {
		votes = append(votes, &vote.Vote{FinalChoice: ports.ChoiceNay})
	}

	tally, err := Recompute(m, votes, 2.0/3.0)
	require.NoError(t, err)
	assert.True(t, tally.Passed)
}

func TestOverrideAssignmentIsIdempotentWhenAppliedTwice(t *testing.T) {
	v1 := &vote.Vote{VoteID: "v1", MotionID: "m1", OptimisticChoice: ports.ChoiceAbstain, FinalChoice: ports.ChoiceAbstain}

	// Apply the same field assignments ApplyOverrides makes for one vote
	// twice, without calling ApplyOverrides itself: an override sets the
	// choice, never increments it.
	applyOnce := func() {
		v1.ValidatedChoice = ports.ChoiceAye
		if v1.ValidatedChoice != v1.OptimisticChoice {
			v1.OverrideApplied = true
		}
		v1.FinalChoice = v1.ValidatedChoice
	}
	applyOnce()
	firstFinal := v1.FinalChoice
	applyOnce()

	assert.Equal(t, firstFinal, v1.FinalChoice)
	assert.Equal(t, ports.ChoiceAye, v1.FinalChoice)
}
