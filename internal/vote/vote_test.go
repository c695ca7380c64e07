package vote

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conclave-engine/conclave/internal/ports"
)

func TestParseOptimisticPrefersJSONFirstLine(t *testing.T) {
	assert.Equal(t, ports.ChoiceAye, ParseOptimistic(`{"choice":"AYE"}` + "\nI believe this is sound policy."))
	assert.Equal(t, ports.ChoiceNay, ParseOptimistic(`{"choice":"NAY"}`))
	assert.Equal(t, ports.ChoiceAbstain, ParseOptimistic(`{"choice":"ABSTAIN"}`))
}

func TestParseOptimisticFallsBackToSynonyms(t *testing.T) {
	assert.Equal(t, ports.ChoiceAye, ParseOptimistic("Vote: FOR the motion, it strengthens commerce."))
	assert.Equal(t, ports.ChoiceAye, ParseOptimistic("I VOTE AYE on this."))
	assert.Equal(t, ports.ChoiceNay, ParseOptimistic("My vote: AGAINST, this is reckless."))
}

func TestParseOptimisticStripsMarkdown(t *testing.T) {
	assert.Equal(t, ports.ChoiceAye, ParseOptimistic("**I vote AYE** on this motion."))
}

func TestParseOptimisticDefaultsToAbstainWhenUnrecognizable(t *testing.T) {
	assert.Equal(t, ports.ChoiceAbstain, ParseOptimistic("I have thoughts but no clear position."))
}

func TestDetectDivergenceNoMismatch(t *testing.T) {
	d := DetectDivergence("king-01", "FOR", ports.ChoiceAye, "")
	assert.Nil(t, d)
}

func TestDetectDivergenceUnexplainedMismatch(t *testing.T) {
	d := DetectDivergence("king-01", "FOR", ports.ChoiceNay, "")
	if assert.NotNil(t, d) {
		assert.False(t, d.Explained)
		assert.Equal(t, ports.ChoiceNay, d.VoteChoice)
	}
}

func TestDetectDivergenceExplainedMismatch(t *testing.T) {
	d := DetectDivergence("king-01", "FOR", ports.ChoiceNay, "I reconsidered after the red-team round.")
	if assert.NotNil(t, d) {
		assert.True(t, d.Explained)
	}
}

func TestNewVoteSetsFinalToOptimisticInitially(t *testing.T) {
	v := NewVote("session-1", "motion-1", "king-01", `{"choice":"AYE"}`)
	assert.Equal(t, ports.ChoiceAye, v.OptimisticChoice)
	assert.Equal(t, ports.ChoiceAye, v.FinalChoice)
	assert.False(t, v.OverrideApplied)
}
