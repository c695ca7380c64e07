package debate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-engine/conclave/internal/ports"
	"github.com/conclave-engine/conclave/internal/transcript"
)

type fakeInvoker struct {
	response string
	err      error
}

func (f *fakeInvoker) Invoke(ctx context.Context, archonID, prompt string, timeout time.Duration) (ports.InvokeResult, error) {
	if f.err != nil {
		return ports.InvokeResult{}, f.err
	}
	return ports.InvokeResult{RawContent: f.response}, nil
}

func (f *fakeInvoker) ExecuteValidationTask(ctx context.Context, taskType ports.TaskType, validatorArchonID string, payload ports.VotePayload) (ports.DeliberatorResult, error) {
	return ports.DeliberatorResult{}, nil
}

func (f *fakeInvoker) ExecuteWitnessAdjudication(ctx context.Context, witnessArchonID string, payload ports.VotePayload, results []ports.DeliberatorResult) (ports.AdjudicationResult, error) {
	return ports.AdjudicationResult{}, nil
}

func defaultConfig() Config {
	return Config{
		DebateRounds: 3, DigestInterval: 10, MaxStructuralRisksPerDigest: 3,
		ExploitationPromptEnabled: true, ConsensusBreakEnabled: true,
		ConsensusBreakThreshold: 0.85, ConsensusBreakCount: 3,
		RedTeamEnabled: true, RedTeamCount: 5, RedTeamMinUniqueRanks: 3,
		TaskTimeout: time.Second,
	}
}

func TestProcessSpeechParsesExplicitStance(t *testing.T) {
	tr := transcript.New()
	o := NewOrchestrator(defaultConfig(), &fakeInvoker{response: "STANCE: FOR\nThis motion strengthens the realm."}, tr)

	speech := o.ProcessSpeech(context.Background(), "king-01", "Archon Varun", "prompt", 1, false)
	assert.Equal(t, StanceFor, speech.Stance)
	assert.True(t, speech.StanceExplicit)
	assert.False(t, speech.Violation)
}

func TestProcessSpeechMissingStanceEmitsProcedural(t *testing.T) {
	tr := transcript.New()
	o := NewOrchestrator(defaultConfig(), &fakeInvoker{response: "I have opinions but no clear stance line."}, tr)

	speech := o.ProcessSpeech(context.Background(), "king-01", "Archon Varun", "prompt", 1, false)
	assert.False(t, speech.StanceExplicit)
	assert.Equal(t, StanceNeutral, speech.Stance)

	entries := tr.Entries()
	found := false
	for _, e := range entries {
		if e.EntryType == transcript.EntryProcedural {
			found = true
		}
	}
	assert.True(t, found)
}

func TestProcessSpeechRejectsHiddenReasoningMarkers(t *testing.T) {
	tr := transcript.New()
	o := NewOrchestrator(defaultConfig(), &fakeInvoker{response: "Thought: let me consider.\nSTANCE: FOR"}, tr)

	speech := o.ProcessSpeech(context.Background(), "king-01", "Archon Varun", "prompt", 1, false)
	assert.True(t, speech.Violation)
}

func TestTriggerConsensusBreakAbovethreshold(t *testing.T) {
	tr := transcript.New()
	o := NewOrchestrator(defaultConfig(), &fakeInvoker{}, tr)

	speeches := make([]Speech, 0, 10)
	for i := 0; i < 9; i++ {
		speeches = append(speeches, Speech{Stance: StanceFor})
	}
	speeches = append(speeches, Speech{Stance: StanceAgainst})

	triggered := o.TriggerConsensusBreak(speeches)
	assert.True(t, triggered)
	assert.Equal(t, 3, o.forcedDissentRemaining)
	assert.Equal(t, StanceAgainst, o.forcedDissentStance)
}

func TestDetectStructuralRisksCapped(t *testing.T) {
	o := NewOrchestrator(defaultConfig(), &fakeInvoker{}, transcript.New())
	content := "This grants sole discretion to the council, may also expand its remit, and shall remain in force indefinitely, except as otherwise provided."

	risks := o.DetectStructuralRisks(content)
	assert.LessOrEqual(t, len(risks), 3)
	assert.Contains(t, risks, "INTERPRETIVE_AUTHORITY")
}

func TestSelectRedTeamRankDiversity(t *testing.T) {
	candidates := []ports.ArchonProfile{
		{ArchonID: "a1", Rank: 1}, {ArchonID: "a2", Rank: 1},
		{ArchonID: "a3", Rank: 2}, {ArchonID: "a4", Rank: 3},
		{ArchonID: "a5", Rank: 3}, {ArchonID: "a6", Rank: 4},
	}

	selected := SelectRedTeam(candidates, 4, 3)
	require.Len(t, selected, 4)

	ranks := map[int]struct{}{}
	for _, s := range selected {
		ranks[s.Rank] = struct{}{}
	}
	assert.GreaterOrEqual(t, len(ranks), 3)
}

func TestSelectRedTeamHandlesSmallPool(t *testing.T) {
	candidates := []ports.ArchonProfile{{ArchonID: "a1", Rank: 1}}
	selected := SelectRedTeam(candidates, 5, 3)
	assert.Len(t, selected, 1)
}

func TestBuildDigestIncludesTopArgumentsAndConcerns(t *testing.T) {
	o := NewOrchestrator(defaultConfig(), &fakeInvoker{}, transcript.New())

	speeches := []Speech{
		{Stance: StanceFor, RawContent: "STANCE: FOR\nThis strengthens trade routes across the realm."},
		{Stance: StanceFor, RawContent: "STANCE: FOR\nIt also formalizes tariff collection."},
		{Stance: StanceAgainst, RawContent: "STANCE: AGAINST\nThe enforcement budget is unfunded."},
		{Stance: StanceNeutral, RawContent: "STANCE: NEUTRAL\nUnclear how this interacts with existing treaties."},
	}

	digest := o.BuildDigest(speeches, "")
	assert.Contains(t, digest, "Top FOR Arguments")
	assert.Contains(t, digest, "strengthens trade routes")
	assert.Contains(t, digest, "Top AGAINST Arguments")
	assert.Contains(t, digest, "enforcement budget is unfunded")
	assert.Contains(t, digest, "Notable Concerns")
	assert.Contains(t, digest, "interacts with existing treaties")
}
