package validator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-engine/conclave/internal/ports"
	"github.com/conclave-engine/conclave/internal/profiles"
)

func testRoster(t *testing.T, n int) *profiles.Repository {
	t.Helper()
	yamlDoc := "archons:\n"
	for i := 0; i < n; i++ {
		yamlDoc += fmt.Sprintf(`  - archon_id: archon-%02d
    name: "Archon %02d"
    branch: "House"
    rank: %d
    system_prompt: "You deliberate."
    llm_config:
      provider: openai
      model: gpt-4o
      temperature: 0.3
      max_tokens: 512
`, i, i, i%5)
	}
	repo, err := profiles.LoadFromBytes([]byte(yamlDoc))
	require.NoError(t, err)
	return repo
}

type fakeInvoker struct {
	validationFn   func(ctx context.Context, taskType ports.TaskType, archonID string, payload ports.VotePayload) (ports.DeliberatorResult, error)
	adjudicationFn func(ctx context.Context, witnessArchonID string, payload ports.VotePayload, results []ports.DeliberatorResult) (ports.AdjudicationResult, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, archonID, prompt string, timeout time.Duration) (ports.InvokeResult, error) {
	return ports.InvokeResult{}, nil
}

func (f *fakeInvoker) ExecuteValidationTask(ctx context.Context, taskType ports.TaskType, validatorArchonID string, payload ports.VotePayload) (ports.DeliberatorResult, error) {
	return f.validationFn(ctx, taskType, validatorArchonID, payload)
}

func (f *fakeInvoker) ExecuteWitnessAdjudication(ctx context.Context, witnessArchonID string, payload ports.VotePayload, results []ports.DeliberatorResult) (ports.AdjudicationResult, error) {
	return f.adjudicationFn(ctx, witnessArchonID, payload, results)
}

func newTestValidator(invoker ports.AgentInvoker, repo *profiles.Repository) *Validator {
	cfg := Config{VotingConcurrency: 4, TaskTimeout: 2 * time.Second, WitnessArchonID: ""}
	return New(cfg, invoker, repo, nil, logrus.New(), nil)
}

func TestUnanimousAgreementConfirms(t *testing.T) {
	repo := testRoster(t, 9)
	invoker := &fakeInvoker{
		validationFn: func(ctx context.Context, taskType ports.TaskType, archonID string, payload ports.VotePayload) (ports.DeliberatorResult, error) {
			return ports.DeliberatorResult{ParseSuccess: true, VoteChoice: ports.ChoiceAye}, nil
		},
		adjudicationFn: func(ctx context.Context, witnessArchonID string, payload ports.VotePayload, results []ports.DeliberatorResult) (ports.AdjudicationResult, error) {
			return ports.AdjudicationResult{FinalVote: ports.ChoiceAye, Ruling: "CONFIRMED"}, nil
		},
	}
	v := newTestValidator(invoker, repo)

	job := v.Submit(context.Background(), "vote-1", ports.VotePayload{ArchonID: "archon-00", OptimisticChoice: ports.ChoiceAye})
	waitForJob(t, job)

	assert.Equal(t, ports.ChoiceAye, job.FinalVote)
	assert.False(t, job.Degraded)
	assert.Equal(t, "CONFIRMED", job.Adjudication.Ruling)
}

func TestAllThreePhase1FailuresFallsBackToOptimistic(t *testing.T) {
	repo := testRoster(t, 9)
	invoker := &fakeInvoker{
		validationFn: func(ctx context.Context, taskType ports.TaskType, archonID string, payload ports.VotePayload) (ports.DeliberatorResult, error) {
			return ports.DeliberatorResult{}, fmt.Errorf("llm unavailable")
		},
		adjudicationFn: func(ctx context.Context, witnessArchonID string, payload ports.VotePayload, results []ports.DeliberatorResult) (ports.AdjudicationResult, error) {
			t.Fatal("adjudication must not be invoked when all three phase-1 tasks fail")
			return ports.AdjudicationResult{}, nil
		},
	}
	v := newTestValidator(invoker, repo)

	job := v.Submit(context.Background(), "vote-2", ports.VotePayload{ArchonID: "archon-00", OptimisticChoice: ports.ChoiceNay})
	waitForJob(t, job)

	assert.True(t, job.Degraded)
	assert.Equal(t, ports.ChoiceNay, job.FinalVote)
}

func TestTwoOfThreeFailuresFlagsRetort(t *testing.T) {
	repo := testRoster(t, 9)
	callCount := 0
	invoker := &fakeInvoker{
		validationFn: func(ctx context.Context, taskType ports.TaskType, archonID string, payload ports.VotePayload) (ports.DeliberatorResult, error) {
			callCount++
			if taskType == ports.TaskWitnessConfirm {
				return ports.DeliberatorResult{ParseSuccess: true, VoteChoice: ports.ChoiceAye}, nil
			}
			return ports.DeliberatorResult{}, fmt.Errorf("down")
		},
		adjudicationFn: func(ctx context.Context, witnessArchonID string, payload ports.VotePayload, results []ports.DeliberatorResult) (ports.AdjudicationResult, error) {
			return ports.AdjudicationResult{FinalVote: ports.ChoiceAye, Ruling: "CONFIRMED"}, nil
		},
	}
	v := newTestValidator(invoker, repo)

	job := v.Submit(context.Background(), "vote-3", ports.VotePayload{ArchonID: "archon-00", OptimisticChoice: ports.ChoiceAbstain})
	waitForJob(t, job)

	assert.False(t, job.Degraded)
	assert.Equal(t, "RETORT", job.Adjudication.Ruling)
}

func TestAdjudicationFailureFallsBackToPhase1Majority(t *testing.T) {
	repo := testRoster(t, 9)
	invoker := &fakeInvoker{
		validationFn: func(ctx context.Context, taskType ports.TaskType, archonID string, payload ports.VotePayload) (ports.DeliberatorResult, error) {
			return ports.DeliberatorResult{ParseSuccess: true, VoteChoice: ports.ChoiceNay}, nil
		},
		adjudicationFn: func(ctx context.Context, witnessArchonID string, payload ports.VotePayload, results []ports.DeliberatorResult) (ports.AdjudicationResult, error) {
			return ports.AdjudicationResult{}, fmt.Errorf("witness llm down")
		},
	}
	v := newTestValidator(invoker, repo)

	job := v.Submit(context.Background(), "vote-4", ports.VotePayload{ArchonID: "archon-00", OptimisticChoice: ports.ChoiceAye})
	waitForJob(t, job)

	assert.Equal(t, ports.ChoiceNay, job.FinalVote)
	assert.NotEqual(t, "RETORT", job.Adjudication.Ruling)
}

func TestSelectValidatorsNeverAssignsVotingArchonToValidateOwnBallot(t *testing.T) {
	repo := testRoster(t, 9)
	v := newTestValidator(&fakeInvoker{}, repo)

	for i := 0; i < 9; i++ {
		archonID := fmt.Sprintf("archon-%02d", i)
		d1, d2, witness, err := v.selectValidators(context.Background(), archonID)
		require.NoError(t, err)
		assert.NotEqual(t, archonID, d1.ArchonID)
		assert.NotEqual(t, archonID, d2.ArchonID)
		assert.NotEqual(t, archonID, witness.ArchonID)
	}
}

func waitForJob(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not complete in time")
	}
}
