// Package validator implements the three-tier asynchronous vote
// validation pipeline (§4.4): Deliberator 1 (text-analysis), Deliberator 2
// (json-validation), and a Witness running intent confirmation followed
// by adjudication, all gated by a single bounded-concurrency semaphore.
package validator

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/conclave-engine/conclave/internal/concurrency"
	"github.com/conclave-engine/conclave/internal/ports"
)

// Recorder receives validator metrics. internal/metrics provides the
// Prometheus-backed implementation; a nil Recorder disables emission.
type Recorder interface {
	ObserveConcurrency(inFlight int)
	ObserveValidationLatency(d time.Duration)
	IncDegradedMode()
}

// Job is one vote's validation state, owned exclusively by the validator
// until completion, then handed to the completed-job map (§3 Ownership).
type Job struct {
	VoteID       string
	Payload      ports.VotePayload
	Phase1       map[ports.TaskType]ports.DeliberatorResult
	Adjudication ports.AdjudicationResult
	FinalVote    ports.Choice
	Degraded     bool // all three Phase-1 tasks failed; fell back to optimistic vote
	done         chan struct{}
	closeOnce    sync.Once
}

func newJob(voteID string, payload ports.VotePayload) *Job {
	return &Job{VoteID: voteID, Payload: payload, Phase1: make(map[ports.TaskType]ports.DeliberatorResult), done: make(chan struct{})}
}

func (j *Job) markDone() {
	j.closeOnce.Do(func() { close(j.done) })
}

// Done returns the channel that closes when this job's validation
// completes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Config tunes the validator per SPEC_FULL.md §6.
type Config struct {
	VotingConcurrency int
	TaskTimeout       time.Duration
	WitnessArchonID   string
}

// Validator runs the three-tier pipeline for every submitted vote under a
// single semaphore of capacity cfg.VotingConcurrency.
type Validator struct {
	cfg      Config
	sem      *concurrency.Semaphore
	invoker  ports.AgentInvoker
	profiles ports.ArchonProfileRepository
	audit    ports.AuditPublisher
	logger   *logrus.Logger
	metrics  Recorder

	mu        sync.RWMutex
	pending   map[string]*Job
	completed map[string]*Job
}

// New constructs a Validator.
func New(cfg Config, invoker ports.AgentInvoker, profiles ports.ArchonProfileRepository, audit ports.AuditPublisher, logger *logrus.Logger, metrics Recorder) *Validator {
	return &Validator{
		cfg:       cfg,
		sem:       concurrency.NewSemaphore(cfg.VotingConcurrency),
		invoker:   invoker,
		profiles:  profiles,
		audit:     audit,
		logger:    logger,
		metrics:   metrics,
		pending:   make(map[string]*Job),
		completed: make(map[string]*Job),
	}
}

// Submit enqueues a vote for asynchronous validation and returns
// immediately; the caller must not block on the result (§4.3 step 5).
func (v *Validator) Submit(ctx context.Context, voteID string, payload ports.VotePayload) *Job {
	job := newJob(voteID, payload)

	v.mu.Lock()
	v.pending[voteID] = job
	v.mu.Unlock()

	go v.run(context.Background(), job)
	return job
}

// Pending returns the vote IDs still awaiting completion.
func (v *Validator) Pending() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.pending))
	for id := range v.pending {
		out = append(out, id)
	}
	return out
}

// Completed returns the job for a vote once validation has finished.
func (v *Validator) Completed(voteID string) (*Job, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	j, ok := v.completed[voteID]
	return j, ok
}

func (v *Validator) run(ctx context.Context, job *Job) {
	started := time.Now()
	defer func() {
		if v.metrics != nil {
			v.metrics.ObserveValidationLatency(time.Since(started))
		}
		v.finish(job)
	}()

	d1, d2, witness, err := v.selectValidators(ctx, job.Payload.ArchonID)
	if err != nil {
		v.logger.WithError(err).WithField("vote_id", job.VoteID).Error("validator role selection failed")
		job.Degraded = true
		job.FinalVote = job.Payload.OptimisticChoice
		return
	}

	v.runPhase1(ctx, job, d1, d2, witness)

	failed := countFailed(job.Phase1)
	if failed == 3 {
		job.Degraded = true
		job.FinalVote = job.Payload.OptimisticChoice
		if v.metrics != nil {
			v.metrics.IncDegradedMode()
		}
		v.logger.WithField("vote_id", job.VoteID).Warn("all three phase-1 validators failed; falling back to optimistic vote")
		return
	}

	v.runPhase2(ctx, job, witness, failed)
}

func countFailed(results map[ports.TaskType]ports.DeliberatorResult) int {
	count := 0
	for _, r := range results {
		if !r.ParseSuccess {
			count++
		}
	}
	return count
}

// selectValidators deterministically assigns Deliberator 1, Deliberator 2,
// and Witness roles from disjoint thirds of the roster, never assigning
// the voting Archon to validate their own ballot unless their third of the
// roster holds no other Archon.
func (v *Validator) selectValidators(ctx context.Context, votingArchonID string) (d1, d2, witness ports.ArchonProfile, err error) {
	all, err := v.profiles.GetAll(ctx)
	if err != nil {
		return ports.ArchonProfile{}, ports.ArchonProfile{}, ports.ArchonProfile{}, fmt.Errorf("load roster: %w", err)
	}
	if len(all) < 3 {
		return ports.ArchonProfile{}, ports.ArchonProfile{}, ports.ArchonProfile{}, fmt.Errorf("roster too small for three-tier validation: %d", len(all))
	}

	third := len(all) / 3
	firstThird := all[:third]
	secondThird := all[third : 2*third]
	thirdThird := all[2*third:]

	d1 = pickDeterministic(firstThird, votingArchonID, "deliberator-1")
	d2 = pickDeterministic(secondThird, votingArchonID, "deliberator-2")

	if v.cfg.WitnessArchonID != "" {
		for _, p := range thirdThird {
			if p.ArchonID == v.cfg.WitnessArchonID && p.ArchonID != votingArchonID {
				witness = p
				break
			}
		}
	}
	if witness.ArchonID == "" {
		witness = pickDeterministic(thirdThird, votingArchonID, "witness")
	}
	return d1, d2, witness, nil
}

func pickDeterministic(pool []ports.ArchonProfile, votingArchonID, salt string) ports.ArchonProfile {
	h := fnv.New32a()
	h.Write([]byte(votingArchonID))
	h.Write([]byte(salt))
	idx := int(h.Sum32()) % len(pool)
	if idx < 0 {
		idx += len(pool)
	}
	candidate := pool[idx]
	if candidate.ArchonID != votingArchonID || len(pool) == 1 {
		return candidate
	}
	return pool[(idx+1)%len(pool)]
}

// runPhase1 runs the three Phase-1 tasks concurrently, each gated by the
// shared semaphore and bounded by TaskTimeout, with a fallback result on
// failure or timeout (§4.4 step 1).
func (v *Validator) runPhase1(ctx context.Context, job *Job, d1, d2, witness ports.ArchonProfile) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(context.Background())

	tasks := []struct {
		taskType ports.TaskType
		archonID string
	}{
		{ports.TaskTextAnalysis, d1.ArchonID},
		{ports.TaskJSONValidation, d2.ArchonID},
		{ports.TaskWitnessConfirm, witness.ArchonID},
	}

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			result := v.runSingleTask(gctx, task.taskType, task.archonID, job.Payload)
			mu.Lock()
			job.Phase1[task.taskType] = result
			mu.Unlock()
			return nil // individual task failures never propagate (§4.4)
		})
	}
	_ = g.Wait()
}

func (v *Validator) runSingleTask(ctx context.Context, taskType ports.TaskType, archonID string, payload ports.VotePayload) ports.DeliberatorResult {
	if err := v.sem.Acquire(ctx); err != nil {
		return ports.DeliberatorResult{TaskType: taskType, ParseSuccess: false, Error: err.Error()}
	}
	defer v.sem.Release()
	if v.metrics != nil {
		v.metrics.ObserveConcurrency(v.sem.Current())
	}

	taskCtx, cancel := context.WithTimeout(ctx, v.cfg.TaskTimeout)
	defer cancel()

	result, err := v.invoker.ExecuteValidationTask(taskCtx, taskType, archonID, payload)
	if err != nil {
		return ports.DeliberatorResult{TaskType: taskType, ParseSuccess: false, Error: err.Error()}
	}
	result.TaskType = taskType
	return result
}

// runPhase2 runs Witness adjudication over the Phase-1 results, applying
// the degraded-mode policy table from §4.4.
func (v *Validator) runPhase2(ctx context.Context, job *Job, witness ports.ArchonProfile, failedCount int) {
	if err := v.sem.Acquire(ctx); err != nil {
		job.FinalVote = majorityOrAbstain(job.Phase1)
		job.Adjudication = ports.AdjudicationResult{FinalVote: job.FinalVote, Ruling: "NON_CONSENSUS"}
		return
	}
	defer v.sem.Release()

	taskCtx, cancel := context.WithTimeout(ctx, v.cfg.TaskTimeout)
	defer cancel()

	results := make([]ports.DeliberatorResult, 0, 3)
	for _, t := range []ports.TaskType{ports.TaskTextAnalysis, ports.TaskJSONValidation, ports.TaskWitnessConfirm} {
		if r, ok := job.Phase1[t]; ok {
			results = append(results, r)
		}
	}

	adjudication, err := v.invoker.ExecuteWitnessAdjudication(taskCtx, witness.ArchonID, job.Payload, results)
	if err != nil {
		// "Adjudication LLM fails" row: fall back to majority of Phase-1
		// results with no RETORT.
		job.FinalVote = majorityOrAbstain(job.Phase1)
		job.Adjudication = ports.AdjudicationResult{FinalVote: job.FinalVote, Ruling: "CONFIRMED_BY_MAJORITY_FALLBACK"}
		return
	}

	if failedCount == 2 {
		adjudication.Ruling = "RETORT"
	}
	job.Adjudication = adjudication
	job.FinalVote = adjudication.FinalVote
}

func majorityOrAbstain(results map[ports.TaskType]ports.DeliberatorResult) ports.Choice {
	counts := map[ports.Choice]int{}
	for _, r := range results {
		if r.ParseSuccess && r.VoteChoice != ports.ChoiceNone {
			counts[r.VoteChoice]++
		}
	}
	best := ports.ChoiceAbstain
	bestCount := 0
	tie := false
	for choice, count := range counts {
		if count > bestCount {
			best = choice
			bestCount = count
			tie = false
		} else if count == bestCount && count > 0 {
			tie = true
		}
	}
	if tie || bestCount == 0 {
		return ports.ChoiceAbstain
	}
	return best
}

func (v *Validator) finish(job *Job) {
	v.mu.Lock()
	delete(v.pending, job.VoteID)
	v.completed[job.VoteID] = job
	v.mu.Unlock()
	job.markDone()

	if v.audit != nil {
		_ = v.audit.Publish(context.Background(), ports.TopicVotesValidated, ports.AuditMessage{
			VoteID: job.VoteID, Choice: job.FinalVote, Timestamp: time.Now(),
			Fields: map[string]any{"degraded": job.Degraded, "ruling": job.Adjudication.Ruling},
		})
	}
}
