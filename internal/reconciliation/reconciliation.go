// Package reconciliation implements the Reconciliation Gate: draining
// pending vote validations, applying overrides, and recomputing tallies
// under the P6 invariant (§4.5).
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/conclave-engine/conclave/internal/motion"
	"github.com/conclave-engine/conclave/internal/ports"
	"github.com/conclave-engine/conclave/internal/validator"
	"github.com/conclave-engine/conclave/internal/vote"
)

// ReconciliationIncompleteError is raised when Drain's timeout expires
// with jobs still pending (§4.4, §7 — a hard gate; adjournment is not
// completed and the ledger is not written).
type ReconciliationIncompleteError struct {
	PendingVoteIDs []string
}

func (e *ReconciliationIncompleteError) Error() string {
	return fmt.Sprintf("reconciliation incomplete: %d vote(s) still pending: %v", len(e.PendingVoteIDs), e.PendingVoteIDs)
}

// TallyInvariantViolation is raised during tally recompute when
// ayes+nays+abstentions != len(votes) (P6).
type TallyInvariantViolation struct {
	MotionID string
	Ayes     int
	Nays     int
	Abstain  int
	VoteCount int
}

func (e *TallyInvariantViolation) Error() string {
	return fmt.Sprintf("tally invariant violated for motion %s: ayes=%d nays=%d abstain=%d but votes=%d", e.MotionID, e.Ayes, e.Nays, e.Abstain, e.VoteCount)
}

// OverrideEntry records one vote whose final choice diverged from its
// optimistic tally during reconciliation.
type OverrideEntry struct {
	VoteID           string
	MotionID         string
	OriginalChoice   ports.Choice
	ValidatedChoice  ports.Choice
	WitnessRuling    string
}

// DrainRecorder observes how long a reconciliation drain takes.
// internal/metrics provides the Prometheus-backed implementation; a nil
// recorder disables emission.
type DrainRecorder interface {
	ObserveDrainDuration(d time.Duration)
}

// Gate drains a Validator's pending jobs and applies their results to the
// session's in-memory Motions and Votes.
type Gate struct {
	val      *validator.Validator
	recorder DrainRecorder
}

// NewGate constructs a Reconciliation Gate over the given Validator.
func NewGate(val *validator.Validator) *Gate {
	return &Gate{val: val}
}

// SetRecorder attaches a metrics recorder; nil disables emission.
func (g *Gate) SetRecorder(r DrainRecorder) { g.recorder = r }

// Drain awaits completion of every currently pending validation job
// within timeout. It returns the vote IDs that completed during the
// wait; on timeout it returns a *ReconciliationIncompleteError.
func (g *Gate) Drain(ctx context.Context, timeout time.Duration) ([]string, error) {
	start := time.Now()
	if g.recorder != nil {
		defer func() { g.recorder.ObserveDrainDuration(time.Since(start)) }()
	}

	deadline := start.Add(timeout)
	pendingIDs := g.val.Pending()

	completed := make([]string, 0, len(pendingIDs))
	remaining := make(map[string]struct{}, len(pendingIDs))
	for _, id := range pendingIDs {
		remaining[id] = struct{}{}
	}

	for len(remaining) > 0 {
		if time.Now().After(deadline) {
			still := make([]string, 0, len(remaining))
			for id := range remaining {
				still = append(still, id)
			}
			return completed, &ReconciliationIncompleteError{PendingVoteIDs: still}
		}
		for id := range remaining {
			if job, ok := g.val.Completed(id); ok {
				_ = job
				completed = append(completed, id)
				delete(remaining, id)
			}
		}
		if len(remaining) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			still := make([]string, 0, len(remaining))
			for id := range remaining {
				still = append(still, id)
			}
			return completed, &ReconciliationIncompleteError{PendingVoteIDs: still}
		case <-time.After(10 * time.Millisecond):
		}
	}
	return completed, nil
}

// ApplyOverrides overwrites each vote's final choice with its validated
// result where they diverge, returning the overrides applied and the set
// of affected motion IDs.
func ApplyOverrides(votes []*vote.Vote, val *validator.Validator) ([]OverrideEntry, map[string]struct{}) {
	var overrides []OverrideEntry
	affected := make(map[string]struct{})

	for _, v := range votes {
		job, ok := val.Completed(v.VoteID)
		if !ok || job.Degraded {
			continue
		}
		v.ValidatedChoice = job.FinalVote
		v.WitnessRuling = job.Adjudication.Ruling

		if job.FinalVote != v.OptimisticChoice {
			overrides = append(overrides, OverrideEntry{
				VoteID: v.VoteID, MotionID: v.MotionID,
				OriginalChoice: v.OptimisticChoice, ValidatedChoice: job.FinalVote,
				WitnessRuling: job.Adjudication.Ruling,
			})
			v.OverrideApplied = true
			v.Reasoning = v.Reasoning + fmt.Sprintf(" [Validated: %s]", job.FinalVote)
			affected[v.MotionID] = struct{}{}
		}
		v.FinalChoice = job.FinalVote
	}
	return overrides, affected
}

// Tally is the recomputed result for one motion.
type Tally struct {
	Ayes        int
	Nays        int
	Abstentions int
	Passed      bool
}

// Recompute enforces the P6 invariant and the pass/fail arithmetic from
// §4.5 step 3 for a single motion's final votes.
func Recompute(m *motion.Motion, votes []*vote.Vote, threshold float64) (Tally, error) {
	var ayes, nays, abstain int
	for _, v := range votes {
		switch v.FinalChoice {
		case ports.ChoiceAye:
			ayes++
		case ports.ChoiceNay:
			nays++
		case ports.ChoiceAbstain:
			abstain++
		}
	}

	if ayes+nays+abstain != len(votes) {
		return Tally{}, &TallyInvariantViolation{MotionID: m.MotionID, Ayes: ayes, Nays: nays, Abstain: abstain, VoteCount: len(votes)}
	}

	passed := false
	if denom := ayes + nays; denom > 0 {
		passed = float64(ayes)/float64(denom) >= threshold
	}

	return Tally{Ayes: ayes, Nays: nays, Abstentions: abstain, Passed: passed}, nil
}
