// Package promotion implements the Promotion Service: the atomic
// check-and-consume gate between a MotionSeed and an agenda-eligible
// Motion (§4.6 item 2).
package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/conclave-engine/conclave/internal/admission"
	"github.com/conclave-engine/conclave/internal/motion"
)

// ErrBudgetExceeded is returned when a King has exhausted their
// per-cycle promotion budget.
var ErrBudgetExceeded = errors.New("PROMOTION_BUDGET_EXCEEDED")

// BudgetTracker is the atomic check-and-consume port backing promotion
// budgets. Implementations MUST guarantee atomicity under concurrency
// (§4.6 item 3).
type BudgetTracker interface {
	// TryConsume atomically checks whether consuming one unit of budget
	// for (cycleID, kingID) would exceed cap, and if not, consumes it.
	// It returns true if the unit was consumed.
	TryConsume(ctx context.Context, cycleID, kingID string, cap int) (bool, error)
}

// BudgetRecorder observes promotion-budget exhaustion. internal/metrics
// provides the Prometheus-backed implementation; a nil recorder disables
// emission.
type BudgetRecorder interface {
	IncBudgetExhausted(kingID string)
}

// Service accepts promotion requests, consumes exactly one budget unit
// per request (regardless of how many seeds it references), and on
// success produces a Motion carrying the Admission Gate's verdict.
type Service struct {
	tracker      BudgetTracker
	gate         *admission.Gate
	seeds        *motion.SeedRegistry
	budgetPerKing int
	recorder     BudgetRecorder
}

// NewService constructs a Promotion Service wired to a budget tracker,
// an admission gate, and the seed registry it promotes from.
func NewService(tracker BudgetTracker, gate *admission.Gate, seeds *motion.SeedRegistry, budgetPerKing int) *Service {
	return &Service{tracker: tracker, gate: gate, seeds: seeds, budgetPerKing: budgetPerKing}
}

// SetRecorder attaches a metrics recorder; nil disables emission.
func (s *Service) SetRecorder(r BudgetRecorder) { s.recorder = r }

// Request is the input to a single promotion attempt.
type Request struct {
	CycleID         string
	KingID          string
	SeedRefs        []string
	Title           string
	MotionType      motion.MotionType
	PrimaryRealm    string
	PrimarySponsor  string
	CoSponsors      []string
	Realms          []string
	Text            string
	SuccessCriteria string
	EscalationGranted bool
}

// Promote performs the atomic check-and-consume and, on success, forwards
// the new Motion to the Admission Gate. A single promotion referencing
// multiple seeds consumes exactly one budget unit.
func (s *Service) Promote(ctx context.Context, req Request) (*motion.Motion, error) {
	consumed, err := s.tracker.TryConsume(ctx, req.CycleID, req.KingID, s.budgetPerKing)
	if err != nil {
		return nil, fmt.Errorf("promotion budget check for cycle=%s king=%s: %w", req.CycleID, req.KingID, err)
	}
	if !consumed {
		if s.recorder != nil {
			s.recorder.IncBudgetExhausted(req.KingID)
		}
		return nil, ErrBudgetExceeded
	}

	m := motion.NewMotion(req.Title, req.MotionType, req.PrimaryRealm, req.PrimarySponsor, req.CoSponsors, req.Realms, req.Text, req.SuccessCriteria, req.SeedRefs)
	m.EscalationGranted = req.EscalationGranted

	for _, seedID := range req.SeedRefs {
		if err := s.seeds.MarkPromoted(seedID); err != nil {
			return nil, fmt.Errorf("mark seed %s promoted: %w", seedID, err)
		}
	}

	m.AdmissionRecord = s.gate.Evaluate(m)
	if m.AdmissionRecord.Status == motion.AdmissionAdmitted {
		m.Status = motion.StatusProposed
	}
	return m, nil
}
