// Package ports defines the boundary interfaces the Conclave core depends on.
// Every concrete adapter (LLM clients, message brokers, trackers) lives
// outside this package and is wired in at the composition root.
package ports

import (
	"context"
	"time"
)

// Choice is a vote or stance resolution.
type Choice string

const (
	ChoiceAye     Choice = "AYE"
	ChoiceNay     Choice = "NAY"
	ChoiceAbstain Choice = "ABSTAIN"
	ChoiceNone    Choice = ""
)

// TaskType names a validator phase-1 task.
type TaskType string

const (
	TaskTextAnalysis   TaskType = "text_analysis"
	TaskJSONValidation TaskType = "json_validation"
	TaskWitnessConfirm TaskType = "witness_confirm"
)

// InvokeResult is the response from a single Archon invocation.
type InvokeResult struct {
	RawContent string
	LatencyMs  int64
	Metadata   map[string]string
}

// DeliberatorResult is the outcome of one phase-1 validation task.
// ParseSuccess is false on timeout or unparseable output; in that case
// VoteChoice carries the zero value and core logic must treat it as a
// non-vote for majority purposes rather than as an explicit ABSTAIN.
type DeliberatorResult struct {
	TaskType            TaskType
	VoteChoice          Choice
	ParseSuccess        bool
	Confidence          float64
	ReasoningSummary    string
	AmbiguityFlags      []string
	StructuralValid     bool
	Contradictions      []string
	MotionAlignment     string
	IntentClear         bool
	Error               string
}

// AdjudicationResult is the outcome of phase-2 witness adjudication.
type AdjudicationResult struct {
	FinalVote       Choice
	Ruling          string // "CONFIRMED" or "RETORT"
	RetortReason    string
	WitnessStatement string
}

// AgentInvoker abstracts LLM provider access so the core is provider-agnostic.
// Per-Archon model binding is resolved by the implementation from profile
// records (see ArchonProfileRepository); core code never selects a model.
type AgentInvoker interface {
	Invoke(ctx context.Context, archonID string, prompt string, timeout time.Duration) (InvokeResult, error)
	ExecuteValidationTask(ctx context.Context, taskType TaskType, validatorArchonID string, votePayload VotePayload) (DeliberatorResult, error)
	ExecuteWitnessAdjudication(ctx context.Context, witnessArchonID string, votePayload VotePayload, deliberatorResults []DeliberatorResult) (AdjudicationResult, error)
}

// VotePayload carries the context a deliberator or witness needs to judge a vote.
type VotePayload struct {
	SessionID       string
	MotionID        string
	VoteID          string
	ArchonID        string
	RawContent      string
	MotionText      string
	OptimisticChoice Choice
	LastStance      string
}

// LLMBinding is the per-Archon LLM configuration.
type LLMBinding struct {
	Provider    string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	NumCtx      int
}

// ArchonProfile is the single source of truth for an Archon's persona and
// LLM binding. Core code must never hard-code model names or URLs.
type ArchonProfile struct {
	ArchonID     string
	Name         string
	Branch       string
	Rank         int
	SystemPrompt string
	Backstory    string
	LLM          LLMBinding
}

// ArchonProfileRepository resolves Archon profiles.
type ArchonProfileRepository interface {
	GetAll(ctx context.Context) ([]ArchonProfile, error)
	Count(ctx context.Context) (int, error)
	Get(ctx context.Context, archonID string) (ArchonProfile, error)
}

// ArchonCountProvider returns the dynamic roster size. Core code derives
// every quorum/supermajority threshold from this, never from a constant.
type ArchonCountProvider interface {
	Total(ctx context.Context) (int, error)
}

// Mandate is an immutable, ratified motion ledger entry.
type Mandate struct {
	MandateID     string
	MotionID      string
	Title         string
	Text          string
	MotionType    string
	PassedAt      time.Time
	VoteResult    VoteResult
	Proposer      string
	Seconder      string
	LedgerEntryID string
}

// VoteResult is the final tally for a motion.
type VoteResult struct {
	Ayes       int
	Nays       int
	Abstentions int
	Passed     bool
	Threshold  float64
}

// MotionLedger is an append-only mandate store with atomic-rename writes.
type MotionLedger interface {
	WriteMandate(ctx context.Context, m Mandate) error
	List(ctx context.Context) ([]Mandate, error)
}

// CircuitState is the state of an AuditPublisher's circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// AuditPublisher publishes non-critical-path audit events. Implementations
// must never block core progress; a circuit breaker governs degraded mode.
type AuditPublisher interface {
	Publish(ctx context.Context, topic string, message AuditMessage) error
	State() CircuitState
}

// AuditMessage is the stable envelope published on every audit topic.
type AuditMessage struct {
	SessionID string
	MotionID  string
	VoteID    string
	Timestamp time.Time
	Choice    Choice
	Fields    map[string]any
}

// Audit topic names, per SPEC_FULL.md §6.
const (
	TopicVotesCast               = "votes.cast"
	TopicVotesValidationStarted  = "votes.validation-started"
	TopicVotesDeliberationResult = "votes.deliberation-results"
	TopicVotesValidated          = "votes.validated"
	TopicVotesOverrides          = "votes.overrides"
	TopicWitnessStatements       = "witness.statements"
	TopicConsensusFailures       = "consensus.failures"
	TopicSessionsCheckpoints     = "sessions.checkpoints"
	TopicSessionsTranscripts     = "sessions.transcripts"
)
