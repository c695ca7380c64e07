// Package config loads the Conclave engine's runtime configuration from
// the environment, following the same getEnv/getIntEnv helper convention
// used throughout the rest of this codebase's ancestry.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MotionType enumerates the three agenda-eligible motion kinds.
type MotionType string

const (
	MotionPolicy        MotionType = "policy"
	MotionConstitutional MotionType = "constitutional"
	MotionProcedural    MotionType = "procedural"
)

// Config is the full set of recognized options from SPEC_FULL.md §6.
type Config struct {
	// Vote validation
	VotingConcurrency    int
	TaskTimeoutSeconds   time.Duration
	ReconciliationTimeout time.Duration

	// Debate
	DebateRounds                int
	DigestInterval              int
	MaxStructuralRisksPerDigest int
	ExploitationPromptEnabled   bool
	ConsensusBreakEnabled       bool
	ConsensusBreakThreshold     float64
	ConsensusBreakCount         int
	RedTeamEnabled              bool
	RedTeamCount                int
	RedTeamMinUniqueRanks       int
	SecondingWindow             time.Duration

	// Motion lifecycle
	MotionThreshold               map[MotionType]float64
	PromotionBudgetPerKing        int
	PromotionTrackerBackend       string // "file" or "redis"
	CrossRealmEscalationThreshold int

	// Roster
	ArchonCount              int
	WitnessArchonID          string
	SecretaryTextArchonID    string
	SecretaryJSONArchonID    string
	ExecutionPlannerArchonID string
	ArchonRosterPath         string

	// Audit
	AuditBackend                 string // "kafka", "amqp", "noop"
	AuditCircuitFailureThreshold int
	AuditCircuitResetTimeout     time.Duration
	AuditBrokerAddrs             []string

	// Outbound LLM traffic
	LLMRequestsPerSecond int

	// Ambient
	MetricsEnabled bool
	LogLevel       string

	// Storage paths
	TranscriptDir string
	CheckpointDir string
	LedgerDir     string
}

// Load assembles the configuration from environment variables, applying
// the defaults named throughout SPEC_FULL.md §6.
func Load() *Config {
	return &Config{
		VotingConcurrency:     getIntEnv("VOTING_CONCURRENCY", 8),
		TaskTimeoutSeconds:    getDurationEnv("TASK_TIMEOUT_SECONDS", 60*time.Second),
		ReconciliationTimeout: getDurationEnv("RECONCILIATION_TIMEOUT", 120*time.Second),

		DebateRounds:                getIntEnv("DEBATE_ROUNDS", 3),
		DigestInterval:              getIntEnv("DIGEST_INTERVAL", 10),
		MaxStructuralRisksPerDigest: getIntEnv("MAX_STRUCTURAL_RISKS_PER_DIGEST", 3),
		ExploitationPromptEnabled:   getBoolEnv("EXPLOITATION_PROMPT_ENABLED", true),
		ConsensusBreakEnabled:       getBoolEnv("CONSENSUS_BREAK_ENABLED", true),
		ConsensusBreakThreshold:     getFloatEnv("CONSENSUS_BREAK_THRESHOLD", 0.85),
		ConsensusBreakCount:         getIntEnv("CONSENSUS_BREAK_COUNT", 3),
		RedTeamEnabled:              getBoolEnv("RED_TEAM_ENABLED", true),
		RedTeamCount:                getIntEnv("RED_TEAM_COUNT", 5),
		RedTeamMinUniqueRanks:       getIntEnv("RED_TEAM_MIN_UNIQUE_RANKS", 3),
		SecondingWindow:             getDurationEnv("SECONDING_WINDOW", 5*time.Minute),

		MotionThreshold: map[MotionType]float64{
			MotionConstitutional: getFloatEnv("MOTION_THRESHOLD_CONSTITUTIONAL", 2.0/3.0),
			MotionPolicy:         getFloatEnv("MOTION_THRESHOLD_POLICY", 0.5),
			MotionProcedural:     getFloatEnv("MOTION_THRESHOLD_PROCEDURAL", 0.5),
		},
		PromotionBudgetPerKing:        getIntEnv("PROMOTION_BUDGET_PER_KING", 5),
		PromotionTrackerBackend:       getEnv("PROMOTION_TRACKER_BACKEND", "file"),
		CrossRealmEscalationThreshold: getIntEnv("CROSS_REALM_ESCALATION_THRESHOLD", 4),

		ArchonCount:              getIntEnv("ARCHON_COUNT", 72),
		WitnessArchonID:          getEnv("WITNESS_ARCHON_ID", "witness-01"),
		SecretaryTextArchonID:    getEnv("SECRETARY_TEXT_ARCHON_ID", "secretary-text-01"),
		SecretaryJSONArchonID:    getEnv("SECRETARY_JSON_ARCHON_ID", "secretary-json-01"),
		ExecutionPlannerArchonID: getEnv("EXECUTION_PLANNER_ARCHON_ID", "execution-planner-01"),
		ArchonRosterPath:         getEnv("ARCHON_ROSTER_PATH", "archons.yaml"),

		AuditBackend:                 getEnv("AUDIT_BACKEND", "noop"),
		AuditCircuitFailureThreshold: getIntEnv("AUDIT_CIRCUIT_FAILURE_THRESHOLD", 5),
		AuditCircuitResetTimeout:     getDurationEnv("AUDIT_CIRCUIT_RESET_TIMEOUT", 60*time.Second),
		AuditBrokerAddrs:             getEnvSlice("AUDIT_BROKER_ADDRS", []string{"localhost:9092"}),

		LLMRequestsPerSecond: getIntEnv("LLM_REQUESTS_PER_SECOND", 20),

		MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		TranscriptDir: getEnv("TRANSCRIPT_DIR", "./data/transcripts"),
		CheckpointDir: getEnv("CHECKPOINT_DIR", "./data/checkpoints"),
		LedgerDir:     getEnv("LEDGER_DIR", "./data/ledger"),
	}
}

// Validate fails fast on configuration that would violate a core invariant.
// §9: the configured Archon count must be divisible by 3 (Deliberator 1,
// Deliberator 2, and Witness each draw from disjoint thirds of the roster).
func (c *Config) Validate() error {
	if c.ArchonCount <= 0 || c.ArchonCount%3 != 0 {
		return fmt.Errorf("archon_count must be positive and divisible by 3, got %d", c.ArchonCount)
	}
	if c.VotingConcurrency <= 0 {
		return fmt.Errorf("voting_concurrency must be positive, got %d", c.VotingConcurrency)
	}
	if c.DebateRounds <= 0 {
		return fmt.Errorf("debate_rounds must be positive, got %d", c.DebateRounds)
	}
	if c.LLMRequestsPerSecond <= 0 {
		return fmt.Errorf("llm_requests_per_second must be positive, got %d", c.LLMRequestsPerSecond)
	}
	for t, threshold := range c.MotionThreshold {
		if threshold <= 0 || threshold > 1 {
			return fmt.Errorf("motion_threshold_%s must be in (0, 1], got %f", t, threshold)
		}
	}
	switch c.PromotionTrackerBackend {
	case "file", "redis":
	default:
		return fmt.Errorf("promotion_tracker_backend must be 'file' or 'redis', got %q", c.PromotionTrackerBackend)
	}
	switch c.AuditBackend {
	case "kafka", "amqp", "noop":
	default:
		return fmt.Errorf("audit_backend must be 'kafka', 'amqp', or 'noop', got %q", c.AuditBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
