// Package vote implements optimistic vote parsing and stance/vote
// divergence detection (§4.3).
package vote

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-engine/conclave/internal/ports"
)

// Vote is the mutable record of a single Archon's ballot on a Motion.
type Vote struct {
	VoteID           string
	SessionID        string
	MotionID         string
	ArchonID         string
	RawContent       string
	OptimisticChoice ports.Choice
	ValidatedChoice  ports.Choice
	FinalChoice      ports.Choice
	OverrideApplied  bool
	WitnessRuling    string
	Reasoning        string
	CastAt           time.Time
}

// NewVote constructs a vote record from a cast ballot, before validation.
func NewVote(sessionID, motionID, archonID, rawContent string) *Vote {
	choice := ParseOptimistic(rawContent)
	return &Vote{
		VoteID:           uuid.New().String(),
		SessionID:        sessionID,
		MotionID:         motionID,
		ArchonID:         archonID,
		RawContent:       rawContent,
		OptimisticChoice: choice,
		FinalChoice:      choice,
		CastAt:           time.Now(),
	}
}

type jsonVote struct {
	Choice string `json:"choice"`
}

var synonymPatterns = []struct {
	re     *regexp.Regexp
	choice ports.Choice
}{
	{regexp.MustCompile(`(?i)\bvote\s*:\s*for\b`), ports.ChoiceAye},
	{regexp.MustCompile(`(?i)\bi\s+vote\s+aye\b`), ports.ChoiceAye},
	{regexp.MustCompile(`(?i)\bvote\s*:\s*aye\b`), ports.ChoiceAye},
	{regexp.MustCompile(`(?i)\baye\b`), ports.ChoiceAye},
	{regexp.MustCompile(`(?i)\bvote\s*:\s*against\b`), ports.ChoiceNay},
	{regexp.MustCompile(`(?i)\bi\s+vote\s+nay\b`), ports.ChoiceNay},
	{regexp.MustCompile(`(?i)\bvote\s*:\s*nay\b`), ports.ChoiceNay},
	{regexp.MustCompile(`(?i)\bnay\b`), ports.ChoiceNay},
	{regexp.MustCompile(`(?i)\bvote\s*:\s*abstain\b`), ports.ChoiceAbstain},
	{regexp.MustCompile(`(?i)\bi\s+abstain\b`), ports.ChoiceAbstain},
	{regexp.MustCompile(`(?i)\babstain\b`), ports.ChoiceAbstain},
}

var markdownStrip = regexp.MustCompile("[*_`#]")

// ParseOptimistic implements the §4.3 step-3 optimistic parse: first-line
// JSON preferred, falling back to synonym matching with markdown
// stripped, defaulting to ABSTAIN if nothing recognizable is present.
func ParseOptimistic(rawContent string) ports.Choice {
	firstLine := rawContent
	if idx := strings.IndexByte(rawContent, '\n'); idx >= 0 {
		firstLine = rawContent[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)

	var jv jsonVote
	if err := json.Unmarshal([]byte(firstLine), &jv); err == nil && jv.Choice != "" {
		if choice := normalizeChoiceToken(jv.Choice); choice != ports.ChoiceNone {
			return choice
		}
	}

	cleaned := markdownStrip.ReplaceAllString(rawContent, "")
	for _, pat := range synonymPatterns {
		if pat.re.MatchString(cleaned) {
			return pat.choice
		}
	}

	return ports.ChoiceAbstain
}

func normalizeChoiceToken(token string) ports.Choice {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "AYE", "FOR", "YES":
		return ports.ChoiceAye
	case "NAY", "AGAINST", "NO":
		return ports.ChoiceNay
	case "ABSTAIN":
		return ports.ChoiceAbstain
	default:
		return ports.ChoiceNone
	}
}

// StanceToChoice maps a declared debate stance to the vote choice it
// would imply, for divergence detection.
func StanceToChoice(stance string) ports.Choice {
	switch strings.ToUpper(strings.TrimSpace(stance)) {
	case "FOR":
		return ports.ChoiceAye
	case "AGAINST":
		return ports.ChoiceNay
	case "NEUTRAL":
		return ports.ChoiceAbstain
	default:
		return ports.ChoiceNone
	}
}

// Divergence describes a mismatch between an Archon's declared debate
// stance and their eventual vote (§4.3 step 4).
type Divergence struct {
	ArchonID    string
	Stance      string
	VoteChoice  ports.Choice
	Explained   bool
	Explanation string
}

// DetectDivergence compares the Archon's last declared stance against
// their cast vote, returning nil if they align.
func DetectDivergence(archonID, lastStance string, voteChoice ports.Choice, acknowledgement string) *Divergence {
	impliedChoice := StanceToChoice(lastStance)
	if impliedChoice == ports.ChoiceNone || impliedChoice == voteChoice {
		return nil
	}
	return &Divergence{
		ArchonID:    archonID,
		Stance:      lastStance,
		VoteChoice:  voteChoice,
		Explained:   acknowledgement != "",
		Explanation: acknowledgement,
	}
}
