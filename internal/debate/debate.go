// Package debate implements the Debate Orchestrator and its adversarial
// hygiene mechanisms: exploitation prompts, digests with structural-risk
// detection, consensus-break forced dissent, and red-team rounds (§4.2).
package debate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/conclave-engine/conclave/internal/ports"
	"github.com/conclave-engine/conclave/internal/transcript"
)

// Stance is an Archon's declared debate position.
type Stance string

const (
	StanceFor     Stance = "FOR"
	StanceAgainst Stance = "AGAINST"
	StanceNeutral Stance = "NEUTRAL"
)

// hiddenReasoningMarkers are rejected per the Participation Protocol.
var hiddenReasoningMarkers = []string{"Thought:", "Analysis:", "DELIBERATION RECORD"}

var stanceLinePattern = regexp.MustCompile(`(?m)^STANCE:\s*(FOR|AGAINST|NEUTRAL)\s*$`)

// Config tunes the orchestrator per SPEC_FULL.md §6.
type Config struct {
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
	TaskTimeout                 time.Duration
}

// Speech is one Archon's processed contribution to a debate round.
type Speech struct {
	ArchonID       string
	Round          int
	Stance         Stance
	StanceExplicit bool
	Violation      bool
	RawContent     string
}

// Orchestrator drives debate rounds for a single Motion.
type Orchestrator struct {
	cfg     Config
	invoker ports.AgentInvoker
	tr      *transcript.Transcript

	forcedDissentRemaining int
	forcedDissentStance    Stance
}

// NewOrchestrator constructs a debate Orchestrator.
func NewOrchestrator(cfg Config, invoker ports.AgentInvoker, tr *transcript.Transcript) *Orchestrator {
	return &Orchestrator{cfg: cfg, invoker: invoker, tr: tr}
}

// AssemblePrompt builds the Participation Protocol prompt for a debate
// speech (§4.2 step 1-2).
func (o *Orchestrator) AssemblePrompt(systemPrompt, motionText, digest, recentEntries string) string {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\n== Participation Protocol ==\n")
	sb.WriteString("Do not include hidden reasoning markers (Thought:, Analysis:, DELIBERATION RECORD).\n")
	sb.WriteString("Begin your reply with a line of the form: STANCE: FOR|AGAINST|NEUTRAL\n\n")
	sb.WriteString("== Motion ==\n")
	sb.WriteString(motionText)
	sb.WriteString("\n\n== Debate Digest ==\n")
	sb.WriteString(digest)
	sb.WriteString("\n\n== Recent Entries ==\n")
	sb.WriteString(recentEntries)

	if o.cfg.ExploitationPromptEnabled {
		sb.WriteString("\n\n== Adversarial Consideration ==\n")
		sb.WriteString("Before declaring your stance, identify at least one plausible way this motion could be exploited.\n")
	}
	if o.forcedDissentRemaining > 0 {
		sb.WriteString(fmt.Sprintf("\n\n== Forced Dissent ==\nYou are required to steelman the %s position regardless of your prior stance.\n", o.forcedDissentStance))
	}
	return sb.String()
}

// ProcessSpeech invokes the Archon, parses the reply, and appends the
// corresponding transcript entries (§4.2 steps 3-5).
func (o *Orchestrator) ProcessSpeech(ctx context.Context, archonID, archonName, prompt string, round int, isRedTeam bool) Speech {
	taskCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	defer cancel()

	result, err := o.invoker.Invoke(taskCtx, archonID, prompt, o.cfg.TaskTimeout)
	if err != nil {
		o.tr.Append(transcript.EntryViolationSpeech, archonID, archonName, fmt.Sprintf("invocation failed: %v", err), map[string]any{"round": round})
		return Speech{ArchonID: archonID, Round: round, Violation: true}
	}

	if containsHiddenReasoning(result.RawContent) {
		o.tr.Append(transcript.EntryViolationSpeech, archonID, archonName, result.RawContent, map[string]any{"round": round, "reason": "hidden_reasoning_marker"})
		return Speech{ArchonID: archonID, Round: round, Violation: true, RawContent: result.RawContent}
	}

	stance, explicit := parseStance(result.RawContent)
	if !explicit {
		o.tr.Append(transcript.EntryProcedural, "", "Secretary", fmt.Sprintf("STANCE_MISSING: no declared stance from %s", archonName), map[string]any{"round": round, "archon_id": archonID})
	}

	o.applyForcedDissent()

	entryType := transcript.EntrySpeech
	if isRedTeam {
		entryType = transcript.EntryRedTeamSpeech
	}
	o.tr.Append(entryType, archonID, archonName, result.RawContent, map[string]any{
		"round": round, "stance_explicit": explicit, "stance": string(stance), "is_red_team": isRedTeam,
	})

	return Speech{ArchonID: archonID, Round: round, Stance: stance, StanceExplicit: explicit, RawContent: result.RawContent}
}

func (o *Orchestrator) applyForcedDissent() {
	if o.forcedDissentRemaining > 0 {
		o.forcedDissentRemaining--
	}
}

func containsHiddenReasoning(content string) bool {
	for _, marker := range hiddenReasoningMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

func parseStance(content string) (Stance, bool) {
	match := stanceLinePattern.FindStringSubmatch(content)
	if match == nil {
		return StanceNeutral, false
	}
	return Stance(match[1]), true
}

// TriggerConsensusBreak checks whether the fraction of one stance in this
// round exceeds the configured threshold, and if so arms forced dissent
// for the next ConsensusBreakCount speakers (§4.2).
func (o *Orchestrator) TriggerConsensusBreak(speeches []Speech) bool {
	if !o.cfg.ConsensusBreakEnabled || len(speeches) == 0 {
		return false
	}
	counts := map[Stance]int{}
	for _, s := range speeches {
		if !s.Violation {
			counts[s.Stance]++
		}
	}
	total := len(speeches)
	for stance, count := range counts {
		if float64(count)/float64(total) > o.cfg.ConsensusBreakThreshold {
			o.forcedDissentRemaining = o.cfg.ConsensusBreakCount
			o.forcedDissentStance = opposite(stance)
			o.tr.Append(transcript.EntryProcedural, "", "[PROCEDURAL]", "CONSENSUS BREAK TRIGGERED", map[string]any{"dominant_stance": string(stance), "fraction": float64(count) / float64(total)})
			return true
		}
	}
	return false
}

func opposite(s Stance) Stance {
	switch s {
	case StanceFor:
		return StanceAgainst
	case StanceAgainst:
		return StanceFor
	default:
		return StanceNeutral
	}
}

// structuralRiskPatterns is the fixed taxonomy pattern-matched into a
// digest's Structural Risk Analysis (§4.2).
var structuralRiskPatterns = []struct {
	code string
	re   *regexp.Regexp
}{
	{"INTERPRETIVE_AUTHORITY", regexp.MustCompile(`(?i)(sole discretion|final interpretation|binding interpretation)`)},
	{"SOFT_POWER_CREEP", regexp.MustCompile(`(?i)(may also|in addition may|at its discretion expand)`)},
	{"NEGATIVE_DEFINITION", regexp.MustCompile(`(?i)(anything not explicitly|except as otherwise|unless expressly)`)},
	{"PERMANENCE_BIAS", regexp.MustCompile(`(?i)(permanent|irrevocable|shall remain in force indefinitely)`)},
}

// DetectStructuralRisks scans round content for the fixed risk taxonomy,
// capped at MaxStructuralRisksPerDigest.
func (o *Orchestrator) DetectStructuralRisks(roundContent string) []string {
	var found []string
	for _, p := range structuralRiskPatterns {
		if len(found) >= o.cfg.MaxStructuralRisksPerDigest {
			break
		}
		if p.re.MatchString(roundContent) {
			found = append(found, p.code)
		}
	}
	return found
}

// maxDigestArguments caps how many FOR/AGAINST arguments and concerns a
// digest carries per side (§4.2).
const maxDigestArguments = 3

// extractArgument returns the first substantive line of a speech, skipping
// blank lines and the STANCE: declaration itself, truncated to a
// digest-friendly length.
func extractArgument(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || stanceLinePattern.MatchString(line) {
			continue
		}
		const maxLen = 160
		if len(line) > maxLen {
			return line[:maxLen] + "..."
		}
		return line
	}
	return ""
}

// BuildDigest assembles the procedural digest entry per §4.2: a position
// summary, the top FOR/AGAINST arguments and notable concerns raised this
// round, and the structural risk analysis.
func (o *Orchestrator) BuildDigest(speeches []Speech, roundContent string) string {
	var forCount, againstCount, neutralCount int
	var forArgs, againstArgs, concerns []string
	for _, s := range speeches {
		if s.Violation {
			continue
		}
		arg := extractArgument(s.RawContent)
		switch s.Stance {
		case StanceFor:
			forCount++
			if arg != "" && len(forArgs) < maxDigestArguments {
				forArgs = append(forArgs, arg)
			}
		case StanceAgainst:
			againstCount++
			if arg != "" && len(againstArgs) < maxDigestArguments {
				againstArgs = append(againstArgs, arg)
			}
		default:
			neutralCount++
			if arg != "" && len(concerns) < maxDigestArguments {
				concerns = append(concerns, arg)
			}
		}
	}

	risks := o.DetectStructuralRisks(roundContent)

	var sb strings.Builder
	sb.WriteString("## Debate Digest\n")
	sb.WriteString(fmt.Sprintf("Position Summary: %d FOR | %d AGAINST | %d NEUTRAL\n", forCount, againstCount, neutralCount))
	writeDigestList(&sb, "Top FOR Arguments", forArgs)
	writeDigestList(&sb, "Top AGAINST Arguments", againstArgs)
	writeDigestList(&sb, "Notable Concerns", concerns)
	if len(risks) > 0 {
		sb.WriteString("Structural Risk Analysis: " + strings.Join(risks, ", ") + "\n")
	}
	return sb.String()
}

func writeDigestList(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(heading + ":\n")
	for _, item := range items {
		sb.WriteString("- " + item + "\n")
	}
}

// SelectRedTeam chooses RedTeamCount Archons with rank diversity: the
// selected set must contain at least RedTeamMinUniqueRanks distinct
// ranks, selecting as many distinct ranks as possible when the pool is
// too small to guarantee the configured minimum (§4.2).
func SelectRedTeam(candidates []ports.ArchonProfile, count, minUniqueRanks int) []ports.ArchonProfile {
	if count <= 0 || len(candidates) == 0 {
		return nil
	}
	if count > len(candidates) {
		count = len(candidates)
	}

	byRank := make(map[int][]ports.ArchonProfile)
	var ranks []int
	for _, c := range candidates {
		if _, ok := byRank[c.Rank]; !ok {
			ranks = append(ranks, c.Rank)
		}
		byRank[c.Rank] = append(byRank[c.Rank], c)
	}

	var selected []ports.ArchonProfile
	seen := make(map[string]struct{})

	// First pass: take one Archon per distinct rank, up to min(count, len(ranks)).
	for _, rank := range ranks {
		if len(selected) >= count {
			break
		}
		pool := byRank[rank]
		selected = append(selected, pool[0])
		seen[pool[0].ArchonID] = struct{}{}
	}

	// Second pass: fill remaining slots from any candidate not yet picked.
	for _, c := range candidates {
		if len(selected) >= count {
			break
		}
		if _, ok := seen[c.ArchonID]; ok {
			continue
		}
		selected = append(selected, c)
		seen[c.ArchonID] = struct{}{}
	}

	return selected
}
