package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conclave-engine/conclave/internal/ports"
)

const textAnalysisInstruction = `You are Deliberator 1, performing text-analysis validation of a cast vote.
Read the Archon's raw vote content and the motion text, then respond with a single JSON object and nothing else:
{"vote_choice":"AYE|NAY|ABSTAIN","confidence":0.0-1.0,"reasoning_summary":"...","ambiguity_flags":["..."]}`

const jsonValidationInstruction = `You are Deliberator 2, performing structural JSON-validation of a cast vote.
Read the Archon's raw vote content and the motion text, then respond with a single JSON object and nothing else:
{"vote_choice":"AYE|NAY|ABSTAIN","structural_valid":true|false,"contradictions":["..."],"motion_alignment":"..."}`

const witnessConfirmInstruction = `You are the Witness, performing phase-1 intent confirmation of a cast vote.
Read the Archon's raw vote content and the motion text, then respond with a single JSON object and nothing else:
{"vote_choice":"AYE|NAY|ABSTAIN","intent_clear":true|false,"reasoning_summary":"..."}`

func votePayloadSection(payload ports.VotePayload) string {
	var sb strings.Builder
	sb.WriteString("\n\n== Motion ==\n")
	sb.WriteString(payload.MotionText)
	sb.WriteString("\n\n== Raw Vote Content ==\n")
	sb.WriteString(payload.RawContent)
	if payload.LastStance != "" {
		sb.WriteString("\n\n== Last Declared Stance ==\n")
		sb.WriteString(payload.LastStance)
	}
	return sb.String()
}

type deliberatorResponse struct {
	VoteChoice        string   `json:"vote_choice"`
	Confidence        float64  `json:"confidence"`
	ReasoningSummary  string   `json:"reasoning_summary"`
	AmbiguityFlags    []string `json:"ambiguity_flags"`
	StructuralValid   bool     `json:"structural_valid"`
	Contradictions    []string `json:"contradictions"`
	MotionAlignment   string   `json:"motion_alignment"`
	IntentClear       bool     `json:"intent_clear"`
}

// ExecuteValidationTask runs one Phase-1 deliberator or witness-confirm
// task and parses the model's structured reply. ParseSuccess is false
// whenever the reply cannot be decoded; core code treats that as a
// non-vote rather than inventing a result (§4.4).
func (c *Client) ExecuteValidationTask(ctx context.Context, taskType ports.TaskType, validatorArchonID string, payload ports.VotePayload) (ports.DeliberatorResult, error) {
	var instruction string
	switch taskType {
	case ports.TaskTextAnalysis:
		instruction = textAnalysisInstruction
	case ports.TaskJSONValidation:
		instruction = jsonValidationInstruction
	case ports.TaskWitnessConfirm:
		instruction = witnessConfirmInstruction
	default:
		return ports.DeliberatorResult{TaskType: taskType, ParseSuccess: false, Error: fmt.Sprintf("unknown task type %s", taskType)}, nil
	}

	prompt := instruction + votePayloadSection(payload)
	result, err := c.Invoke(ctx, validatorArchonID, prompt, 0)
	if err != nil {
		return ports.DeliberatorResult{TaskType: taskType, ParseSuccess: false, Error: err.Error()}, nil
	}

	var parsed deliberatorResponse
	if err := json.Unmarshal([]byte(extractJSONObject(result.RawContent)), &parsed); err != nil {
		return ports.DeliberatorResult{TaskType: taskType, ParseSuccess: false, Error: fmt.Sprintf("unparseable reply: %v", err)}, nil
	}

	return ports.DeliberatorResult{
		TaskType:         taskType,
		VoteChoice:       normalizeVoteChoice(parsed.VoteChoice),
		ParseSuccess:     true,
		Confidence:       parsed.Confidence,
		ReasoningSummary: parsed.ReasoningSummary,
		AmbiguityFlags:   parsed.AmbiguityFlags,
		StructuralValid:  parsed.StructuralValid,
		Contradictions:   parsed.Contradictions,
		MotionAlignment:  parsed.MotionAlignment,
		IntentClear:      parsed.IntentClear,
	}, nil
}

const witnessAdjudicationInstruction = `You are the Witness, performing phase-2 adjudication. You have the three Phase-1
deliberator results below. Decide the final vote and whether the original ballot is CONFIRMED or requires a RETORT.
Respond with a single JSON object and nothing else:
{"final_vote":"AYE|NAY|ABSTAIN","ruling":"CONFIRMED|RETORT","retort_reason":"...","witness_statement":"..."}`

type adjudicationResponse struct {
	FinalVote        string `json:"final_vote"`
	Ruling           string `json:"ruling"`
	RetortReason     string `json:"retort_reason"`
	WitnessStatement string `json:"witness_statement"`
}

// ExecuteWitnessAdjudication runs Phase-2 adjudication over the Phase-1
// deliberator results for one vote.
func (c *Client) ExecuteWitnessAdjudication(ctx context.Context, witnessArchonID string, payload ports.VotePayload, deliberatorResults []ports.DeliberatorResult) (ports.AdjudicationResult, error) {
	var sb strings.Builder
	sb.WriteString(witnessAdjudicationInstruction)
	sb.WriteString(votePayloadSection(payload))
	sb.WriteString("\n\n== Phase-1 Results ==\n")
	for _, r := range deliberatorResults {
		encoded, _ := json.Marshal(r)
		sb.WriteString(string(encoded))
		sb.WriteByte('\n')
	}

	result, err := c.Invoke(ctx, witnessArchonID, sb.String(), 0)
	if err != nil {
		return ports.AdjudicationResult{}, fmt.Errorf("witness adjudication invoke: %w", err)
	}

	var parsed adjudicationResponse
	if err := json.Unmarshal([]byte(extractJSONObject(result.RawContent)), &parsed); err != nil {
		return ports.AdjudicationResult{}, fmt.Errorf("unparseable witness reply: %w", err)
	}

	return ports.AdjudicationResult{
		FinalVote:        normalizeVoteChoice(parsed.FinalVote),
		Ruling:           parsed.Ruling,
		RetortReason:     parsed.RetortReason,
		WitnessStatement: parsed.WitnessStatement,
	}, nil
}

func normalizeVoteChoice(s string) ports.Choice {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AYE":
		return ports.ChoiceAye
	case "NAY":
		return ports.ChoiceNay
	case "ABSTAIN":
		return ports.ChoiceAbstain
	default:
		return ports.ChoiceNone
	}
}
