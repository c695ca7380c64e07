// Package session implements the Conclave phase state machine (§4.1):
// call_to_order -> roll_call -> new_business -> debate -> voting ->
// (back to new_business) -> adjourning -> adjourned.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/conclave-engine/conclave/internal/debate"
	"github.com/conclave-engine/conclave/internal/motion"
	"github.com/conclave-engine/conclave/internal/ports"
	"github.com/conclave-engine/conclave/internal/reconciliation"
	"github.com/conclave-engine/conclave/internal/transcript"
	"github.com/conclave-engine/conclave/internal/validator"
	"github.com/conclave-engine/conclave/internal/vote"
)

// recentEntryWindow caps how many trailing transcript entries are folded
// into a prompt's "Recent Entries" section (§4.2 step 1).
const recentEntryWindow = 5

// Phase is one of the Conclave's session lifecycle stages.
type Phase string

const (
	PhaseCallToOrder        Phase = "call_to_order"
	PhaseRollCall           Phase = "roll_call"
	PhaseNewBusiness        Phase = "new_business"
	PhaseDebate             Phase = "debate"
	PhaseVoting             Phase = "voting"
	PhaseAdjourning         Phase = "adjourning"
	PhaseAdjourned          Phase = "adjourned"
	PhaseReconciliationFail Phase = "reconciliation_failed"
)

// ReconciliationIncompleteError re-exports the reconciliation package's
// error type under the session's own error surface (§4.1).
type ReconciliationIncompleteError = reconciliation.ReconciliationIncompleteError

// Config bundles every tunable the session and its sub-components need.
type Config struct {
	SecondingWindow       time.Duration
	ReconciliationTimeout time.Duration
	MotionThreshold       map[motion.MotionType]float64
	Debate                debate.Config
}

// Session is a single Conclave run: one state machine owning its Motions,
// Votes, and Transcript.
type Session struct {
	mu sync.Mutex

	SessionID      string
	StartedAt      time.Time
	EndedAt        time.Time
	Phase          Phase
	PresentArchons []string
	Motions        []*motion.Motion
	votesByMotion  map[string][]*vote.Vote

	cfg        Config
	tr         *transcript.Transcript
	val        *validator.Validator
	reconGate  *reconciliation.Gate
	logger     *logrus.Logger
	checkpoints []Checkpoint
}

// New constructs a fresh Session in call_to_order phase.
func New(cfg Config, tr *transcript.Transcript, val *validator.Validator, logger *logrus.Logger) *Session {
	return &Session{
		SessionID:     uuid.New().String(),
		Phase:         PhaseCallToOrder,
		votesByMotion: make(map[string][]*vote.Vote),
		cfg:           cfg,
		tr:            tr,
		val:           val,
		reconGate:     reconciliation.NewGate(val),
		logger:        logger,
	}
}

// SetDrainRecorder attaches a metrics recorder to the Reconciliation Gate;
// nil disables emission.
func (s *Session) SetDrainRecorder(r reconciliation.DrainRecorder) { s.reconGate.SetRecorder(r) }

// Open transitions call_to_order -> roll_call, seating the full roster.
func (s *Session) Open(ctx context.Context, fullRoster []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Phase != PhaseCallToOrder {
		return fmt.Errorf("open: invalid phase transition from %s", s.Phase)
	}
	s.PresentArchons = fullRoster
	s.StartedAt = time.Now()
	s.Phase = PhaseRollCall
	s.tr.Append(transcript.EntrySystem, "", "[SYSTEM]", "Conclave called to order; full roster present.", map[string]any{"archon_count": len(fullRoster)})

	s.Phase = PhaseNewBusiness
	s.tr.Append(transcript.EntryProcedural, "", "[PROCEDURAL]", "Roll call complete.", nil)
	return nil
}

// IntroduceMotion introduces a promoted, admitted Motion onto the floor.
func (s *Session) IntroduceMotion(ctx context.Context, m *motion.Motion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Phase != PhaseNewBusiness {
		return fmt.Errorf("introduce motion: invalid phase %s", s.Phase)
	}
	if !m.IsAgendaEligible() {
		return fmt.Errorf("motion %s is not agenda-eligible", m.MotionID)
	}
	m.Status = motion.StatusProposed
	s.Motions = append(s.Motions, m)
	s.tr.Append(transcript.EntryMotion, m.PrimarySponsor, m.PrimarySponsor, fmt.Sprintf("Motion introduced: %s", m.Title), map[string]any{"motion_id": m.MotionID})
	return nil
}

// SecondMotion seconds a proposed Motion within the seconding window; if
// the window elapses first, the Motion dies (§4.1).
func (s *Session) SecondMotion(ctx context.Context, motionID, seconderID string, proposedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMotion(motionID)
	if m == nil {
		return fmt.Errorf("motion %s not found", motionID)
	}
	if time.Since(proposedAt) > s.cfg.SecondingWindow {
		m.Status = motion.StatusDiedNoSecond
		s.tr.Append(transcript.EntryProcedural, "", "[PROCEDURAL]", fmt.Sprintf("Motion %s died for lack of a second.", m.Title), map[string]any{"motion_id": m.MotionID})
		return fmt.Errorf("motion %s died_no_second", motionID)
	}
	m.Status = motion.StatusSeconded
	m.Seconder = seconderID
	s.tr.Append(transcript.EntryProcedural, seconderID, seconderID, fmt.Sprintf("Motion seconded: %s", m.Title), map[string]any{"motion_id": m.MotionID})
	return nil
}

// DebateContext carries forward what CollectVotes needs from the debate
// that just concluded: the final compacted digest and each Archon's last
// declared stance, so the vote-context prompt and divergence detection
// build from the same record the debate itself produced (§4.3 step 1).
type DebateContext struct {
	FinalDigest string
	LastStance  map[string]string
}

// recentEntries renders the trailing n transcript entries as a compact
// block suitable for folding into a Participation Protocol prompt.
func (s *Session) recentEntries(n int) string {
	entries := s.tr.Entries()
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", e.EntryType, e.SpeakerName, e.Content))
	}
	return sb.String()
}

// DebateRound transitions to debate and runs the configured number of
// rounds for the given Motion via the supplied orchestrator. Each round's
// prompts carry forward the previous round's digest and recent transcript
// entries (§4.2 step 1); the returned DebateContext threads the final
// digest and each Archon's last declared stance into CollectVotes.
func (s *Session) DebateRound(ctx context.Context, m *motion.Motion, orchestrator *debate.Orchestrator, profiles []ports.ArchonProfile) (DebateContext, error) {
	s.mu.Lock()
	s.Phase = PhaseDebate
	m.Status = motion.StatusDebating
	s.mu.Unlock()

	lastStance := make(map[string]string, len(profiles))
	var digest string

	for round := 1; round <= s.cfg.Debate.DebateRounds; round++ {
		speeches := make([]debate.Speech, 0, len(profiles))
		var roundContent string
		for _, p := range profiles {
			prompt := orchestrator.AssemblePrompt(p.SystemPrompt, m.Text, digest, s.recentEntries(recentEntryWindow))
			speech := orchestrator.ProcessSpeech(ctx, p.ArchonID, p.Name, prompt, round, false)
			speeches = append(speeches, speech)
			roundContent += speech.RawContent + "\n"
			if speech.StanceExplicit {
				lastStance[p.ArchonID] = string(speech.Stance)
			}
		}
		orchestrator.TriggerConsensusBreak(speeches)
		digest = orchestrator.BuildDigest(speeches, roundContent)
		s.tr.Append(transcript.EntryDigest, "", "Secretary", digest, map[string]any{"round": round})
	}

	if s.cfg.Debate.RedTeamEnabled {
		redTeam := debate.SelectRedTeam(profiles, s.cfg.Debate.RedTeamCount, s.cfg.Debate.RedTeamMinUniqueRanks)
		for _, p := range redTeam {
			prompt := orchestrator.AssemblePrompt(p.SystemPrompt, m.Text, digest, s.recentEntries(recentEntryWindow))
			speech := orchestrator.ProcessSpeech(ctx, p.ArchonID, p.Name, prompt, s.cfg.Debate.DebateRounds+1, true)
			if speech.StanceExplicit {
				lastStance[p.ArchonID] = string(speech.Stance)
			}
		}
	}

	s.mu.Lock()
	s.Phase = PhaseVoting
	m.Status = motion.StatusVoting
	s.mu.Unlock()
	return DebateContext{FinalDigest: digest, LastStance: lastStance}, nil
}

// votePromptContext folds an Archon's own last declared stance ahead of
// the recent transcript entries, so the vote-context prompt lets the
// Archon see what it is being asked to reconcile with (§4.3 step 1).
func votePromptContext(recent, lastStance string) string {
	if lastStance == "" {
		return recent
	}
	return fmt.Sprintf("== Your Last Declared Stance ==\n%s\n\n%s", lastStance, recent)
}

// voteAcknowledgement returns whatever an Archon wrote after the
// optimistic-parse line of its vote reply, used as the divergence
// acknowledgement/explanation text (§4.3 step 4).
func voteAcknowledgement(raw string) string {
	idx := strings.IndexByte(raw, '\n')
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(raw[idx+1:])
}

// CollectVotes walks the roster in order, one Archon at a time: the vote
// prompt is assembled via the same Participation Protocol used for
// debate, carrying the final digest and the Archon's own last stance;
// each cast vote is compared against that stance via DetectDivergence,
// then submitted to the validator without blocking on its outcome.
// Vote collection is serialized in roster order; the optimistic parse of
// one Archon's vote completes before the next Archon votes (§4.3, §5).
func (s *Session) CollectVotes(ctx context.Context, m *motion.Motion, invoker ports.AgentInvoker, orchestrator *debate.Orchestrator, profiles []ports.ArchonProfile, debateCtx DebateContext, taskTimeout time.Duration) error {
	for _, p := range profiles {
		prompt := orchestrator.AssemblePrompt(p.SystemPrompt, m.Text, debateCtx.FinalDigest, votePromptContext(s.recentEntries(recentEntryWindow), debateCtx.LastStance[p.ArchonID]))

		taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
		result, err := invoker.Invoke(taskCtx, p.ArchonID, prompt, taskTimeout)
		cancel()

		raw := ""
		if err == nil {
			raw = result.RawContent
		}
		v := vote.NewVote(s.SessionID, m.MotionID, p.ArchonID, raw)

		s.mu.Lock()
		s.votesByMotion[m.MotionID] = append(s.votesByMotion[m.MotionID], v)
		s.mu.Unlock()

		if lastStance, declared := debateCtx.LastStance[p.ArchonID]; declared {
			if div := vote.DetectDivergence(p.ArchonID, lastStance, v.OptimisticChoice, voteAcknowledgement(raw)); div != nil {
				s.tr.Append(transcript.EntryStanceVoteDivergence, p.ArchonID, p.Name,
					fmt.Sprintf("%s declared %s but voted %s", p.Name, div.Stance, div.VoteChoice),
					map[string]any{"motion_id": m.MotionID, "stance": div.Stance, "vote_choice": string(div.VoteChoice), "explained": div.Explained})
			}
		}

		s.val.Submit(ctx, v.VoteID, ports.VotePayload{
			SessionID: s.SessionID, MotionID: m.MotionID, VoteID: v.VoteID,
			ArchonID: p.ArchonID, RawContent: raw, MotionText: m.Text,
			OptimisticChoice: v.OptimisticChoice,
		})
	}

	s.mu.Lock()
	s.Phase = PhaseNewBusiness
	s.mu.Unlock()
	return nil
}

// Adjourn transitions adjourning -> adjourned, but only after the
// Reconciliation Gate drains successfully (§4.1, hard gate).
func (s *Session) Adjourn(ctx context.Context) error {
	s.mu.Lock()
	s.Phase = PhaseAdjourning
	s.mu.Unlock()

	_, err := s.reconGate.Drain(ctx, s.cfg.ReconciliationTimeout)
	if err != nil {
		s.mu.Lock()
		s.Phase = PhaseReconciliationFail
		s.mu.Unlock()
		s.tr.Append(transcript.EntrySystem, "", "[SYSTEM]", fmt.Sprintf("reconciliation failed: %v", err), nil)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.Motions {
		votes := s.votesByMotion[m.MotionID]
		if len(votes) == 0 {
			continue
		}
		overrides, _ := reconciliation.ApplyOverrides(votes, s.val)
		for _, o := range overrides {
			s.tr.Append(transcript.EntryProcedural, "", "[PROCEDURAL]", fmt.Sprintf("Vote %s corrected: %s -> %s (%s)", o.VoteID, o.OriginalChoice, o.ValidatedChoice, o.WitnessRuling), map[string]any{"motion_id": m.MotionID})
		}

		threshold := s.cfg.MotionThreshold[m.MotionType]
		tally, err := reconciliation.Recompute(m, votes, threshold)
		if err != nil {
			s.Phase = PhaseReconciliationFail
			return err
		}
		m.Status = motion.StatusFailed
		if tally.Passed {
			m.Status = motion.StatusPassed
		}
	}

	s.Phase = PhaseAdjourned
	s.EndedAt = time.Now()
	s.tr.Append(transcript.EntrySystem, "", "[SYSTEM]", "Conclave adjourned.", nil)
	return nil
}

func (s *Session) findMotion(motionID string) *motion.Motion {
	for _, m := range s.Motions {
		if m.MotionID == motionID {
			return m
		}
	}
	return nil
}

// VotesFor returns a defensive copy of the votes cast on a motion.
func (s *Session) VotesFor(motionID string) []*vote.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*vote.Vote, len(s.votesByMotion[motionID]))
	copy(out, s.votesByMotion[motionID])
	return out
}
