package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/conclave-engine/conclave/internal/ports"
)

// PendingValidation is one in-flight vote validation captured at
// checkpoint time, per the persisted layout in §6.
type PendingValidation struct {
	VoteID           string             `json:"vote_id"`
	ArchonID         string             `json:"archon_id"`
	OptimisticChoice ports.Choice       `json:"optimistic_choice"`
	Payload          ports.VotePayload  `json:"vote_payload"`
}

// Checkpoint is the JSON-serializable snapshot written at a checkpoint
// boundary, sufficient for idempotent resume (§4.1, §6).
type Checkpoint struct {
	TakenAt            time.Time           `json:"taken_at"`
	SessionID          string              `json:"session_id"`
	Phase              Phase               `json:"phase"`
	PresentArchons     []string            `json:"present_archons"`
	PendingValidations []PendingValidation `json:"pending_validations"`
}

// Checkpoint captures the session's current state and the validator's
// still-pending jobs, appending to the in-memory checkpoint history.
func (s *Session) Checkpoint() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []PendingValidation
	for _, id := range s.val.Pending() {
		pv := PendingValidation{VoteID: id}
		for _, votes := range s.votesByMotion {
			for _, v := range votes {
				if v.VoteID == id {
					pv.ArchonID, pv.OptimisticChoice = v.ArchonID, v.OptimisticChoice
					pv.Payload = ports.VotePayload{SessionID: v.SessionID, MotionID: v.MotionID, VoteID: id,
						ArchonID: v.ArchonID, RawContent: v.RawContent, OptimisticChoice: v.OptimisticChoice}
					if m := s.findMotion(v.MotionID); m != nil {
						pv.Payload.MotionText = m.Text
					}
				}
			}
		}
		pending = append(pending, pv)
	}

	cp := Checkpoint{
		TakenAt:            time.Now(),
		SessionID:          s.SessionID,
		Phase:              s.Phase,
		PresentArchons:     append([]string(nil), s.PresentArchons...),
		PendingValidations: pending,
	}
	s.checkpoints = append(s.checkpoints, cp)
	return cp
}

// WriteCheckpoint persists a checkpoint to dir via the tempfile+fsync+
// rename pattern used throughout the engine's durable writes.
func WriteCheckpoint(dir string, cp Checkpoint) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.json", cp.SessionID))
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// ReadCheckpoint loads a previously written checkpoint by session ID.
func ReadCheckpoint(dir, sessionID string) (Checkpoint, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s.json", sessionID))
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// ResumeFromCheckpoint rebuilds session-level state (phase, present
// roster) from a checkpoint. Pending validations must be resubmitted by
// the caller via the validator, since a Validator instance is not itself
// persisted; resubmission is idempotent because the validator keys each
// job by the vote_id recorded in the checkpoint, so resubmitting a vote
// replaces its pending entry rather than adding a second one.
func (s *Session) ResumeFromCheckpoint(cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SessionID = cp.SessionID
	s.Phase = cp.Phase
	s.PresentArchons = cp.PresentArchons
}
