// Package registrar implements the Motion Ledger: deterministic,
// append-only extraction of passed Motions into immutable Mandate
// records, persisted with the same tempfile+fsync+atomic-rename pattern
// used throughout this engine's durable writes (§4.5 step 4, §6).
package registrar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-engine/conclave/internal/motion"
	"github.com/conclave-engine/conclave/internal/ports"
	"github.com/conclave-engine/conclave/internal/vote"
)

// ledgerEntry is one line of the append-only ledger index.
type ledgerEntry struct {
	LedgerEntryID string    `json:"ledger_entry_id"`
	MandateID     string    `json:"mandate_id"`
	MotionID      string    `json:"motion_id"`
	RecordedAt    time.Time `json:"recorded_at"`
}

type ledgerFile struct {
	Entries []ledgerEntry `json:"entries"`
}

// Registrar extracts passed Motions into mandates/<mandate_id>.json and
// appends a corresponding entry to ledger.json, both under dir.
type Registrar struct {
	mu  sync.Mutex
	dir string
}

var _ ports.MotionLedger = (*Registrar)(nil)

// New constructs a Registrar rooted at dir; mandates/ is created beneath it
// on the first WriteMandate.
func New(dir string) *Registrar {
	return &Registrar{dir: dir}
}

func (r *Registrar) mandatesDir() string { return filepath.Join(r.dir, "mandates") }
func (r *Registrar) ledgerPath() string  { return filepath.Join(r.dir, "ledger.json") }

// RatifyMotion converts a passed Motion plus its final votes into a
// Mandate, writes it to mandates/<mandate_id>.json, and appends the
// ledger index entry. The Motion must already carry StatusPassed; the
// Registrar itself never evaluates a tally (§4.5 hands it a decided
// Motion only after the Reconciliation Gate drains successfully).
func (r *Registrar) RatifyMotion(ctx context.Context, m *motion.Motion, votes []*vote.Vote, threshold float64, passedAt time.Time) (ports.Mandate, error) {
	if m.Status != motion.StatusPassed {
		return ports.Mandate{}, fmt.Errorf("motion %s is not passed (status=%s); registrar only ratifies passed motions", m.MotionID, m.Status)
	}

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

	mandate := ports.Mandate{
		MandateID:  uuid.New().String(),
		MotionID:   m.MotionID,
		Title:      m.Title,
		Text:       m.Text,
		MotionType: string(m.MotionType),
		PassedAt:   passedAt,
		VoteResult: ports.VoteResult{
			Ayes: ayes, Nays: nays, Abstentions: abstain,
			Passed: true, Threshold: threshold,
		},
		Proposer: m.PrimarySponsor,
		Seconder: m.Seconder,
	}

	if err := r.WriteMandate(ctx, mandate); err != nil {
		return ports.Mandate{}, err
	}
	return mandate, nil
}

// WriteMandate implements ports.MotionLedger: it persists the mandate
// record and appends an index entry to the ledger, both atomically.
func (r *Registrar) WriteMandate(ctx context.Context, m ports.Mandate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.LedgerEntryID == "" {
		m.LedgerEntryID = uuid.New().String()
	}

	if err := os.MkdirAll(r.mandatesDir(), 0o755); err != nil {
		return fmt.Errorf("create mandates dir: %w", err)
	}

	path := filepath.Join(r.mandatesDir(), fmt.Sprintf("%s.json", m.MandateID))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("mandate %s already recorded: ledger is append-only", m.MandateID)
	}
	if err := writeAtomicJSON(r.mandatesDir(), path, m); err != nil {
		return fmt.Errorf("write mandate %s: %w", m.MandateID, err)
	}

	ledger, err := r.readLedger()
	if err != nil {
		return err
	}
	ledger.Entries = append(ledger.Entries, ledgerEntry{
		LedgerEntryID: m.LedgerEntryID,
		MandateID:     m.MandateID,
		MotionID:      m.MotionID,
		RecordedAt:    time.Now(),
	})
	if err := writeAtomicJSON(r.dir, r.ledgerPath(), ledger); err != nil {
		return fmt.Errorf("append ledger entry for mandate %s: %w", m.MandateID, err)
	}
	return nil
}

// List returns every ratified Mandate, in ledger order.
func (r *Registrar) List(ctx context.Context) ([]ports.Mandate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ledger, err := r.readLedger()
	if err != nil {
		return nil, err
	}

	out := make([]ports.Mandate, 0, len(ledger.Entries))
	for _, e := range ledger.Entries {
		path := filepath.Join(r.mandatesDir(), fmt.Sprintf("%s.json", e.MandateID))
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read mandate %s: %w", e.MandateID, err)
		}
		var m ports.Mandate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse mandate %s: %w", e.MandateID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *Registrar) readLedger() (ledgerFile, error) {
	data, err := os.ReadFile(r.ledgerPath())
	if os.IsNotExist(err) {
		return ledgerFile{}, nil
	}
	if err != nil {
		return ledgerFile{}, fmt.Errorf("read ledger: %w", err)
	}
	var lf ledgerFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return ledgerFile{}, fmt.Errorf("parse ledger: %w", err)
	}
	return lf, nil
}

// WriteRatifiedMandatesHandoff writes the ratified_mandates.json handoff
// artifact consumed downstream by execution planning (§6).
func WriteRatifiedMandatesHandoff(dir string, mandates []ports.Mandate) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create handoff dir: %w", err)
	}
	path := filepath.Join(dir, "ratified_mandates.json")
	return writeAtomicJSON(dir, path, mandates)
}

func writeAtomicJSON(dir, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return os.Rename(tmpPath, path)
}
