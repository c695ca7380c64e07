// Package filetracker implements a file-backed PromotionBudgetTracker:
// per (cycle_id, king_id), a JSON file written via tempfile+fsync+atomic
// rename, guarded by an OS-level exclusive lock (§4.6 item 3).
package filetracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

type budgetRecord struct {
	Consumed int `json:"consumed"`
}

// Tracker is a directory of per-(cycle,king) budget counter files.
// A per-process mutex serializes writes to a given key; the fsync+rename
// write pattern keeps the on-disk state crash-safe across process
// restarts, satisfying the "4th attempt in the same cycle still fails"
// acceptance criterion in §8 scenario 5.
type Tracker struct {
	dir string
	mu  sync.Mutex // guards read-modify-write across all keys in this process
}

// New creates a Tracker rooted at dir, creating it if necessary.
func New(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create promotion budget dir %s: %w", dir, err)
	}
	return &Tracker{dir: dir}, nil
}

func (t *Tracker) path(cycleID, kingID string) string {
	return filepath.Join(t.dir, fmt.Sprintf("%s__%s.json", sanitize(cycleID), sanitize(kingID)))
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// TryConsume implements promotion.BudgetTracker. A per-process mutex
// serializes concurrent in-process callers; an flock-held lock file
// additionally excludes other processes sharing the same dir, so the
// same budget cap holds across a multi-process deployment.
func (t *Tracker) TryConsume(ctx context.Context, cycleID, kingID string, budgetCap int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.path(cycleID, kingID)
	unlock, err := t.acquireFileLock(path + ".lock")
	if err != nil {
		return false, err
	}
	defer unlock()

	rec, err := t.read(path)
	if err != nil {
		return false, err
	}
	if rec.Consumed >= budgetCap {
		return false, nil
	}
	rec.Consumed++
	if err := t.writeAtomic(path, rec); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tracker) acquireFileLock(lockPath string) (func(), error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", lockPath, err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

func (t *Tracker) read(path string) (budgetRecord, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return budgetRecord{}, nil
	}
	if err != nil {
		return budgetRecord{}, fmt.Errorf("read budget file %s: %w", path, err)
	}
	var rec budgetRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return budgetRecord{}, fmt.Errorf("parse budget file %s: %w", path, err)
	}
	return rec, nil
}

func (t *Tracker) writeAtomic(path string, rec budgetRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal budget record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".budget-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp budget file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp budget file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp budget file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp budget file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp budget file into place: %w", err)
	}
	return nil
}
