// Package transcript implements the session's append-only, timestamped
// record of everything said and decided during a Conclave.
package transcript

import (
	"fmt"
	"sync"
	"time"
)

// EntryType enumerates the kinds of transcript entries.
type EntryType string

const (
	EntrySpeech               EntryType = "speech"
	EntryViolationSpeech      EntryType = "violation_speech"
	EntryRedTeamSpeech        EntryType = "red_team_speech"
	EntryMotion               EntryType = "motion"
	EntryProcedural           EntryType = "procedural"
	EntrySystem               EntryType = "system"
	EntryStanceVoteDivergence EntryType = "stance_vote_divergence"
	EntryDigest               EntryType = "digest"
)

// Non-Archon speaker identities. Any downstream parser must skip entries
// whose speaker normalizes to one of these.
const (
	SpeakerSecretary         = "secretary"
	SpeakerSystem            = "system"
	SpeakerSystemBracketed   = "[system]"
	SpeakerProceduralBracket = "[procedural]"
	SpeakerExecutionPlanner  = "execution planner"
)

// Entry is one immutable line in the transcript.
type Entry struct {
	Position    int
	Timestamp   time.Time
	EntryType   EntryType
	SpeakerID   string
	SpeakerName string
	Content     string
	Metadata    map[string]any
}

// IsNonArchonSpeaker reports whether the given speaker name must be
// excluded from Archon-speech extraction (§4.2).
func IsNonArchonSpeaker(speakerName string) bool {
	switch normalizeSpeaker(speakerName) {
	case SpeakerSecretary, SpeakerSystem, SpeakerSystemBracketed, SpeakerProceduralBracket, SpeakerExecutionPlanner:
		return true
	default:
		return false
	}
}

func normalizeSpeaker(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			r = r + ('a' - 'A')
		}
		out = append(out, r)
	}
	return string(out)
}

// Transcript is the append-only store for a single session. It is
// mutated only by the session's own orchestration goroutine; no internal
// locking is required by that invariant, but a mutex is kept so tests and
// future concurrent readers (e.g. a checkpoint writer) can safely read.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
}

// New creates an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Append adds an entry, enforcing the append-only / monotonic-timestamp
// invariant. The timestamp is clamped forward to the previous entry's
// timestamp if an out-of-order call would otherwise violate monotonicity,
// since the engine's own clock is the only time source in play.
func (t *Transcript) Append(entryType EntryType, speakerID, speakerName, content string, metadata map[string]any) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := time.Now()
	if n := len(t.entries); n > 0 && ts.Before(t.entries[n-1].Timestamp) {
		ts = t.entries[n-1].Timestamp
	}

	entry := Entry{
		Position:    len(t.entries),
		Timestamp:   ts,
		EntryType:   entryType,
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		Content:     content,
		Metadata:    metadata,
	}
	t.entries = append(t.entries, entry)
	return entry
}

// AppendAt appends an entry at a caller-supplied timestamp, for replaying
// recorded entries without re-deriving wall-clock time. Unlike Append it
// takes ts as given and does not clamp it to keep timestamps monotonic.
func (t *Transcript) AppendAt(ts time.Time, entryType EntryType, speakerID, speakerName, content string, metadata map[string]any) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := Entry{
		Position:    len(t.entries),
		Timestamp:   ts,
		EntryType:   entryType,
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		Content:     content,
		Metadata:    metadata,
	}
	t.entries = append(t.entries, entry)
	return entry
}

// Entries returns a defensive copy of all entries in position order.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries appended so far.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// ArchonSpeeches returns only the entries attributable to Archon speakers,
// stripping the procedural-note patterns named in §4.2/§6.
func (t *Transcript) ArchonSpeeches() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if IsNonArchonSpeaker(e.SpeakerName) {
			continue
		}
		if containsProceduralMarker(e.Content) {
			continue
		}
		out = append(out, e)
	}
	return out
}

var proceduralMarkers = []string{
	"STANCE_MISSING:",
	"RED_TEAM_STANCE_MISSING:",
	"UNEXPLAINED stance",
	"## Debate Digest",
}

func containsProceduralMarker(content string) bool {
	for _, marker := range proceduralMarkers {
		if len(content) >= len(marker) && indexOf(content, marker) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m == 0 || m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

// Render produces the Markdown persisted layout from §6:
//
//	**[HH:MM:SS] <Speaker>:**
//	<content>
func (t *Transcript) Render() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var sb []byte
	for _, e := range t.entries {
		sb = append(sb, []byte(fmt.Sprintf("**[%s] %s:**\n%s\n\n", e.Timestamp.Format("15:04:05"), e.SpeakerName, e.Content))...)
	}
	return string(sb)
}
