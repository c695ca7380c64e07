// Package motion implements the Motion Seed / Motion / AdmissionRecord
// domain model and the append-only Seed Registry (§3, §4.6).
package motion

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SeedStatus is the lifecycle status of a MotionSeed.
type SeedStatus string

const (
	SeedRecorded  SeedStatus = "recorded"
	SeedClustered SeedStatus = "clustered"
	SeedPromoted  SeedStatus = "promoted"
	SeedArchived  SeedStatus = "archived"
)

// MotionType enumerates the three agenda-eligible motion kinds.
type MotionType string

const (
	TypePolicy        MotionType = "policy"
	TypeConstitutional MotionType = "constitutional"
	TypeProcedural    MotionType = "procedural"
)

// MotionStatus is the lifecycle status of a Motion.
type MotionStatus string

const (
	StatusProposed    MotionStatus = "proposed"
	StatusSeconded    MotionStatus = "seconded"
	StatusDebating    MotionStatus = "debating"
	StatusVoting      MotionStatus = "voting"
	StatusPassed      MotionStatus = "passed"
	StatusFailed      MotionStatus = "failed"
	StatusDiedNoSecond MotionStatus = "died_no_second"
)

// AdmissionStatus is the outcome of the Admission Gate's evaluation.
type AdmissionStatus string

const (
	AdmissionAdmitted AdmissionStatus = "admitted"
	AdmissionRejected AdmissionStatus = "rejected"
	AdmissionDeferred AdmissionStatus = "deferred"
)

// Reason codes emitted by the Admission Gate (§4.6).
const (
	ReasonMultiPrimaryRealm       = "MULTI_PRIMARY_REALM"
	ReasonMissingRequiredCosponsor = "MISSING_REQUIRED_COSPONSOR"
	ReasonExcessiveRealmSpan      = "EXCESSIVE_REALM_SPAN"
	ReasonMissingRequiredFields   = "MISSING_REQUIRED_FIELDS"
	ReasonNoPrimaryRealm          = "NO_PRIMARY_REALM"
	ReasonAmbiguousScope          = "AMBIGUOUS_SCOPE"
	ReasonImplementationInWhat    = "IMPLEMENTATION_DETAIL_IN_WHAT"
	ReasonSeedNotAgendaEligible   = "SEED_NOT_AGENDA_ELIGIBLE"
)

// MotionSeed is a non-binding proposal. Its core fields become immutable
// once Status transitions to SeedPromoted (§3 invariant, H3).
type MotionSeed struct {
	SeedID      string
	SubmittedBy string
	SubmittedAt time.Time
	SeedText    string
	Status      SeedStatus
	Provenance  string
}

// AdmissionRecord is the Admission Gate's verdict on a Motion.
type AdmissionRecord struct {
	Status             AdmissionStatus
	ReasonCodes        []string
	EscalationRequired bool
}

// Motion is an agenda-eligible artifact promoted from one or more Seeds.
type Motion struct {
	MotionID         string
	Title            string
	MotionType       MotionType
	PrimaryRealm     string
	PrimarySponsor   string
	CoSponsors       []string
	Realms           []string
	Text             string
	SuccessCriteria  string
	SourceSeedRefs   []string
	AdmissionRecord  AdmissionRecord
	Status           MotionStatus
	EscalationGranted bool
	Seconder         string
}

// IsAgendaEligible reports whether the Motion may appear on the agenda:
// §4.6 rule 6 — only admitted Motions are eligible.
func (m *Motion) IsAgendaEligible() bool {
	return m.AdmissionRecord.Status == AdmissionAdmitted
}

// NewSeed constructs a freshly recorded MotionSeed.
func NewSeed(submittedBy, seedText, provenance string) MotionSeed {
	return MotionSeed{
		SeedID:      uuid.New().String(),
		SubmittedBy: submittedBy,
		SubmittedAt: time.Now(),
		SeedText:    seedText,
		Status:      SeedRecorded,
		Provenance:  provenance,
	}
}

// ErrSeedImmutable is returned when a caller attempts to mutate a promoted
// seed's immutable fields.
var ErrSeedImmutable = fmt.Errorf("motion seed is promoted and immutable")

// ErrBoundaryBreach is returned when a caller attempts to smuggle a Seed
// directly onto the agenda, bypassing promotion and admission (H2/§4.6
// shim constraint).
var ErrBoundaryBreach = fmt.Errorf("boundary breach: a seed cannot become agenda-eligible without promotion and admission")

// SeedRegistry is the append-only store of MotionSeeds (§4.6 item 1).
// Ingest is unbounded and unconditional; no gate checks occur here.
type SeedRegistry struct {
	mu    sync.RWMutex
	seeds map[string]*MotionSeed
	order []string
}

// NewSeedRegistry creates an empty registry.
func NewSeedRegistry() *SeedRegistry {
	return &SeedRegistry{seeds: make(map[string]*MotionSeed)}
}

// Record appends a new seed and returns it.
func (r *SeedRegistry) Record(submittedBy, seedText, provenance string) MotionSeed {
	r.mu.Lock()
	defer r.mu.Unlock()

	seed := NewSeed(submittedBy, seedText, provenance)
	r.seeds[seed.SeedID] = &seed
	r.order = append(r.order, seed.SeedID)
	return seed
}

// Get returns a copy of the seed with the given ID.
func (r *SeedRegistry) Get(seedID string) (MotionSeed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.seeds[seedID]
	if !ok {
		return MotionSeed{}, false
	}
	return *s, true
}

// All returns a defensive copy of every recorded seed, in submission order.
func (r *SeedRegistry) All() []MotionSeed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MotionSeed, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.seeds[id])
	}
	return out
}

// MarkClustered advisory-tags a seed as belonging to a cluster. Clustering
// never mutates SeedText/SubmittedBy/SubmittedAt/Provenance.
func (r *SeedRegistry) MarkClustered(seedID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seeds[seedID]
	if !ok {
		return fmt.Errorf("seed %s not found", seedID)
	}
	if s.Status == SeedPromoted {
		return ErrSeedImmutable
	}
	s.Status = SeedClustered
	return nil
}

// MarkPromoted transitions a seed to SeedPromoted, freezing its immutable
// fields from this point on. Called exclusively by the Promotion Service
// on a successful budget check-and-consume.
func (r *SeedRegistry) MarkPromoted(seedID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seeds[seedID]
	if !ok {
		return fmt.Errorf("seed %s not found", seedID)
	}
	s.Status = SeedPromoted
	return nil
}

// ShimIngestQueuedMotion is the legacy boundary for an upstream
// recommender's "queued motion" input. It may only ever create a Seed:
// never a Motion, never an AdmissionRecord, never an agenda entry
// (§4.6 shim constraint, H2).
func (r *SeedRegistry) ShimIngestQueuedMotion(submittedBy, text string) MotionSeed {
	return r.Record(submittedBy, text, "legacy-queued-motion-shim")
}

// ShimPromoteDirectly always fails: it exists only to document and test
// the boundary-breach behavior required by scenario 6 in §8. A Seed may
// never be scheduled directly as an agenda-eligible Motion.
func ShimPromoteDirectly(seed MotionSeed) (*Motion, error) {
	return nil, ErrBoundaryBreach
}

// NewMotion constructs a Motion referencing the given seeds. Called only
// by the Promotion Service after a successful budget consume.
func NewMotion(title string, motionType MotionType, primaryRealm, primarySponsor string, coSponsors, realms []string, text, successCriteria string, seedRefs []string) *Motion {
	return &Motion{
		MotionID:        uuid.New().String(),
		Title:           title,
		MotionType:      motionType,
		PrimaryRealm:    primaryRealm,
		PrimarySponsor:  primarySponsor,
		CoSponsors:      coSponsors,
		Realms:          realms,
		Text:            text,
		SuccessCriteria: successCriteria,
		SourceSeedRefs:  seedRefs,
		AdmissionRecord: AdmissionRecord{Status: AdmissionDeferred},
		Status:          StatusProposed,
	}
}
