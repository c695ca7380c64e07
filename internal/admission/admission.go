// Package admission implements the Admission Gate: deterministic,
// non-LLM evaluation of Motions against the rejection conditions and
// cross-realm escalation rules in §4.6.
package admission

import (
	"strings"

	"github.com/conclave-engine/conclave/internal/motion"
)

// ambiguousScopePhrases are markers of unbounded, unreviewable scope.
var ambiguousScopePhrases = []string{
	"as needed",
	"as appropriate",
	"where applicable",
	"at discretion",
}

// Config tunes the cross-realm escalation thresholds (§6).
type Config struct {
	CrossRealmEscalationThreshold int // realm count at/above which explicit escalation is required (default 4)
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{CrossRealmEscalationThreshold: 4}
}

// Gate evaluates Motions. It never mutates Motion content (§4.6: "MUST
// NOT rewrite Motion content").
type Gate struct {
	cfg Config
}

// NewGate constructs an Admission Gate with the given configuration.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate runs every rejection check against m and returns the resulting
// AdmissionRecord. It never mutates m.
func (g *Gate) Evaluate(m *motion.Motion) motion.AdmissionRecord {
	var reasons []string

	if m.Title == "" || m.Text == "" || m.PrimarySponsor == "" {
		reasons = append(reasons, motion.ReasonMissingRequiredFields)
	}
	if m.PrimaryRealm == "" {
		reasons = append(reasons, motion.ReasonNoPrimaryRealm)
	}
	if countDistinctPrimaryRealms(m) > 1 {
		reasons = append(reasons, motion.ReasonMultiPrimaryRealm)
	}
	if containsAmbiguousScope(m.Text) {
		reasons = append(reasons, motion.ReasonAmbiguousScope)
	}
	if containsImplementationDetail(m.Text) {
		reasons = append(reasons, motion.ReasonImplementationInWhat)
	}

	escalationRequired := false
	realmCount := len(uniqueNonEmpty(m.Realms))
	switch {
	case realmCount <= 1:
		// No escalation required for single-realm (or realm-less, caught above) motions.
	case realmCount >= g.cfg.CrossRealmEscalationThreshold:
		escalationRequired = true
		if !m.EscalationGranted {
			reasons = append(reasons, motion.ReasonExcessiveRealmSpan)
		}
	default: // 2..threshold-1 realms
		if len(m.CoSponsors) == 0 {
			reasons = append(reasons, motion.ReasonMissingRequiredCosponsor)
		}
	}

	if len(reasons) > 0 {
		return motion.AdmissionRecord{
			Status:             motion.AdmissionRejected,
			ReasonCodes:        reasons,
			EscalationRequired: escalationRequired,
		}
	}

	return motion.AdmissionRecord{
		Status:             motion.AdmissionAdmitted,
		EscalationRequired: escalationRequired,
	}
}

func countDistinctPrimaryRealms(m *motion.Motion) int {
	if m.PrimaryRealm == "" {
		return 0
	}
	// A Motion carries exactly one PrimaryRealm field by construction;
	// this check guards against a caller having smuggled a second value
	// in via Realms that contradicts it structurally is out of scope —
	// the invariant is enforced by the Motion constructor itself.
	return 1
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func containsAmbiguousScope(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range ambiguousScopePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// implementationMarkers are phrases indicating HOW, not WHAT — detail
// that does not belong in a Motion's success-criteria/text body.
var implementationMarkers = []string{
	"using the following algorithm",
	"implemented via",
	"by running a script",
	"using sql query",
}

func containsImplementationDetail(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range implementationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
