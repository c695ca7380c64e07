package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-engine/conclave/internal/motion"
)

func baseMotion() *motion.Motion {
	return motion.NewMotion(
		"Grain Tariff Reduction",
		motion.TypePolicy,
		"Commerce",
		"king-01",
		nil,
		[]string{"Commerce"},
		"Reduce tariffs on grain imports by 10 percent.",
		"Tariff rate measured quarterly.",
		nil,
	)
}

func TestSingleRealmNoEscalationRequired(t *testing.T) {
	gate := NewGate(DefaultConfig())
	m := baseMotion()

	record := gate.Evaluate(m)
	require.Equal(t, motion.AdmissionAdmitted, record.Status)
	assert.False(t, record.EscalationRequired)
}

func TestTwoToThreeRealmsRequireCosponsors(t *testing.T) {
	gate := NewGate(DefaultConfig())
	m := baseMotion()
	m.Realms = []string{"Commerce", "Treasury"}

	record := gate.Evaluate(m)
	require.Equal(t, motion.AdmissionRejected, record.Status)
	assert.Contains(t, record.ReasonCodes, motion.ReasonMissingRequiredCosponsor)

	m.CoSponsors = []string{"king-02"}
	record = gate.Evaluate(m)
	assert.Equal(t, motion.AdmissionAdmitted, record.Status)
}

func TestFourOrMoreRealmsRequireEscalation(t *testing.T) {
	gate := NewGate(DefaultConfig())
	m := baseMotion()
	m.Realms = []string{"Commerce", "Treasury", "Defense", "Justice"}
	m.CoSponsors = []string{"king-02"}

	record := gate.Evaluate(m)
	require.Equal(t, motion.AdmissionRejected, record.Status)
	assert.Contains(t, record.ReasonCodes, motion.ReasonExcessiveRealmSpan)
	assert.True(t, record.EscalationRequired)

	m.EscalationGranted = true
	record = gate.Evaluate(m)
	assert.Equal(t, motion.AdmissionAdmitted, record.Status)
}

func TestMissingRequiredFields(t *testing.T) {
	gate := NewGate(DefaultConfig())
	m := baseMotion()
	m.Title = ""

	record := gate.Evaluate(m)
	require.Equal(t, motion.AdmissionRejected, record.Status)
	assert.Contains(t, record.ReasonCodes, motion.ReasonMissingRequiredFields)
}

func TestAmbiguousScopeRejected(t *testing.T) {
	gate := NewGate(DefaultConfig())
	m := baseMotion()
	m.Text = "Adjust tariffs as needed to stabilize prices."

	record := gate.Evaluate(m)
	require.Equal(t, motion.AdmissionRejected, record.Status)
	assert.Contains(t, record.ReasonCodes, motion.ReasonAmbiguousScope)
}

func TestNoPrimaryRealmRejected(t *testing.T) {
	gate := NewGate(DefaultConfig())
	m := baseMotion()
	m.PrimaryRealm = ""

	record := gate.Evaluate(m)
	require.Equal(t, motion.AdmissionRejected, record.Status)
	assert.Contains(t, record.ReasonCodes, motion.ReasonNoPrimaryRealm)
}

func TestEvaluateNeverMutatesMotion(t *testing.T) {
	gate := NewGate(DefaultConfig())
	m := baseMotion()
	originalText := m.Text

	gate.Evaluate(m)
	assert.Equal(t, originalText, m.Text)
}
