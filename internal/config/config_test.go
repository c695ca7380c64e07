package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8, cfg.VotingConcurrency)
	assert.Equal(t, 72, cfg.ArchonCount)
	assert.Equal(t, "file", cfg.PromotionTrackerBackend)
	assert.Equal(t, 20, cfg.LLMRequestsPerSecond)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveRequestRate(t *testing.T) {
	cfg := Load()
	cfg.LLMRequestsPerSecond = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm_requests_per_second")
}

func TestValidateRejectsNonDivisibleArchonCount(t *testing.T) {
	cfg := Load()
	cfg.ArchonCount = 70

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "divisible by 3")
}

func TestValidateRejectsBadTrackerBackend(t *testing.T) {
	cfg := Load()
	cfg.PromotionTrackerBackend = "memcached"

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := Load()
	cfg.MotionThreshold[MotionPolicy] = 1.5

	err := cfg.Validate()
	require.Error(t, err)
}
