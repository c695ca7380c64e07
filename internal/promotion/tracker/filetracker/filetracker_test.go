package filetracker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryConsumeRespectsCapUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	tracker, err := New(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ok, err := tracker.TryConsume(context.Background(), "cycle-1", "king-01", 3)
			require.NoError(t, err)
			results[idx] = ok
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, ok := range results {
		if ok {
			successes++
		}
	}
	assert.Equal(t, 3, successes)
}

func TestTryConsumeSurvivesProcessRestart(t *testing.T) {
	dir := t.TempDir()

	tracker1, err := New(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		ok, err := tracker1.TryConsume(context.Background(), "cycle-1", "king-01", 3)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Simulate a process restart with a fresh Tracker instance over the
	// same directory.
	tracker2, err := New(dir)
	require.NoError(t, err)
	ok, err := tracker2.TryConsume(context.Background(), "cycle-1", "king-01", 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryConsumeCyclesAreIndependent(t *testing.T) {
	dir := t.TempDir()
	tracker, err := New(dir)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ok, err := tracker.TryConsume(context.Background(), "cycle-A", "king-01", 2)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := tracker.TryConsume(context.Background(), "cycle-B", "king-01", 2)
	require.NoError(t, err)
	assert.True(t, ok, "cycle-B budget must be independent of cycle-A's exhaustion")
}
