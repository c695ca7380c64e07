// Package redistracker implements a Redis-backed PromotionBudgetTracker
// for multi-process deployments where the file lock used by filetracker
// is unavailable (§4.6 item 3). Atomicity is provided by a single
// Lua-scripted compare-and-increment EVAL, not by client-side locking.
package redistracker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// consumeScript atomically checks the current counter against cap and,
// if under cap, increments and returns 1; otherwise returns 0 without
// mutating state.
const consumeScript = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local cap = tonumber(ARGV[1])
if current >= cap then
  return 0
end
redis.call("INCR", KEYS[1])
return 1
`

// Tracker is a Redis-backed BudgetTracker.
type Tracker struct {
	client    *redis.Client
	keyPrefix string
	script    *redis.Script
}

// New constructs a Tracker against an already-configured Redis client.
func New(client *redis.Client, keyPrefix string) *Tracker {
	if keyPrefix == "" {
		keyPrefix = "conclave:promotion-budget"
	}
	return &Tracker{client: client, keyPrefix: keyPrefix, script: redis.NewScript(consumeScript)}
}

func (t *Tracker) key(cycleID, kingID string) string {
	return fmt.Sprintf("%s:%s:%s", t.keyPrefix, cycleID, kingID)
}

// TryConsume implements promotion.BudgetTracker via a single atomic EVAL.
func (t *Tracker) TryConsume(ctx context.Context, cycleID, kingID string, budgetCap int) (bool, error) {
	key := t.key(cycleID, kingID)
	result, err := t.script.Run(ctx, t.client, []string{key}, budgetCap).Int()
	if err != nil {
		return false, fmt.Errorf("promotion budget eval for %s: %w", key, err)
	}
	return result == 1, nil
}
