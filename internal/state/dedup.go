package state

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

const dedupSuffix = "_message_events"

// DedupCache records inbound event ids already handled for a tenant scope.
// The whole set lives under one key per scope as a JSON array; MarkSeen is a
// read-modify-write append. A process-level mutex serializes writers, which
// is only safe under the single-writer-per-scope assumption enforced by the
// run-state guard.
//
// Reads fail open: a store or parse error reports "not seen" — duplicate
// processing is preferable to dropping legitimate traffic.
type DedupCache struct {
	kv     KV
	prefix string
	mu     sync.Mutex
}

func NewDedupCache(kv KV) *DedupCache {
	return &DedupCache{kv: kv, prefix: "vkbot_"}
}

func (c *DedupCache) key(scope string) string {
	return c.prefix + scope + dedupSuffix
}

func (c *DedupCache) load(ctx context.Context, scope string) []string {
	raw, err := c.kv.Get(ctx, c.key(scope))
	if err != nil {
		if err != ErrNotFound {
			log.Warn().Err(err).Str("scope", scope).Msg("dedup read failed, treating as empty")
		}
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		log.Warn().Err(err).Str("scope", scope).Msg("dedup parse failed, treating as empty")
		return nil
	}
	return ids
}

// Seen reports whether the event id was already recorded for the scope.
func (c *DedupCache) Seen(ctx context.Context, scope, eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return contains(c.load(ctx, scope), eventID)
}

// MarkSeen appends the event id if absent and rewrites the set.
func (c *DedupCache) MarkSeen(ctx context.Context, scope, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markLocked(ctx, scope, eventID)
}

// Check marks the event id as seen and reports whether it was new. This is
// the single gate used on the inbound path before command dispatch.
func (c *DedupCache) Check(ctx context.Context, scope, eventID string) (fresh bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if contains(c.load(ctx, scope), eventID) {
		return false, nil
	}
	return true, c.markLocked(ctx, scope, eventID)
}

func (c *DedupCache) markLocked(ctx context.Context, scope, eventID string) error {
	ids := c.load(ctx, scope)
	if contains(ids, eventID) {
		return nil
	}
	ids = append(ids, eventID)
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, c.key(scope), string(raw))
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
