// Package queuecache is the shared key/value store keyed by MTA
// queue-id that carries scoring across the Policy→ContentFilter
// boundary (spec.md §3, §4.3). It wraps internal/cache.Cache, the
// process-safe backend (memory-mapped or network cache) spec.md §5
// requires, adding the TTL and key-naming convention the Content
// Filter needs.
package queuecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/busybox42/decency/internal/cache"
	"github.com/busybox42/decency/internal/session"
)

// TTL is the fixed expiration every QueueCache write uses, refreshed on
// each write per spec.md §3.
const TTL = 600 * time.Second

// keyPrefix names the cache key convention from spec.md §6:
// "QUEUE-<queue_id>".
const keyPrefix = "QUEUE-"

// QueueCache correlates MessageSession state across daemons through a
// single cache.Cache backend. Each write is a total single-key
// replacement; spec.md §5 explicitly forbids a read-modify-write
// protocol because two workers may write concurrently.
type QueueCache struct {
	backend cache.Cache
}

// New wraps an already-connected cache.Cache backend.
func New(backend cache.Cache) *QueueCache {
	return &QueueCache{backend: backend}
}

func key(queueID string) string { return keyPrefix + queueID }

// Load fetches and deserializes the snapshot stored under queueID, if
// any. A missing key is not an error; ok reports whether an entry was
// found.
func (q *QueueCache) Load(ctx context.Context, queueID string) (session.Snapshot, bool, error) {
	raw, err := q.backend.Get(ctx, key(queueID))
	if err != nil {
		if err == cache.ErrNotFound {
			return session.Snapshot{}, false, nil
		}
		return session.Snapshot{}, false, fmt.Errorf("queuecache: get %s: %w", queueID, err)
	}

	var data []byte
	switch v := raw.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return session.Snapshot{}, false, fmt.Errorf("queuecache: unexpected value type %T for %s", raw, queueID)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return session.Snapshot{}, false, fmt.Errorf("queuecache: unmarshal %s: %w", queueID, err)
	}
	return snap, true, nil
}

// Store writes snap as a total replacement under queueID with TTL
// refreshed to the full 600s.
func (q *QueueCache) Store(ctx context.Context, queueID string, snap session.Snapshot) error {
	snap.QueueID = queueID
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("queuecache: marshal %s: %w", queueID, err)
	}
	if err := q.backend.Set(ctx, key(queueID), data, TTL); err != nil {
		return fmt.Errorf("queuecache: set %s: %w", queueID, err)
	}
	return nil
}

// Touch re-writes an entry's TTL without otherwise changing its
// contents, keeping a predecessor entry alive when a successor is
// created (spec.md §4.3's "predecessor (prev_id re-touched to keep it
// alive)"). It satisfies session.CacheBackref.
func (q *QueueCache) Touch(queueID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, ok, err := q.Load(ctx, queueID)
	if err != nil {
		return err
	}
	if !ok {
		snap = session.Snapshot{QueueID: queueID}
	}
	return q.Store(ctx, queueID, snap)
}

// Link writes the current/successor/predecessor triad after
// disposition completes, per spec.md §4.3. next and prev may be empty.
func (q *QueueCache) Link(ctx context.Context, current session.Snapshot, next, prev string) error {
	if err := q.Store(ctx, current.QueueID, current); err != nil {
		return err
	}
	if next != "" {
		succ := session.Snapshot{QueueID: next, PrevID: current.QueueID}
		if err := q.Store(ctx, next, succ); err != nil {
			return err
		}
	}
	if prev != "" {
		if err := q.Touch(prev); err != nil {
			return err
		}
	}
	return nil
}

// ResolveUserKey builds the per-recipient cache key CmdFilter uses to
// memoize %user% resolution results (spec.md §4.6: "Result cached
// per-recipient in QueueCache").
func ResolveUserKey(recipient string) string {
	return "USER-" + recipient
}

// CachedUser fetches a memoized %user% resolution, if present.
func (q *QueueCache) CachedUser(ctx context.Context, recipient string) (string, bool, error) {
	raw, err := q.backend.Get(ctx, ResolveUserKey(recipient))
	if err != nil {
		if err == cache.ErrNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	switch v := raw.(type) {
	case string:
		return v, true, nil
	case []byte:
		return string(v), true, nil
	default:
		return "", false, fmt.Errorf("queuecache: unexpected value type %T for user cache", raw)
	}
}

// CacheUser memoizes a %user% resolution for TTL.
func (q *QueueCache) CacheUser(ctx context.Context, recipient, user string) error {
	return q.backend.Set(ctx, ResolveUserKey(recipient), user, TTL)
}
