// Package sweep runs the background worker that evicts idle in-memory user state.
package sweep

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often the worker sweeps.
const DefaultInterval = 5 * time.Minute

// TrackerPruner evicts idle hydration trackers and reports whose were dropped.
type TrackerPruner interface {
	PruneIdle(ttl time.Duration) []string
}

// ConversationPruner evicts idle chat conversations.
type ConversationPruner interface {
	PruneIdle(ttl time.Duration) int
}

// BucketPruner drops expired rate limit windows.
type BucketPruner interface {
	Prune() int
}

// CleanupCallback is called for every user whose tracker was evicted.
type CleanupCallback func(userID string)

// Targets are the stores swept on every tick. Nil targets are skipped.
type Targets struct {
	Trackers      TrackerPruner
	Conversations ConversationPruner
	RateLimits    BucketPruner
	OnEvict       CleanupCallback
}

// Sweep runs one pass and returns the number of evicted trackers.
func Sweep(t Targets, ttl time.Duration) int {
	evicted := 0
	if t.Trackers != nil {
		ids := t.Trackers.PruneIdle(ttl)
		for _, id := range ids {
			if t.OnEvict != nil {
				t.OnEvict(id)
			}
		}
		evicted = len(ids)
	}

	convs := 0
	if t.Conversations != nil {
		convs = t.Conversations.PruneIdle(ttl)
	}
	buckets := 0
	if t.RateLimits != nil {
		buckets = t.RateLimits.Prune()
	}

	if evicted > 0 || convs > 0 || buckets > 0 {
		slog.Info("TTL worker cleanup completed",
			"trackers", evicted,
			"conversations", convs,
			"rate_limit_buckets", buckets)
	}
	return evicted
}

// StartTTLWorker runs a background goroutine that periodically sweeps idle
// state until ctx is cancelled.
func StartTTLWorker(ctx context.Context, interval, ttl time.Duration, targets Targets) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				Sweep(targets, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
