/**
 * @description
 * Redis pub/sub fanout for pipeline lifecycle events.
 * Crawl completions, analysis passes and impact recomputations are published
 * as JSON on a single channel; the API's SSE endpoint subscribes and relays
 * them to connected clients. Publishing is strictly best-effort: a Redis
 * outage degrades live updates, never the pipeline itself.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 */

package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/macronet-project/backend/internal/logger"
)

// EventsChannel is the Redis pub/sub channel carrying pipeline events.
const EventsChannel = "macronet:events"

// Stream event kinds.
const (
	EventCrawlCompleted    = "crawl_completed"
	EventCrawlFailed       = "crawl_failed"
	EventAnalysisCompleted = "analysis_completed"
	EventImpactsRecomputed = "event_impacts_recomputed"
)

// StreamEvent is the JSON envelope published on EventsChannel.
type StreamEvent struct {
	Kind      string      `json:"kind"`
	Source    string      `json:"source,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notifier publishes StreamEvents. A nil Notifier (or nil Redis client) is
// valid and publishes nothing, so offline tools can share service code.
type Notifier struct {
	Redis *redis.Client
}

// NewNotifier creates a new Notifier.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{Redis: rdb}
}

// Publish sends one event on the shared channel. Failures are logged and
// swallowed.
func (n *Notifier) Publish(ctx context.Context, kind, source string, payload interface{}) {
	if n == nil || n.Redis == nil {
		return
	}
	evt := StreamEvent{
		Kind:      kind,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		logger.Error("Notifier: marshalling %s event failed: %v", kind, err)
		return
	}
	if err := n.Redis.Publish(ctx, EventsChannel, raw).Err(); err != nil {
		logger.Error("Notifier: publishing %s event failed: %v", kind, err)
	}
}
