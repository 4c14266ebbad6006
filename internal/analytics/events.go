// Package analytics records what users search for. Every search produces a
// SearchEvent that is aggregated in process and, when Kafka is enabled,
// published to the analytics topic.
package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventCacheHit   EventType = "cache_hit"
	EventZeroResult EventType = "zero_result"
	EventError      EventType = "error"
)

type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Endpoint  string    `json:"endpoint"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Classify picks the event type from the outcome of a search.
func Classify(err error, totalHits int, cacheHit bool) EventType {
	switch {
	case err != nil:
		return EventError
	case cacheHit:
		return EventCacheHit
	case totalHits == 0:
		return EventZeroResult
	default:
		return EventSearch
	}
}
