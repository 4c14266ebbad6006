package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/websearch/pkg/kafka"
)

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector fans search events out to the in-process aggregator and, when a
// publisher is configured, to Kafka. Publishing happens on a background
// goroutine in batches; Track never blocks the request path.
type Collector struct {
	publisher  EventPublisher
	aggregator *Aggregator
	eventCh    chan SearchEvent
	batchSize  int
	interval   time.Duration
	logger     *slog.Logger
	done       chan struct{}
}

// NewCollector creates a Collector. publisher may be nil, in which case
// events are only aggregated.
func NewCollector(publisher EventPublisher, aggregator *Aggregator, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		publisher:  publisher,
		aggregator: aggregator,
		eventCh:    make(chan SearchEvent, bufferSize),
		batchSize:  100,
		interval:   time.Second,
		logger:     slog.Default().With("component", "analytics-collector"),
		done:       make(chan struct{}),
	}
}

// Run publishes queued events until ctx is cancelled, then drains what is
// left. It returns once the drain completes.
func (c *Collector) Run(ctx context.Context) error {
	defer close(c.done)
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh), "kafka", c.publisher != nil)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	batch := make([]kafka.Event, 0, c.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := c.publisher.PublishBatch(ctx, batch); err != nil {
			c.logger.Error("failed to publish analytics events", "count", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-c.eventCh:
			batch = append(batch, kafka.Event{Key: event.Query, Value: event})
			if len(batch) >= c.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case event := <-c.eventCh:
					batch = append(batch, kafka.Event{Key: event.Query, Value: event})
				default:
					flush(drainCtx)
					return nil
				}
			}
		}
	}
}

// Track records event. It is dropped from the Kafka stream, but still
// aggregated, when the buffer is full.
func (c *Collector) Track(event SearchEvent) {
	if c == nil {
		return
	}
	if c.aggregator != nil {
		c.aggregator.Record(event)
	}
	if c.publisher == nil {
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Done is closed when Run has returned.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}
