package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quarry_stream_published_total",
	Help: "Envelopes appended to Redis streams by event type.",
}, []string{"event_type"})

// Publisher appends envelopes to a Redis stream.
type Publisher struct {
	client *redis.Client
}

// PublishOption configures Redis XADD behaviour.
type PublishOption func(*redis.XAddArgs)

// WithMaxLenApprox caps the stream at an approximate max length.
func WithMaxLenApprox(maxLen int64) PublishOption {
	return func(args *redis.XAddArgs) {
		if maxLen > 0 {
			args.MaxLen = maxLen
			args.Approx = true
		}
	}
}

// NewPublisher creates a Publisher.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish validates the envelope and appends it to the stream, returning the
// Redis entry ID.
func (p *Publisher) Publish(ctx context.Context, stream string, envelope Envelope, opts ...PublishOption) (string, error) {
	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if envelope.EventID == "" {
		envelope.EventID = uuid.NewString()
	}
	if envelope.OccurredAt.IsZero() {
		envelope.OccurredAt = time.Now().UTC()
	}
	raw, err := envelope.Marshal()
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	for _, opt := range opts {
		opt(args)
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	publishedTotal.WithLabelValues(envelope.EventType).Inc()
	return id, nil
}

// PublishIngestRequest wraps an ingestion payload in an envelope and publishes
// it, tying the stream entry to its task record via TaskID.
func (p *Publisher) PublishIngestRequest(ctx context.Context, stream, taskID string, payload interface{}, opts ...PublishOption) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventType: EventIngestRequested,
		Version:   PayloadVersion,
		TaskID:    taskID,
		Data:      data,
	}
	return p.Publish(ctx, stream, env, opts...)
}
