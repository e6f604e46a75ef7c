package streams

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher appends envelopes to one Redis stream.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewPublisher creates a Publisher. maxLen caps the stream approximately; zero
// leaves it unbounded.
func NewPublisher(client *redis.Client, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

// Stream returns the target stream name.
func (p *Publisher) Stream() string { return p.stream }

// Publish validates the envelope and XADDs it under the "envelope" field.
func (p *Publisher) Publish(ctx context.Context, env Envelope) (string, error) {
	if p.stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if err := env.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}
