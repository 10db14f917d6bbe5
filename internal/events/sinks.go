package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// LogSink writes each event as an "EVENT_JSON:" log line, the NEP-297
// convention for indexers tailing logs.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Write(ctx context.Context, e Event) error {
	b, err := e.JSON()
	if err != nil {
		return fmt.Errorf("log sink: %w", err)
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "EVENT_JSON:"+string(b), "event", string(e.Event))
	return nil
}

// RedisPublisher is the subset of *redis.Client the Redis sink needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes event envelopes to a Redis pub/sub channel.
type RedisSink struct {
	client  RedisPublisher
	channel string
}

// NewRedisSink creates a sink publishing on channel.
func NewRedisSink(client RedisPublisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Write(ctx context.Context, e Event) error {
	b, err := e.JSON()
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", e.Event, err)
	}
	if err := s.client.Publish(ctx, s.channel, b).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", s.channel, err)
	}
	return nil
}

// Recorder keeps every event in memory. It is both a Sink and a synchronous
// Publisher, for tests and scenario runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Write(_ context.Context, e Event) error {
	r.Publish(e)
	return nil
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]Name, len(r.events))
	for i, e := range r.events {
		names[i] = e.Event
	}
	return names
}

// Reset clears the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
