package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"k8s.io/klog/v2"
)

// Event types published on role transitions and handover outcomes.
const (
	TypePromoted       = "promoted"
	TypeDemoted        = "demoted"
	TypeHandoverResult = "handover"
	TypeDeploy         = "deploy"
)

// Event is a fire-and-forget notification. Consumers must never be able to
// block a node's role transition, so publishing failures are logged and
// dropped.
type Event struct {
	Type   string    `json:"type"`
	Node   string    `json:"node"`
	Leader string    `json:"leader,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// Sink receives protocol events.
type Sink interface {
	Publish(ctx context.Context, ev Event)
	Close() error
}

// RedisSink publishes events on a Redis channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects to Redis and verifies the connection before use.
func NewRedisSink(addr, password, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	klog.InfoS("Connected to Redis event sink", "addr", addr, "channel", channel)

	return &RedisSink{
		client:  client,
		channel: channel,
	}, nil
}

// Publish sends one event. Errors are logged, never returned: the sink is
// observability plumbing, not part of the protocol.
func (s *RedisSink) Publish(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		klog.ErrorS(err, "Failed to encode event", "type", ev.Type)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.client.Publish(pubCtx, s.channel, payload).Err(); err != nil {
		klog.ErrorS(err, "Failed to publish event", "type", ev.Type, "channel", s.channel)
	}
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// NopSink discards all events; used when no sink is configured and in tests.
type NopSink struct{}

func (NopSink) Publish(ctx context.Context, ev Event) {}

func (NopSink) Close() error { return nil }
