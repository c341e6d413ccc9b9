package messaging

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/guide-lms/guide-router/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS FORWARDER
// ══════════════════════════════════════════════════════════════════════════════

// RedisPublisher is the subset of the go-redis client used by the forwarder.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Envelope is the JSON form of a lifecycle notification on Redis.
type Envelope struct {
	ID          string           `json:"id"`
	InstanceID  string           `json:"instance_id"`
	EventType   shared.EventType `json:"event_type"`
	AggregateID string           `json:"aggregate_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Payload     map[string]any   `json:"payload"`
}

// RedisForwarder republishes bus events to Redis pub/sub so that other
// processes (dashboards, analytics) can follow sessions. Subscribe its Handle
// method with SubscribeAll.
type RedisForwarder struct {
	client     RedisPublisher
	channel    func(shared.EventType) string
	instanceID string
	timeout    time.Duration
}

// NewRedisForwarder creates a forwarder. channel maps an event type to a
// pub/sub channel name.
func NewRedisForwarder(client RedisPublisher, channel func(string) string, instanceID string) *RedisForwarder {
	if instanceID == "" {
		instanceID = ulid.MustNew(ulid.Now(), rand.Reader).String()
	}
	return &RedisForwarder{
		client:     client,
		channel:    func(t shared.EventType) string { return channel(string(t)) },
		instanceID: instanceID,
		timeout:    2 * time.Second,
	}
}

// Handle implements shared.EventHandler.
func (f *RedisForwarder) Handle(event shared.Event) error {
	envelope := Envelope{
		ID:          ulid.MustNew(ulid.Timestamp(event.OccurredAt()), rand.Reader).String(),
		InstanceID:  f.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := f.client.Publish(ctx, f.channel(event.EventType()), string(data)).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}
