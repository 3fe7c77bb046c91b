package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel audit events are published on
const DefaultChannel = "mcp:audit"

// RedisPublisher publishes audit events so other instances and dashboards can follow them
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher; an empty channel selects DefaultChannel
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Record(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️  [AUDIT] Failed to marshal audit event %s: %v", event.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		log.Printf("⚠️  [AUDIT] Failed to publish audit event %s: %v", event.ID, err)
	}
}
