package broadcast

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures the Redis publisher
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher relays envelopes to a Redis pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(ctx context.Context, opts RedisOptions) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisPublisherWithClient(client, opts.Channel), nil
}

// NewRedisPublisherWithClient wraps an existing client
func NewRedisPublisherWithClient(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends the envelope to the configured channel, or to topic when no
// channel is configured
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := Encode(topic, payload)
	if err != nil {
		return err
	}

	channel := p.channel
	if channel == "" {
		channel = topic
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
