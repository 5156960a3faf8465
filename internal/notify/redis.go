package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisConfig controls the redis client behavior.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string

	DialTimeout time.Duration
	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.Channel == "" {
		out.Channel = "callrecorder:recordings"
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// RedisBroker publishes msgpack encoded events on a Redis channel.
type RedisBroker struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// OpenRedisBroker connects to Redis and validates connectivity via PING.
func OpenRedisBroker(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisBroker, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBroker{rdb: rdb, channel: cfg.Channel, logger: logger}, nil
}

// Publish sends ev to every subscriber of the channel.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := msgpack.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe listens on the channel until ctx is done.
func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Event, error) {
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := msgpack.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("Dropping undecodable event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()

	return out, nil
}

// Close closes the redis client.
func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
