package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/logging"
)

// RedisConfig holds the Redis connection and stream settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`  // stream name prefix
	MaxLen   int64  `mapstructure:"max_len"` // approximate stream cap, 0 = unbounded
}

// Redis publishes audit records to Redis streams with XADD:
// <prefix>:switches and <prefix>:snapshots.
type Redis struct {
	rdb    *redis.Client
	prefix string
	maxLen int64
}

// NewRedis connects and pings the server.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisWithClient(rdb, cfg.Prefix, cfg.MaxLen), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *redis.Client, prefix string, maxLen int64) *Redis {
	if prefix == "" {
		prefix = "partition"
	}
	return &Redis{rdb: rdb, prefix: prefix, maxLen: maxLen}
}

// SwitchStream returns the stream that receives switch events.
func (r *Redis) SwitchStream() string { return r.prefix + ":switches" }

// SnapshotStream returns the stream that receives metrics snapshots.
func (r *Redis) SnapshotStream() string { return r.prefix + ":snapshots" }

func (r *Redis) RecordSwitch(ctx context.Context, ev logging.SwitchEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal switch event: %w", err)
	}
	return r.publish(ctx, r.SwitchStream(), map[string]interface{}{
		"channel_id": ev.ChannelID,
		"direction":  string(ev.Direction),
		"payload":    string(payload),
	})
}

func (r *Redis) RecordSnapshot(ctx context.Context, snap logging.MetricsSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return r.publish(ctx, r.SnapshotStream(), map[string]interface{}{
		"channel_id": snap.ChannelID,
		"payload":    string(payload),
	})
}

func (r *Redis) publish(ctx context.Context, stream string, values map[string]interface{}) error {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

// RawClient exposes the underlying client.
func (r *Redis) RawClient() *redis.Client { return r.rdb }

// Close closes the client.
func (r *Redis) Close() error { return r.rdb.Close() }
