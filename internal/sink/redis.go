package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

// RedisSink appends records to a Redis stream with XADD.
type RedisSink struct {
	client redis.UniversalClient
	stream string
}

func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisSink(client, cfg.Stream), nil
}

func newRedisSink(client redis.UniversalClient, stream string) *RedisSink {
	return &RedisSink{client: client, stream: stream}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, records []Record) error {
	pipe := s.client.Pipeline()
	for _, r := range records {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]any{
				"id":     r.ID,
				"run_id": r.RunID,
				"index":  r.Index,
				"kind":   r.Outcome.Kind.String(),
				"doc":    string(r.Doc),
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd to %s: %w", s.stream, err)
	}

	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
