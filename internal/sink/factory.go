package sink

import (
	"context"
	"fmt"
	"os"

	"github.com/kx0101/accesslog-replayer/internal/config"
)

// Open connects every sink named in cfg.Sinks. On failure the sinks opened so
// far are closed again.
func Open(ctx context.Context, cfg *config.Config) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfg.Sinks))
	for _, name := range cfg.Sinks {
		s, err := open(ctx, name, cfg)
		if err != nil {
			_ = CloseAll(sinks)
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}

		sinks = append(sinks, s)
	}

	return sinks, nil
}

func open(ctx context.Context, name string, cfg *config.Config) (Sink, error) {
	switch name {
	case "stdout":
		return NewStdoutSink(os.Stdout), nil
	case "sqlite":
		return NewSQLiteSink(cfg.SQLite.Path)
	case "postgres":
		return NewPostgresSink(ctx, cfg.Postgres.DSN)
	case "elasticsearch":
		return NewElasticsearchSink(ElasticsearchConfig{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
			APIKey:    cfg.Elasticsearch.APIKey,
			Index:     cfg.Elasticsearch.Index,
		})
	case "nats":
		return NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject)
	case "redis":
		return NewRedisSink(ctx, RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
		})
	default:
		return nil, fmt.Errorf("unknown sink %q", name)
	}
}
