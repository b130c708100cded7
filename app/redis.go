package app

import (
	"context"

	"github.com/fiffu/dealwatch/config"
	"github.com/fiffu/dealwatch/lib/cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewRedis(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Reads fall back to the store while redis is down.
			if err := client.Ping(ctx).Err(); err != nil {
				log.Sugar().Warnw("Redis unreachable, caching disabled until it recovers", "addr", opts.Addr, "err", err)
			} else {
				log.Info("Redis connected", zap.String("addr", opts.Addr))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func NewCache(client redis.UniversalClient) cache.Cache {
	return cache.NewRedisCache(client)
}

func NewFeedCache(cfg *config.Config, c cache.Cache) *cache.FeedCache {
	return cache.NewFeedCache(c, cfg.Ingest.FeedCacheTTL)
}
