package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synaptica-ai/reporting/pkg/common/config"
	"github.com/synaptica-ai/reporting/pkg/common/logger"
)

func RedisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// OpenRedis connects the cohort cache. An unreachable server is logged and
// the client is still returned; cache misses fall through to evaluation.
func OpenRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	client := redis.NewClient(RedisOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fields := map[string]interface{}{"addr": client.Options().Addr, "db": cfg.RedisDB}
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Log.WithError(err).WithFields(fields).Error("Failed to connect to Redis")
	} else {
		logger.Log.WithFields(fields).Info("Connected to Redis")
	}
	return client
}
