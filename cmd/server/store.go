package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/quentinrf/aquaflow/internal/adapters/memory"
	"github.com/quentinrf/aquaflow/internal/adapters/redis"
	"github.com/quentinrf/aquaflow/internal/adapters/sqlite"
	"github.com/quentinrf/aquaflow/internal/domain"
)

// redisStartupTimeout bounds how long startup waits for Redis to answer
const redisStartupTimeout = 30 * time.Second

// openStore initializes the state store selected by config.StoreType
func openStore(ctx context.Context, config Config) (domain.StateStore, error) {
	switch config.StoreType {
	case "sqlite":
		s, err := sqlite.NewStore(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database %s: %w", config.DBPath, err)
		}
		log.Info().Str("db_path", config.DBPath).Msg("initialized SQLite store")
		return s, nil

	case "redis":
		s := redis.NewStore(config.RedisAddr, config.RedisPassword, config.RedisDB, config.RedisPrefix)

		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = redisStartupTimeout
		err := backoff.Retry(func() error {
			if err := s.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("addr", config.RedisAddr).Msg("redis not reachable, retrying")
				return err
			}
			return nil
		}, backoff.WithContext(eb, ctx))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", config.RedisAddr, err)
		}
		log.Info().Str("addr", config.RedisAddr).Str("prefix", config.RedisPrefix).Msg("initialized Redis store")
		return s, nil

	default:
		log.Info().Msg("initialized in-memory store")
		return memory.NewStore(), nil
	}
}
