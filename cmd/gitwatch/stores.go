package main

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisadapter "github.com/ericfisherdev/gitwatch/internal/adapter/driven/redis"
	sqliteadapter "github.com/ericfisherdev/gitwatch/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/gitwatch/internal/application"
	"github.com/ericfisherdev/gitwatch/internal/config"
	"github.com/ericfisherdev/gitwatch/internal/domain/port/driven"
)

// redisKeyPrefix namespaces checkpoint keys in a shared Redis.
const redisKeyPrefix = "gitwatch:"

// stores holds the persistence adapters shared by every command.
type stores struct {
	db          *sqliteadapter.DB
	pool        *application.TokenPool
	checkpoints driven.CheckpointStore
	closers     []func() error
}

// openStores opens the database, runs migrations and builds the token pool
// and checkpoint store selected by cfg.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	s := &stores{db: db, closers: []func() error{db.Close}}
	log.Info().Str("path", cfg.DBPath).Msg("database opened")

	version, err := sqliteadapter.RunMigrations(ctx, db)
	if err != nil {
		s.close()
		return nil, err
	}
	log.Info().Uint("schema_version", version).Msg("migrations complete")

	if cfg.SecretKey == nil {
		log.Warn().Msg("no secret key configured, credentials are stored unencrypted")
	}
	s.pool = application.NewTokenPool(sqliteadapter.NewCredentialRepo(db, cfg.SecretKey), time.Now)

	switch cfg.CheckpointBackend {
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		s.closers = append(s.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			s.close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		s.checkpoints = redisadapter.NewCheckpointRepo(client, redisKeyPrefix)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis checkpoint store")
	default:
		s.checkpoints = sqliteadapter.NewCheckpointRepo(db)
	}

	return s, nil
}

// close releases the stores in reverse order of opening.
func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Error().Err(err).Msg("error closing store")
		}
	}
}
