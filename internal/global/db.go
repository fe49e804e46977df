// Package global builds the shared clients and services of one process
// from enrich.Settings.
package global

import (
	"context"
	"database/sql"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/library/db/mongo"
	"github.com/Laisky/keyword-enricher/library/db/postgres"
	rdb "github.com/Laisky/keyword-enricher/library/db/redis"
	"github.com/Laisky/keyword-enricher/library/db/sqlite"
	"github.com/Laisky/keyword-enricher/library/log"
)

// Backend names shared by the cache and artifact settings.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQL      = "sql"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
)

// DBs holds the connections opened for the configured backends.
type DBs struct {
	Redis *rdb.DB
	// CacheSQL backs the sql cache backend.
	CacheSQL *sql.DB
	Gorm     *gorm.DB
	Mongo    *mongo.DB
}

// needsRedis reports whether any component talks to redis.
func needsRedis(s enrich.Settings) bool {
	if s.Cache.Backend == BackendRedis {
		return true
	}
	for _, sink := range s.Alert.Sinks {
		if strings.EqualFold(sink, BackendRedis) {
			return true
		}
	}
	return false
}

// isPostgresDSN tells postgres DSNs from sqlite file paths.
func isPostgresDSN(dsn string) bool {
	dsn = strings.TrimSpace(dsn)
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// SetupDB opens every connection s asks for. Connections opened before a
// failure are closed again.
func SetupDB(ctx context.Context, s enrich.Settings, debug bool) (*DBs, error) {
	var (
		dbs = new(DBs)
		ok  bool
		err error
	)
	defer func() {
		if !ok {
			dbs.Close(context.WithoutCancel(ctx))
		}
	}()

	if needsRedis(s) {
		dbs.Redis = rdb.NewDB(&redis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		if err = dbs.Redis.Ping(ctx); err != nil {
			return nil, err
		}
		log.Logger.Info("connected redis", zap.String("addr", s.Redis.Addr))
	}

	if s.Cache.Backend == BackendSQL {
		if isPostgresDSN(s.Cache.DSN) {
			dbs.CacheSQL, err = postgres.NewDB(ctx, s.Cache.DSN)
		} else {
			dbs.CacheSQL, err = sqlite.NewDB(s.Cache.DSN)
		}
		if err != nil {
			return nil, errors.Wrap(err, "open cache db")
		}
		log.Logger.Info("connected cache db")
	}

	switch s.Artifact.Backend {
	case BackendPostgres:
		if dbs.Gorm, err = postgres.OpenGorm(ctx, s.Artifact.DSN, debug); err != nil {
			return nil, errors.Wrap(err, "open artifact db")
		}
	case BackendSQLite:
		if dbs.Gorm, err = sqlite.OpenGorm(s.Artifact.DSN, debug); err != nil {
			return nil, errors.Wrap(err, "open artifact db")
		}
	case BackendMongo:
		if dbs.Mongo, err = mongo.Open(ctx, s.Artifact.MongoURI, s.Artifact.MongoDatabase); err != nil {
			return nil, errors.Wrap(err, "open artifact db")
		}
	}
	if dbs.Gorm != nil || dbs.Mongo != nil {
		log.Logger.Info("connected artifact db", zap.String("backend", s.Artifact.Backend))
	}

	ok = true
	return dbs, nil
}

// Close closes every opened connection, logging failures.
func (d *DBs) Close(ctx context.Context) {
	if d == nil {
		return
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			log.Logger.Warn("close redis", zap.Error(err))
		}
	}
	if d.CacheSQL != nil {
		if err := d.CacheSQL.Close(); err != nil {
			log.Logger.Warn("close cache db", zap.Error(err))
		}
	}
	if d.Gorm != nil {
		if sqlDB, err := d.Gorm.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Logger.Warn("close artifact db", zap.Error(err))
			}
		}
	}
	if d.Mongo != nil {
		if err := d.Mongo.Close(ctx); err != nil {
			log.Logger.Warn("close mongo", zap.Error(err))
		}
	}
}
