// Package postgres opens postgres connections for the artifact store and the sql cache.
package postgres

import (
	"context"
	"database/sql"
	"time"

	errors "github.com/Laisky/errors/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// NewDB opens a pooled *sql.DB over the pgx driver.
func NewDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	db.SetMaxIdleConns(6)
	db.SetMaxOpenConns(50)
	db.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// OpenGorm opens dsn through gorm. SQL logs truncate oversized parameters.
func OpenGorm(ctx context.Context, dsn string, debug bool) (*gorm.DB, error) {
	sqlDB, err := NewDB(ctx, dsn)
	if err != nil {
		return nil, err
	}

	level := gormLogger.Warn
	if debug {
		level = gormLogger.Info
	}

	gdb, err := gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: newTruncatingParamsLogger(gormLogger.Default.LogMode(level)),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "open gorm postgres")
	}

	return gdb, nil
}
