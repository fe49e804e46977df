// Package sqlite opens single file databases for local runs and tests.
package sqlite

import (
	"database/sql"
	"strings"

	errors "github.com/Laisky/errors/v2"
	_ "github.com/mattn/go-sqlite3"
	gormSqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// MemoryDSN is a process local database shared by every connection.
const MemoryDSN = "file::memory:?cache=shared"

func normalizeDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return MemoryDSN
	}
	return dsn
}

// NewDB opens dsn as a *sql.DB. An empty dsn opens MemoryDSN.
func NewDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", normalizeDSN(dsn))
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	// sqlite serialises writers, one connection avoids "database is locked".
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	return db, nil
}

// OpenGorm opens dsn through gorm.
func OpenGorm(dsn string, debug bool) (*gorm.DB, error) {
	level := gormLogger.Warn
	if debug {
		level = gormLogger.Info
	}

	gdb, err := gorm.Open(gormSqlite.Open(normalizeDSN(dsn)), &gorm.Config{
		Logger: gormLogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open gorm sqlite")
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sqlite handle")
	}
	sqlDB.SetMaxOpenConns(1)

	return gdb, nil
}
