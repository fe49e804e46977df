// Package kv is a key/value table with per-key expiry over database/sql.
package kv

import (
	"context"
	"database/sql"
	"regexp"
	"time"
	"unicode/utf8"

	errors "github.com/Laisky/errors/v2"
)

var (
	_ Interface = new(Kv)

	regexpTableName = regexp.MustCompile(`^[a-zA-Z0-9_]{1,64}$`)

	// ErrKeyNotFound is returned by Get for absent keys.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExpired is returned by Get for keys past their expiry.
	ErrKeyExpired = errors.New("key expired")
)

const (
	maxKeyLength  = 512
	defaultMaxTTL = 30 * 24 * time.Hour
)

// KvItem is a kv doc
type KvItem struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpireAt  time.Time `json:"expire_at"`
}

// Interface is a kv interface
type Interface interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	SetWithExpireAt(ctx context.Context, key, value string, expireAt time.Time) error
	Get(ctx context.Context, key string) (*KvItem, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, key string) error
	Sweep(ctx context.Context) (int64, error)
}

// Kv is a key-value store for postgres or sqlite
type Kv struct {
	opt *option
	db  *sql.DB
}

type option struct {
	tableName string
	maxTTL    time.Duration
	now       func() time.Time
}

// Option is a function that configures the kv
type Option func(*option) error

func applyOpts(opts ...Option) (*option, error) {
	// fill default
	o := &option{
		tableName: "kv",
		maxTTL:    defaultMaxTTL,
		now:       time.Now,
	}

	// apply opts
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return o, nil
}

// WithDBName is a option to set table name
func WithDBName(tableName string) Option {
	return func(o *option) error {
		if !regexpTableName.MatchString(tableName) {
			return errors.Errorf("invalid table name: %s", tableName)
		}
		o.tableName = tableName
		return nil
	}
}

// WithMaxTTL caps how far in the future a key may expire.
func WithMaxTTL(ttl time.Duration) Option {
	return func(o *option) error {
		if ttl <= 0 {
			return errors.Errorf("max ttl must be greater than 0: %s", ttl)
		}
		o.maxTTL = ttl
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *option) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		o.now = now
		return nil
	}
}

// NewKv create a new kv
func NewKv(db *sql.DB, opts ...Option) (*Kv, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	opt, err := applyOpts(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "apply opts")
	}

	kv := &Kv{
		opt: opt,
		db:  db,
	}

	if err := kv.setup(); err != nil {
		return nil, errors.Wrap(err, "setup kv")
	}

	return kv, nil
}

func (kv *Kv) setup() error {
	stmt := `
CREATE TABLE IF NOT EXISTS ` + kv.opt.tableName + ` (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL,
  expire_at TIMESTAMP NOT NULL
)`

	if _, err := kv.db.Exec(stmt); err != nil {
		return errors.Wrap(err, "create kv table")
	}

	return nil
}

func (kv *Kv) validKey(key string) error {
	if key == "" || len(key) > maxKeyLength || !utf8.ValidString(key) {
		return errors.Errorf("invalid key: %q", key)
	}

	return nil
}

// SetWithTTL stores the key-value pair with a time-to-live duration.
func (kv *Kv) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Errorf("ttl must be greater than 0: %s", ttl)
	}

	return kv.SetWithExpireAt(ctx, key, value, kv.opt.now().Add(ttl))
}

// SetWithExpireAt stores the key-value pair with a specific expiration time.
// An existing key is overwritten.
func (kv *Kv) SetWithExpireAt(ctx context.Context, key, value string, expireAt time.Time) error {
	if err := kv.validKey(key); err != nil {
		return errors.WithStack(err)
	}

	now := kv.opt.now()
	if !expireAt.After(now) {
		return errors.Errorf("expire time is in the past: %s", expireAt)
	}
	if expireAt.After(now.Add(kv.opt.maxTTL)) {
		return errors.Errorf("expire time is too far in the future: %s", expireAt)
	}

	stmt := `
INSERT INTO ` + kv.opt.tableName + ` (key, value, created_at, expire_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT(key)
DO UPDATE SET value = EXCLUDED.value, created_at = EXCLUDED.created_at, expire_at = EXCLUDED.expire_at`

	if _, err := kv.db.ExecContext(ctx, stmt, key, value, now.UTC(), expireAt.UTC()); err != nil {
		return errors.Wrap(err, "upsert kv item")
	}

	return nil
}

// Get retrieves the key's document. If the key is expired,
// it deletes the record and returns ErrKeyExpired.
func (kv *Kv) Get(ctx context.Context, key string) (*KvItem, error) {
	var doc KvItem
	stmt := `SELECT key, value, created_at, expire_at FROM ` + kv.opt.tableName + ` WHERE key = $1 LIMIT 1`
	err := kv.db.QueryRowContext(ctx, stmt, key).Scan(&doc.Key, &doc.Value, &doc.CreatedAt, &doc.ExpireAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrKeyNotFound, "key %s", key)
		}
		return nil, errors.Wrap(err, "failed to get key")
	}

	if !doc.ExpireAt.IsZero() && !kv.opt.now().Before(doc.ExpireAt) {
		_ = kv.Del(ctx, key)
		return nil, errors.Wrapf(ErrKeyExpired, "key %s", key)
	}
	return &doc, nil
}

// Exists checks whether a key exists and hasn't expired.
func (kv *Kv) Exists(ctx context.Context, key string) (bool, error) {
	item, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrKeyExpired) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to check existence")
	}

	return item != nil, nil
}

// Del removes the key from the store.
func (kv *Kv) Del(ctx context.Context, key string) error {
	stmt := `DELETE FROM ` + kv.opt.tableName + ` WHERE key = $1`
	if _, err := kv.db.ExecContext(ctx, stmt, key); err != nil {
		return errors.Wrap(err, "failed to delete key")
	}
	return nil
}

// Sweep deletes every expired row and returns how many were removed.
func (kv *Kv) Sweep(ctx context.Context) (int64, error) {
	stmt := `DELETE FROM ` + kv.opt.tableName + ` WHERE expire_at <= $1`
	res, err := kv.db.ExecContext(ctx, stmt, kv.opt.now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "sweep expired keys")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "count swept keys")
	}
	return n, nil
}
