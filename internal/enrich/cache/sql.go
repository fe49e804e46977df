package cache

import (
	"context"
	"encoding/json"
	"time"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/keyword-enricher/library/kv"
)

// SQLBackend keeps entries in a kv table.
type SQLBackend struct {
	store kv.Interface
}

// NewSQLBackend creates a backend over store.
func NewSQLBackend(store kv.Interface) *SQLBackend {
	return &SQLBackend{store: store}
}

// Get implements Backend.
func (s *SQLBackend) Get(ctx context.Context, key string) (*Entry, error) {
	item, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) || errors.Is(err, kv.ErrKeyExpired) {
			return nil, ErrMiss
		}
		return nil, errors.Wrap(err, "kv get")
	}

	entry := new(Entry)
	if err := json.Unmarshal([]byte(item.Value), entry); err != nil {
		return nil, errors.Wrap(err, "decode cache entry")
	}
	return entry, nil
}

// Set implements Backend.
func (s *SQLBackend) Set(ctx context.Context, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encode cache entry")
	}
	if err := s.store.SetWithExpireAt(ctx, entry.Keyword, string(raw), entry.ExpiresAt()); err != nil {
		return errors.Wrap(err, "kv set")
	}
	return nil
}

// Delete implements Backend.
func (s *SQLBackend) Delete(ctx context.Context, key string) error {
	if err := s.store.Del(ctx, key); err != nil {
		return errors.Wrap(err, "kv del")
	}
	return nil
}

// Sweep implements Sweeper.
func (s *SQLBackend) Sweep(ctx context.Context, _ time.Time) (int, error) {
	n, err := s.store.Sweep(ctx)
	return int(n), err
}
