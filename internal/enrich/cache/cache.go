// Package cache remembers search results per canonical keyword for a TTL.
package cache

import (
	"context"
	"encoding/json"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/keyword-enricher/library/log"
	"github.com/Laisky/keyword-enricher/library/search"
)

// ErrMiss is returned by backends for absent keys.
var ErrMiss = errors.New("cache miss")

// Entry is the cached outcome of one search for a canonical keyword.
// Syntheses holds the last synthesis made from Documents per domain,
// encoded as json.
type Entry struct {
	Keyword   string                     `json:"keyword"`
	Documents []search.Document          `json:"documents"`
	Provider  string                     `json:"provider"`
	FetchedAt time.Time                  `json:"fetched_at"`
	TTL       time.Duration              `json:"ttl"`
	Syntheses map[string]json.RawMessage `json:"syntheses,omitempty"`
}

// Synthesis returns the synthesis attached for domain, or nil.
func (e *Entry) Synthesis(domain string) json.RawMessage {
	if e == nil {
		return nil
	}
	return e.Syntheses[domain]
}

// ExpiresAt returns FetchedAt + TTL.
func (e *Entry) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

// Fresh reports whether e may still be served at now.
func (e *Entry) Fresh(now time.Time) bool {
	return e != nil && now.Before(e.ExpiresAt())
}

// URLs returns the document URLs in order.
func (e *Entry) URLs() []string {
	urls := make([]string, 0, len(e.Documents))
	for _, d := range e.Documents {
		urls = append(urls, d.URL)
	}
	return urls
}

// Backend stores entries by canonical keyword.
type Backend interface {
	// Get returns ErrMiss when key is absent.
	Get(ctx context.Context, key string) (*Entry, error)
	// Set overwrites the entry stored under entry.Keyword.
	Set(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key string) error
}

// Sweeper is implemented by backends that keep expired entries until swept.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Option customises a Cache.
type Option func(*Cache)

// WithTTL sets the lifetime given to stored entries.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger logSDK.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache is the dedup/TTL cache. Lookup never reaches a search provider,
// and an expired entry is reported absent until the backend TTL or the
// sweeper evicts it.
type Cache struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	logger  logSDK.Logger
}

// New creates a cache over backend.
func New(backend Backend, opts ...Option) (*Cache, error) {
	if backend == nil {
		return nil, errors.New("cache backend is nil")
	}

	c := &Cache{
		backend: backend,
		ttl:     24 * time.Hour,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  log.Logger.Named("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// TTL returns the lifetime given to new entries.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Lookup returns the fresh entry for the canonical keyword.
// ok is false on a miss or when the entry has expired. Expired entries are
// left in place, a concurrent Store may already have replaced them.
func (c *Cache) Lookup(ctx context.Context, canonical string) (entry *Entry, ok bool, err error) {
	entry, err = c.backend.Get(ctx, canonical)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "get cache entry %q", canonical)
	}

	if !entry.Fresh(c.now()) {
		return nil, false, nil
	}

	return entry, true, nil
}

// Store overwrites the entry for the canonical keyword and stamps a fresh expiry.
func (c *Cache) Store(ctx context.Context, canonical string, result *search.Result) (*Entry, error) {
	return c.StoreWithTTL(ctx, canonical, result, c.ttl)
}

// StoreWithTTL is Store with an explicit ttl.
func (c *Cache) StoreWithTTL(ctx context.Context, canonical string, result *search.Result, ttl time.Duration) (*Entry, error) {
	if result == nil {
		return nil, errors.New("search result is nil")
	}
	if ttl <= 0 {
		return nil, errors.Errorf("ttl must be greater than 0: %s", ttl)
	}

	entry := &Entry{
		Keyword:   canonical,
		Documents: result.Documents,
		Provider:  result.Provider,
		FetchedAt: c.now(),
		TTL:       ttl,
	}
	if err := c.backend.Set(ctx, entry); err != nil {
		return nil, errors.Wrapf(err, "set cache entry %q", canonical)
	}

	c.logger.Debug("cache stored",
		zap.String("keyword", canonical),
		zap.String("provider", entry.Provider),
		zap.Int("documents", len(entry.Documents)),
		zap.Time("expires_at", entry.ExpiresAt()))
	return entry, nil
}

// Attach records the synthesis made for domain from a fresh entry without
// changing its expiry. Syntheses of other domains are kept.
// It is a no-op when the entry is absent or expired.
func (c *Cache) Attach(ctx context.Context, canonical, domain string, synthesis any) error {
	entry, ok, err := c.Lookup(ctx, canonical)
	if err != nil || !ok {
		return err
	}

	raw, err := json.Marshal(synthesis)
	if err != nil {
		return errors.Wrap(err, "marshal synthesis")
	}

	updated := *entry
	updated.Syntheses = make(map[string]json.RawMessage, len(entry.Syntheses)+1)
	for d, v := range entry.Syntheses {
		updated.Syntheses[d] = v
	}
	updated.Syntheses[domain] = raw
	if err := c.backend.Set(ctx, &updated); err != nil {
		return errors.Wrapf(err, "attach synthesis to %q", canonical)
	}
	return nil
}

// Invalidate removes the entry for the canonical keyword.
func (c *Cache) Invalidate(ctx context.Context, canonical string) error {
	if err := c.backend.Delete(ctx, canonical); err != nil {
		return errors.Wrapf(err, "delete cache entry %q", canonical)
	}
	return nil
}

// Sweep evicts expired entries when the backend keeps them.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	sw, ok := c.backend.(Sweeper)
	if !ok {
		return 0, nil
	}

	n, err := sw.Sweep(ctx, c.now())
	if err != nil {
		return n, errors.Wrap(err, "sweep cache")
	}
	return n, nil
}

// RunSweeper sweeps every interval until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Sweep(ctx)
			if err != nil {
				c.logger.Warn("sweep cache", zap.Error(err))
				continue
			}
			if n > 0 {
				c.logger.Debug("swept expired entries", zap.Int("count", n))
			}
		}
	}
}
