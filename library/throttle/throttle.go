// Package throttle paces requests globally and per key (API credential, alert kind).
package throttle

import (
	"context"
	"sync"

	"github.com/Laisky/errors/v2"
	"golang.org/x/time/rate"
)

// Config configures a KeyedThrottle. Zero values disable the matching limiter.
type Config struct {
	TotalNPerSec, TotalBurst     float64
	EachKeyNPerSec, EachKeyBurst float64
}

// KeyedThrottle combines one total limiter with lazily created per-key limiters.
type KeyedThrottle struct {
	cfg   Config
	total *rate.Limiter

	mu   sync.Mutex
	keys map[string]*rate.Limiter
}

// New creates a KeyedThrottle.
func New(cfg Config) (*KeyedThrottle, error) {
	if cfg.TotalNPerSec < 0 || cfg.EachKeyNPerSec < 0 {
		return nil, errors.New("NPerSec must not be negative")
	}
	if cfg.TotalNPerSec > 0 && cfg.TotalBurst < 1 {
		cfg.TotalBurst = 1
	}
	if cfg.EachKeyNPerSec > 0 && cfg.EachKeyBurst < 1 {
		cfg.EachKeyBurst = 1
	}

	t := &KeyedThrottle{
		cfg:  cfg,
		keys: make(map[string]*rate.Limiter),
	}
	if cfg.TotalNPerSec > 0 {
		t.total = rate.NewLimiter(rate.Limit(cfg.TotalNPerSec), int(cfg.TotalBurst))
	}

	return t, nil
}

func (t *KeyedThrottle) limiterFor(key string) *rate.Limiter {
	if t.cfg.EachKeyNPerSec <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.keys[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.cfg.EachKeyNPerSec), int(t.cfg.EachKeyBurst))
		t.keys[key] = l
	}

	return l
}

// Allow reports whether key may proceed now, consuming a token when it does.
func (t *KeyedThrottle) Allow(key string) bool {
	if t == nil {
		return true
	}
	if l := t.limiterFor(key); l != nil && !l.Allow() {
		return false
	}
	if t.total != nil && !t.total.Allow() {
		return false
	}

	return true
}

// Wait blocks until key may proceed or ctx ends.
func (t *KeyedThrottle) Wait(ctx context.Context, key string) error {
	if t == nil {
		return nil
	}
	if l := t.limiterFor(key); l != nil {
		if err := l.Wait(ctx); err != nil {
			return errors.Wrap(err, "wait for key throttle")
		}
	}
	if t.total != nil {
		if err := t.total.Wait(ctx); err != nil {
			return errors.Wrap(err, "wait for total throttle")
		}
	}

	return nil
}
