package search

import (
	"context"
	"sync/atomic"

	"github.com/Laisky/errors/v2"

	"github.com/Laisky/keyword-enricher/library/throttle"
)

// RotatingEngine spreads calls over engines that differ only by credential.
// Every call starts on the next credential; a credential rejected by the
// provider hands the same call over to the following one.
type RotatingEngine struct {
	name    string
	engines []Engine
	next    atomic.Uint64
}

// NewRotatingEngine wraps one engine per credential under a shared name.
func NewRotatingEngine(name string, engines ...Engine) (*RotatingEngine, error) {
	cleaned := make([]Engine, 0, len(engines))
	for _, e := range engines {
		if e != nil {
			cleaned = append(cleaned, e)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.Errorf("rotating engine %q requires at least one credential", name)
	}

	return &RotatingEngine{name: name, engines: cleaned}, nil
}

// Name implements Engine.
func (r *RotatingEngine) Name() string {
	return r.name
}

// Search implements Engine.
func (r *RotatingEngine) Search(ctx context.Context, query string) ([]SearchResultItem, error) {
	start := int(r.next.Add(1)-1) % len(r.engines)

	var lastErr error
	for i := 0; i < len(r.engines); i++ {
		engine := r.engines[(start+i)%len(r.engines)]
		items, err := engine.Search(ctx, query)
		if err == nil {
			return items, nil
		}

		lastErr = err
		se, ok := AsStatusError(err)
		if !ok || !se.CredentialRejected() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// ThrottledEngine paces an engine with a shared keyed throttle.
type ThrottledEngine struct {
	Engine
	key      string
	throttle *throttle.KeyedThrottle
}

// NewThrottledEngine decorates engine so every call waits on throttle under key.
// An empty key falls back to the engine name.
func NewThrottledEngine(engine Engine, t *throttle.KeyedThrottle, key string) *ThrottledEngine {
	if key == "" {
		key = engine.Name()
	}

	return &ThrottledEngine{Engine: engine, key: key, throttle: t}
}

// Search implements Engine.
func (t *ThrottledEngine) Search(ctx context.Context, query string) ([]SearchResultItem, error) {
	if err := t.throttle.Wait(ctx, t.key); err != nil {
		return nil, errors.Wrapf(err, "throttle %s", t.Engine.Name())
	}

	return t.Engine.Search(ctx, query)
}
