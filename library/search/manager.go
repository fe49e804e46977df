package search

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/eapache/go-resiliency/breaker"

	appLog "github.com/Laisky/keyword-enricher/library/log"
	"github.com/Laisky/keyword-enricher/library/retry"
)

const (
	defaultMaxDistinctEngines = 8
	defaultBreakerErrors      = 5
	defaultBreakerSuccesses   = 1
	defaultBreakerTimeout     = time.Minute
)

// Engine defines a concrete search backend that can process queries and return items.
type Engine interface {
	// Name returns the unique identifier for the engine instance.
	Name() string
	// Search executes the query and returns a slice of SearchResultItem when successful.
	Search(ctx context.Context, query string) ([]SearchResultItem, error)
}

// Fetcher is the capability the enrichment pipeline depends on.
type Fetcher interface {
	// Fetch returns the ordered documents of the first engine that answers.
	Fetch(ctx context.Context, query string) (*Result, error)
}

// ManagerOption customises a Manager during construction.
type ManagerOption func(*Manager)

// WithLogger overrides the fallback logger used when no contextual logger is available.
func WithLogger(logger logSDK.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRand supplies a deterministic random generator, primarily for testing.
func WithRand(r *rand.Rand) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.rand = r
		}
	}
}

// WithRetryPolicy sets the per engine retry budget and backoff.
func WithRetryPolicy(p retry.Policy) ManagerOption {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithMaxDistinctEngines limits how many unique engines can participate in a single query.
func WithMaxDistinctEngines(limit int) ManagerOption {
	return func(m *Manager) {
		if limit > 0 {
			m.maxDistinct = limit
		}
	}
}

// WithBreaker configures the circuit breaker kept for every engine.
// errorThreshold consecutive failures open it for timeout.
func WithBreaker(errorThreshold int, timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if errorThreshold > 0 {
			m.breakerErrors = errorThreshold
		}
		if timeout > 0 {
			m.breakerTimeout = timeout
		}
	}
}

// WithClock overrides the time source used to stamp documents.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager orchestrates multiple search engines using priority tiers and failover policies.
//
// Every engine call is wrapped by the retry policy. An engine that spends its
// budget hands over to the next engine of the same tier, then to the next tier.
type Manager struct {
	tiers          [][]Engine
	policy         retry.Policy
	maxDistinct    int
	breakerErrors  int
	breakerTimeout time.Duration
	rand           *rand.Rand
	randMu         sync.Mutex
	logger         logSDK.Logger
	now            func() time.Time

	breakersMu sync.Mutex
	breakers   map[string]*breaker.Breaker
}

// NewManager constructs a Manager with the provided priority tiers.
// Each inner slice represents a tier where engines share equal priority.
// Engines within a tier are attempted in random order.
func NewManager(tiers [][]Engine, opts ...ManagerOption) (*Manager, error) {
	filtered := make([][]Engine, 0, len(tiers))
	totalEngines := 0
	for _, tier := range tiers {
		cleanedTier := make([]Engine, 0, len(tier))
		for _, engine := range tier {
			if engine == nil {
				continue
			}
			cleanedTier = append(cleanedTier, engine)
		}
		if len(cleanedTier) == 0 {
			continue
		}
		totalEngines += len(cleanedTier)
		filtered = append(filtered, cleanedTier)
	}

	if totalEngines == 0 {
		return nil, errors.New("search manager requires at least one engine")
	}

	manager := &Manager{
		tiers:          filtered,
		policy:         retry.DefaultPolicy(),
		maxDistinct:    defaultMaxDistinctEngines,
		breakerErrors:  defaultBreakerErrors,
		breakerTimeout: defaultBreakerTimeout,
		rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:         appLog.Logger.Named("search_manager"),
		now:            func() time.Time { return time.Now().UTC() },
		breakers:       make(map[string]*breaker.Breaker),
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager, nil
}

// Fetch routes the query through the configured engines until one succeeds or all are exhausted.
// Exhaustion returns an *ExhaustedError wrapping ErrUnavailable. Cancellation of ctx is
// returned as is.
func (m *Manager) Fetch(ctx context.Context, query string) (*Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, errors.New("search query cannot be empty")
	}

	logger := ContextLogger(ctx, m.logger, "search_manager")
	if logger != nil {
		logger = logger.With(zap.String("query", trimmed))
	}

	used := 0
	exhausted := &ExhaustedError{}
	for tierIdx, tier := range m.tiers {
		for _, engine := range m.shuffleEngines(tier) {
			if used >= m.maxDistinct {
				break
			}
			used++

			items, attempts, err := m.callEngine(ctx, logger, engine, trimmed)
			if err == nil {
				if logger != nil {
					logger.Info("search manager succeeded",
						zap.String("engine", engine.Name()),
						zap.Int("tier", tierIdx),
						zap.Int("attempts", attempts),
						zap.Int("results", len(items)),
					)
				}
				return m.toResult(trimmed, engine.Name(), items), nil
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.Wrap(ctxErr, "search canceled")
			}

			exhausted.Failures = append(exhausted.Failures, EngineFailure{
				Engine:   engine.Name(),
				Attempts: attempts,
				Err:      err,
			})
			if logger != nil {
				logger.Warn("search engine exhausted",
					zap.String("engine", engine.Name()),
					zap.Int("tier", tierIdx),
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
			}
		}
	}

	return nil, exhausted
}

// callEngine runs one engine under its breaker and the retry policy.
func (m *Manager) callEngine(ctx context.Context, logger logSDK.Logger, engine Engine, query string) ([]SearchResultItem, int, error) {
	cb := m.breakerFor(engine.Name())

	var (
		items    []SearchResultItem
		attempts int
	)
	err := m.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt + 1
		if logger != nil {
			logger.Debug("search manager invoking engine",
				zap.String("engine", engine.Name()),
				zap.Int("attempt", attempts),
			)
		}

		var found []SearchResultItem
		runErr := cb.Run(func() error {
			var searchErr error
			found, searchErr = engine.Search(ctx, query)
			return searchErr
		})
		if runErr == nil {
			items = found
			return nil
		}

		return classify(runErr)
	})

	return items, attempts, err
}

// classify marks errors that another attempt cannot fix as permanent.
func classify(err error) error {
	if errors.Is(err, breaker.ErrBreakerOpen) {
		return retry.Permanent(err)
	}
	if se, ok := AsStatusError(err); ok && !se.Temporary() {
		return retry.Permanent(err)
	}
	return err
}

func (m *Manager) breakerFor(name string) *breaker.Breaker {
	m.breakersMu.Lock()
	defer m.breakersMu.Unlock()

	cb, ok := m.breakers[name]
	if !ok {
		cb = breaker.New(m.breakerErrors, defaultBreakerSuccesses, m.breakerTimeout)
		m.breakers[name] = cb
	}
	return cb
}

func (m *Manager) toResult(query, engine string, items []SearchResultItem) *Result {
	now := m.now()
	docs := make([]Document, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.URL) == "" {
			continue
		}
		docs = append(docs, Document{
			Title:       strings.TrimSpace(item.Name),
			URL:         strings.TrimSpace(item.URL),
			Snippet:     strings.TrimSpace(item.Snippet),
			RetrievedAt: now,
			Provider:    engine,
		})
	}

	return &Result{
		Query:     query,
		Provider:  engine,
		CreatedAt: now,
		Documents: docs,
	}
}

func (m *Manager) shuffleEngines(tier []Engine) []Engine {
	// shuffleEngines returns a randomly permuted copy of the tier to balance
	// load across peers that share the same priority level.
	if len(tier) <= 1 {
		return tier
	}

	cloned := make([]Engine, len(tier))
	copy(cloned, tier)

	m.randMu.Lock()
	m.rand.Shuffle(len(cloned), func(i, j int) {
		cloned[i], cloned[j] = cloned[j], cloned[i]
	})
	m.randMu.Unlock()

	return cloned
}
