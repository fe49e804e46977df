// Package pipeline drives keywords through cache, search, synthesis,
// post-processing and persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/alert"
	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
	"github.com/Laisky/keyword-enricher/internal/enrich/cache"
	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/internal/enrich/postproc"
	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
	"github.com/Laisky/keyword-enricher/internal/enrich/synth"
	"github.com/Laisky/keyword-enricher/library/log"
	"github.com/Laisky/keyword-enricher/library/search"
)

// Stage names the orchestrator in alerts.
const Stage = "pipeline"

// Synthesizer turns documents into a structured result.
type Synthesizer interface {
	Synthesize(ctx context.Context, keyword string, docs []search.Document, def *schema.Definition) (*synth.Result, error)
}

// PostProcessor validates and repairs a synthesis.
type PostProcessor interface {
	Process(ctx context.Context, res *synth.Result, def *schema.Definition) (*postproc.Outcome, error)
}

// Deps are the stages an Orchestrator composes.
type Deps struct {
	Canonicalizer *keyword.Canonicalizer
	Registry      *schema.Registry
	Cache         *cache.Cache
	Search        search.Fetcher
	Synth         Synthesizer
	Post          PostProcessor
	Store         artifact.Store
	// Alerts receives failures the post-processor did not already report.
	Alerts alert.Sink
}

// Outcome is the result of one successful keyword run.
type Outcome struct {
	Keyword  keyword.Keyword    `json:"keyword"`
	Artifact *artifact.Artifact `json:"artifact"`
	// CacheHit is set when no search was issued.
	CacheHit bool `json:"cache_hit"`
	// Reused is set when the latest stored artifact already held this content.
	Reused bool `json:"reused"`
	// Shared is set on callers that joined another caller's run.
	Shared   bool              `json:"shared"`
	Post     *postproc.Outcome `json:"post,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds the number of keywords processed at once by Run and Drain.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithDuplicatePolicy selects coalesce or reject for concurrent runs of one keyword.
func WithDuplicatePolicy(policy string) Option {
	return func(o *Orchestrator) {
		o.policy = policy
	}
}

// WithFailureCooldown sets how long a failed keyword is refused.
func WithFailureCooldown(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.cooldown = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger logSDK.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Orchestrator runs the pipeline with at most one run per canonical keyword
// and domain. A keyword keeps one artifact chain, owned by the domain that
// persisted its first version.
type Orchestrator struct {
	deps        Deps
	concurrency int
	policy      string
	cooldown    time.Duration
	calendar    bool
	now         func() time.Time
	logger      logSDK.Logger

	flight  singleflight.Group
	claimMu sync.Mutex
	claims  map[string]struct{}
	waiting atomic.Int64

	failures *failureBook
}

// New creates an Orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("schema registry is required")
	case deps.Cache == nil:
		return nil, errors.New("cache is required")
	case deps.Search == nil:
		return nil, errors.New("search fetcher is required")
	case deps.Synth == nil:
		return nil, errors.New("synthesizer is required")
	case deps.Post == nil:
		return nil, errors.New("post-processor is required")
	case deps.Store == nil:
		return nil, errors.New("artifact store is required")
	}
	if deps.Canonicalizer == nil {
		deps.Canonicalizer = keyword.NewCanonicalizer(nil)
	}

	o := &Orchestrator{
		deps:        deps,
		concurrency: 4,
		policy:      enrich.DuplicateCoalesce,
		cooldown:    time.Hour,
		now:         time.Now,
		logger:      log.Logger.Named("pipeline"),
		claims:      map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.deps.Alerts == nil {
		o.deps.Alerts = alert.NewLogSink(o.logger)
	}
	switch o.policy {
	case enrich.DuplicateCoalesce, enrich.DuplicateReject:
	default:
		return nil, errors.Errorf("unknown duplicate policy %q", o.policy)
	}
	o.failures = newFailureBook()

	return o, nil
}

// Enrich runs one keyword through the pipeline.
// Failures come back as *enrich.Error and are recorded for the cooldown.
func (o *Orchestrator) Enrich(ctx context.Context, raw keyword.Raw) (*Outcome, error) {
	kw, err := o.deps.Canonicalizer.Parse(raw)
	if err != nil {
		return nil, enrich.NewError(enrich.KindInvalidInput, raw.Text, "invalid keyword", err)
	}
	def, ok := o.deps.Registry.Lookup(kw.Domain)
	if !ok {
		return nil, enrich.NewError(enrich.KindInvalidInput, kw.Canonical,
			"unknown domain "+kw.Domain, nil)
	}
	kw.Domain = def.Name()
	if kw.Domain == schema.DomainCalendar {
		return nil, enrich.NewError(enrich.KindInvalidInput, kw.Canonical,
			"the calendar is built from batch artifacts, not enriched per keyword", nil)
	}
	key := runKey(kw.Domain, kw.Canonical)

	if rec, cooling := o.failures.active(key, o.now()); cooling {
		return nil, rec.err()
	}
	if err := o.checkOwner(ctx, kw); err != nil {
		return nil, err
	}

	if o.policy == enrich.DuplicateReject {
		if !o.claim(key) {
			return nil, enrich.NewError(enrich.KindDuplicateInFlight, kw.Canonical,
				"another run of this keyword is in flight", nil)
		}
		defer o.release(key)
		return o.run(ctx, kw, def)
	}

	leader := false
	o.waiting.Add(1)
	v, err, _ := o.flight.Do(key, func() (any, error) {
		leader = true
		return o.run(ctx, kw, def)
	})
	o.waiting.Add(-1)
	if err != nil {
		return nil, err
	}

	out, _ := v.(*Outcome)
	if leader || out == nil {
		return out, nil
	}
	shared := *out
	shared.Shared = true
	shared.Artifact = out.Artifact.Clone()
	return &shared, nil
}

// runKey identifies the runs, claims and failures of one keyword in one domain.
func runKey(domain, canonical string) string {
	return domain + "\x00" + canonical
}

func (o *Orchestrator) claim(key string) bool {
	o.claimMu.Lock()
	defer o.claimMu.Unlock()
	if _, busy := o.claims[key]; busy {
		return false
	}
	o.claims[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key string) {
	o.claimMu.Lock()
	defer o.claimMu.Unlock()
	delete(o.claims, key)
}

// checkOwner refuses kw when its artifact chain belongs to another domain.
func (o *Orchestrator) checkOwner(ctx context.Context, kw keyword.Keyword) error {
	latest, err := o.deps.Store.Latest(ctx, kw.Canonical)
	switch {
	case err == nil:
		return ownerConflict(kw, latest)
	case errors.Is(err, artifact.ErrNotFound):
		return nil
	default:
		return enrich.NewError(enrich.KindInternal, kw.Canonical, "read latest artifact", err)
	}
}

func ownerConflict(kw keyword.Keyword, latest *artifact.Artifact) error {
	if latest.Domain == kw.Domain {
		return nil
	}
	return enrich.NewError(enrich.KindInvalidInput, kw.Canonical,
		fmt.Sprintf("keyword already has %s artifacts, cannot enrich it as %s", latest.Domain, kw.Domain), nil)
}

// run is the exclusive fetch-through-persist sequence of one keyword.
func (o *Orchestrator) run(ctx context.Context, kw keyword.Keyword, def *schema.Definition) (*Outcome, error) {
	startAt := o.now()
	logger := o.logger.With(zap.String("keyword", kw.Canonical), zap.String("domain", kw.Domain))

	out, err := o.process(ctx, logger, kw, def)
	if err != nil {
		alerted := out != nil && out.Post != nil && out.Post.Alert != nil
		return nil, o.fail(ctx, logger, kw, err, alerted)
	}

	o.failures.clear(runKey(kw.Domain, kw.Canonical))
	out.Duration = o.now().Sub(startAt)
	logger.Info("keyword enriched",
		zap.Int("version", out.Artifact.Version),
		zap.Bool("cache_hit", out.CacheHit),
		zap.Bool("reused", out.Reused),
		zap.Duration("cost", out.Duration))
	return out, nil
}

func (o *Orchestrator) process(ctx context.Context, logger logSDK.Logger,
	kw keyword.Keyword, def *schema.Definition) (*Outcome, error) {
	out := &Outcome{Keyword: kw}

	entry, hit, err := o.deps.Cache.Lookup(ctx, kw.Canonical)
	if err != nil {
		logger.Warn("cache lookup failed, fetch instead", zap.Error(err))
		hit = false
	}

	if hit {
		out.CacheHit = true
		if cached := cachedSynthesis(logger, entry, def); cached != nil {
			logger.Debug("revalidate cached synthesis")
			return o.finish(ctx, logger, out, kw, def, cached, false)
		}
	} else {
		res, err := o.deps.Search.Fetch(ctx, kw.Canonical)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), "search")
			}
			if errors.Is(err, search.ErrUnavailable) {
				return nil, enrich.NewError(enrich.KindSearchUnavailable, kw.Canonical,
					"all search providers failed", err)
			}
			return nil, enrich.NewError(enrich.KindSearchUnavailable, kw.Canonical, "search", err)
		}

		if entry, err = o.deps.Cache.Store(ctx, kw.Canonical, res); err != nil {
			logger.Warn("cache store failed", zap.Error(err))
			entry = &cache.Entry{Keyword: kw.Canonical, Documents: res.Documents, Provider: res.Provider}
		}
	}

	res, err := o.deps.Synth.Synthesize(ctx, kw.Canonical, entry.Documents, def)
	if err != nil {
		return nil, err
	}
	return o.finish(ctx, logger, out, kw, def, res, true)
}

// cachedSynthesis returns the synthesis attached to entry when it was made
// with the active definition.
func cachedSynthesis(logger logSDK.Logger, entry *cache.Entry, def *schema.Definition) *synth.Result {
	raw := entry.Synthesis(def.Name())
	if len(raw) == 0 {
		return nil
	}

	cached := new(synth.Result)
	if err := json.Unmarshal(raw, cached); err != nil {
		logger.Warn("drop undecodable cached synthesis", zap.Error(err))
		return nil
	}
	if cached.Domain != def.Name() || cached.SchemaVersion != def.Version() || cached.PromptHash != def.Hash() {
		logger.Info("cached synthesis made with another prompt, synthesize again",
			zap.String("cached_version", cached.SchemaVersion),
			zap.String("active_version", def.Version()))
		return nil
	}
	return cached
}

// finish post-processes res, persists it and attaches it to the cache.
func (o *Orchestrator) finish(ctx context.Context, logger logSDK.Logger, out *Outcome,
	kw keyword.Keyword, def *schema.Definition, res *synth.Result, attach bool) (*Outcome, error) {
	post, err := o.deps.Post.Process(ctx, res, def)
	out.Post = post
	if err != nil {
		if !attach {
			// the cached synthesis no longer passes, so the next run starts over
			if ierr := o.deps.Cache.Invalidate(ctx, kw.Canonical); ierr != nil {
				logger.Warn("invalidate cache entry", zap.Error(ierr))
			}
		}
		return out, err
	}

	a, reused, err := o.persist(ctx, logger, kw, def, post)
	if err != nil {
		return out, err
	}
	out.Artifact = a
	out.Reused = reused

	if attach {
		if err := o.deps.Cache.Attach(ctx, kw.Canonical, kw.Domain, res); err != nil {
			logger.Warn("attach synthesis to cache", zap.Error(err))
		}
	}
	return out, nil
}

// persist appends latest+1. A lost race is retried once against the new
// latest, and content equal to the latest reuses it.
func (o *Orchestrator) persist(ctx context.Context, logger logSDK.Logger,
	kw keyword.Keyword, def *schema.Definition, post *postproc.Outcome) (*artifact.Artifact, bool, error) {
	status := artifact.StatusValid
	if post.Repaired {
		status = artifact.StatusRepaired
	}
	hash := artifact.ContentHash(post.Fields, post.Citations)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		version := 1
		latest, err := o.deps.Store.Latest(ctx, kw.Canonical)
		switch {
		case err == nil:
			if err := ownerConflict(kw, latest); err != nil {
				return nil, false, err
			}
			if latest.ContentHash == hash {
				logger.Debug("content unchanged, reuse latest artifact", zap.Int("version", latest.Version))
				return latest, true, nil
			}
			version = latest.Version + 1
		case errors.Is(err, artifact.ErrNotFound):
		default:
			return nil, false, enrich.NewError(enrich.KindInternal, kw.Canonical, "read latest artifact", err)
		}

		a := &artifact.Artifact{
			Keyword:       kw.Canonical,
			Domain:        kw.Domain,
			Version:       version,
			SchemaName:    def.Name(),
			SchemaVersion: def.Version(),
			PromptHash:    def.Hash(),
			Fields:        post.Fields,
			Citations:     post.Citations,
			ContentHash:   hash,
			Status:        status,
		}
		err = o.deps.Store.Append(ctx, a)
		if err == nil {
			return a, false, nil
		}
		if !errors.Is(err, artifact.ErrVersionConflict) {
			return nil, false, enrich.NewError(enrich.KindInternal, kw.Canonical, "append artifact", err)
		}

		lastErr = err
		logger.Warn("artifact version conflict", zap.Int("version", version), zap.Int("attempt", attempt), zap.Error(err))
	}

	return nil, false, enrich.NewError(enrich.KindPersistenceConflict, kw.Canonical,
		"lost the version race twice", lastErr)
}

// fail types err, records it for the cooldown and alerts when nobody did.
func (o *Orchestrator) fail(ctx context.Context, logger logSDK.Logger, kw keyword.Keyword, err error, alerted bool) error {
	typed, ok := enrich.AsError(err)
	if !ok {
		kind := enrich.KindInternal
		if ctx.Err() != nil {
			kind = enrich.KindCanceled
		}
		typed = enrich.NewError(kind, kw.Canonical, "run failed", err)
	}

	if typed.Kind == enrich.KindCanceled || typed.Kind == enrich.KindDuplicateInFlight {
		logger.Info("keyword run stopped", zap.String("kind", string(typed.Kind)), zap.Error(typed))
		return typed
	}

	now := o.now()
	o.failures.record(kw, typed, now, now.Add(o.cooldown))
	logger.Warn("keyword failed",
		zap.String("kind", string(typed.Kind)),
		zap.Time("retry_after", now.Add(o.cooldown)),
		zap.Error(typed))

	if alerted {
		return typed
	}
	a := alert.New(Stage, kw.Canonical, kw.Domain, typed.Kind, typed.Error(), nil, now)
	if aerr := o.deps.Alerts.Send(context.WithoutCancel(ctx), a); aerr != nil {
		logger.Error("send alert", zap.Error(aerr))
	}
	return typed
}

// Waiting returns how many callers are inside a coalesced run.
func (o *Orchestrator) Waiting() int {
	return int(o.waiting.Load())
}
