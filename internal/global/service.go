package global

import (
	"context"
	"fmt"
	"strings"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/alert"
	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
	"github.com/Laisky/keyword-enricher/internal/enrich/cache"
	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/internal/enrich/pipeline"
	"github.com/Laisky/keyword-enricher/internal/enrich/postproc"
	"github.com/Laisky/keyword-enricher/internal/enrich/render"
	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
	"github.com/Laisky/keyword-enricher/internal/enrich/synth"
	"github.com/Laisky/keyword-enricher/internal/library/llm"
	"github.com/Laisky/keyword-enricher/library/config"
	"github.com/Laisky/keyword-enricher/library/kv"
	"github.com/Laisky/keyword-enricher/library/log"
	"github.com/Laisky/keyword-enricher/library/search"
	"github.com/Laisky/keyword-enricher/library/search/bing"
	"github.com/Laisky/keyword-enricher/library/search/brave"
	"github.com/Laisky/keyword-enricher/library/search/google"
	"github.com/Laisky/keyword-enricher/library/search/serpgoogle"
	"github.com/Laisky/keyword-enricher/library/search/tavily"
	"github.com/Laisky/keyword-enricher/library/throttle"
)

// Search provider types.
const (
	ProviderGoogle     = "google"
	ProviderBing       = "bing"
	ProviderBrave      = "brave"
	ProviderSerpGoogle = "serpgoogle"
	ProviderTavily     = "tavily"
)

// Alert sink names.
const (
	SinkLog      = "log"
	SinkRedis    = "redis"
	SinkTelegram = "telegram"
)

// Services is every component of one enrichment process.
type Services struct {
	Settings      enrich.Settings
	DBs           *DBs
	Canonicalizer *keyword.Canonicalizer
	Registry      *schema.Registry
	Cache         *cache.Cache
	Search        search.Fetcher
	Synth         *synth.Synthesizer
	Post          *postproc.Processor
	Store         artifact.Store
	Alerts        alert.Sink
	Orchestrator  *pipeline.Orchestrator
}

// SetupServices opens the configured backends and wires the pipeline.
func SetupServices(ctx context.Context, s enrich.Settings, debug bool) (*Services, error) {
	dbs, err := SetupDB(ctx, s, debug)
	if err != nil {
		return nil, err
	}

	svc, err := NewServices(s, dbs)
	if err != nil {
		dbs.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return svc, nil
}

// NewServices wires the pipeline over already opened connections.
func NewServices(s enrich.Settings, dbs *DBs) (*Services, error) {
	if dbs == nil {
		dbs = new(DBs)
	}
	svc := &Services{Settings: s, DBs: dbs}

	aliases, err := NewAliases(s.AliasesFile)
	if err != nil {
		return nil, err
	}
	svc.Canonicalizer = keyword.NewCanonicalizer(aliases)

	if svc.Registry, err = schema.DefaultRegistry(); err != nil {
		return nil, errors.Wrap(err, "load schema registry")
	}
	if svc.Alerts, err = NewAlertSink(s.Alert, dbs); err != nil {
		return nil, err
	}
	if svc.Cache, err = NewCache(s.Cache, dbs); err != nil {
		return nil, err
	}
	if svc.Search, err = NewSearch(s.Search); err != nil {
		return nil, err
	}

	provider, err := llm.NewProvider(s.Synth.Provider, s.Synth.APIBase, s.Synth.CallTimeout, nil, s.Synth.APIKeys)
	if err != nil {
		return nil, errors.Wrap(err, "new llm provider")
	}
	policy := s.Search.Policy
	policy.MaxRetries = s.Synth.MaxRetries
	policy.CallTimeout = s.Synth.CallTimeout
	if svc.Synth, err = synth.New(provider, synth.Config{
		Model:           s.Synth.Model,
		TokenBudget:     s.Synth.TokenBudget,
		MaxDocuments:    s.Synth.MaxDocuments,
		MaxOutputTokens: s.Synth.MaxOutputTokens,
		Temperature:     s.Synth.Temperature,
		Policy:          policy,
	}); err != nil {
		return nil, errors.Wrap(err, "new synthesizer")
	}
	svc.Post = postproc.New(svc.Alerts, postproc.WithRequester(svc.Synth))

	if svc.Store, err = NewStore(s.Artifact, dbs, log.Logger.Named("artifact")); err != nil {
		return nil, err
	}

	if svc.Orchestrator, err = pipeline.New(pipeline.Deps{
		Canonicalizer: svc.Canonicalizer,
		Registry:      svc.Registry,
		Cache:         svc.Cache,
		Search:        svc.Search,
		Synth:         svc.Synth,
		Post:          svc.Post,
		Store:         svc.Store,
		Alerts:        svc.Alerts,
	},
		pipeline.WithConcurrency(s.Pipeline.WorkerConcurrency),
		pipeline.WithDuplicatePolicy(s.Pipeline.DuplicatePolicy),
		pipeline.WithFailureCooldown(s.Pipeline.FailureCooldown),
		pipeline.WithCalendar(s.Pipeline.Calendar),
	); err != nil {
		return nil, errors.Wrap(err, "new orchestrator")
	}

	log.Logger.Info("services ready",
		zap.String("cache", s.Cache.Backend),
		zap.String("artifact", s.Artifact.Backend),
		zap.Int("aliases", aliases.Len()),
		zap.Strings("alert_sinks", s.Alert.Sinks))
	return svc, nil
}

// Close releases the opened connections.
func (s *Services) Close(ctx context.Context) {
	if s != nil {
		s.DBs.Close(ctx)
	}
}

// NewAliases loads the alias table, an empty path yields an empty table.
func NewAliases(path string) (*keyword.AliasTable, error) {
	if strings.TrimSpace(path) == "" {
		return keyword.NewAliasTable(nil)
	}

	aliases, err := keyword.LoadAliases(config.ResolvePath(path))
	if err != nil {
		return nil, errors.Wrap(err, "load aliases")
	}
	return aliases, nil
}

// NewCache builds the dedup cache on the configured backend.
func NewCache(s enrich.CacheSettings, dbs *DBs) (*cache.Cache, error) {
	var backend cache.Backend
	switch s.Backend {
	case "", BackendMemory:
		backend = cache.NewMemoryBackend()
	case BackendRedis:
		if dbs.Redis == nil {
			return nil, errors.New("redis cache backend without redis connection")
		}
		backend = cache.NewRedisBackend(dbs.Redis.Client(), s.KeyPrefix)
	case BackendSQL:
		if dbs.CacheSQL == nil {
			return nil, errors.New("sql cache backend without database")
		}
		store, err := kv.NewKv(dbs.CacheSQL, kv.WithDBName("enrich_cache"))
		if err != nil {
			return nil, errors.Wrap(err, "new cache kv")
		}
		backend = cache.NewSQLBackend(store)
	default:
		return nil, errors.Errorf("unknown cache backend %q", s.Backend)
	}

	c, err := cache.New(backend, cache.WithTTL(s.TTL))
	if err != nil {
		return nil, errors.Wrap(err, "new cache")
	}
	return c, nil
}

// NewSearch builds the tiered search manager. Every provider rotates over its
// credentials and is paced by its own throttle.
func NewSearch(s enrich.SearchSettings) (*search.Manager, error) {
	providerTiers := s.Tiers()
	if len(providerTiers) == 0 {
		return nil, errors.New("no search provider configured")
	}

	tiers := make([][]search.Engine, 0, len(providerTiers))
	for _, tier := range providerTiers {
		engines := make([]search.Engine, 0, len(tier))
		for i, p := range tier {
			engine, err := newProviderEngine(p, fmt.Sprintf("%s-t%d-%d", p.Type, p.Tier, i))
			if err != nil {
				return nil, err
			}
			engines = append(engines, engine)
		}
		tiers = append(tiers, engines)
	}

	m, err := search.NewManager(tiers,
		search.WithRetryPolicy(s.Policy),
		search.WithBreaker(s.BreakerErrors, s.BreakerTimeout),
		search.WithMaxDistinctEngines(s.MaxEngines),
	)
	if err != nil {
		return nil, errors.Wrap(err, "new search manager")
	}
	return m, nil
}

func newProviderEngine(p enrich.ProviderSettings, throttleKey string) (search.Engine, error) {
	if len(p.APIKeys) == 0 {
		return nil, errors.Errorf("search provider %q has no api key", p.Type)
	}

	perKey := make([]search.Engine, 0, len(p.APIKeys))
	for _, key := range p.APIKeys {
		engine, err := newEngine(p, key)
		if err != nil {
			return nil, err
		}
		perKey = append(perKey, engine)
	}

	var engine search.Engine = perKey[0]
	if len(perKey) > 1 {
		rotating, err := search.NewRotatingEngine(perKey[0].Name(), perKey...)
		if err != nil {
			return nil, errors.Wrap(err, "new rotating engine")
		}
		engine = rotating
	}

	if p.RequestsPerSecond > 0 {
		t, err := throttle.New(throttle.Config{
			TotalNPerSec: p.RequestsPerSecond,
			TotalBurst:   1,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "throttle %s", p.Type)
		}
		engine = search.NewThrottledEngine(engine, t, throttleKey)
	}

	return engine, nil
}

func newEngine(p enrich.ProviderSettings, apiKey string) (search.Engine, error) {
	switch p.Type {
	case ProviderGoogle:
		if p.CX == "" {
			return nil, errors.New("google search provider requires cx")
		}
		opts := []google.Option{}
		if p.Endpoint != "" {
			opts = append(opts, google.WithEndpoint(p.Endpoint))
		}
		return google.NewSearchEngine(apiKey, p.CX, opts...), nil
	case ProviderBing:
		opts := []bing.Option{}
		if p.Endpoint != "" {
			opts = append(opts, bing.WithEndpoint(p.Endpoint))
		}
		return bing.NewSearchEngine(apiKey, opts...), nil
	case ProviderBrave:
		opts := []brave.Option{}
		if p.Endpoint != "" {
			opts = append(opts, brave.WithEndpoint(p.Endpoint))
		}
		return brave.NewSearchEngine(apiKey, opts...), nil
	case ProviderSerpGoogle:
		opts := []serpgoogle.Option{}
		if p.Endpoint != "" {
			opts = append(opts, serpgoogle.WithEndpoint(p.Endpoint))
		}
		return serpgoogle.NewSearchEngine(apiKey, opts...), nil
	case ProviderTavily:
		opts := []tavily.Option{}
		if p.Endpoint != "" {
			opts = append(opts, tavily.WithEndpoint(p.Endpoint))
		}
		if p.Depth != "" {
			opts = append(opts, tavily.WithDepth(p.Depth))
		}
		if p.MaxResults > 0 {
			opts = append(opts, tavily.WithMaxResults(p.MaxResults))
		}
		return tavily.NewSearchEngine(apiKey, opts...), nil
	default:
		return nil, errors.Errorf("unknown search provider %q", p.Type)
	}
}

// NewAlertSink combines the configured sinks. Unknown names are errors.
func NewAlertSink(s enrich.AlertSettings, dbs *DBs) (alert.Sink, error) {
	sinks := make(alert.MultiSink, 0, len(s.Sinks))
	for _, name := range s.Sinks {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case SinkLog:
			sinks = append(sinks, alert.NewLogSink(log.Logger.Named("alert")))
		case SinkRedis:
			if dbs == nil || dbs.Redis == nil {
				return nil, errors.New("redis alert sink without redis connection")
			}
			sink, err := alert.NewRedisSink(dbs.Redis, s.RedisKey)
			if err != nil {
				return nil, errors.Wrap(err, "new redis alert sink")
			}
			sinks = append(sinks, sink)
		case SinkTelegram:
			sink, err := alert.NewTelegramSink(s.TelegramToken, s.TelegramChatID)
			if err != nil {
				return nil, errors.Wrap(err, "new telegram alert sink")
			}
			sinks = append(sinks, sink)
		default:
			return nil, errors.Errorf("unknown alert sink %q", name)
		}
	}

	switch len(sinks) {
	case 0:
		return alert.NewLogSink(log.Logger.Named("alert")), nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// NewStore builds the artifact store, wrapped for snapshot publishing when
// enabled.
func NewStore(s enrich.ArtifactSettings, dbs *DBs, logger logSDK.Logger) (artifact.Store, error) {
	var (
		store artifact.Store
		err   error
	)
	switch s.Backend {
	case "", BackendMemory:
		store = artifact.NewMemoryStore()
	case BackendPostgres, BackendSQLite:
		if dbs == nil || dbs.Gorm == nil {
			return nil, errors.Errorf("%s artifact backend without database", s.Backend)
		}
		if store, err = artifact.NewGormStore(dbs.Gorm); err != nil {
			return nil, errors.Wrap(err, "new gorm artifact store")
		}
	case BackendMongo:
		if dbs == nil || dbs.Mongo == nil {
			return nil, errors.New("mongo artifact backend without database")
		}
		if store, err = artifact.NewMongoStore(dbs.Mongo.Collection(artifact.ColArtifacts)); err != nil {
			return nil, errors.Wrap(err, "new mongo artifact store")
		}
	default:
		return nil, errors.Errorf("unknown artifact backend %q", s.Backend)
	}

	if !s.Publish.Enabled {
		return store, nil
	}

	publisher, err := artifact.NewObjectPublisher(artifact.PublisherConfig{
		Endpoint:  s.Publish.Endpoint,
		AccessKey: s.Publish.AccessKey,
		SecretKey: s.Publish.SecretKey,
		Bucket:    s.Publish.Bucket,
		UseSSL:    s.Publish.UseSSL,
	}, func(a *artifact.Artifact) (string, error) {
		return render.Markdown(a), nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "new artifact publisher")
	}
	return artifact.NewPublishingStore(store, publisher, logger), nil
}
