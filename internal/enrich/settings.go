package enrich

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"

	"github.com/Laisky/keyword-enricher/library/config"
	"github.com/Laisky/keyword-enricher/library/retry"
)

// ConfigPrefix is the root of every enrichment setting.
const ConfigPrefix = "settings.enrich."

// Duplicate policies for concurrent runs of one canonical keyword.
const (
	DuplicateCoalesce = "coalesce"
	DuplicateReject   = "reject"
)

// Getter retrieves raw configuration values by dotted key path.
type Getter func(key string) any

// Settings is the runtime configuration of the whole pipeline.
type Settings struct {
	Cache       CacheSettings
	AliasesFile string
	Search      SearchSettings
	Synth       SynthSettings
	Postproc    PostprocSettings
	Pipeline    PipelineSettings
	Artifact    ArtifactSettings
	Alert       AlertSettings
	Source      SourceSettings
	Redis       RedisSettings
	Web         WebSettings
	Schedule    string
}

// CacheSettings configures the dedup cache.
type CacheSettings struct {
	TTL           time.Duration
	Backend       string
	SweepInterval time.Duration
	KeyPrefix     string
	DSN           string
}

// ProviderSettings configures one search provider.
type ProviderSettings struct {
	Type              string
	Tier              int
	APIKeys           []string
	CX                string
	Endpoint          string
	Depth             string
	MaxResults        int
	RequestsPerSecond float64
}

// SearchSettings configures the search adapter.
type SearchSettings struct {
	Policy         retry.Policy
	BreakerErrors  int
	BreakerTimeout time.Duration
	MaxEngines     int
	Providers      []ProviderSettings
}

// Tiers groups providers by ascending tier, keeping config order within a tier.
func (s SearchSettings) Tiers() [][]ProviderSettings {
	byTier := map[int][]ProviderSettings{}
	order := make([]int, 0)
	for _, p := range s.Providers {
		if _, ok := byTier[p.Tier]; !ok {
			order = append(order, p.Tier)
		}
		byTier[p.Tier] = append(byTier[p.Tier], p)
	}
	sort.Ints(order)

	tiers := make([][]ProviderSettings, 0, len(order))
	for _, tier := range order {
		tiers = append(tiers, byTier[tier])
	}
	return tiers
}

// SynthSettings configures the synthesizer and its LLM provider.
type SynthSettings struct {
	TokenBudget     int
	MaxDocuments    int
	CallTimeout     time.Duration
	MaxRetries      int
	Provider        string
	Model           string
	APIBase         string
	APIKeys         []string
	MaxOutputTokens int
	Temperature     float64
}

// PostprocSettings configures the post-processor.
type PostprocSettings struct {
	RepairPasses int
}

// PipelineSettings configures the orchestrator.
type PipelineSettings struct {
	WorkerConcurrency int
	DuplicatePolicy   string
	FailureCooldown   time.Duration
	Calendar          bool
}

// PublishSettings configures snapshot publishing to object storage.
type PublishSettings struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ArtifactSettings configures the persistence boundary.
type ArtifactSettings struct {
	Backend       string
	DSN           string
	MongoURI      string
	MongoDatabase string
	Publish       PublishSettings
}

// AlertSettings configures alert sinks.
type AlertSettings struct {
	Sinks          []string
	RedisKey       string
	TelegramToken  string
	TelegramChatID int64
}

// KafkaSettings configures the kafka keyword source.
type KafkaSettings struct {
	Brokers []string
	Topic   string
	GroupID string
}

// SourceSettings configures where keywords come from.
type SourceSettings struct {
	PortfolioFile string
	Market        []string
	Static        []string
	StaticDomain  string
	Kafka         KafkaSettings
}

// RedisSettings configures the shared redis connection.
type RedisSettings struct {
	Addr     string
	Password string
	DB       int
}

// WebSettings configures the HTTP API.
type WebSettings struct {
	Listen    string
	JWTSecret string
	// AllowedOrigins are CORS origin hosts, a leading "." matches subdomains.
	AllowedOrigins []string
}

// DefaultSettings returns the settings used for unset keys.
func DefaultSettings() Settings {
	return Settings{
		Cache: CacheSettings{
			TTL:           24 * time.Hour,
			Backend:       "memory",
			SweepInterval: 5 * time.Minute,
			KeyPrefix:     "enrich:cache:",
		},
		Search: SearchSettings{
			Policy: retry.Policy{
				MaxRetries:     3,
				InitialBackoff: 500 * time.Millisecond,
				MaxBackoff:     30 * time.Second,
				Jitter:         0.2,
				CallTimeout:    20 * time.Second,
			},
			BreakerErrors:  5,
			BreakerTimeout: time.Minute,
			MaxEngines:     8,
		},
		Synth: SynthSettings{
			TokenBudget:     6000,
			MaxDocuments:    8,
			CallTimeout:     180 * time.Second,
			MaxRetries:      2,
			Provider:        "responses",
			Model:           "o4-mini",
			MaxOutputTokens: 8192,
			Temperature:     0.3,
		},
		Postproc: PostprocSettings{RepairPasses: 1},
		Pipeline: PipelineSettings{
			WorkerConcurrency: 4,
			DuplicatePolicy:   DuplicateCoalesce,
			FailureCooldown:   time.Hour,
		},
		Artifact: ArtifactSettings{
			Backend:       "memory",
			MongoDatabase: "keyword_enricher",
		},
		Alert: AlertSettings{
			Sinks:    []string{"log"},
			RedisKey: "enrich:alerts",
		},
		Source: SourceSettings{
			StaticDomain: "market",
			Kafka:        KafkaSettings{GroupID: "keyword-enricher"},
		},
		Redis: RedisSettings{Addr: "localhost:6379"},
		Web:   WebSettings{Listen: "localhost:8080"},
	}
}

// LoadSettingsFromConfig reads settings from the shared config source.
func LoadSettingsFromConfig() (Settings, error) {
	return LoadSettings(func(key string) any {
		return gconfig.S.Get(key)
	})
}

// LoadSettings reads settings through get, falling back to DefaultSettings
// for unset keys. Credential lists expand ${ENV} references.
func LoadSettings(get Getter) (Settings, error) {
	if get == nil {
		return Settings{}, errors.New("config getter is nil")
	}

	s := DefaultSettings()
	r := reader{get: get}

	s.Cache.TTL = r.duration("cache.ttl", s.Cache.TTL)
	s.Cache.Backend = r.lowerString("cache.backend", s.Cache.Backend)
	s.Cache.SweepInterval = r.duration("cache.sweep_interval", s.Cache.SweepInterval)
	s.Cache.KeyPrefix = r.string("cache.key_prefix", s.Cache.KeyPrefix)
	s.Cache.DSN = config.ExpandEnv(r.string("cache.dsn", s.Cache.DSN))
	s.AliasesFile = r.string("aliases_file", "")

	s.Search.Policy.MaxRetries = r.int("search.max_retries", s.Search.Policy.MaxRetries)
	s.Search.Policy.InitialBackoff = r.duration("search.initial_backoff", s.Search.Policy.InitialBackoff)
	s.Search.Policy.MaxBackoff = r.duration("search.max_backoff", s.Search.Policy.MaxBackoff)
	s.Search.Policy.Jitter = r.float("search.jitter", s.Search.Policy.Jitter)
	s.Search.Policy.CallTimeout = r.duration("search.call_timeout", s.Search.Policy.CallTimeout)
	s.Search.BreakerErrors = r.int("search.breaker.errors", s.Search.BreakerErrors)
	s.Search.BreakerTimeout = r.duration("search.breaker.timeout", s.Search.BreakerTimeout)
	s.Search.MaxEngines = r.int("search.max_engines", s.Search.MaxEngines)
	providers, err := r.providers("search.providers")
	if err != nil {
		return Settings{}, err
	}
	s.Search.Providers = providers

	s.Synth.TokenBudget = r.int("synth.token_budget", s.Synth.TokenBudget)
	s.Synth.MaxDocuments = r.int("synth.max_documents", s.Synth.MaxDocuments)
	s.Synth.CallTimeout = r.duration("synth.call_timeout", s.Synth.CallTimeout)
	s.Synth.MaxRetries = r.int("synth.max_retries", s.Synth.MaxRetries)
	s.Synth.Provider = r.lowerString("synth.provider", s.Synth.Provider)
	s.Synth.Model = r.string("synth.model", s.Synth.Model)
	s.Synth.APIBase = r.string("synth.api_base", s.Synth.APIBase)
	s.Synth.APIKeys = config.ExpandEnvList(r.strings("synth.api_keys"))
	s.Synth.MaxOutputTokens = r.int("synth.max_output_tokens", s.Synth.MaxOutputTokens)
	s.Synth.Temperature = r.float("synth.temperature", s.Synth.Temperature)

	s.Postproc.RepairPasses = r.int("postproc.repair_passes", s.Postproc.RepairPasses)

	s.Pipeline.WorkerConcurrency = r.int("pipeline.worker_concurrency", s.Pipeline.WorkerConcurrency)
	s.Pipeline.DuplicatePolicy = r.lowerString("pipeline.duplicate_policy", s.Pipeline.DuplicatePolicy)
	s.Pipeline.FailureCooldown = r.duration("pipeline.failure_cooldown", s.Pipeline.FailureCooldown)
	s.Pipeline.Calendar = r.bool("pipeline.calendar", s.Pipeline.Calendar)

	s.Artifact.Backend = r.lowerString("artifact.backend", s.Artifact.Backend)
	s.Artifact.DSN = config.ExpandEnv(r.string("artifact.dsn", s.Artifact.DSN))
	s.Artifact.MongoURI = config.ExpandEnv(r.string("artifact.mongo_uri", s.Artifact.MongoURI))
	s.Artifact.MongoDatabase = r.string("artifact.mongo_database", s.Artifact.MongoDatabase)
	s.Artifact.Publish.Enabled = r.bool("artifact.publish.enabled", false)
	s.Artifact.Publish.Endpoint = r.string("artifact.publish.endpoint", "")
	s.Artifact.Publish.AccessKey = config.ExpandEnv(r.string("artifact.publish.access_key", ""))
	s.Artifact.Publish.SecretKey = config.ExpandEnv(r.string("artifact.publish.secret_key", ""))
	s.Artifact.Publish.Bucket = r.string("artifact.publish.bucket", "")
	s.Artifact.Publish.UseSSL = r.bool("artifact.publish.use_ssl", true)

	if sinks := r.strings("alert.sinks"); len(sinks) > 0 {
		s.Alert.Sinks = sinks
	}
	s.Alert.RedisKey = r.string("alert.redis_key", s.Alert.RedisKey)
	s.Alert.TelegramToken = config.ExpandEnv(r.string("alert.telegram.token", ""))
	s.Alert.TelegramChatID = int64(r.int("alert.telegram.chat_id", 0))

	s.Source.PortfolioFile = r.string("source.portfolio_file", "")
	s.Source.Market = r.strings("source.market")
	s.Source.Static = r.strings("source.static")
	s.Source.StaticDomain = r.lowerString("source.static_domain", s.Source.StaticDomain)
	s.Source.Kafka.Brokers = r.strings("source.kafka.brokers")
	s.Source.Kafka.Topic = r.string("source.kafka.topic", "")
	s.Source.Kafka.GroupID = r.string("source.kafka.group_id", s.Source.Kafka.GroupID)

	s.Redis.Addr = r.rawString("settings.db.redis.addr", s.Redis.Addr)
	s.Redis.Password = config.ExpandEnv(r.rawString("settings.db.redis.pwd", ""))
	s.Redis.DB = r.rawInt("settings.db.redis.db", 0)

	s.Web.Listen = r.string("web.listen", s.Web.Listen)
	s.Web.JWTSecret = config.ExpandEnv(r.string("web.jwt_secret", ""))
	s.Web.AllowedOrigins = r.strings("web.allowed_origins")
	s.Schedule = r.string("schedule", "")

	return s, nil
}

// reader parses loosely typed config values under ConfigPrefix.
type reader struct {
	get Getter
}

func (r reader) rawString(key, def string) string {
	v, ok := r.get(key).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func (r reader) rawInt(key string, def int) int {
	if v, ok := toInt(r.get(key)); ok {
		return v
	}
	return def
}

func (r reader) string(key, def string) string {
	return r.rawString(ConfigPrefix+key, def)
}

func (r reader) lowerString(key, def string) string {
	return strings.ToLower(r.string(key, def))
}

func (r reader) int(key string, def int) int {
	return r.rawInt(ConfigPrefix+key, def)
}

func (r reader) float(key string, def float64) float64 {
	if v, ok := toFloat(r.get(ConfigPrefix + key)); ok {
		return v
	}
	return def
}

func (r reader) bool(key string, def bool) bool {
	switch v := r.get(ConfigPrefix + key).(type) {
	case bool:
		return v
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}

func (r reader) duration(key string, def time.Duration) time.Duration {
	if d, ok := toDuration(r.get(ConfigPrefix + key)); ok {
		return d
	}
	return def
}

func (r reader) strings(key string) []string {
	return toStrings(r.get(ConfigPrefix + key))
}

func (r reader) providers(key string) ([]ProviderSettings, error) {
	raw := r.get(ConfigPrefix + key)
	if raw == nil {
		return nil, nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, errors.Errorf("%s%s must be a list", ConfigPrefix, key)
	}

	providers := make([]ProviderSettings, 0, len(items))
	for i, item := range items {
		m := toStringMap(item)
		if m == nil {
			return nil, errors.Errorf("%s%s[%d] must be an object", ConfigPrefix, key, i)
		}

		p := ProviderSettings{
			Type:     strings.ToLower(strings.TrimSpace(stringOf(m["type"]))),
			CX:       strings.TrimSpace(stringOf(m["cx"])),
			Endpoint: strings.TrimSpace(stringOf(m["endpoint"])),
			Depth:    strings.TrimSpace(stringOf(m["depth"])),
			APIKeys:  config.ExpandEnvList(toStrings(m["api_keys"])),
		}
		if p.Type == "" {
			return nil, errors.Errorf("%s%s[%d].type is required", ConfigPrefix, key, i)
		}
		if v, ok := toInt(m["tier"]); ok {
			p.Tier = v
		}
		if v, ok := toInt(m["max_results"]); ok {
			p.MaxResults = v
		}
		if v, ok := toFloat(m["rps"]); ok {
			p.RequestsPerSecond = v
		}
		providers = append(providers, p)
	}

	return providers, nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if math.Trunc(t) != t {
			return 0, false
		}
		return int(t), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(t))
		return parsed, err == nil
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// toDuration accepts Go duration strings or a number of seconds.
func toDuration(v any) (time.Duration, bool) {
	switch t := v.(type) {
	case time.Duration:
		return t, true
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		return d, err == nil
	default:
		if secs, ok := toFloat(v); ok {
			return time.Duration(secs * float64(time.Second)), true
		}
		return 0, false
	}
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		out := make([]string, 0, len(t))
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return toStrings(strings.Split(t, ","))
	default:
		return nil
	}
}

func toStringMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			ks, ok := k.(string)
			if !ok {
				return nil
			}
			out[ks] = val
		}
		return out
	default:
		return nil
	}
}
