package cmd

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/robfig/cron/v3"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
	"github.com/Laisky/keyword-enricher/internal/global"
	"github.com/Laisky/keyword-enricher/internal/library/llm"
)

// configGetter retrieves raw configuration values by dotted key path.
type configGetter func(key string) any

func enrichKey(key string) string {
	return enrich.ConfigPrefix + key
}

// validateStartupConfig validates the loaded configuration file.
func validateStartupConfig() error {
	return validateStartupConfigWithGetter(func(key string) any {
		return gconfig.S.Get(key)
	})
}

// validateStartupConfigWithGetter reports every malformed or inconsistent
// value at once.
func validateStartupConfigWithGetter(get configGetter) error {
	if get == nil {
		return errors.New("config getter is nil")
	}

	validationErrs := make([]string, 0)

	validateRedisConfig(get, &validationErrs)
	validateCacheConfig(get, &validationErrs)
	validateSearchConfig(get, &validationErrs)
	validateSynthConfig(get, &validationErrs)
	validatePipelineConfig(get, &validationErrs)
	validateArtifactConfig(get, &validationErrs)
	validateAlertConfig(get, &validationErrs)
	validateSourceConfig(get, &validationErrs)
	validateWebConfig(get, &validationErrs)

	if len(validationErrs) == 0 {
		return nil
	}

	return errors.Errorf("invalid configuration:\n - %s", strings.Join(validationErrs, "\n - "))
}

func validateRedisConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, "settings.db.redis.db", 0, errs)
	validateOptionalStringNonEmpty(get, "settings.db.redis.addr", errs)
}

func validateCacheConfig(get configGetter, errs *[]string) {
	validateOptionalDurationPositive(get, enrichKey("cache.ttl"), errs)
	validateOptionalDurationPositive(get, enrichKey("cache.sweep_interval"), errs)
	backend := validateOptionalEnum(get, enrichKey("cache.backend"), errs,
		global.BackendMemory, global.BackendRedis, global.BackendSQL)
	if backend == global.BackendSQL {
		validateRequiredString(get, enrichKey("cache.dsn"), errs)
	}
}

func validateSearchConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, enrichKey("search.max_retries"), 0, errs)
	validateOptionalDurationPositive(get, enrichKey("search.initial_backoff"), errs)
	validateOptionalDurationPositive(get, enrichKey("search.max_backoff"), errs)
	validateOptionalFloatRange(get, enrichKey("search.jitter"), 0, 1, true, true, errs)
	validateOptionalDurationPositive(get, enrichKey("search.call_timeout"), errs)
	validateOptionalIntMin(get, enrichKey("search.breaker.errors"), 1, errs)
	validateOptionalDurationPositive(get, enrichKey("search.breaker.timeout"), errs)
	validateOptionalIntMin(get, enrichKey("search.max_engines"), 1, errs)

	key := enrichKey("search.providers")
	raw := get(key)
	if raw == nil {
		appendValidationError(errs, "%s is required", key)
		return
	}
	items, ok := raw.([]any)
	if !ok {
		appendValidationError(errs, "%s must be a list", key)
		return
	}
	if len(items) == 0 {
		appendValidationError(errs, "%s must not be empty", key)
	}

	for i, item := range items {
		path := fmt.Sprintf("%s[%d]", key, i)
		cfg := toStringMap(item)
		if cfg == nil {
			appendValidationError(errs, "%s must be an object", path)
			continue
		}

		typ, _ := parseStrictString(cfg["type"])
		switch strings.ToLower(strings.TrimSpace(typ)) {
		case global.ProviderGoogle:
			validateRequiredStringInMap(errs, cfg, path+".cx")
		case global.ProviderBing, global.ProviderBrave, global.ProviderSerpGoogle, global.ProviderTavily:
		default:
			appendValidationError(errs, "%s.type must be one of [%s]", path, strings.Join([]string{
				global.ProviderGoogle, global.ProviderBing, global.ProviderBrave,
				global.ProviderSerpGoogle, global.ProviderTavily,
			}, ", "))
		}

		if keys, ok := cfg["api_keys"].([]any); !ok || len(keys) == 0 {
			appendValidationError(errs, "%s.api_keys must be a non-empty list", path)
		}
		if tier, ok := cfg["tier"]; ok {
			if v, err := parseStrictInt(tier); err != nil || v < 0 {
				appendValidationError(errs, "%s.tier must be an integer >= 0", path)
			}
		}
		if rps, ok := cfg["rps"]; ok {
			if v, err := parseStrictFloat(rps); err != nil || v < 0 {
				appendValidationError(errs, "%s.rps must be a number >= 0", path)
			}
		}
		if endpoint, ok := cfg["endpoint"]; ok {
			if s, err := parseStrictString(endpoint); err != nil || !isAbsoluteURL(s) {
				appendValidationError(errs, "%s.endpoint must be a valid absolute URL", path)
			}
		}
	}
}

func validateSynthConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, enrichKey("synth.token_budget"), 1, errs)
	validateOptionalIntMin(get, enrichKey("synth.max_documents"), 1, errs)
	validateOptionalDurationPositive(get, enrichKey("synth.call_timeout"), errs)
	validateOptionalIntMin(get, enrichKey("synth.max_retries"), 0, errs)
	validateOptionalEnum(get, enrichKey("synth.provider"), errs, llm.KindResponses, llm.KindChat)
	validateOptionalStringNonEmpty(get, enrichKey("synth.model"), errs)
	validateOptionalURL(get, enrichKey("synth.api_base"), errs)
	validateOptionalIntMin(get, enrichKey("synth.max_output_tokens"), 1, errs)
	validateOptionalFloatRange(get, enrichKey("synth.temperature"), 0, 2, true, true, errs)
	validateRequiredList(get, enrichKey("synth.api_keys"), errs)

	key := enrichKey("postproc.repair_passes")
	if raw := get(key); raw != nil {
		if v, err := parseStrictInt(raw); err != nil || v != 1 {
			appendValidationError(errs, "%s must be 1", key)
		}
	}
}

func validatePipelineConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, enrichKey("pipeline.worker_concurrency"), 1, errs)
	validateOptionalEnum(get, enrichKey("pipeline.duplicate_policy"), errs,
		enrich.DuplicateCoalesce, enrich.DuplicateReject)
	validateOptionalDurationPositive(get, enrichKey("pipeline.failure_cooldown"), errs)
	validateOptionalBool(get, enrichKey("pipeline.calendar"), errs)

	key := enrichKey("schedule")
	if raw := get(key); raw != nil {
		spec, err := parseStrictString(raw)
		if err != nil {
			appendValidationError(errs, "%s must be a cron expression", key)
		} else if strings.TrimSpace(spec) != "" {
			if _, err := cron.ParseStandard(spec); err != nil {
				appendValidationError(errs, "%s must be a cron expression: %v", key, err)
			}
		}
	}
}

func validateArtifactConfig(get configGetter, errs *[]string) {
	switch validateOptionalEnum(get, enrichKey("artifact.backend"), errs,
		global.BackendMemory, global.BackendPostgres, global.BackendSQLite, global.BackendMongo) {
	case global.BackendPostgres:
		validateRequiredString(get, enrichKey("artifact.dsn"), errs)
	case global.BackendMongo:
		validateRequiredString(get, enrichKey("artifact.mongo_uri"), errs)
		validateOptionalStringNonEmpty(get, enrichKey("artifact.mongo_database"), errs)
	}

	enabledKey := enrichKey("artifact.publish.enabled")
	validateOptionalBool(get, enabledKey, errs)
	validateOptionalBool(get, enrichKey("artifact.publish.use_ssl"), errs)
	if enabled, ok := parseStrictBool(get(enabledKey)); ok && enabled {
		validateRequiredString(get, enrichKey("artifact.publish.endpoint"), errs)
		validateRequiredString(get, enrichKey("artifact.publish.bucket"), errs)
	}
}

func validateAlertConfig(get configGetter, errs *[]string) {
	key := enrichKey("alert.sinks")
	raw := get(key)
	if raw == nil {
		return
	}
	sinks, ok := raw.([]any)
	if !ok {
		appendValidationError(errs, "%s must be a list", key)
		return
	}

	for i, item := range sinks {
		name, err := parseStrictString(item)
		name = strings.ToLower(strings.TrimSpace(name))
		switch {
		case err != nil:
			appendValidationError(errs, "%s[%d] must be a string", key, i)
		case name == global.SinkTelegram:
			validateRequiredString(get, enrichKey("alert.telegram.token"), errs)
			validateRequiredIntNonZero(get, enrichKey("alert.telegram.chat_id"), errs)
		case name == global.SinkLog, name == global.SinkRedis:
		default:
			appendValidationError(errs, "%s[%d] must be one of [%s, %s, %s]",
				key, i, global.SinkLog, global.SinkRedis, global.SinkTelegram)
		}
	}
}

func validateSourceConfig(get configGetter, errs *[]string) {
	validateOptionalEnum(get, enrichKey("source.static_domain"), errs, schema.DomainMarket, schema.DomainPortfolio, schema.DomainRisk)
	validateOptionalStringNonEmpty(get, enrichKey("source.portfolio_file"), errs)

	if raw := get(enrichKey("source.kafka.brokers")); raw != nil {
		validateRequiredString(get, enrichKey("source.kafka.topic"), errs)
	}
}

func validateWebConfig(get configGetter, errs *[]string) {
	validateOptionalStringNonEmpty(get, enrichKey("web.listen"), errs)

	key := enrichKey("web.jwt_secret")
	if raw := get(key); raw != nil {
		if secret, err := parseStrictString(raw); err != nil || len(strings.TrimSpace(secret)) < 16 {
			appendValidationError(errs, "%s must be at least 16 characters", key)
		}
	}

	key = enrichKey("web.allowed_origins")
	if raw := get(key); raw != nil {
		origins, ok := raw.([]any)
		if !ok {
			appendValidationError(errs, "%s must be a list", key)
			return
		}
		for i, item := range origins {
			host, err := parseStrictString(item)
			if err != nil || !isValidHost(strings.TrimPrefix(host, ".")) {
				appendValidationError(errs, "%s[%d] must be a host", key, i)
			}
		}
	}
}

func validateOptionalBool(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	if _, ok := parseStrictBool(raw); !ok {
		appendValidationError(errs, "%s must be a boolean", key)
	}
}

func validateOptionalIntMin(get configGetter, key string, min int, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictInt(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be an integer", key)
		return
	}

	if value < min {
		appendValidationError(errs, "%s must be >= %d", key, min)
	}
}

func validateRequiredIntNonZero(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		appendValidationError(errs, "%s is required", key)
		return
	}
	if v, err := parseStrictInt(raw); err != nil || v == 0 {
		appendValidationError(errs, "%s must be a non-zero integer", key)
	}
}

// validateOptionalDurationPositive accepts Go durations like "30s" or a
// number of seconds.
func validateOptionalDurationPositive(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	d, err := parseStrictDuration(raw)
	if err != nil {
		appendValidationError(errs, "%s must be a duration", key)
		return
	}
	if d <= 0 {
		appendValidationError(errs, "%s must be > 0", key)
	}
}

func validateOptionalFloatRange(get configGetter, key string, min float64, max float64, includeMin bool, includeMax bool, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictFloat(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a float", key)
		return
	}

	validMin := value > min
	if includeMin {
		validMin = value >= min
	}
	validMax := value < max
	if includeMax {
		validMax = value <= max
	}

	if !validMin || !validMax {
		appendValidationError(errs, "%s must be within range", key)
	}
}

// validateOptionalEnum returns the lowercased value when it is allowed.
func validateOptionalEnum(get configGetter, key string, errs *[]string, allowed ...string) string {
	raw := get(key)
	if raw == nil {
		return ""
	}

	value, err := parseStrictString(raw)
	value = strings.ToLower(strings.TrimSpace(value))
	if err == nil {
		for _, a := range allowed {
			if value == a {
				return value
			}
		}
	}

	appendValidationError(errs, "%s must be one of [%s]", key, strings.Join(allowed, ", "))
	return ""
}

func validateOptionalURL(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string URL", key)
		return
	}

	if !isAbsoluteURL(value) {
		appendValidationError(errs, "%s must be a valid absolute URL", key)
	}
}

func validateOptionalStringNonEmpty(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string", key)
		return
	}

	if strings.TrimSpace(value) == "" {
		appendValidationError(errs, "%s must not be empty", key)
	}
}

func validateRequiredString(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		appendValidationError(errs, "%s is required", key)
		return
	}
	validateOptionalStringNonEmpty(get, key, errs)
}

func validateRequiredList(get configGetter, key string, errs *[]string) {
	switch v := get(key).(type) {
	case nil:
		appendValidationError(errs, "%s is required", key)
	case []any:
		if len(v) == 0 {
			appendValidationError(errs, "%s must not be empty", key)
		}
	case string:
		if strings.TrimSpace(v) == "" {
			appendValidationError(errs, "%s must not be empty", key)
		}
	default:
		appendValidationError(errs, "%s must be a list", key)
	}
}

// validateRequiredStringInMap checks the last segment of fieldPath in source.
func validateRequiredStringInMap(errs *[]string, source map[string]any, fieldPath string) {
	parts := strings.Split(fieldPath, ".")
	key := parts[len(parts)-1]
	value, ok := source[key]
	if !ok {
		appendValidationError(errs, "%s is required", fieldPath)
		return
	}

	text, parseErr := parseStrictString(value)
	if parseErr != nil || strings.TrimSpace(text) == "" {
		appendValidationError(errs, "%s must be a non-empty string", fieldPath)
	}
}

func parseStrictBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	}
	return false, false
}

func parseStrictInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if math.Trunc(v) != v {
			return 0, errors.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errors.Wrap(err, "atoi")
		}
		return parsed, nil
	default:
		return 0, errors.Errorf("unsupported int type %T", value)
	}
}

func parseStrictFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse float")
		}
		return parsed, nil
	default:
		return 0, errors.Errorf("unsupported float type %T", value)
	}
}

func parseStrictDuration(value any) (time.Duration, error) {
	if s, ok := value.(string); ok {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return 0, errors.Wrap(err, "parse duration")
		}
		return d, nil
	}

	secs, err := parseStrictFloat(value)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func parseStrictString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.Errorf("unsupported string type %T", value)
	}
}

func isAbsoluteURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && parsed.Scheme != "" && parsed.Host != ""
}

// isValidHost accepts a bare host without scheme or path.
func isValidHost(host string) bool {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return false
	}
	return !strings.Contains(trimmed, "://") && !strings.Contains(trimmed, "/")
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

func appendValidationError(errs *[]string, format string, args ...any) {
	if errs == nil {
		return
	}
	*errs = append(*errs, fmt.Sprintf(format, args...))
}
