package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// validConfig returns a complete configuration that passes validation.
func validConfig() map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"db": map[string]any{
				"redis": map[string]any{"addr": "localhost:6379", "db": 0},
			},
			"enrich": map[string]any{
				"cache": map[string]any{
					"ttl":            "24h",
					"backend":        "redis",
					"sweep_interval": 300,
				},
				"search": map[string]any{
					"max_retries":     3,
					"initial_backoff": "500ms",
					"jitter":          0.2,
					"breaker":         map[string]any{"errors": 5, "timeout": "1m"},
					"providers": []any{
						map[string]any{"type": "tavily", "tier": 0, "api_keys": []any{"${TAVILY_KEY}"}, "rps": 2},
						map[string]any{"type": "google", "tier": 1, "api_keys": []any{"g"}, "cx": "cx-1"},
					},
				},
				"synth": map[string]any{
					"provider":    "responses",
					"model":       "o4-mini",
					"api_base":    "https://api.openai.com/v1",
					"api_keys":    []any{"sk-1"},
					"temperature": 0.3,
				},
				"postproc": map[string]any{"repair_passes": 1},
				"pipeline": map[string]any{
					"worker_concurrency": 4,
					"duplicate_policy":   "coalesce",
					"failure_cooldown":   "1h",
				},
				"schedule": "0 7 * * 1-5",
				"artifact": map[string]any{
					"backend": "postgres",
					"dsn":     "postgres://u:p@localhost/enrich",
					"publish": map[string]any{"enabled": true, "endpoint": "minio:9000", "bucket": "snapshots"},
				},
				"alert": map[string]any{
					"sinks":    []any{"log", "telegram"},
					"telegram": map[string]any{"token": "t", "chat_id": 42},
				},
				"source": map[string]any{
					"static_domain": "market",
					"kafka":         map[string]any{"brokers": []any{"kafka:9092"}, "topic": "keywords"},
				},
				"web": map[string]any{
					"listen":          "0.0.0.0:8080",
					"jwt_secret":      "a-secret-longer-than-16",
					"allowed_origins": []any{".example.com", "localhost"},
				},
			},
		},
	}
}

// set assigns value at a dotted path, creating intermediate maps.
func set(root map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func TestValidateStartupConfigWithGetterValidConfig(t *testing.T) {
	err := validateStartupConfigWithGetter(newMapConfigGetter(validConfig()))
	require.NoError(t, err)
}

func TestValidateStartupConfigWithGetterNilGetter(t *testing.T) {
	require.Error(t, validateStartupConfigWithGetter(nil))
}

func TestValidateStartupConfigWithGetterRequiresProvidersAndKeys(t *testing.T) {
	err := validateStartupConfigWithGetter(newMapConfigGetter(map[string]any{}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "settings.enrich.search.providers is required")
	require.Contains(t, err.Error(), "settings.enrich.synth.api_keys is required")
}

func TestValidateStartupConfigWithGetterInvalid(t *testing.T) {
	cases := []struct {
		path  string
		value any
		want  string
	}{
		{"settings.enrich.cache.ttl", "0s", "settings.enrich.cache.ttl must be > 0"},
		{"settings.enrich.cache.ttl", "forever", "settings.enrich.cache.ttl must be a duration"},
		{"settings.enrich.cache.backend", "floppy", "settings.enrich.cache.backend must be one of"},
		{"settings.enrich.pipeline.worker_concurrency", 0, "settings.enrich.pipeline.worker_concurrency must be >= 1"},
		{"settings.enrich.pipeline.duplicate_policy", "queue", "settings.enrich.pipeline.duplicate_policy must be one of"},
		{"settings.enrich.pipeline.calendar", "sometimes", "settings.enrich.pipeline.calendar must be a boolean"},
		{"settings.enrich.postproc.repair_passes", 2, "settings.enrich.postproc.repair_passes must be 1"},
		{"settings.enrich.synth.provider", "grpc", "settings.enrich.synth.provider must be one of"},
		{"settings.enrich.synth.api_base", "not a url", "settings.enrich.synth.api_base must be a valid absolute URL"},
		{"settings.enrich.search.jitter", 1.5, "settings.enrich.search.jitter must be within range"},
		{"settings.enrich.schedule", "every morning", "settings.enrich.schedule must be a cron expression"},
		{"settings.enrich.artifact.backend", "floppy", "settings.enrich.artifact.backend must be one of"},
		{"settings.enrich.artifact.dsn", "", "settings.enrich.artifact.dsn must not be empty"},
		{"settings.enrich.artifact.publish.bucket", nil, "settings.enrich.artifact.publish.bucket is required"},
		{"settings.enrich.alert.sinks", []any{"pager"}, "settings.enrich.alert.sinks[0] must be one of"},
		{"settings.enrich.alert.telegram.chat_id", 0, "settings.enrich.alert.telegram.chat_id must be a non-zero integer"},
		{"settings.enrich.source.static_domain", "weather", "settings.enrich.source.static_domain must be one of"},
		{"settings.enrich.source.kafka.topic", "", "settings.enrich.source.kafka.topic must not be empty"},
		{"settings.enrich.web.jwt_secret", "short", "settings.enrich.web.jwt_secret must be at least 16 characters"},
		{"settings.enrich.web.allowed_origins", []any{"https://example.com"}, "settings.enrich.web.allowed_origins[0] must be a host"},
		{"settings.db.redis.db", -1, "settings.db.redis.db must be >= 0"},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			cfg := validConfig()
			set(cfg, tc.path, tc.value)

			err := validateStartupConfigWithGetter(newMapConfigGetter(cfg))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateStartupConfigWithGetterProviders(t *testing.T) {
	cfg := validConfig()
	set(cfg, "settings.enrich.search.providers", []any{
		map[string]any{"type": "google", "api_keys": []any{"g"}},
		map[string]any{"type": "altavista", "api_keys": []any{}},
		map[string]any{"type": "bing", "api_keys": []any{"b"}, "tier": -1, "endpoint": "bing.local"},
		"tavily",
	})

	err := validateStartupConfigWithGetter(newMapConfigGetter(cfg))
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "settings.enrich.search.providers[0].cx is required")
	require.Contains(t, msg, "settings.enrich.search.providers[1].type must be one of")
	require.Contains(t, msg, "settings.enrich.search.providers[1].api_keys must be a non-empty list")
	require.Contains(t, msg, "settings.enrich.search.providers[2].tier must be an integer >= 0")
	require.Contains(t, msg, "settings.enrich.search.providers[2].endpoint must be a valid absolute URL")
	require.Contains(t, msg, "settings.enrich.search.providers[3] must be an object")
}

func TestValidateStartupConfigWithGetterReportsEverything(t *testing.T) {
	cfg := validConfig()
	set(cfg, "settings.enrich.cache.ttl", "-1h")
	set(cfg, "settings.enrich.pipeline.worker_concurrency", 0)
	set(cfg, "settings.enrich.postproc.repair_passes", 3)

	err := validateStartupConfigWithGetter(newMapConfigGetter(cfg))
	require.Error(t, err)
	require.Equal(t, 3, strings.Count(err.Error(), "\n - "))
}

// newMapConfigGetter builds a dotted-path getter over nested maps.
func newMapConfigGetter(root map[string]any) configGetter {
	return func(key string) any {
		if key == "" {
			return nil
		}

		parts := strings.Split(key, ".")
		var current any = root
		for _, part := range parts {
			nextMap, ok := current.(map[string]any)
			if !ok {
				return nil
			}

			next, exists := nextMap[part]
			if !exists {
				return nil
			}
			current = next
		}

		return current
	}
}
