package global

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/alert"
	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/library/db/sqlite"
	"github.com/Laisky/keyword-enricher/library/log"
)

func testSettings() enrich.Settings {
	s := enrich.DefaultSettings()
	s.Synth.APIKeys = []string{"sk-test"}
	s.Search.Providers = []enrich.ProviderSettings{
		{Type: ProviderTavily, Tier: 0, APIKeys: []string{"tv-1", "tv-2"}, RequestsPerSecond: 2},
		{Type: ProviderGoogle, Tier: 1, APIKeys: []string{"g-1"}, CX: "cx"},
	}
	return s
}

func TestNewServicesInMemory(t *testing.T) {
	svc, err := NewServices(testSettings(), nil)
	require.NoError(t, err)
	require.NotNil(t, svc.Orchestrator)
	require.NotNil(t, svc.Cache)
	require.IsType(t, &artifact.MemoryStore{}, svc.Store)
	require.IsType(t, &alert.LogSink{}, svc.Alerts)

	kw, err := svc.Canonicalizer.Parse(keyword.Raw{Text: "  US GDP Update ", Domain: "market"})
	require.NoError(t, err)
	require.Equal(t, "us gdp update", kw.Canonical)
}

func TestNewServicesErrors(t *testing.T) {
	cases := map[string]func(s *enrich.Settings){
		"no providers":     func(s *enrich.Settings) { s.Search.Providers = nil },
		"unknown provider": func(s *enrich.Settings) { s.Search.Providers[0].Type = "altavista" },
		"google without cx": func(s *enrich.Settings) {
			s.Search.Providers = []enrich.ProviderSettings{{Type: ProviderGoogle, APIKeys: []string{"k"}}}
		},
		"provider without key": func(s *enrich.Settings) { s.Search.Providers[0].APIKeys = nil },
		"no llm key":           func(s *enrich.Settings) { s.Synth.APIKeys = nil },
		"unknown llm":          func(s *enrich.Settings) { s.Synth.Provider = "carrier-pigeon" },
		"unknown cache":        func(s *enrich.Settings) { s.Cache.Backend = "floppy" },
		"redis cache no conn":  func(s *enrich.Settings) { s.Cache.Backend = BackendRedis },
		"unknown artifact":     func(s *enrich.Settings) { s.Artifact.Backend = "floppy" },
		"mongo without conn":   func(s *enrich.Settings) { s.Artifact.Backend = BackendMongo },
		"unknown sink":         func(s *enrich.Settings) { s.Alert.Sinks = []string{"pager"} },
		"missing aliases":      func(s *enrich.Settings) { s.AliasesFile = "/nonexistent/aliases.yml" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := testSettings()
			mutate(&s)
			_, err := NewServices(s, nil)
			require.Error(t, err)
		})
	}
}

func TestNewServicesSQLBackends(t *testing.T) {
	dir := t.TempDir()
	cacheDB, err := sqlite.NewDB(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	gdb, err := sqlite.OpenGorm(filepath.Join(dir, "artifacts.db"), false)
	require.NoError(t, err)

	dbs := &DBs{CacheSQL: cacheDB, Gorm: gdb}
	t.Cleanup(func() { dbs.Close(context.Background()) })

	s := testSettings()
	s.Cache.Backend = BackendSQL
	s.Artifact.Backend = BackendSQLite

	svc, err := NewServices(s, dbs)
	require.NoError(t, err)
	require.IsType(t, &artifact.GormStore{}, svc.Store)
}

func TestNewStorePublishing(t *testing.T) {
	s := enrich.ArtifactSettings{
		Backend: BackendMemory,
		Publish: enrich.PublishSettings{
			Enabled:   true,
			Endpoint:  "localhost:9000",
			AccessKey: "ak",
			SecretKey: "sk",
			Bucket:    "snapshots",
		},
	}

	store, err := NewStore(s, nil, log.Logger.Named("test"))
	require.NoError(t, err)
	require.IsType(t, &artifact.PublishingStore{}, store)

	s.Publish.Bucket = ""
	_, err = NewStore(s, nil, log.Logger.Named("test"))
	require.Error(t, err)
}

func TestNewAlertSink(t *testing.T) {
	sink, err := NewAlertSink(enrich.AlertSettings{}, nil)
	require.NoError(t, err)
	require.IsType(t, &alert.LogSink{}, sink)

	sink, err = NewAlertSink(enrich.AlertSettings{Sinks: []string{"log", "LOG"}}, nil)
	require.NoError(t, err)
	require.IsType(t, alert.MultiSink{}, sink)

	_, err = NewAlertSink(enrich.AlertSettings{Sinks: []string{"redis"}}, nil)
	require.Error(t, err)
}

func TestNewAliases(t *testing.T) {
	aliases, err := NewAliases("")
	require.NoError(t, err)
	require.Zero(t, aliases.Len())

	path := filepath.Join(t.TempDir(), "aliases.yml")
	require.NoError(t, os.WriteFile(path, []byte("alpha corp:\n  - alpha-corp\n  - ALPC\n"), 0o600))
	aliases, err = NewAliases(path)
	require.NoError(t, err)
	require.Equal(t, 3, aliases.Len())
}

func TestIsPostgresDSN(t *testing.T) {
	require.True(t, isPostgresDSN("postgres://u:p@localhost/db"))
	require.True(t, isPostgresDSN("host=localhost user=u dbname=db"))
	require.False(t, isPostgresDSN("/var/lib/enrich/cache.db"))
	require.False(t, isPostgresDSN(""))
}

func TestNeedsRedis(t *testing.T) {
	s := enrich.DefaultSettings()
	require.False(t, needsRedis(s))
	s.Alert.Sinks = []string{"log", "Redis"}
	require.True(t, needsRedis(s))
}
