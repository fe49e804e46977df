package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/internal/enrich/source"
	"github.com/Laisky/keyword-enricher/library/log"
)

func TestRunSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- runSchedule(ctx, "@every 1s", func() { calls.Add(1) }, log.Logger.Named("schedule_test"))
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunScheduleInvalidSpec(t *testing.T) {
	err := runSchedule(context.Background(), "every morning", func() {}, log.Logger.Named("schedule_test"))
	require.Error(t, err)
}

func TestNewBatchSource(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC)

	src, err := newBatchSource(enrich.SourceSettings{StaticDomain: "market"}, []string{"US GDP update"}, "", now)
	require.NoError(t, err)
	items, err := source.Collect(ctx, src)
	require.NoError(t, err)
	require.Equal(t, []keyword.Raw{{Text: "US GDP update", Domain: "market"}}, items)

	_, err = newBatchSource(enrich.SourceSettings{}, nil, "", now)
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "portfolio.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"security": "ACME", "ticker": "ACME"}]`), 0o600))

	src, err = newBatchSource(enrich.SourceSettings{
		Static:        []string{"FOMC meetings calendar"},
		StaticDomain:  "market",
		PortfolioFile: path,
	}, nil, "", now)
	require.NoError(t, err)
	items, err = source.Collect(ctx, src)
	require.NoError(t, err)
	require.Equal(t, []keyword.Raw{
		{Text: "FOMC meetings calendar", Domain: "market"},
		{Text: "ACME earnings Q1 FY2025", Domain: "portfolio"},
	}, items)
}
