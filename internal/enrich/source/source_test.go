package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/library/log"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(
		keyword.Raw{Text: "alpha", Domain: "market"},
		keyword.Raw{Text: "  "},
		keyword.Raw{Text: "beta", Domain: "risk"},
	)
	require.Equal(t, 2, s.Len())

	got, err := Collect(ctx, s)
	require.NoError(t, err)
	require.Equal(t, []keyword.Raw{{Text: "alpha", Domain: "market"}, {Text: "beta", Domain: "risk"}}, got)

	_, err = s.Next(ctx)
	require.ErrorIs(t, err, io.EOF)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = FromStrings("market", "x").Next(canceled)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcat(t *testing.T) {
	c := NewConcat(FromStrings("market", "a", "b"), NewStatic(), FromStrings("risk", "c"))
	got, err := Collect(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "risk", got[2].Domain)
}

func TestMarket(t *testing.T) {
	weekly, err := NewMarket("weekly")
	require.NoError(t, err)
	require.Equal(t, len(MarketKeywords["weekly"]), weekly.Len())
	require.Equal(t, "market", weekly.Items()[0].Domain)

	all, err := NewMarket()
	require.NoError(t, err)
	require.Equal(t, len(MarketKeywords["daily"])+len(MarketKeywords["weekly"])+len(MarketKeywords["monthly"]), all.Len())

	_, err = NewMarket("hourly")
	require.Error(t, err)
}

func TestEarningsPeriod(t *testing.T) {
	cases := []struct {
		ticker   string
		month    time.Month
		quarter  int
		yearDiff int
	}{
		{"ACME", time.May, 1, 0},
		{"ACME", time.February, 4, -1},
		{"AAPL34", time.May, 4, 0},
		{"AAPL34", time.August, 1, 1},
		{"AAPL34", time.December, 2, 1},
	}
	for _, c := range cases {
		q, y := EarningsPeriod(c.ticker, time.Date(2025, c.month, 10, 0, 0, 0, 0, time.UTC))
		require.Equal(t, c.quarter, q, "%s %s", c.ticker, c.month)
		require.Equal(t, 2025+c.yearDiff, y, "%s %s", c.ticker, c.month)
	}
}

func TestPortfolioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"security": "Acme Corp", "ticker": "ACME"},
		{"security": "Apple BDR", "ticker": "AAPL34"},
		{"security": "", "ticker": "NONE"}
	]`), 0o600))

	s, err := NewPortfolioFile(path, time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, []keyword.Raw{
		{Text: "Acme Corp earnings Q1 FY2025", Domain: "portfolio"},
		{Text: "Apple BDR earnings Q4 FY2025", Domain: "portfolio"},
	}, s.Items())

	_, err = NewPortfolioFile(filepath.Join(t.TempDir(), "missing.json"), time.Now())
	require.Error(t, err)
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *fakeSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func TestKafkaClaimHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &KafkaSource{
		defaultDomain: "market",
		logger:        log.Logger.Named("kafka_test"),
		items:         make(chan delivery),
		done:          make(chan struct{}),
	}
	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 4)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 1, Value: []byte(`not json`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 2, Value: []byte(`{"keyword": "CVE-2025-1", "domain": "risk"}`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 3, Value: []byte(`{"keyword": "FOMC"}`)}
	close(claim.msgs)

	handlerDone := make(chan error, 1)
	go func() {
		handlerDone <- (&claimHandler{source: src}).ConsumeClaim(session, claim)
	}()

	first, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, keyword.Raw{Text: "CVE-2025-1", Domain: "risk"}, first)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, keyword.Raw{Text: "FOMC", Domain: "market"}, second)

	require.NoError(t, <-handlerDone)
	require.Equal(t, []int64{1, 2, 3}, session.markedOffsets())

	close(src.done)
	_, err = src.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
}
