package mcp

import (
	"context"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/internal/enrich/pipeline"
	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
)

type fakeEnricher struct {
	store artifact.Store
	err   error
}

func (f *fakeEnricher) Enrich(ctx context.Context, raw keyword.Raw) (*pipeline.Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, err := f.store.Latest(ctx, raw.Text)
	if err != nil {
		return nil, err
	}
	return &pipeline.Outcome{Artifact: a}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeEnricher) {
	t.Helper()
	store := artifact.NewMemoryStore()
	for _, summary := range []string{"first", "second"} {
		latest := 0
		if a, err := store.Latest(context.Background(), "alpha corp"); err == nil {
			latest = a.Version
		}
		require.NoError(t, store.Append(context.Background(), &artifact.Artifact{
			Keyword: "alpha corp",
			Domain:  schema.DomainMarket,
			Version: latest + 1,
			Fields:  map[string]any{"title": "Alpha", "summary": summary},
			Status:  artifact.StatusValid,
		}))
	}

	enricher := &fakeEnricher{store: store}
	s, err := NewServer(enricher, store, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, s.Handler())
	return s, enricher
}

func callRequest(args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{Params: mcpgo.CallToolParams{Arguments: args}}
}

func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServerRequiresCapability(t *testing.T) {
	s, err := NewServer(nil, nil, nil, nil)
	require.Nil(t, s)
	require.Error(t, err)
}

func TestHandleEnrichKeyword(t *testing.T) {
	s, enricher := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleEnrichKeyword(ctx, callRequest(map[string]any{"keyword": "alpha corp", "domain": "market"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Contains(t, resultText(t, result), `"version":2`)

	result, err = s.handleEnrichKeyword(ctx, callRequest(map[string]any{"keyword": "alpha corp"}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	enricher.err = enrich.NewError(enrich.KindSearchUnavailable, "alpha corp", "all search providers failed", nil)
	result, err = s.handleEnrichKeyword(ctx, callRequest(map[string]any{"keyword": "alpha corp", "domain": "market"}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Contains(t, resultText(t, result), "SearchUnavailable")
}

func TestHandleGetArtifact(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleGetArtifact(ctx, callRequest(map[string]any{"keyword": "  Alpha Corp"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Contains(t, resultText(t, result), `"summary":"second"`)

	result, err = s.handleGetArtifact(ctx, callRequest(map[string]any{"keyword": "alpha corp", "version": 1}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Contains(t, resultText(t, result), `"summary":"first"`)

	result, err = s.handleGetArtifact(ctx, callRequest(map[string]any{"keyword": "beta"}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Equal(t, "no artifact for beta", resultText(t, result))

	result, err = s.handleGetArtifact(ctx, callRequest(map[string]any{}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}
