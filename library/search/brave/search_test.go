package brave

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/keyword-enricher/library/search"
)

func TestSearchEngineSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bv-key", r.Header.Get("X-Subscription-Token"))
		require.Equal(t, "rust async", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"Tokio","url":"https://tokio.rs","description":"runtime"}]}}`))
	}))
	defer server.Close()

	engine := NewSearchEngine("bv-key", WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	items, err := engine.Search(context.Background(), "rust async")
	require.NoError(t, err)
	require.Equal(t, []search.SearchResultItem{{URL: "https://tokio.rs", Name: "Tokio", Snippet: "runtime"}}, items)
}

func TestSearchEngineUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad token"}`))
	}))
	defer server.Close()

	engine := NewSearchEngine("bv-key", WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	_, err := engine.Search(context.Background(), "q")
	se, ok := search.AsStatusError(err)
	require.True(t, ok)
	require.True(t, se.CredentialRejected())
	require.Contains(t, se.Body, "bad token")
}
