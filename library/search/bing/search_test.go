package bing

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
		require.Equal(t, "sub-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		require.Equal(t, "golang", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"webPages":{"value":[{"name":"Go","url":"https://go.dev","snippet":"The Go language"}]}}`))
	}))
	defer server.Close()

	engine := NewSearchEngine("sub-key", WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	require.Equal(t, "bing", engine.Name())

	items, err := engine.Search(context.Background(), "golang")
	require.NoError(t, err)
	require.Equal(t, []search.SearchResultItem{{URL: "https://go.dev", Name: "Go", Snippet: "The Go language"}}, items)
}

func TestSearchEngineMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	engine := NewSearchEngine("sub-key", WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	_, err := engine.Search(context.Background(), "golang")
	require.ErrorContains(t, err, "unmarshal")
}
