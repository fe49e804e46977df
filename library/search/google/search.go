// Package google queries the Google Programmable Search API.
package google

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	appLog "github.com/Laisky/keyword-enricher/library/log"
	"github.com/Laisky/keyword-enricher/library/search"
)

const (
	engineName         = "google"
	httpRequestTimeout = 10 * time.Second
	searchEndpoint     = "https://www.googleapis.com/customsearch/v1"
)

// Option configures the SearchEngine instance.
type Option func(*SearchEngine)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(se *SearchEngine) {
		if client != nil {
			se.client = client
		}
	}
}

// WithEndpoint overrides the API endpoint, primarily for testing.
func WithEndpoint(endpoint string) Option {
	return func(se *SearchEngine) {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			se.endpoint = trimmed
		}
	}
}

// WithLogger overrides the fallback logger.
func WithLogger(logger logSDK.Logger) Option {
	return func(se *SearchEngine) {
		if logger != nil {
			se.logger = logger
		}
	}
}

// SearchEngine provides access to the Google Programmable Search API.
type SearchEngine struct {
	apiKey   string
	cx       string
	endpoint string
	client   *http.Client
	logger   logSDK.Logger
}

// NewSearchEngine instantiates a Programmable Search client with the given credentials.
func NewSearchEngine(apiKey, cx string, opts ...Option) *SearchEngine {
	se := &SearchEngine{
		apiKey:   strings.TrimSpace(apiKey),
		cx:       strings.TrimSpace(cx),
		endpoint: searchEndpoint,
		client:   &http.Client{Timeout: httpRequestTimeout},
		logger:   appLog.Logger.Named("google_search"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(se)
		}
	}

	return se
}

// customSearchResponse models the subset of the Custom Search payload we read.
type customSearchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Name implements search.Engine.
func (se *SearchEngine) Name() string {
	return engineName
}

// Search implements search.Engine.
func (se *SearchEngine) Search(ctx context.Context, query string) ([]search.SearchResultItem, error) {
	if se.apiKey == "" {
		return nil, errors.New("google api key is not configured")
	}
	if se.cx == "" {
		return nil, errors.New("google search engine id (cx) is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, se.endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "create request to `%s`", se.endpoint)
	}

	params := req.URL.Query()
	params.Set("key", se.apiKey)
	params.Set("cx", se.cx)
	params.Set("q", query)
	req.URL.RawQuery = params.Encode()

	logger := search.ContextLogger(ctx, se.logger, "google_search")
	body, err := search.Exchange(se.client, logger, engineName, req)
	if err != nil {
		return nil, err
	}

	result := new(customSearchResponse)
	if err := json.Unmarshal(body, result); err != nil {
		return nil, errors.Wrap(err, "unmarshal google response")
	}

	if len(result.Items) == 0 && logger != nil {
		logger.Warn("google search returned no results", zap.String("query", query))
	}

	items := make([]search.SearchResultItem, 0, len(result.Items))
	for _, it := range result.Items {
		if strings.TrimSpace(it.Link) == "" {
			continue
		}
		items = append(items, search.SearchResultItem{URL: it.Link, Name: it.Title, Snippet: it.Snippet})
	}

	return items, nil
}
