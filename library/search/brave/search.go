// Package brave queries the Brave Search API.
package brave

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"

	appLog "github.com/Laisky/keyword-enricher/library/log"
	"github.com/Laisky/keyword-enricher/library/search"
)

const (
	engineName         = "brave"
	defaultEndpoint    = "https://api.search.brave.com/res/v1/web/search"
	httpRequestTimeout = 10 * time.Second
)

// Option configures the SearchEngine.
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

// SearchEngine calls Brave with one subscription token.
// Brave allows one request per second per token, pace it with search.ThrottledEngine.
type SearchEngine struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   logSDK.Logger
}

// NewSearchEngine constructs a Brave engine.
func NewSearchEngine(apiKey string, opts ...Option) *SearchEngine {
	se := &SearchEngine{
		apiKey:   strings.TrimSpace(apiKey),
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: httpRequestTimeout},
		logger:   appLog.Logger.Named("brave_search"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(se)
		}
	}

	return se
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Name implements search.Engine.
func (se *SearchEngine) Name() string {
	return engineName
}

// Search implements search.Engine.
func (se *SearchEngine) Search(ctx context.Context, query string) ([]search.SearchResultItem, error) {
	if se.apiKey == "" {
		return nil, errors.New("brave api key is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, se.endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "create request to `%s`", se.endpoint)
	}

	params := req.URL.Query()
	params.Set("q", query)
	req.URL.RawQuery = params.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", se.apiKey)

	body, err := search.Exchange(se.client, search.ContextLogger(ctx, se.logger, "brave_search"), engineName, req)
	if err != nil {
		return nil, err
	}

	var payload braveResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshal brave response")
	}

	items := make([]search.SearchResultItem, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		items = append(items, search.SearchResultItem{URL: r.URL, Name: r.Title, Snippet: r.Description})
	}

	return items, nil
}
