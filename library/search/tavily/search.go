// Package tavily queries the Tavily search API.
package tavily

import (
	"bytes"
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
	engineName         = "tavily"
	defaultEndpoint    = "https://api.tavily.com/search"
	defaultDepth       = "basic"
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

// WithDepth sets Tavily's depth parameter, basic or advanced.
func WithDepth(depth string) Option {
	return func(se *SearchEngine) {
		if trimmed := strings.TrimSpace(depth); trimmed != "" {
			se.depth = trimmed
		}
	}
}

// WithMaxResults caps the number of results kept, 0 keeps all.
func WithMaxResults(n int) Option {
	return func(se *SearchEngine) {
		if n >= 0 {
			se.maxResults = n
		}
	}
}

// SearchEngine calls Tavily with one API key.
type SearchEngine struct {
	apiKey     string
	depth      string
	endpoint   string
	maxResults int
	client     *http.Client
	logger     logSDK.Logger
}

// NewSearchEngine constructs a Tavily engine.
func NewSearchEngine(apiKey string, opts ...Option) *SearchEngine {
	se := &SearchEngine{
		apiKey:   strings.TrimSpace(apiKey),
		depth:    defaultDepth,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: httpRequestTimeout},
		logger:   appLog.Logger.Named("tavily_search"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(se)
		}
	}

	return se
}

type tavilyRequest struct {
	Query  string `json:"query"`
	APIKey string `json:"api_key"`
	Depth  string `json:"depth"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Name implements search.Engine.
func (se *SearchEngine) Name() string {
	return engineName
}

// Search implements search.Engine.
func (se *SearchEngine) Search(ctx context.Context, query string) ([]search.SearchResultItem, error) {
	if se.apiKey == "" {
		return nil, errors.New("tavily api key is not configured")
	}

	payload, err := json.Marshal(tavilyRequest{Query: query, APIKey: se.apiKey, Depth: se.depth})
	if err != nil {
		return nil, errors.Wrap(err, "marshal tavily request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, se.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(err, "create request to `%s`", se.endpoint)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := search.Exchange(se.client, search.ContextLogger(ctx, se.logger, "tavily_search"), engineName, req)
	if err != nil {
		return nil, err
	}

	var resp tavilyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "unmarshal tavily response")
	}

	items := make([]search.SearchResultItem, 0, len(resp.Results))
	for _, r := range resp.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		items = append(items, search.SearchResultItem{URL: r.URL, Name: r.Title, Snippet: r.Content})
		if se.maxResults > 0 && len(items) >= se.maxResults {
			break
		}
	}

	return items, nil
}
