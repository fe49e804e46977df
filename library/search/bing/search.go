// Package bing queries the Bing Web Search API.
package bing

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
	engineName         = "bing"
	defaultEndpoint    = "https://api.bing.microsoft.com/v7.0/search"
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

// SearchEngine calls Bing with one subscription key.
type SearchEngine struct {
	apikey   string
	endpoint string
	client   *http.Client
	logger   logSDK.Logger
}

// NewSearchEngine is a constructor for SearchEngine.
func NewSearchEngine(apikey string, opts ...Option) *SearchEngine {
	se := &SearchEngine{
		apikey:   strings.TrimSpace(apikey),
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: httpRequestTimeout},
		logger:   appLog.Logger.Named("bing_search"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(se)
		}
	}

	return se
}

// bingResponse is the part of the Bing Search API response we read.
type bingResponse struct {
	WebPages struct {
		WebSearchURL          string `json:"webSearchUrl"`
		TotalEstimatedMatches int    `json:"totalEstimatedMatches"`
		Value                 []struct {
			Name            string    `json:"name"`
			URL             string    `json:"url"`
			Snippet         string    `json:"snippet"`
			DateLastCrawled time.Time `json:"dateLastCrawled"`
		} `json:"value"`
	} `json:"webPages"`
}

// Name implements search.Engine.
func (se *SearchEngine) Name() string {
	return engineName
}

// Search implements search.Engine.
func (se *SearchEngine) Search(ctx context.Context, query string) ([]search.SearchResultItem, error) {
	if se.apikey == "" {
		return nil, errors.New("bing api key is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, se.endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "create request to `%s`", se.endpoint)
	}

	params := req.URL.Query()
	params.Add("q", query)
	req.URL.RawQuery = params.Encode()
	req.Header.Add("Ocp-Apim-Subscription-Key", se.apikey)

	body, err := search.Exchange(se.client, search.ContextLogger(ctx, se.logger, "bing_search"), engineName, req)
	if err != nil {
		return nil, err
	}

	var br bingResponse
	if err = json.Unmarshal(body, &br); err != nil {
		return nil, errors.Wrap(err, "unmarshal bing response")
	}

	items := make([]search.SearchResultItem, 0, len(br.WebPages.Value))
	for _, v := range br.WebPages.Value {
		if strings.TrimSpace(v.URL) == "" {
			continue
		}
		items = append(items, search.SearchResultItem{URL: v.URL, Name: v.Name, Snippet: v.Snippet})
	}

	return items, nil
}
