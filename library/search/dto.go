package search

import "time"

// SearchResultItem captures a single entry returned by a search engine.
type SearchResultItem struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// Document is one provider result as handed to the rest of the pipeline.
// Documents are never modified after Fetch returns them.
type Document struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Snippet     string    `json:"snippet"`
	RetrievedAt time.Time `json:"retrieved_at"`
	Provider    string    `json:"provider"`
}

// Result is the outcome of one successful Fetch.
type Result struct {
	Query     string     `json:"query"`
	Provider  string     `json:"provider"`
	CreatedAt time.Time  `json:"created_at"`
	Documents []Document `json:"documents"`
}

// URLs returns the document URLs in order.
func (r *Result) URLs() []string {
	if r == nil {
		return nil
	}
	urls := make([]string, 0, len(r.Documents))
	for _, d := range r.Documents {
		urls = append(urls, d.URL)
	}
	return urls
}
