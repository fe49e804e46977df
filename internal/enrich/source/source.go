// Package source provides the keyword streams the pipeline pulls from.
package source

import (
	"context"
	"io"
	"strings"
	"sync"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
)

// Source yields raw keywords. Finite sources return io.EOF when exhausted.
type Source interface {
	Next(ctx context.Context) (keyword.Raw, error)
}

// Static replays a fixed list.
type Static struct {
	mu    sync.Mutex
	items []keyword.Raw
	pos   int
}

// NewStatic creates a Static source. Blank items are skipped.
func NewStatic(items ...keyword.Raw) *Static {
	s := &Static{}
	for _, it := range items {
		if strings.TrimSpace(it.Text) != "" {
			s.items = append(s.items, it)
		}
	}
	return s
}

// FromStrings tags every text with domain.
func FromStrings(domain string, texts ...string) *Static {
	items := make([]keyword.Raw, 0, len(texts))
	for _, t := range texts {
		items = append(items, keyword.Raw{Text: t, Domain: domain})
	}
	return NewStatic(items...)
}

// Next implements Source.
func (s *Static) Next(ctx context.Context) (keyword.Raw, error) {
	if err := ctx.Err(); err != nil {
		return keyword.Raw{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.items) {
		return keyword.Raw{}, io.EOF
	}
	it := s.items[s.pos]
	s.pos++
	return it, nil
}

// Len returns the number of items.
func (s *Static) Len() int {
	return len(s.items)
}

// Items returns a copy of all items.
func (s *Static) Items() []keyword.Raw {
	return append([]keyword.Raw(nil), s.items...)
}

// Concat drains sources one after another.
type Concat struct {
	mu      sync.Mutex
	sources []Source
}

// NewConcat creates a Concat source.
func NewConcat(sources ...Source) *Concat {
	return &Concat{sources: sources}
}

// Next implements Source.
func (c *Concat) Next(ctx context.Context) (keyword.Raw, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.sources) > 0 {
		raw, err := c.sources[0].Next(ctx)
		if errors.Is(err, io.EOF) {
			c.sources = c.sources[1:]
			continue
		}
		return raw, err
	}
	return keyword.Raw{}, io.EOF
}

// Collect drains a finite source.
func Collect(ctx context.Context, src Source) ([]keyword.Raw, error) {
	var out []keyword.Raw
	for {
		raw, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, raw)
	}
}
