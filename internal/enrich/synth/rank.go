package synth

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Laisky/keyword-enricher/library/search"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// EstimateTokens approximates the token count of s as ceil(runes/4).
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Rank orders docs by Okapi BM25 score of title and snippet against query.
// Equal scores keep provider order. Empty documents and repeated URLs are
// dropped, the first occurrence wins.
func Rank(query string, docs []search.Document) []search.Document {
	type scored struct {
		doc   search.Document
		terms map[string]int
		len   int
		score float64
	}

	seen := map[string]struct{}{}
	var pool []*scored
	var totalLen int
	for _, d := range docs {
		if strings.TrimSpace(d.URL) == "" ||
			(strings.TrimSpace(d.Title) == "" && strings.TrimSpace(d.Snippet) == "") {
			continue
		}
		if _, dup := seen[d.URL]; dup {
			continue
		}
		seen[d.URL] = struct{}{}

		terms := tokenize(d.Title + " " + d.Snippet)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		pool = append(pool, &scored{doc: d, terms: tf, len: len(terms)})
		totalLen += len(terms)
	}
	if len(pool) == 0 {
		return nil
	}

	avgLen := float64(totalLen) / float64(len(pool))
	if avgLen == 0 {
		avgLen = 1
	}

	queryTerms := map[string]struct{}{}
	for _, t := range tokenize(query) {
		queryTerms[t] = struct{}{}
	}

	n := float64(len(pool))
	for term := range queryTerms {
		var df float64
		for _, s := range pool {
			if s.terms[term] > 0 {
				df++
			}
		}
		if df == 0 {
			continue
		}
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		for _, s := range pool {
			tf := float64(s.terms[term])
			if tf == 0 {
				continue
			}
			norm := tf + bm25K1*(1-bm25B+bm25B*float64(s.len)/avgLen)
			s.score += idf * tf * (bm25K1 + 1) / norm
		}
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].score > pool[j].score
	})

	ranked := make([]search.Document, 0, len(pool))
	for _, s := range pool {
		ranked = append(ranked, s.doc)
	}
	return ranked
}

func docTokens(d search.Document) int {
	return EstimateTokens(d.Title) + EstimateTokens(d.URL) + EstimateTokens(d.Snippet)
}

// Shrink ranks docs and keeps as many as fit into tokenBudget, at most
// maxDocs. The best document is always kept, its snippet and then its title
// cut to fit.
func Shrink(query string, docs []search.Document, tokenBudget, maxDocs int) []search.Document {
	ranked := Rank(query, docs)
	if len(ranked) == 0 {
		return nil
	}
	if maxDocs <= 0 || maxDocs > len(ranked) {
		maxDocs = len(ranked)
	}

	first := ranked[0]
	if tokenBudget > 0 && docTokens(first) > tokenBudget {
		// the url is the citation key and is never cut, so a url longer
		// than the whole budget still overshoots it.
		room := tokenBudget - EstimateTokens(first.URL)
		if title := EstimateTokens(first.Title); title > room {
			first.Title = truncateRunes(first.Title, room*4)
			first.Snippet = ""
		} else {
			first.Snippet = truncateRunes(first.Snippet, (room-title)*4)
		}
	}

	kept := []search.Document{first}
	total := docTokens(first)
	for _, d := range ranked[1:] {
		if len(kept) >= maxDocs {
			break
		}
		cost := docTokens(d)
		if tokenBudget > 0 && total+cost > tokenBudget {
			break
		}
		kept = append(kept, d)
		total += cost
	}

	return kept
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
