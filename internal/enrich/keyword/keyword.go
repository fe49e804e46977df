// Package keyword turns raw keyword strings into canonical dedup keys.
package keyword

import (
	"os"
	"strings"
	"unicode"

	errors "github.com/Laisky/errors/v2"
	"gopkg.in/yaml.v3"
)

// surroundingPunct is stripped from both ends of a keyword.
const surroundingPunct = "\"'.,;:"

// Raw is a keyword as produced by a keyword source.
type Raw struct {
	Text   string `json:"keyword"`
	Domain string `json:"domain"`
}

// Keyword is a normalized search token.
type Keyword struct {
	Raw       string `json:"raw"`
	Canonical string `json:"canonical"`
	Domain    string `json:"domain"`
}

// AliasTable maps a normalized alias to its canonical name.
// It is immutable once built.
type AliasTable struct {
	aliases map[string]string
}

// NewAliasTable builds a table from canonical name to its aliases.
// Both sides are normalized, and a canonical name is an alias of itself.
func NewAliasTable(groups map[string][]string) (*AliasTable, error) {
	t := &AliasTable{aliases: make(map[string]string)}
	for canonical, aliases := range groups {
		name := normalize(canonical)
		if name == "" {
			return nil, errors.New("alias group with empty canonical name")
		}
		for _, alias := range append([]string{canonical}, aliases...) {
			key := normalize(alias)
			if key == "" {
				continue
			}
			if prev, ok := t.aliases[key]; ok && prev != name {
				return nil, errors.Errorf("alias %q maps to both %q and %q", key, prev, name)
			}
			t.aliases[key] = name
		}
	}

	return t, nil
}

// LoadAliases reads a yaml alias table from path.
func LoadAliases(path string) (*AliasTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read alias file %q", path)
	}

	groups := map[string][]string{}
	if err := yaml.Unmarshal(data, &groups); err != nil {
		return nil, errors.Wrapf(err, "parse alias file %q", path)
	}

	return NewAliasTable(groups)
}

// Len returns the number of aliases.
func (t *AliasTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.aliases)
}

func (t *AliasTable) lookup(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	v, ok := t.aliases[key]
	return v, ok
}

// Canonicalizer folds raw keywords into canonical form.
// Its output depends only on the raw text and its alias table.
type Canonicalizer struct {
	aliases *AliasTable
}

// NewCanonicalizer creates a canonicalizer, aliases may be nil.
func NewCanonicalizer(aliases *AliasTable) *Canonicalizer {
	return &Canonicalizer{aliases: aliases}
}

// Canonical returns the canonical form of text.
func (c *Canonicalizer) Canonical(text string) string {
	key := normalize(text)
	if c != nil {
		if name, ok := c.aliases.lookup(key); ok {
			return name
		}
	}
	return key
}

// Parse builds a Keyword from a raw input. Empty text is rejected.
func (c *Canonicalizer) Parse(raw Raw) (Keyword, error) {
	canonical := c.Canonical(raw.Text)
	if canonical == "" {
		return Keyword{}, errors.Errorf("keyword %q is empty after normalization", raw.Text)
	}

	return Keyword{
		Raw:       raw.Text,
		Canonical: canonical,
		Domain:    strings.ToLower(strings.TrimSpace(raw.Domain)),
	}, nil
}

// normalize lowercases, collapses whitespace and strips surrounding punctuation.
func normalize(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), unicode.IsSpace)
	joined := strings.Join(fields, " ")
	joined = strings.Trim(joined, surroundingPunct)
	return strings.TrimSpace(joined)
}
