package schema

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func mustDefinition(t *testing.T, domain string) *Definition {
	t.Helper()
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	d, ok := reg.Lookup(domain)
	require.True(t, ok, domain)
	return d
}

func codesOf(vs []Violation) []string {
	return Codes(vs)
}

func TestRegistry(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	require.Equal(t, []string{"calendar", "market", "portfolio", "risk"}, reg.Domains())

	d, ok := reg.Lookup(" Market ")
	require.True(t, ok)
	require.Equal(t, "1", d.Version())
	require.Len(t, d.Hash(), 64)
	require.Contains(t, d.Hint(), `"relevance"`)
	require.Contains(t, d.Fields(), "events")

	_, ok = reg.Lookup("weather")
	require.False(t, ok)

	_, err = NewRegistry(d, d)
	require.ErrorContains(t, err, "duplicate")
}

func TestDefinitionHashChangesWithVersion(t *testing.T) {
	spec := DefinitionSpec{
		Name:        "risk",
		Version:     "1",
		ClaimFields: []string{"summary"},
		Prompt:      "{{ .Keyword }}",
		Report:      RiskRecord{},
	}
	v1, err := NewDefinition(spec)
	require.NoError(t, err)
	again, err := NewDefinition(spec)
	require.NoError(t, err)
	require.Equal(t, v1.Hash(), again.Hash())

	spec.Version = "2"
	v2, err := NewDefinition(spec)
	require.NoError(t, err)
	require.NotEqual(t, v1.Hash(), v2.Hash())

	spec.ClaimFields = []string{"nope"}
	_, err = NewDefinition(spec)
	require.ErrorContains(t, err, "nope")

	spec.ClaimFields = nil
	spec.Report = "not a struct"
	_, err = NewDefinition(spec)
	require.Error(t, err)
}

func TestRender(t *testing.T) {
	d := mustDefinition(t, DomainMarket)
	prompt, err := d.Render("fomc meetings calendar", testNow, []PromptDocument{
		{Index: 1, Title: "FOMC", URL: "https://a.example/1", Snippet: "meeting on June 17"},
		{Index: 2, Title: "CPI", URL: "https://a.example/2", Snippet: "cpi release"},
	})
	require.NoError(t, err)
	require.Contains(t, prompt, "Today is 2025-05-10.")
	require.Contains(t, prompt, "Keyword: fomc meetings calendar")
	require.Contains(t, prompt, "[2] CPI\nURL: https://a.example/2")
	require.Contains(t, prompt, "summary, events")
	require.True(t, strings.Contains(prompt, d.Hint()))
}

func TestValidateMarket(t *testing.T) {
	d := mustDefinition(t, DomainMarket)

	t.Run("valid", func(t *testing.T) {
		fields := map[string]any{
			"title":   "FOMC",
			"summary": "rates held",
			"events": []any{map[string]any{
				"event_type": "FOMC Meeting",
				"relevance":  "Very High Relevance",
				"date":       "2025-06-17",
				"summary":    "decision day",
			}},
		}
		normalized, vs := d.Validate(fields, testNow)
		require.Empty(t, vs)
		require.Equal(t, "FOMC", normalized["title"])
		require.Len(t, normalized["events"], 1)
	})

	t.Run("nested problems", func(t *testing.T) {
		fields := map[string]any{
			"title":   "FOMC",
			"summary": "rates held",
			"extra":   true,
			"events": []any{map[string]any{
				"event_type": "FOMC Meeting",
				"relevance":  "high",
				"date":       "June 17, 2025",
			}},
		}
		_, vs := d.Validate(fields, testNow)
		require.ElementsMatch(t,
			[]string{"invalid_date", "invalid_enum", "missing_field", "unknown_field"},
			codesOf(vs))

		byCode := map[Code]Violation{}
		for _, v := range vs {
			byCode[v.Code] = v
		}
		require.Equal(t, "events[0].relevance", byCode[CodeInvalidEnum].Field)
		require.Equal(t, "relevance", byCode[CodeInvalidEnum].Param)
		require.Equal(t, "events[0].date", byCode[CodeInvalidDate].Field)
		require.Equal(t, "events[0].summary", byCode[CodeMissingField].Field)
		require.Equal(t, "extra", byCode[CodeUnknownField].Field)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, vs := d.Validate(map[string]any{"title": 3, "summary": "x"}, testNow)
		require.Len(t, vs, 1)
		require.Equal(t, CodeInvalidType, vs[0].Code)
		require.Equal(t, "title", vs[0].Field)
	})
}

func TestValidatePortfolio(t *testing.T) {
	d := mustDefinition(t, DomainPortfolio)
	base := func() map[string]any {
		return map[string]any{
			"security":      "Acme",
			"ticker":        "ACME",
			"quarter":       2.0,
			"fiscal_year":   2025.0,
			"summary":       "beat estimates",
			"earnings_date": "2025-07-20",
		}
	}

	_, vs := d.Validate(base(), testNow)
	require.Empty(t, vs)

	f := base()
	f["quarter"] = 5.0
	_, vs = d.Validate(f, testNow)
	require.Equal(t, []string{"out_of_range"}, codesOf(vs))
	require.Equal(t, "quarter", vs[0].Field)

	f = base()
	f["earnings_date"] = "2027-01-01"
	_, vs = d.Validate(f, testNow)
	require.Equal(t, []string{"business_rule"}, codesOf(vs))

	f = base()
	delete(f, "fiscal_year")
	_, vs = d.Validate(f, testNow)
	require.Equal(t, []string{"missing_field"}, codesOf(vs))
	require.Equal(t, "fiscal_year", vs[0].Field)
}

func TestValidateRisk(t *testing.T) {
	d := mustDefinition(t, DomainRisk)
	fields := map[string]any{
		"identifier":   "CVE-2025-0001",
		"severity":     "critical",
		"score":        0.0,
		"summary":      "rce",
		"published_at": "2025-05-11",
	}
	_, vs := d.Validate(fields, testNow)
	require.Equal(t, []string{"business_rule"}, codesOf(vs))
	require.Equal(t, "published_at", vs[0].Field)

	fields["published_at"] = "2025-05-10"
	_, vs = d.Validate(fields, testNow)
	require.Empty(t, vs)
}

func TestValidateCalendar(t *testing.T) {
	d := mustDefinition(t, DomainCalendar)
	fields := map[string]any{
		"date":    "2025-05-10",
		"summary": "rates week",
		"daily": []any{map[string]any{
			"date":       "2025-05-10",
			"event_type": "CPI",
			"relevance":  "Very High Relevance",
			"summary":    "april cpi",
			"keyword":    "cpi release",
		}},
	}
	normalized, vs := d.Validate(fields, testNow)
	require.Empty(t, vs)
	require.Len(t, normalized["daily"], 1)

	fields["date"] = "2025-05-09"
	_, vs = d.Validate(fields, testNow)
	require.Equal(t, []string{"business_rule"}, codesOf(vs))
	require.Equal(t, "date", vs[0].Field)
}

func TestCheckCitations(t *testing.T) {
	d := mustDefinition(t, DomainMarket)
	allowed := map[string]struct{}{"https://a/1": {}, "https://a/2": {}}
	fields := map[string]any{"title": "t", "summary": "s", "events": []any{}}

	vs := d.CheckCitations(fields, []Citation{{URL: "https://a/2", Claims: []string{"summary"}}}, allowed)
	require.Empty(t, vs)

	vs = d.CheckCitations(fields, nil, allowed)
	require.Equal(t, []string{"citation_missing"}, codesOf(vs))

	vs = d.CheckCitations(fields, []Citation{{URL: "https://evil/x", Claims: []string{"summary"}}}, allowed)
	require.ElementsMatch(t, []string{"citation_missing", "citation_out_of_set"}, codesOf(vs))
	require.True(t, HasBlocking(vs))
}

func TestEnumNormalize(t *testing.T) {
	e, ok := LookupEnum("relevance")
	require.True(t, ok)

	for in, want := range map[string]string{
		"high":                 "High Relevance",
		"VERY  HIGH RELEVANCE": "Very High Relevance",
		"medium":               "Moderate Relevance",
		"low relevance":        "Low Relevance",
	} {
		got, ok := e.Normalize(in)
		require.True(t, ok, in)
		require.Equal(t, want, got)
	}

	_, ok = e.Normalize("extreme")
	require.False(t, ok)
}

func TestPaths(t *testing.T) {
	fields := map[string]any{
		"summary": "s",
		"events":  []any{map[string]any{"date": "x"}},
	}

	v, ok := GetPath(fields, "events[0].date")
	require.True(t, ok)
	require.Equal(t, "x", v)

	require.True(t, SetPath(fields, "events[0].date", "2025-01-01"))
	v, _ = GetPath(fields, "events[0].date")
	require.Equal(t, "2025-01-01", v)

	require.True(t, SetPath(fields, "quarter", 1))
	require.Equal(t, 1, fields["quarter"])

	require.False(t, SetPath(fields, "events[3].date", "x"))
	_, ok = GetPath(fields, "events[x]")
	require.False(t, ok)
}
