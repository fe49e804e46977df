package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
)

func marketArtifact() *artifact.Artifact {
	return &artifact.Artifact{
		Keyword: "fomc meetings calendar",
		Domain:  "market",
		Version: 2,
		Fields: map[string]any{
			"title":   "FOMC Calendar",
			"summary": "Two meetings ahead.",
			"events": []any{
				map[string]any{"event_type": "FOMC Meeting", "relevance": "Very High Relevance", "date": "2025-06-17", "summary": "rate | decision"},
				map[string]any{"event_type": "Minutes", "relevance": "High Relevance", "date": "2025-07-09", "summary": "minutes"},
			},
		},
		Citations: []schema.Citation{{URL: "https://fed.example/cal", Claims: []string{"summary", "events"}}},
		Status:    artifact.StatusRepaired,
		CreatedAt: time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestHumanizeKey(t *testing.T) {
	require.Equal(t, "Event Type", HumanizeKey("event_type"))
	require.Equal(t, "Fiscal Year", HumanizeKey("fiscal_year"))
	require.Equal(t, "Summary", HumanizeKey("summary"))
}

func TestMarkdown(t *testing.T) {
	md := Markdown(marketArtifact())
	require.Contains(t, md, "# FOMC Calendar\n")
	require.Contains(t, md, "*market* | version 2 | 2025-05-10 | repaired")
	require.Contains(t, md, "## Summary\n\nTwo meetings ahead.")
	require.Contains(t, md, "| Date | Event Type | Relevance | Summary |")
	require.Contains(t, md, `| 2025-06-17 | FOMC Meeting | Very High Relevance | rate \| decision |`)
	require.Contains(t, md, "## Sources\n\n1. <https://fed.example/cal> (summary, events)")
	require.Less(t, strings.Index(md, "## Summary"), strings.Index(md, "## Events"))
}

func TestMarkdownPortfolio(t *testing.T) {
	a := &artifact.Artifact{
		Keyword: "acme earnings q2 fy2025",
		Domain:  "portfolio",
		Version: 1,
		Fields: map[string]any{
			"security":        "Acme",
			"quarter":         2.0,
			"fiscal_year":     2025.0,
			"summary":         "beat",
			"upcoming_events": []any{"dividend", "split"},
		},
		CreatedAt: time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
	}
	md := Markdown(a)
	require.Contains(t, md, "# acme earnings q2 fy2025")
	require.Contains(t, md, "## Fiscal Year\n\n2025\n")
	require.Contains(t, md, "- dividend\n- split\n")
	require.NotContains(t, md, "Sources")
}

func TestHTML(t *testing.T) {
	out := string(HTML(marketArtifact()))
	require.Contains(t, out, "<h1")
	require.Contains(t, out, "<table>")
	require.Contains(t, out, `href="https://fed.example/cal"`)
}

func TestHTMLDropsRawMarkup(t *testing.T) {
	a := marketArtifact()
	a.Fields["summary"] = `beat <script>alert(1)</script> <img src=x onerror=alert(2)>`
	a.Fields["title"] = "[click](javascript:alert(3))"

	out := string(HTML(a))
	require.Contains(t, out, "beat")
	require.NotContains(t, out, "<script")
	require.NotContains(t, out, "<img")
	require.NotContains(t, out, "onerror")
	require.NotContains(t, out, `href="javascript:`)
	require.Contains(t, out, `href="https://fed.example/cal"`)
}
