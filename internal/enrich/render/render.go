// Package render formats artifacts as markdown and html.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"

	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
)

// preferred field order of each domain, the rest follow alphabetically
var fieldOrder = map[string][]string{
	"market":    {"title", "summary", "sentiment", "events"},
	"portfolio": {"security", "ticker", "quarter", "fiscal_year", "earnings_date", "analyst_sentiment", "summary", "upcoming_events"},
	"risk":      {"identifier", "severity", "score", "published_at", "summary", "affected_products"},
	"calendar":  {"date", "summary", "daily", "weekly", "monthly"},
}

// HumanizeKey turns "event_type" into "Event Type".
func HumanizeKey(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func orderedKeys(domain string, fields map[string]any) []string {
	seen := map[string]bool{}
	var keys []string
	for _, k := range fieldOrder[domain] {
		if _, ok := fields[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}

	var rest []string
	for k := range fields {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// Markdown renders a.
func Markdown(a *artifact.Artifact) string {
	var b strings.Builder

	title := a.Keyword
	if t, ok := a.Fields["title"].(string); ok && t != "" {
		title = t
	}
	fmt.Fprintf(&b, "# %s\n\n", escapeInline(title))
	fmt.Fprintf(&b, "*%s* | version %d | %s", a.Domain, a.Version, a.CreatedAt.Format("2006-01-02"))
	if a.Status == artifact.StatusRepaired {
		b.WriteString(" | repaired")
	}
	b.WriteString("\n\n")

	for _, k := range orderedKeys(a.Domain, a.Fields) {
		if k == "title" {
			continue
		}
		writeField(&b, k, a.Fields[k])
	}

	if len(a.Citations) > 0 {
		b.WriteString("## Sources\n\n")
		for i, c := range a.Citations {
			fmt.Fprintf(&b, "%d. <%s>", i+1, c.URL)
			if len(c.Claims) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(c.Claims, ", "))
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// HTML renders a as an html fragment. Raw html inside synthesized text is
// dropped and only safe link schemes are emitted.
func HTML(a *artifact.Artifact) []byte {
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank | html.SkipHTML | html.Safelink,
	})
	return markdown.ToHTML([]byte(Markdown(a)), nil, renderer)
}

func writeField(b *strings.Builder, key string, v any) {
	fmt.Fprintf(b, "## %s\n\n", HumanizeKey(key))

	switch val := v.(type) {
	case []any:
		if rows, ok := uniformObjects(val); ok {
			writeTable(b, rows)
			break
		}
		for _, item := range val {
			fmt.Fprintf(b, "- %s\n", scalar(item))
		}
	case map[string]any:
		for _, k := range orderedKeys("", val) {
			fmt.Fprintf(b, "- **%s**: %s\n", HumanizeKey(k), scalar(val[k]))
		}
	default:
		b.WriteString(scalar(val))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

// uniformObjects reports whether items are all objects sharing one key set.
func uniformObjects(items []any) ([]map[string]any, bool) {
	if len(items) == 0 {
		return nil, false
	}

	rows := make([]map[string]any, 0, len(items))
	var keys string
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		ks := strings.Join(orderedKeys("", m), ",")
		if i == 0 {
			keys = ks
		} else if ks != keys {
			return nil, false
		}
		rows = append(rows, m)
	}
	return rows, true
}

// tableColumns prefers the columns people read first.
var tableColumns = []string{"date", "event_type", "relevance", "summary"}

func writeTable(b *strings.Builder, rows []map[string]any) {
	var cols []string
	seen := map[string]bool{}
	for _, c := range tableColumns {
		if _, ok := rows[0][c]; ok {
			cols = append(cols, c)
			seen[c] = true
		}
	}
	for _, c := range orderedKeys("", rows[0]) {
		if !seen[c] {
			cols = append(cols, c)
		}
	}

	headers := make([]string, 0, len(cols))
	for _, c := range cols {
		headers = append(headers, HumanizeKey(c))
	}
	fmt.Fprintf(b, "| %s |\n", strings.Join(headers, " | "))
	fmt.Fprintf(b, "|%s\n", strings.Repeat(" --- |", len(cols)))
	for _, row := range rows {
		cells := make([]string, 0, len(cols))
		for _, c := range cols {
			cells = append(cells, strings.ReplaceAll(scalar(row[c]), "|", `\|`))
		}
		fmt.Fprintf(b, "| %s |\n", strings.Join(cells, " | "))
	}
}

func scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ReplaceAll(strings.TrimSpace(val), "\n", " ")
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, scalar(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(val)
	}
}

func escapeInline(s string) string {
	return strings.NewReplacer("\n", " ", "#", `\#`).Replace(strings.TrimSpace(s))
}
