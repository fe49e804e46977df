package schema

import (
	"time"

	"github.com/Laisky/errors/v2"
)

// Domain names.
const (
	DomainMarket    = "market"
	DomainPortfolio = "portfolio"
	DomainRisk      = "risk"
	DomainCalendar  = "calendar" // built from batch artifacts, never searched
)

// MarketReport is the artifact of a general market keyword.
type MarketReport struct {
	Title     string        `json:"title" validate:"required" jsonschema:"required"`
	Summary   string        `json:"summary" validate:"required" jsonschema:"required"`
	Sentiment string        `json:"sentiment,omitempty" validate:"omitempty,enum=sentiment" jsonschema:"enum=Bullish,enum=Bearish,enum=Neutral,enum=Mixed"`
	Events    []MarketEvent `json:"events,omitempty" validate:"omitempty,dive"`
}

// MarketEvent is one dated event inside a MarketReport.
type MarketEvent struct {
	EventType string `json:"event_type" validate:"required" jsonschema:"required"`
	Relevance string `json:"relevance" validate:"required,enum=relevance" jsonschema:"required,enum=Very High Relevance,enum=High Relevance,enum=Moderate Relevance,enum=Low Relevance"`
	Date      string `json:"date" validate:"required,datefmt" jsonschema:"required,format=date"`
	Summary   string `json:"summary" validate:"required" jsonschema:"required"`
}

// PortfolioReport is the earnings outlook of one held security.
type PortfolioReport struct {
	Security         string   `json:"security" validate:"required" jsonschema:"required"`
	Ticker           string   `json:"ticker,omitempty"`
	Quarter          *int     `json:"quarter" validate:"required,min=1,max=4" jsonschema:"required,minimum=1,maximum=4"`
	FiscalYear       *int     `json:"fiscal_year" validate:"required,min=2000,max=2100" jsonschema:"required,minimum=2000,maximum=2100"`
	Summary          string   `json:"summary" validate:"required" jsonschema:"required"`
	EarningsDate     string   `json:"earnings_date,omitempty" validate:"omitempty,datefmt" jsonschema:"format=date"`
	AnalystSentiment string   `json:"analyst_sentiment,omitempty" validate:"omitempty,enum=sentiment" jsonschema:"enum=Bullish,enum=Bearish,enum=Neutral,enum=Mixed"`
	UpcomingEvents   []string `json:"upcoming_events,omitempty"`
}

// RiskRecord describes one vulnerability-like identifier.
type RiskRecord struct {
	Identifier       string   `json:"identifier" validate:"required" jsonschema:"required"`
	Severity         string   `json:"severity" validate:"required,enum=severity" jsonschema:"required,enum=low,enum=medium,enum=high,enum=critical"`
	Score            *float64 `json:"score" validate:"required,min=0,max=10" jsonschema:"required,minimum=0,maximum=10"`
	Summary          string   `json:"summary" validate:"required" jsonschema:"required"`
	AffectedProducts []string `json:"affected_products,omitempty"`
	PublishedAt      string   `json:"published_at" validate:"required,datefmt" jsonschema:"required,format=date"`
}

// CalendarReport is the daily calendar consolidated from one batch of artifacts.
type CalendarReport struct {
	Date    string          `json:"date" validate:"required,datefmt" jsonschema:"required,format=date"`
	Summary string          `json:"summary" validate:"required" jsonschema:"required"`
	Daily   []CalendarEvent `json:"daily,omitempty" validate:"omitempty,dive"`
	Weekly  []CalendarEvent `json:"weekly,omitempty" validate:"omitempty,dive"`
	Monthly []CalendarEvent `json:"monthly,omitempty" validate:"omitempty,dive"`
}

// CalendarEvent is one entry of a CalendarReport.
type CalendarEvent struct {
	Date      string `json:"date" validate:"required,datefmt" jsonschema:"required,format=date"`
	EventType string `json:"event_type" validate:"required" jsonschema:"required"`
	Relevance string `json:"relevance" validate:"required,enum=relevance" jsonschema:"required,enum=Very High Relevance,enum=High Relevance,enum=Moderate Relevance,enum=Low Relevance"`
	Summary   string `json:"summary" validate:"required" jsonschema:"required"`
	Keyword   string `json:"keyword,omitempty"`
}

const earningsWindow = 400 * 24 * time.Hour

var enums = map[string]Enum{
	"relevance": {
		Name:   "relevance",
		Values: []string{"Very High Relevance", "High Relevance", "Moderate Relevance", "Low Relevance"},
		Aliases: map[string]string{
			"very high": "Very High Relevance",
			"high":      "High Relevance",
			"moderate":  "Moderate Relevance",
			"medium":    "Moderate Relevance",
			"low":       "Low Relevance",
		},
	},
	"sentiment": {
		Name:   "sentiment",
		Values: []string{"Bullish", "Bearish", "Neutral", "Mixed"},
		Aliases: map[string]string{
			"positive": "Bullish",
			"negative": "Bearish",
			"bull":     "Bullish",
			"bear":     "Bearish",
		},
	},
	"severity": {
		Name:   "severity",
		Values: []string{"low", "medium", "high", "critical"},
		Aliases: map[string]string{
			"moderate":  "medium",
			"important": "high",
			"severe":    "critical",
		},
	},
}

// LookupEnum returns the enum registered as name.
func LookupEnum(name string) (Enum, bool) {
	e, ok := enums[name]
	return e, ok
}

const sharedOutputRules = `
<output_format>
Answer with one JSON object and nothing else:
{"fields": {...}, "citations": [{"url": "<source url>", "claims": ["<field name>", ...]}]}

"fields" must follow this JSON schema:
{{ .SchemaHint }}

Every one of these fields you fill must be listed in the claims of at least one citation: {{ .ClaimFields }}.
Cite only the URLs of the numbered sources below. Never invent a URL.
Dates use YYYY-MM-DD. Leave out optional fields you cannot support with a source.
</output_format>

<sources>
{{- range .Documents }}
[{{ .Index }}] {{ .Title }}
URL: {{ .URL }}
{{ .Snippet }}
{{ end -}}
</sources>
`

const marketInstructions = `You are an expert market analyst. You consolidate search results about market events into a concise, event driven report. Ground every statement in the supplied sources.`

const marketPrompt = `<context>
Today is {{ .Today }}.
Keyword: {{ .Keyword }}
</context>

<objective>
Summarize what the sources say about the keyword and extract the dated market events they mention.
</objective>

<instructions>
1. Give the report a short title and an overall summary.
2. For each event give its type, the exact date, a one paragraph summary and a relevance rating.
3. Relevance scale: Very High Relevance, High Relevance, Moderate Relevance, Low Relevance.
   Monthly reports (Nonfarm Payrolls, CPI) and central bank meetings are Very High Relevance.
   Quarterly reports (GDP) and earnings seasons are High Relevance.
   Weekly reports and options expiration are Moderate Relevance.
   Minor calendar anomalies are Low Relevance.
4. Add an overall sentiment only when the sources support one.
</instructions>
` + sharedOutputRules

const portfolioInstructions = `You are an expert equity analyst. You summarize the earnings outlook of one security held in a portfolio. Ground every statement in the supplied sources.`

const portfolioPrompt = `<context>
Today is {{ .Today }}.
Keyword: {{ .Keyword }}
</context>

<objective>
Report the earnings period named by the keyword: the security, its ticker, quarter and fiscal year, the expected earnings release date, the analyst sentiment and upcoming events that could move the stock.
</objective>

<instructions>
1. Quarter is a number from 1 to 4. Fiscal year is a four digit year.
2. The earnings date must be the announced or expected release date of that quarter.
3. Summarize recent results and expectations in a few sentences.
</instructions>
` + sharedOutputRules

const riskInstructions = `You are a security analyst. You write factual risk records for vulnerability identifiers. Ground every statement in the supplied sources.`

const riskPrompt = `<context>
Today is {{ .Today }}.
Identifier: {{ .Keyword }}
</context>

<objective>
Describe the vulnerability: severity (low, medium, high or critical), its CVSS-like score between 0 and 10, a summary, the affected products and the publication date.
</objective>
` + sharedOutputRules

const calendarInstructions = `You are an expert market analyst. You turn enriched keyword reports into a calendar a trader reads before the market opens. Use only the supplied reports.`

const calendarPrompt = `<context>
Today is {{ .Today }}.
Calendar: {{ .Keyword }}
Each source is the enriched report of one keyword, in JSON.
</context>

<objective>
Consolidate the dated events of the reports into three calendars: the daily highlights of today and tomorrow, the week ahead and the month ahead.
</objective>

<instructions>
1. Set date to today.
2. List events chronologically. Give each its date, type, relevance rating, a short summary and the keyword it came from.
3. Relevance scale: Very High Relevance, High Relevance, Moderate Relevance, Low Relevance.
4. Put events that matter to held securities first within a day.
5. Summarize the major themes in a few sentences.
</instructions>
` + sharedOutputRules

func calendarRules(report any, now time.Time) []Violation {
	r, ok := report.(*CalendarReport)
	if !ok || r.Date == "" {
		return nil
	}
	if today := now.UTC().Format(DateLayout); r.Date != today {
		return []Violation{{
			Code:    CodeBusinessRule,
			Field:   "date",
			Message: "calendar date must be today, " + today,
		}}
	}
	return nil
}

func portfolioRules(report any, now time.Time) []Violation {
	r, ok := report.(*PortfolioReport)
	if !ok || r.EarningsDate == "" {
		return nil
	}
	date, err := time.Parse(DateLayout, r.EarningsDate)
	if err != nil {
		return nil
	}

	diff := date.Sub(now)
	if diff < 0 {
		diff = -diff
	}
	if diff > earningsWindow {
		return []Violation{{
			Code:    CodeBusinessRule,
			Field:   "earnings_date",
			Message: "earnings date must lie within 400 days of today",
		}}
	}
	return nil
}

func riskRules(report any, now time.Time) []Violation {
	r, ok := report.(*RiskRecord)
	if !ok || r.PublishedAt == "" {
		return nil
	}
	date, err := time.Parse(DateLayout, r.PublishedAt)
	if err != nil {
		return nil
	}

	today, _ := time.Parse(DateLayout, now.UTC().Format(DateLayout))
	if date.After(today) {
		return []Violation{{
			Code:    CodeBusinessRule,
			Field:   "published_at",
			Message: "published_at must not be in the future",
		}}
	}
	return nil
}

// Builtin returns the built-in market, portfolio, risk and calendar definitions.
func Builtin() ([]*Definition, error) {
	specs := []DefinitionSpec{
		{
			Name:         DomainMarket,
			Version:      "1",
			Description:  "market events report",
			ClaimFields:  []string{"summary", "events"},
			Instructions: marketInstructions,
			Prompt:       marketPrompt,
			Report:       MarketReport{},
		},
		{
			Name:         DomainPortfolio,
			Version:      "1",
			Description:  "portfolio earnings report",
			ClaimFields:  []string{"summary", "earnings_date", "analyst_sentiment", "upcoming_events"},
			Instructions: portfolioInstructions,
			Prompt:       portfolioPrompt,
			Report:       PortfolioReport{},
			Rules:        []Rule{portfolioRules},
		},
		{
			Name:         DomainRisk,
			Version:      "1",
			Description:  "vulnerability risk record",
			ClaimFields:  []string{"summary", "severity", "score", "affected_products"},
			Instructions: riskInstructions,
			Prompt:       riskPrompt,
			Report:       RiskRecord{},
			Rules:        []Rule{riskRules},
		},
		{
			Name:         DomainCalendar,
			Version:      "1",
			Description:  "daily market calendar",
			ClaimFields:  []string{"summary", "daily", "weekly", "monthly"},
			Instructions: calendarInstructions,
			Prompt:       calendarPrompt,
			Report:       CalendarReport{},
			Rules:        []Rule{calendarRules},
		},
	}

	defs := make([]*Definition, 0, len(specs))
	for _, spec := range specs {
		d, err := NewDefinition(spec)
		if err != nil {
			return nil, errors.Wrapf(err, "build schema %s", spec.Name)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// DefaultRegistry returns a registry of the built-in definitions.
func DefaultRegistry() (*Registry, error) {
	defs, err := Builtin()
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs...)
}
