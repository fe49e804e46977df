package source

import (
	"sort"
	"strings"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
)

// MarketKeywords are the built-in market keywords by refresh period.
var MarketKeywords = map[string][]string{
	"daily": {
		"Fed monetary policy news",
		"European Central Bank (ECB) monetary policy news",
		"breaking press conference news",
		"geopolitical news",
		"regulatory changes news",
		"financial news",
		"market volatility update",
		"interest rate update",
		"quantitative easing news",
		"US political uncertainty news",
		"tariff news",
		"trade dispute news",
		"war updates",
		"M&A deals",
		"major companies product launches news",
		"stock split announcements",
		"US election news",
		"terrorist economy news",
		"US sanctions news",
	},
	"weekly": {
		"FOMC meetings calendar",
		"central bank meetings calendar",
		"weekly financial market data",
		"initial jobless claims latest",
		"options expiration this week",
		"nonfarm payrolls latest",
		"economic data releases schedule",
		"unemployment rate US latest",
		"Consumer Price Index (CPI) latest",
		"industrial production update",
		"Personal Consumption Expenditures (PCE) update",
		"US manufacturing data",
		"China manufacturing data",
		"US retail sales data",
		"US housing starts data",
		"US consumer confidence index",
		"US stock market dividend announcements news",
	},
	"monthly": {
		"earnings event calendar",
		"quarterly reports schedule US stock market",
		"US GDP update",
		"monetary policy announcements",
		"BoJ monetary policy news",
	},
}

// NewMarket returns the market keywords of periods, all periods when none
// is given.
func NewMarket(periods ...string) (*Static, error) {
	if len(periods) == 0 {
		for p := range MarketKeywords {
			periods = append(periods, p)
		}
		sort.Strings(periods)
	}

	var texts []string
	for _, p := range periods {
		kws, ok := MarketKeywords[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return nil, errors.Errorf("unknown market keyword period %q", p)
		}
		texts = append(texts, kws...)
	}
	return FromStrings(schema.DomainMarket, texts...), nil
}
