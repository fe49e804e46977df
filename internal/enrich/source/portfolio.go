package source

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/keyword-enricher/internal/enrich/schema"
	"github.com/Laisky/keyword-enricher/library/log"
)

// Holding is one portfolio position.
type Holding struct {
	Security string `json:"security"`
	Ticker   string `json:"ticker"`
}

// EarningsPeriod returns the quarter a holding reports on at now.
// BDR tickers, which contain "34", look two quarters ahead, others one back.
func EarningsPeriod(ticker string, now time.Time) (quarter, year int) {
	quarter = (int(now.Month())-1)/3 + 1
	year = now.Year()

	if strings.Contains(ticker, "34") {
		quarter += 2
		if quarter > 4 {
			quarter -= 4
			year++
		}
		return quarter, year
	}

	quarter--
	if quarter < 1 {
		quarter = 4
		year--
	}
	return quarter, year
}

// PortfolioKeywords builds "<security> earnings Q<q> FY<y>" for each holding.
// Holdings without security or ticker are skipped.
func PortfolioKeywords(holdings []Holding, now time.Time, logger logSDK.Logger) []string {
	if logger == nil {
		logger = log.Logger.Named("portfolio_source")
	}

	var out []string
	for _, h := range holdings {
		security, ticker := strings.TrimSpace(h.Security), strings.TrimSpace(h.Ticker)
		if security == "" || ticker == "" {
			logger.Warn("skip portfolio item without security or ticker",
				zap.String("security", security), zap.String("ticker", ticker))
			continue
		}
		q, y := EarningsPeriod(ticker, now)
		out = append(out, fmt.Sprintf("%s earnings Q%d FY%d", security, q, y))
	}
	return out
}

// NewPortfolioFile reads a json list of holdings from path.
func NewPortfolioFile(path string, now time.Time) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read portfolio file %q", path)
	}

	var holdings []Holding
	if err := json.Unmarshal(data, &holdings); err != nil {
		return nil, errors.Wrapf(err, "parse portfolio file %q", path)
	}

	return FromStrings(schema.DomainPortfolio, PortfolioKeywords(holdings, now, nil)...), nil
}
