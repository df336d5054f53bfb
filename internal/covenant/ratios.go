package covenant

import (
	"math"
	"strings"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// Metric identifies a financial ratio a covenant can be tested against.
type Metric string

const (
	MetricDebtToEBITDA     Metric = "debt_to_ebitda"
	MetricCurrentRatio     Metric = "current_ratio"
	MetricInterestCoverage Metric = "interest_coverage"
	MetricROE              Metric = "roe"
	MetricROA              Metric = "roa"
	MetricDebtToEquity     Metric = "debt_to_equity"
	MetricDSCR             Metric = "dscr"
)

// Ratios holds the ratios that could be computed for one period. A ratio is
// absent when its denominator was zero or any input was not finite.
type Ratios map[Metric]float64

// ComputeRatios calculates covenant ratios from one period of financial data.
func ComputeRatios(fin models.FinancialData) Ratios {
	r := Ratios{}

	// Debt / EBITDA
	r.set(MetricDebtToEBITDA, fin.TotalDebt, fin.EBITDA, 1)

	// Current Ratio = Current Assets / Current Liabilities
	r.set(MetricCurrentRatio, fin.CurrentAssets, fin.CurrentLiabilities, 1)

	// Interest Coverage = EBIT / Interest Expense
	r.set(MetricInterestCoverage, fin.EBIT, fin.InterestExpense, 1)

	// ROE = Net Income / Total Equity (%)
	r.set(MetricROE, fin.NetIncome, fin.TotalEquity, 100)

	// ROA = Net Income / Total Assets (%)
	r.set(MetricROA, fin.NetIncome, fin.TotalAssets, 100)

	// Debt / Equity
	r.set(MetricDebtToEquity, fin.TotalDebt, fin.TotalEquity, 1)

	// DSCR = EBITDA / Debt Service
	r.set(MetricDSCR, fin.EBITDA, fin.DebtService, 1)

	return r
}

func (r Ratios) set(m Metric, num, den, scale float64) {
	if den == 0 || !isFinite(num) || !isFinite(den) {
		return
	}
	v := num / den * scale
	if isFinite(v) {
		r[m] = v
	}
}

// Get returns a ratio and whether it was defined.
func (r Ratios) Get(m Metric) (float64, bool) {
	v, ok := r[m]
	return v, ok
}

// Lookup resolves a free-text covenant metric name and returns its value.
func (r Ratios) Lookup(metricName string) (float64, bool) {
	m, ok := ResolveMetric(metricName)
	if !ok {
		return 0, false
	}
	return r.Get(m)
}

// metricAliases maps normalized metric names (lowercase, alphanumerics only).
var metricAliases = map[string]Metric{
	"debttoebitda":             MetricDebtToEBITDA,
	"debtebitda":               MetricDebtToEBITDA,
	"totaldebttoebitda":        MetricDebtToEBITDA,
	"totaldebtebitda":          MetricDebtToEBITDA,
	"leverage":                 MetricDebtToEBITDA,
	"leverageratio":            MetricDebtToEBITDA,
	"totalleverageratio":       MetricDebtToEBITDA,
	"currentratio":             MetricCurrentRatio,
	"liquidityratio":           MetricCurrentRatio,
	"interestcoverage":         MetricInterestCoverage,
	"interestcoverageratio":    MetricInterestCoverage,
	"interestcover":            MetricInterestCoverage,
	"ebittointerest":           MetricInterestCoverage,
	"ebitinterest":             MetricInterestCoverage,
	"timesinterestearned":      MetricInterestCoverage,
	"roe":                      MetricROE,
	"returnonequity":           MetricROE,
	"roa":                      MetricROA,
	"returnonassets":           MetricROA,
	"debttoequity":             MetricDebtToEquity,
	"debtequity":               MetricDebtToEquity,
	"debttoequityratio":        MetricDebtToEquity,
	"gearing":                  MetricDebtToEquity,
	"gearingratio":             MetricDebtToEquity,
	"dscr":                     MetricDSCR,
	"debtservicecoverage":      MetricDSCR,
	"debtservicecoverageratio": MetricDSCR,
	"debtservicecover":         MetricDSCR,
	"debtservicecoverratio":    MetricDSCR,
}

// ResolveMetric maps spellings such as "Debt/EBITDA", "Leverage Ratio" or
// "interest coverage ratio" to a Metric.
func ResolveMetric(name string) (Metric, bool) {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	key := b.String()
	if m, ok := metricAliases[key]; ok {
		return m, true
	}
	// "Maximum Debt to EBITDA" and similar qualifiers.
	for _, prefix := range []string{"maximum", "minimum", "max", "min", "consolidated", "net"} {
		if trimmed := strings.TrimPrefix(key, prefix); trimmed != key {
			if m, ok := metricAliases[trimmed]; ok {
				return m, true
			}
		}
	}
	return "", false
}

// round2 rounds to two decimals for presentation.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Rounded returns a copy of r with every ratio rounded to two decimals.
func (r Ratios) Rounded() Ratios {
	out := make(Ratios, len(r))
	for k, v := range r {
		out[k] = round2(v)
	}
	return out
}
