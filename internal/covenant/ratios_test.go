package covenant

import (
	"math"
	"testing"
	"time"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

func sampleFinancials() models.FinancialData {
	return models.FinancialData{
		Period:             "Q2 2025",
		PeriodEnd:          time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		Revenue:            1200,
		EBITDA:             250,
		EBIT:               180,
		NetIncome:          90,
		InterestExpense:    45,
		TotalDebt:          700,
		TotalEquity:        600,
		TotalAssets:        1800,
		CurrentAssets:      420,
		CurrentLiabilities: 300,
		DebtService:        125,
	}
}

func TestComputeRatiosMatchesFormula(t *testing.T) {
	fin := sampleFinancials()
	r := ComputeRatios(fin)

	want := map[Metric]float64{
		MetricDebtToEBITDA:     fin.TotalDebt / fin.EBITDA,
		MetricCurrentRatio:     fin.CurrentAssets / fin.CurrentLiabilities,
		MetricInterestCoverage: fin.EBIT / fin.InterestExpense,
		MetricROE:              fin.NetIncome / fin.TotalEquity * 100,
		MetricROA:              fin.NetIncome / fin.TotalAssets * 100,
		MetricDebtToEquity:     fin.TotalDebt / fin.TotalEquity,
		MetricDSCR:             fin.EBITDA / fin.DebtService,
	}
	for m, w := range want {
		got, ok := r.Get(m)
		if !ok {
			t.Errorf("%s: not computed", m)
			continue
		}
		if math.Abs(got-w) > 1e-12 {
			t.Errorf("%s: got %f, want %f", m, got, w)
		}
	}
}

func TestComputeRatiosNegativeDenominators(t *testing.T) {
	fin := sampleFinancials()
	fin.EBITDA = -50
	fin.TotalEquity = -200

	r := ComputeRatios(fin)
	if got, ok := r.Get(MetricDebtToEBITDA); !ok || math.Abs(got+14) > 1e-9 {
		t.Errorf("debt/ebitda with negative EBITDA: got %f, %v", got, ok)
	}
	if got, ok := r.Get(MetricROE); !ok || math.Abs(got+45) > 1e-9 {
		t.Errorf("ROE with negative equity: got %f, %v", got, ok)
	}
}

func TestComputeRatiosZeroAndNonFinite(t *testing.T) {
	fin := sampleFinancials()
	fin.EBITDA = 0
	fin.CurrentLiabilities = 0
	fin.InterestExpense = math.Inf(1)
	fin.NetIncome = math.NaN()

	r := ComputeRatios(fin)
	for _, m := range []Metric{MetricDebtToEBITDA, MetricCurrentRatio, MetricInterestCoverage, MetricROE, MetricROA, MetricDSCR} {
		if v, ok := r.Get(m); ok {
			t.Errorf("%s should be undefined, got %f", m, v)
		}
	}
	if _, ok := r.Get(MetricDebtToEquity); !ok {
		t.Error("debt/equity should still be defined")
	}
}

func TestResolveMetric(t *testing.T) {
	tests := []struct {
		in   string
		want Metric
		ok   bool
	}{
		{"Debt/EBITDA", MetricDebtToEBITDA, true},
		{"Total Debt to EBITDA", MetricDebtToEBITDA, true},
		{"Maximum Leverage Ratio", MetricDebtToEBITDA, true},
		{"current ratio", MetricCurrentRatio, true},
		{"Interest Coverage Ratio", MetricInterestCoverage, true},
		{"EBIT/Interest", MetricInterestCoverage, true},
		{"Return on Equity", MetricROE, true},
		{"ROA", MetricROA, true},
		{"Debt-to-Equity", MetricDebtToEquity, true},
		{"Minimum DSCR", MetricDSCR, true},
		{"Debt Service Coverage Ratio", MetricDSCR, true},
		{"Tangible Net Worth", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := ResolveMetric(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ResolveMetric(%q): got (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRatiosLookup(t *testing.T) {
	r := ComputeRatios(sampleFinancials())
	v, ok := r.Lookup("Debt / EBITDA")
	if !ok || math.Abs(v-2.8) > 1e-12 {
		t.Errorf("Lookup: got %f, %v; want 2.8", v, ok)
	}
	if _, ok := r.Lookup("capex"); ok {
		t.Error("unknown metric should not resolve")
	}
}

func TestRounded(t *testing.T) {
	r := Ratios{MetricCurrentRatio: 1.23456}.Rounded()
	if r[MetricCurrentRatio] != 1.23 {
		t.Errorf("Rounded: got %f", r[MetricCurrentRatio])
	}
}
