package assessment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantwatch/covenantwatch/internal/cache"
	"github.com/covenantwatch/covenantwatch/internal/llm"
	"github.com/covenantwatch/covenantwatch/internal/risk"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

func TestAssessorExtractFallsBackWithoutKey(t *testing.T) {
	a := NewAssessor(nil, nil)
	assert.False(t, a.AIEnabled())

	res, err := a.ExtractCovenants(context.Background(), "c-1", sampleAgreement)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", res.Source)
	assert.NotEmpty(t, res.Covenants)
}

func TestAssessorExtractEmptyText(t *testing.T) {
	a := NewAssessor(nil, nil)
	_, err := a.ExtractCovenants(context.Background(), "c", "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestAssessorCachesModelResults(t *testing.T) {
	gen := &fakeGenerator{content: `{"covenants":[{"covenant_name":"Current Ratio","covenant_type":"financial","operator":">=","threshold_value":1.2,"check_frequency":"quarterly","confidence":0.9}]}`}
	a := NewAssessor(NewClient(gen, nil), nil, WithCache(cache.NewMemory(time.Hour)))

	first, err := a.ExtractCovenants(context.Background(), "c", "text")
	require.NoError(t, err)
	second, err := a.ExtractCovenants(context.Background(), "c", "text")
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, first, second)
	assert.Equal(t, "ai", second.Source)

	_, _ = a.ExtractCovenants(context.Background(), "c", "other text")
	assert.Equal(t, 2, gen.calls)
}

func TestAssessorDoesNotCacheFallbacks(t *testing.T) {
	gen := &fakeGenerator{content: "garbage"}
	a := NewAssessor(NewClient(gen, nil), nil, WithCache(cache.NewMemory(time.Hour)))

	res, err := a.ExtractCovenants(context.Background(), "c", sampleAgreement)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", res.Source)

	gen.content = `{"covenants":[]}`
	res, err = a.ExtractCovenants(context.Background(), "c", sampleAgreement)
	require.NoError(t, err)
	assert.Equal(t, "ai", res.Source)
	assert.Equal(t, 2, gen.calls)
}

func TestAssessorRiskFallback(t *testing.T) {
	a := NewAssessor(NewClient(&fakeGenerator{err: llm.ErrRateLimit}, nil), nil)

	buf := -5.0
	v := 3.7
	ra, err := a.AssessCovenantRisk(context.Background(), RiskInput{
		Covenant: models.Covenant{ID: "cov-1", CovenantName: "Leverage", MetricName: "debt_to_ebitda", Operator: models.OpLessEqual, ThresholdValue: 3.5},
		Health: models.CovenantHealth{
			CovenantID: "cov-1", LastReportedValue: &v, BufferPercentage: &buf,
			Status: models.StatusBreached, Trend: models.TrendDeteriorating,
		},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "heuristic", ra.Source)
	assert.Equal(t, 1.0, ra.BreachProbability)
	assert.Equal(t, models.RiskCritical, ra.RiskLevel)
}

func TestAssessorImpactFallback(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	agg := risk.NewAggregator(risk.WithClock(func() time.Time { return now }))
	a := NewAssessor(nil, agg)

	ev := models.AdverseEvent{ID: "ev", EventType: models.EventBankruptcy, Title: "Chapter 11", RiskScore: 10, EventDate: now}
	ia, err := a.AssessEventImpact(context.Background(), ev, EventContext{
		Covenants: []models.Covenant{{ID: "cov-1", CovenantType: models.CovenantFinancial}},
	})
	require.NoError(t, err)
	assert.Equal(t, "heuristic", ia.Source)
	require.Len(t, ia.AffectedCovenants, 1)
	assert.InDelta(t, 1.0, ia.ImpactScore, 1e-9)
}

func TestAssessorCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewAssessor(NewClient(&fakeGenerator{err: context.Canceled}, nil), nil)
	_, err := a.ExtractCovenants(ctx, "c", "text")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssessorRiskCacheIgnoresComputationTime(t *testing.T) {
	gen := &fakeGenerator{content: `{"risk_level":"medium","risk_score":4.5,"breach_probability":0.3,"key_risks":["thin headroom"],"recommendations":["monitor"],"narrative":"ok","confidence":0.7}`}
	mem := cache.NewMemory(time.Hour)
	a := NewAssessor(NewClient(gen, nil), nil, WithCache(mem))

	cov := models.Covenant{ID: "cov-1", CovenantName: "Leverage", Operator: models.OpLessEqual, ThresholdValue: 3.5}
	history := []models.MetricPoint{
		{Value: 3.0, ObservedAt: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)},
		{Value: 3.2, ObservedAt: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)},
	}
	input := func(computed time.Time, value float64, narrative string) RiskInput {
		buf := (3.5 - value) / 3.5 * 100
		return RiskInput{
			Covenant: cov,
			Health: models.CovenantHealth{
				CovenantID: "cov-1", LastReportedValue: &value, BufferPercentage: &buf,
				Status: models.StatusWarning, Trend: models.TrendDeteriorating,
				AINarrative: narrative, ComputedAt: computed,
			},
			History: history,
			Events:  &models.RiskAggregation{RiskTrend: models.RiskStable, ComputedAt: computed},
		}
	}

	start := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ra, err := a.AssessCovenantRisk(context.Background(), input(start.Add(time.Duration(i)*time.Minute), 3.2, "ok"), "")
		require.NoError(t, err)
		assert.Equal(t, "ai", ra.Source)
	}
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 1, mem.Len())

	_, err := a.AssessCovenantRisk(context.Background(), input(start, 3.4, ""), "")
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls)
}
