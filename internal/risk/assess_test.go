package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

func fptr(f float64) *float64 { return &f }
func iptr(i int) *int         { return &i }

func TestAssessCovenant(t *testing.T) {
	cov := models.Covenant{ID: "c1", CovenantName: "Leverage", MetricName: "Debt/EBITDA"}

	tests := []struct {
		name      string
		health    models.CovenantHealth
		events    *models.RiskAggregation
		wantLevel models.RiskLevel
		wantProb  float64
	}{
		{
			name:      "comfortable",
			health:    models.CovenantHealth{Status: models.StatusCompliant, Trend: models.TrendStable, BufferPercentage: fptr(40)},
			wantLevel: models.RiskLow,
			wantProb:  0.15,
		},
		{
			name: "warning and worsening",
			health: models.CovenantHealth{
				Status: models.StatusWarning, Trend: models.TrendDeteriorating,
				BufferPercentage: fptr(4), DaysToBreach: iptr(20),
			},
			wantLevel: models.RiskCritical,
			wantProb:  0.85,
		},
		{
			name:      "breached",
			health:    models.CovenantHealth{Status: models.StatusBreached, Trend: models.TrendStable, BufferPercentage: fptr(-3), DaysToBreach: iptr(0)},
			wantLevel: models.RiskCritical,
			wantProb:  1,
		},
		{
			name:      "adverse events lift score",
			health:    models.CovenantHealth{Status: models.StatusCompliant, Trend: models.TrendStable, BufferPercentage: fptr(15)},
			events:    &models.RiskAggregation{AggregateRiskScore: 9, EventCount: 2, RiskTrend: models.RiskIncreasing, RiskFactors: []string{"Fraud allegation"}},
			wantLevel: models.RiskMedium,
			wantProb:  0.43,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ra := AssessCovenant(cov, tc.health, tc.events)
			assert.Equal(t, tc.wantLevel, ra.RiskLevel)
			assert.InDelta(t, tc.wantProb, ra.BreachProbability, 1e-9)
			assert.Equal(t, "heuristic", ra.Source)
			assert.Equal(t, "c1", ra.CovenantID)
			assert.NotEmpty(t, ra.Recommendations)
		})
	}
}

func TestAssessCovenantInsufficientData(t *testing.T) {
	ra := AssessCovenant(models.Covenant{MetricName: "DSCR"},
		models.CovenantHealth{Status: models.StatusCompliant, Trend: models.TrendStable, InsufficientData: true}, nil)
	assert.Equal(t, models.RiskMedium, ra.RiskLevel)
	assert.Equal(t, models.Confidence(0.3), ra.Confidence)
	assert.Contains(t, ra.KeyRisks[0], "DSCR")
}
