package risk

import (
	"fmt"
	"math"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

var statusBaseScore = map[models.HealthStatus]float64{
	models.StatusCompliant: 2,
	models.StatusWarning:   5.5,
	models.StatusBreached:  9,
}

// AssessCovenant produces a local RiskAssessment from a health snapshot and,
// optionally, the borrower's adverse-event aggregation. It never fails.
func AssessCovenant(cov models.Covenant, health models.CovenantHealth, events *models.RiskAggregation) models.RiskAssessment {
	ra := models.RiskAssessment{
		CovenantID: cov.ID,
		KeyRisks:   []string{},
		Confidence: 0.6,
		Source:     "heuristic",
	}

	score := statusBaseScore[health.Status]
	if health.InsufficientData {
		score = 5
		ra.Confidence = 0.3
		ra.KeyRisks = append(ra.KeyRisks, "No recent financial data reported for "+cov.MetricName)
	}

	switch health.Trend {
	case models.TrendDeteriorating:
		score += 1.5
		ra.KeyRisks = append(ra.KeyRisks, fmt.Sprintf("%s is deteriorating", metricLabel(cov)))
	case models.TrendImproving:
		score--
	}

	if d := health.DaysToBreach; d != nil && health.Status != models.StatusBreached {
		switch {
		case *d <= 30:
			score += 1.5
			ra.KeyRisks = append(ra.KeyRisks, fmt.Sprintf("Projected breach in %d days", *d))
		case *d <= 90:
			score += 0.5
			ra.KeyRisks = append(ra.KeyRisks, fmt.Sprintf("Projected breach in %d days", *d))
		}
	}

	if b := health.BufferPercentage; b != nil {
		switch {
		case health.Status == models.StatusBreached:
			ra.KeyRisks = append(ra.KeyRisks, fmt.Sprintf("Covenant breached by %.1f%%", math.Abs(*b)))
		case health.Status == models.StatusWarning:
			ra.KeyRisks = append(ra.KeyRisks, fmt.Sprintf("Only %.1f%% headroom to threshold", *b))
		case *b > 25:
			score -= 0.5
		}
	}

	if events != nil && events.EventCount > 0 {
		score += 0.2 * events.AggregateRiskScore
		for _, f := range events.RiskFactors {
			if len(ra.KeyRisks) >= 6 {
				break
			}
			ra.KeyRisks = append(ra.KeyRisks, f)
		}
		if events.RiskTrend == models.RiskIncreasing {
			score += 0.5
		}
	}

	ra.RiskScore = math.Max(0, math.Min(10, score))
	ra.RiskLevel = models.RiskLevelForScore(ra.RiskScore)
	if health.Status == models.StatusBreached {
		ra.BreachProbability = 1
	} else {
		ra.BreachProbability = math.Min(0.95, ra.RiskScore/10)
	}
	ra.Recommendations = recommendedActions(ra.RiskLevel)
	ra.Narrative = fmt.Sprintf("%s is %s with a %s trend; local risk score %.1f/10.",
		cov.CovenantName, health.Status, health.Trend, ra.RiskScore)
	return ra
}

func metricLabel(cov models.Covenant) string {
	if cov.MetricName != "" {
		return cov.MetricName
	}
	return cov.CovenantName
}
