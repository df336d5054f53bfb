package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// relevance[covenant type][event type] is how strongly an event kind bears on
// a covenant kind, in [0, 1].
var relevance = map[models.CovenantType]map[models.EventType]float64{
	models.CovenantFinancial: {
		models.EventCreditRatingDowngrade: 1.0,
		models.EventBankruptcy:            1.0,
		models.EventFinancialRestatement:  1.0,
		models.EventFraud:                 0.9,
		models.EventMarketDisruption:      0.7,
		models.EventLitigation:            0.6,
		models.EventRegulatoryAction:      0.6,
		models.EventManagementChange:      0.4,
		models.EventNews:                  0.4,
		models.EventOther:                 0.3,
	},
	models.CovenantOperational: {
		models.EventBankruptcy:            1.0,
		models.EventManagementChange:      0.8,
		models.EventRegulatoryAction:      0.8,
		models.EventFraud:                 0.8,
		models.EventLitigation:            0.7,
		models.EventMarketDisruption:      0.6,
		models.EventCreditRatingDowngrade: 0.5,
		models.EventFinancialRestatement:  0.5,
		models.EventNews:                  0.4,
		models.EventOther:                 0.3,
	},
	models.CovenantReporting: {
		models.EventFinancialRestatement:  1.0,
		models.EventFraud:                 1.0,
		models.EventBankruptcy:            0.8,
		models.EventRegulatoryAction:      0.7,
		models.EventManagementChange:      0.5,
		models.EventLitigation:            0.4,
		models.EventCreditRatingDowngrade: 0.4,
		models.EventNews:                  0.3,
		models.EventOther:                 0.3,
		models.EventMarketDisruption:      0.2,
	},
}

const defaultRelevance = 0.5

// Relevance returns how strongly an event type bears on a covenant type.
func Relevance(eventType models.EventType, covType models.CovenantType) float64 {
	if eventType == models.EventBankruptcy {
		return 1.0
	}
	if byEvent, ok := relevance[covType]; ok {
		if r, ok := byEvent[eventType]; ok {
			return r
		}
		return byEvent[models.EventOther]
	}
	return defaultRelevance
}

// AssessEventImpactOnCovenant scores in [0, 1] how much event threatens cov:
// risk score / 10 × relevance × recency weight.
func (a *Aggregator) AssessEventImpactOnCovenant(event models.AdverseEvent, cov models.Covenant) float64 {
	impact := clampScore(event.RiskScore) / maxEventScore *
		Relevance(event.EventType, cov.CovenantType) *
		a.RecencyWeight(event.EventDate)
	return math.Max(0, math.Min(1, impact))
}

// Impact builds a local ImpactAssessment for event across covenants. It is
// the heuristic counterpart of the AI adverse-event analysis.
func (a *Aggregator) Impact(event models.AdverseEvent, covenants []models.Covenant) models.ImpactAssessment {
	out := models.ImpactAssessment{
		EventID:            event.ID,
		AffectedCovenants:  []models.CovenantImpact{},
		RecommendedActions: []string{},
		Confidence:         0.5,
		Source:             "heuristic",
	}

	for _, cov := range covenants {
		score := a.AssessEventImpactOnCovenant(event, cov)
		if score <= 0 {
			continue
		}
		out.AffectedCovenants = append(out.AffectedCovenants, models.CovenantImpact{
			CovenantID:  cov.ID,
			ImpactScore: score,
			Reason: fmt.Sprintf("%s (risk %.0f/10) bears on %s covenant %q",
				event.EventType.Label(), clampScore(event.RiskScore), cov.CovenantType, cov.CovenantName),
		})
		out.ImpactScore = math.Max(out.ImpactScore, score)
	}
	sort.SliceStable(out.AffectedCovenants, func(i, j int) bool {
		return out.AffectedCovenants[i].ImpactScore > out.AffectedCovenants[j].ImpactScore
	})

	if len(covenants) == 0 {
		// No covenants to weigh against: fall back to the event's own score.
		out.ImpactScore = clampScore(event.RiskScore) / maxEventScore * a.RecencyWeight(event.EventDate)
	}

	out.Severity = models.RiskLevelForScore(out.ImpactScore * 10)
	out.Summary = fmt.Sprintf("%s: %s. Estimated impact %.0f%% across %d covenant(s).",
		event.EventType.Label(), event.Title, out.ImpactScore*100, len(out.AffectedCovenants))
	out.RecommendedActions = recommendedActions(out.Severity)
	return out
}

func recommendedActions(level models.RiskLevel) []string {
	switch level {
	case models.RiskCritical:
		return []string{
			"Escalate to credit committee",
			"Request updated financials from borrower immediately",
			"Review waiver and acceleration options",
		}
	case models.RiskHigh:
		return []string{
			"Request management commentary from borrower",
			"Increase covenant testing frequency",
		}
	case models.RiskMedium:
		return []string{"Monitor at next scheduled covenant test"}
	default:
		return []string{"No action required"}
	}
}
