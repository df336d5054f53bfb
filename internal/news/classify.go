package news

import (
	"math"
	"sort"
	"strings"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// Keyword dictionaries per event type (lowercase). Weights are the base risk
// score an item gets when the phrase appears.
var eventKeywords = map[models.EventType]map[string]float64{
	models.EventBankruptcy: {
		"bankruptcy": 10, "chapter 11": 10, "chapter 7": 10, "insolvency": 9.5,
		"administration": 8, "receivership": 9.5, "liquidation": 9.5, "winding up": 9,
	},
	models.EventFraud: {
		"fraud": 9, "embezzlement": 9, "ponzi": 9.5, "accounting scandal": 8.5,
		"money laundering": 8.5, "bribery": 8, "misappropriat": 8.5,
	},
	models.EventCreditRatingDowngrade: {
		"downgrade": 7, "downgraded": 7, "cut to junk": 8.5, "negative outlook": 5.5,
		"credit watch negative": 6, "rating cut": 7, "default rating": 8.5,
	},
	models.EventFinancialRestatement: {
		"restatement": 7.5, "restate": 7.5, "restated": 7.5, "accounting error": 6.5,
		"auditor resign": 7.5, "qualified opinion": 6.5, "going concern": 8.5,
	},
	models.EventLitigation: {
		"lawsuit": 5.5, "sued": 5.5, "class action": 6, "litigation": 5,
		"settlement": 4, "court ruling": 5, "indicted": 7, "charged": 6,
	},
	models.EventRegulatoryAction: {
		"regulator": 5, "sec investigation": 7, "probe": 5.5, "fined": 5.5,
		"penalty": 5, "sanction": 6.5, "license revoked": 8, "enforcement action": 6.5,
		"investigation": 5.5,
	},
	models.EventManagementChange: {
		"ceo resign": 5.5, "cfo resign": 6.5, "steps down": 4.5, "ousted": 5.5,
		"abrupt departure": 5.5, "management shake-up": 4.5, "resigns": 4.5,
	},
	models.EventMarketDisruption: {
		"plant closure": 5.5, "supply chain": 4, "recall": 5, "shutdown": 5,
		"strike": 4, "cyberattack": 6, "outage": 4.5, "sanctions": 5.5,
	},
	models.EventNews: {
		"default": 7.5, "missed payment": 8, "layoffs": 4.5, "profit warning": 5.5,
		"plunge": 4.5, "loss": 3.5, "covenant breach": 8, "waiver": 5.5,
		"liquidity": 4.5, "refinancing": 3.5, "weak": 3,
	},
}

// Positive phrases damp the score of items that mention a risk keyword in a
// reassuring context.
var mitigatingWords = map[string]float64{
	"dismissed": 0.5, "cleared": 0.5, "upgrade": 0.4, "upgraded": 0.4,
	"emerges from": 0.5, "resolved": 0.4, "acquitted": 0.5, "beats": 0.3,
	"record profit": 0.4,
}

// typePriority breaks ties between types that matched with the same score.
var typePriority = []models.EventType{
	models.EventBankruptcy,
	models.EventFraud,
	models.EventFinancialRestatement,
	models.EventCreditRatingDowngrade,
	models.EventRegulatoryAction,
	models.EventLitigation,
	models.EventManagementChange,
	models.EventMarketDisruption,
	models.EventNews,
}

// Classification is the keyword verdict on a news item.
type Classification struct {
	EventType  models.EventType
	RiskScore  float64
	Confidence models.Confidence
	Matches    []string
}

// Adverse reports whether any risk keyword matched.
func (c Classification) Adverse() bool { return len(c.Matches) > 0 }

// Classify scores a headline and summary. The event type is the one with the
// strongest matching phrase; each extra match adds half a point; mitigating
// phrases scale the score down. The result is clamped to [1, 10].
func Classify(title, summary string) Classification {
	text := strings.ToLower(title + " " + summary)

	best := Classification{EventType: models.EventOther}
	bestWeight := 0.0
	matches := 0

	for _, et := range typePriority {
		for phrase, weight := range eventKeywords[et] {
			if !strings.Contains(text, phrase) {
				continue
			}
			matches++
			best.Matches = append(best.Matches, phrase)
			if weight > bestWeight {
				bestWeight = weight
				best.EventType = et
			}
		}
	}
	if matches == 0 {
		return Classification{EventType: models.EventOther, Confidence: 0.1}
	}

	sort.Strings(best.Matches)
	score := bestWeight + 0.5*float64(matches-1)
	damp := 1.0
	for phrase, f := range mitigatingWords {
		if strings.Contains(text, phrase) {
			damp = math.Min(damp, f)
		}
	}
	score *= damp

	best.RiskScore = math.Round(math.Max(1, math.Min(10, score))*10) / 10
	best.Confidence = models.Confidence(math.Min(float64(matches)*0.15+0.3, 0.85))
	return best
}
