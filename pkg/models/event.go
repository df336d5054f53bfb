package models

import (
	"strings"
	"time"
)

// EventType classifies an adverse event.
type EventType string

const (
	EventNews                  EventType = "news"
	EventRegulatoryAction      EventType = "regulatory_action"
	EventCreditRatingDowngrade EventType = "credit_rating_downgrade"
	EventLitigation            EventType = "litigation"
	EventManagementChange      EventType = "management_change"
	EventBankruptcy            EventType = "bankruptcy"
	EventFraud                 EventType = "fraud"
	EventFinancialRestatement  EventType = "financial_restatement"
	EventMarketDisruption      EventType = "market_disruption"
	EventOther                 EventType = "other"
)

var eventLabels = map[EventType]string{
	EventNews:                  "Negative news coverage",
	EventRegulatoryAction:      "Regulatory action",
	EventCreditRatingDowngrade: "Credit rating downgrade",
	EventLitigation:            "Litigation",
	EventManagementChange:      "Management change",
	EventBankruptcy:            "Bankruptcy or insolvency proceedings",
	EventFraud:                 "Fraud allegation",
	EventFinancialRestatement:  "Financial restatement",
	EventMarketDisruption:      "Market disruption",
	EventOther:                 "Other adverse event",
}

// Label returns a human-readable name for the event type.
func (t EventType) Label() string {
	if l, ok := eventLabels[t]; ok {
		return l
	}
	s := strings.ReplaceAll(string(t), "_", " ")
	if s == "" {
		return eventLabels[EventOther]
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := eventLabels[t]
	return ok
}

// AdverseEvent is an external signal about a borrower. Immutable once created.
type AdverseEvent struct {
	ID          string    `json:"id"`
	BorrowerID  string    `json:"borrower_id,omitempty"`
	EventType   EventType `json:"event_type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	RiskScore   float64   `json:"risk_score"` // 1..10
	EventDate   time.Time `json:"event_date"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// RiskTrend is the direction of a borrower's adverse-event risk.
type RiskTrend string

const (
	RiskIncreasing RiskTrend = "increasing"
	RiskStable     RiskTrend = "stable"
	RiskDecreasing RiskTrend = "decreasing"
)

// RiskAggregation is the derived view over all of a borrower's adverse events.
type RiskAggregation struct {
	AggregateRiskScore float64       `json:"aggregate_risk_score"`
	RiskFactors        []string      `json:"risk_factors"`
	HighestRiskEvent   *AdverseEvent `json:"highest_risk_event,omitempty"`
	RiskTrend          RiskTrend     `json:"risk_trend"`
	EventCount         int           `json:"event_count"`
	ComputedAt         time.Time     `json:"computed_at"`
}

// ImpactAssessment describes how an adverse event affects a borrower's covenants.
type ImpactAssessment struct {
	EventID            string           `json:"event_id,omitempty"`
	ImpactScore        float64          `json:"impact_score"` // 0..1
	Severity           RiskLevel        `json:"severity"`
	AffectedCovenants  []CovenantImpact `json:"affected_covenants"`
	Summary            string           `json:"summary,omitempty"`
	RecommendedActions []string         `json:"recommended_actions"`
	Confidence         Confidence       `json:"confidence"`
	Source             string           `json:"source"` // "ai" or "heuristic"
}

// CovenantImpact is the per-covenant part of an ImpactAssessment.
type CovenantImpact struct {
	CovenantID  string  `json:"covenant_id"`
	ImpactScore float64 `json:"impact_score"`
	Reason      string  `json:"reason,omitempty"`
}
