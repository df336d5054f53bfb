package models

import (
	"math"
	"time"
)

// Confidence is a probability-like score in [0, 1].
type Confidence float64

// Clamp returns c bounded to [0, 1]; NaN becomes 0.
func (c Confidence) Clamp() Confidence {
	f := float64(c)
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return c
}

// HealthStatus is the compliance state of a covenant.
type HealthStatus string

const (
	StatusCompliant HealthStatus = "compliant"
	StatusWarning   HealthStatus = "warning"
	StatusBreached  HealthStatus = "breached"
)

// Severity orders statuses so transitions can be compared.
func (s HealthStatus) Severity() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusBreached:
		return 2
	default:
		return 0
	}
}

// Trend is the direction a covenant metric is moving relative to its threshold.
type Trend string

const (
	TrendImproving     Trend = "improving"
	TrendStable        Trend = "stable"
	TrendDeteriorating Trend = "deteriorating"
)

// MetricPoint is one reported value of a covenant metric.
type MetricPoint struct {
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// CovenantHealth is the recomputed snapshot of a covenant. A newer snapshot
// supersedes the previous one.
type CovenantHealth struct {
	CovenantID        string       `json:"covenant_id"`
	LastReportedValue *float64     `json:"last_reported_value,omitempty"`
	Status            HealthStatus `json:"status"`
	BufferPercentage  *float64     `json:"buffer_percentage,omitempty"`
	Trend             Trend        `json:"trend"`
	DaysToBreach      *int         `json:"days_to_breach,omitempty"`
	AINarrative       string       `json:"ai_narrative,omitempty"`
	InsufficientData  bool         `json:"insufficient_data"`
	ComputedAt        time.Time    `json:"computed_at"`
}

// RiskLevel is a coarse label for an AI or heuristic risk assessment.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment describes the likelihood that a covenant will be breached.
type RiskAssessment struct {
	CovenantID        string     `json:"covenant_id,omitempty"`
	RiskLevel         RiskLevel  `json:"risk_level"`
	RiskScore         float64    `json:"risk_score"`         // 0..10
	BreachProbability float64    `json:"breach_probability"` // 0..1
	KeyRisks          []string   `json:"key_risks"`
	Recommendations   []string   `json:"recommendations"`
	Narrative         string     `json:"narrative,omitempty"`
	Confidence        Confidence `json:"confidence"`
	Source            string     `json:"source"` // "ai" or "heuristic"
}

// RiskLevelForScore buckets a 0..10 score.
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score >= 8:
		return RiskCritical
	case score >= 6:
		return RiskHigh
	case score >= 3.5:
		return RiskMedium
	default:
		return RiskLow
	}
}
