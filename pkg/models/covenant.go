package models

import (
	"strings"
	"time"
)

// CovenantType classifies what kind of condition a covenant monitors.
type CovenantType string

const (
	CovenantFinancial   CovenantType = "financial"
	CovenantOperational CovenantType = "operational"
	CovenantReporting   CovenantType = "reporting"
	CovenantOther       CovenantType = "other"
)

// Valid reports whether t is one of the known covenant types.
func (t CovenantType) Valid() bool {
	switch t {
	case CovenantFinancial, CovenantOperational, CovenantReporting, CovenantOther:
		return true
	}
	return false
}

// Operator is the comparison a reported value must satisfy against the threshold.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
)

// Operators lists every supported operator.
var Operators = []Operator{OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpEqual, OpNotEqual}

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// LowerIsBetter is true for upper-bound covenants (e.g. Debt/EBITDA <= 3.5).
func (op Operator) LowerIsBetter() bool {
	return op == OpLess || op == OpLessEqual
}

// HigherIsBetter is true for lower-bound covenants (e.g. interest cover >= 2.0).
func (op Operator) HigherIsBetter() bool {
	return op == OpGreater || op == OpGreaterEqual
}

// ParseOperator maps the spellings found in contracts and model output
// ("≤", "lte", "not more than", ...) onto an Operator.
func ParseOperator(s string) (Operator, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "<", "lt", "less than", "below":
		return OpLess, true
	case "<=", "≤", "=<", "lte", "le", "not more than", "not exceed", "not to exceed", "at most", "maximum", "max":
		return OpLessEqual, true
	case ">", "gt", "greater than", "above":
		return OpGreater, true
	case ">=", "≥", "=>", "gte", "ge", "not less than", "at least", "minimum", "min":
		return OpGreaterEqual, true
	case "=", "==", "eq", "equal", "equals":
		return OpEqual, true
	case "!=", "≠", "<>", "ne", "neq", "not equal":
		return OpNotEqual, true
	}
	return "", false
}

// Frequency is how often a covenant is tested.
type Frequency string

const (
	FrequencyMonthly      Frequency = "monthly"
	FrequencyQuarterly    Frequency = "quarterly"
	FrequencySemiAnnually Frequency = "semi_annually"
	FrequencyAnnually     Frequency = "annually"
	FrequencyOnDemand     Frequency = "on_demand"
)

// ParseFrequency normalizes common spellings of a check frequency.
func ParseFrequency(s string) (Frequency, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "monthly", "month":
		return FrequencyMonthly, true
	case "quarterly", "quarter":
		return FrequencyQuarterly, true
	case "semi_annually", "semi_annual", "semiannually", "semi annually", "half_yearly", "biannually":
		return FrequencySemiAnnually, true
	case "annually", "annual", "yearly":
		return FrequencyAnnually, true
	case "on_demand", "ad_hoc", "ondemand":
		return FrequencyOnDemand, true
	}
	return "", false
}

// Covenant is a contractual condition a borrower must maintain.
type Covenant struct {
	ID                   string       `json:"id"`
	ContractID           string       `json:"contract_id"`
	CovenantName         string       `json:"covenant_name"`
	CovenantType         CovenantType `json:"covenant_type"`
	MetricName           string       `json:"metric_name"`
	Operator             Operator     `json:"operator"`
	ThresholdValue       float64      `json:"threshold_value"`
	ThresholdUnit        string       `json:"threshold_unit,omitempty"`
	CheckFrequency       Frequency    `json:"check_frequency"`
	CovenantClause       string       `json:"covenant_clause,omitempty"`
	NeedsReview          bool         `json:"needs_review"`
	ExtractionConfidence Confidence   `json:"extraction_confidence"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at,omitempty"`
}

// CovenantCreateInput is the payload used to create a covenant in the backend.
type CovenantCreateInput struct {
	ContractID           string       `json:"contract_id" validate:"required"`
	CovenantName         string       `json:"covenant_name" validate:"required,max=255"`
	CovenantType         CovenantType `json:"covenant_type" validate:"required,oneof=financial operational reporting other"`
	MetricName           string       `json:"metric_name" validate:"max=255"`
	Operator             Operator     `json:"operator" validate:"required,oneof=< <= > >= = !="`
	ThresholdValue       float64      `json:"threshold_value"`
	ThresholdUnit        string       `json:"threshold_unit,omitempty" validate:"max=32"`
	CheckFrequency       Frequency    `json:"check_frequency" validate:"required,oneof=monthly quarterly semi_annually annually on_demand"`
	CovenantClause       string       `json:"covenant_clause,omitempty"`
	NeedsReview          bool         `json:"needs_review"`
	ExtractionConfidence Confidence   `json:"extraction_confidence" validate:"gte=0,lte=1"`
}

// ToCovenant builds the Covenant a create input describes (ID left empty).
func (in CovenantCreateInput) ToCovenant() Covenant {
	return Covenant{
		ContractID:           in.ContractID,
		CovenantName:         in.CovenantName,
		CovenantType:         in.CovenantType,
		MetricName:           in.MetricName,
		Operator:             in.Operator,
		ThresholdValue:       in.ThresholdValue,
		ThresholdUnit:        in.ThresholdUnit,
		CheckFrequency:       in.CheckFrequency,
		CovenantClause:       in.CovenantClause,
		NeedsReview:          in.NeedsReview,
		ExtractionConfidence: in.ExtractionConfidence,
	}
}

// CovenantExtractionResult is what an extraction pass over contract text yields.
type CovenantExtractionResult struct {
	Covenants  []CovenantCreateInput `json:"covenants"`
	Summary    string                `json:"summary,omitempty"`
	Confidence Confidence            `json:"confidence"`
	Source     string                `json:"source"` // "ai" or "heuristic"
}
