package assessment

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// Model output is untrusted. Everything the model returns passes through the
// pure functions in this file before it reaches the rest of the system.
//
// Defaults applied:
//   - unknown covenant_type            -> "other"
//   - missing/out-of-range confidence  -> 0.5
//   - unknown operator or frequency    -> inferred value, needs_review = true
//   - unparseable threshold            -> 0, needs_review = true
//   - confidence below ReviewThreshold -> needs_review = true

// DefaultConfidence replaces missing or out-of-range confidence values.
const DefaultConfidence models.Confidence = 0.5

// ReviewThreshold is the confidence below which a covenant is flagged for review.
const ReviewThreshold models.Confidence = 0.7

// RawCovenant is one covenant as the model emitted it.
type RawCovenant struct {
	CovenantName   string          `json:"covenant_name"`
	CovenantType   string          `json:"covenant_type"`
	MetricName     string          `json:"metric_name"`
	Operator       string          `json:"operator"`
	ThresholdValue json.RawMessage `json:"threshold_value"`
	ThresholdUnit  string          `json:"threshold_unit"`
	CheckFrequency string          `json:"check_frequency"`
	CovenantClause string          `json:"covenant_clause"`
	Confidence     json.RawMessage `json:"confidence"`
}

type rawExtraction struct {
	Covenants  []RawCovenant   `json:"covenants"`
	Summary    string          `json:"summary"`
	Confidence json.RawMessage `json:"confidence"`
}

// NormalizeCovenant validates one raw covenant. ok is false when the entry
// has no name and should be dropped.
func NormalizeCovenant(raw RawCovenant, contractID string) (in models.CovenantCreateInput, ok bool) {
	name := strings.TrimSpace(raw.CovenantName)
	if name == "" {
		return models.CovenantCreateInput{}, false
	}

	in = models.CovenantCreateInput{
		ContractID:     contractID,
		CovenantName:   name,
		MetricName:     strings.TrimSpace(raw.MetricName),
		ThresholdUnit:  strings.TrimSpace(raw.ThresholdUnit),
		CovenantClause: strings.TrimSpace(raw.CovenantClause),
	}
	if in.MetricName == "" {
		in.MetricName = name
	}

	in.CovenantType = models.CovenantType(strings.ToLower(strings.TrimSpace(raw.CovenantType)))
	if !in.CovenantType.Valid() {
		in.CovenantType = models.CovenantOther
	}

	if op, ok := models.ParseOperator(raw.Operator); ok {
		in.Operator = op
	} else {
		in.Operator = inferOperator(name + " " + in.MetricName)
		in.NeedsReview = true
	}

	if v, unit, ok := parseNumber(raw.ThresholdValue); ok {
		in.ThresholdValue = v
		if in.ThresholdUnit == "" {
			in.ThresholdUnit = unit
		}
	} else {
		in.NeedsReview = true
	}

	if f, ok := models.ParseFrequency(raw.CheckFrequency); ok {
		in.CheckFrequency = f
	} else {
		in.CheckFrequency = models.FrequencyQuarterly
		in.NeedsReview = true
	}

	in.ExtractionConfidence = normalizeConfidence(raw.Confidence)
	if in.ExtractionConfidence < ReviewThreshold {
		in.NeedsReview = true
	}
	return in, true
}

// NormalizeExtraction turns a raw extraction into a result tied to contractID.
func NormalizeExtraction(raw rawExtraction, contractID string) models.CovenantExtractionResult {
	res := models.CovenantExtractionResult{
		Covenants: []models.CovenantCreateInput{},
		Summary:   strings.TrimSpace(raw.Summary),
		Source:    "ai",
	}
	var sum float64
	for _, rc := range raw.Covenants {
		if in, ok := NormalizeCovenant(rc, contractID); ok {
			res.Covenants = append(res.Covenants, in)
			sum += float64(in.ExtractionConfidence)
		}
	}

	if len(raw.Confidence) > 0 {
		res.Confidence = normalizeConfidence(raw.Confidence)
	} else if len(res.Covenants) > 0 {
		res.Confidence = models.Confidence(sum / float64(len(res.Covenants)))
	} else {
		res.Confidence = DefaultConfidence
	}
	return res
}

type rawRisk struct {
	RiskLevel         string          `json:"risk_level"`
	RiskScore         json.RawMessage `json:"risk_score"`
	BreachProbability json.RawMessage `json:"breach_probability"`
	KeyRisks          []string        `json:"key_risks"`
	Recommendations   []string        `json:"recommendations"`
	Narrative         string          `json:"narrative"`
	Confidence        json.RawMessage `json:"confidence"`
}

var levelMidpoint = map[models.RiskLevel]float64{
	models.RiskLow:      2,
	models.RiskMedium:   5,
	models.RiskHigh:     7,
	models.RiskCritical: 9,
}

func normalizeRisk(raw rawRisk, covenantID string) models.RiskAssessment {
	ra := models.RiskAssessment{
		CovenantID:      covenantID,
		KeyRisks:        cleanStrings(raw.KeyRisks),
		Recommendations: cleanStrings(raw.Recommendations),
		Narrative:       strings.TrimSpace(raw.Narrative),
		Confidence:      normalizeConfidence(raw.Confidence),
		Source:          "ai",
	}

	level := models.RiskLevel(strings.ToLower(strings.TrimSpace(raw.RiskLevel)))
	_, levelOK := levelMidpoint[level]

	score, _, scoreOK := parseNumber(raw.RiskScore)
	switch {
	case scoreOK:
		ra.RiskScore = clamp(score, 0, 10)
	case levelOK:
		ra.RiskScore = levelMidpoint[level]
	default:
		ra.RiskScore = 5
	}
	if levelOK {
		ra.RiskLevel = level
	} else {
		ra.RiskLevel = models.RiskLevelForScore(ra.RiskScore)
	}

	if p, _, ok := parseNumber(raw.BreachProbability); ok {
		if p > 1 && p <= 100 {
			p /= 100
		}
		ra.BreachProbability = clamp(p, 0, 1)
	} else {
		ra.BreachProbability = ra.RiskScore / 10
	}
	return ra
}

type rawImpact struct {
	ImpactScore       json.RawMessage `json:"impact_score"`
	Severity          string          `json:"severity"`
	AffectedCovenants []struct {
		CovenantID  string          `json:"covenant_id"`
		ImpactScore json.RawMessage `json:"impact_score"`
		Reason      string          `json:"reason"`
	} `json:"affected_covenants"`
	Summary            string          `json:"summary"`
	RecommendedActions []string        `json:"recommended_actions"`
	Confidence         json.RawMessage `json:"confidence"`
}

// normalizeImpact keeps only affected covenants whose id is in known (when
// known is non-empty).
func normalizeImpact(raw rawImpact, eventID string, known map[string]bool) models.ImpactAssessment {
	ia := models.ImpactAssessment{
		EventID:            eventID,
		AffectedCovenants:  []models.CovenantImpact{},
		Summary:            strings.TrimSpace(raw.Summary),
		RecommendedActions: cleanStrings(raw.RecommendedActions),
		Confidence:         normalizeConfidence(raw.Confidence),
		Source:             "ai",
	}

	var maxAffected float64
	for _, ac := range raw.AffectedCovenants {
		id := strings.TrimSpace(ac.CovenantID)
		if id == "" || len(known) > 0 && !known[id] {
			continue
		}
		v, _, ok := parseNumber(ac.ImpactScore)
		if !ok {
			v = 0.5
		}
		v = unitScore(v)
		ia.AffectedCovenants = append(ia.AffectedCovenants, models.CovenantImpact{
			CovenantID:  id,
			ImpactScore: v,
			Reason:      strings.TrimSpace(ac.Reason),
		})
		maxAffected = math.Max(maxAffected, v)
	}

	if v, _, ok := parseNumber(raw.ImpactScore); ok {
		ia.ImpactScore = unitScore(v)
	} else {
		ia.ImpactScore = maxAffected
	}

	sev := models.RiskLevel(strings.ToLower(strings.TrimSpace(raw.Severity)))
	if _, ok := levelMidpoint[sev]; ok {
		ia.Severity = sev
	} else {
		ia.Severity = models.RiskLevelForScore(ia.ImpactScore * 10)
	}
	return ia
}

// ── value coercion ──

func normalizeConfidence(raw json.RawMessage) models.Confidence {
	v, _, ok := parseNumber(raw)
	if !ok || v < 0 || v > 1 {
		return DefaultConfidence
	}
	return models.Confidence(v)
}

// unitScore maps a score onto [0, 1], accepting 0-10 and 0-100 scales.
func unitScore(v float64) float64 {
	switch {
	case v > 10:
		v /= 100
	case v > 1:
		v /= 10
	}
	return clamp(v, 0, 1)
}

var errNotNumber = errors.New("not a number")

// parseNumber accepts JSON numbers and strings such as "3.5x", "3.50:1.00",
// "25%" or "$1,000,000". unit is "%", "x" or a currency symbol when present.
func parseNumber(raw json.RawMessage) (v float64, unit string, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, "", false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, "", isFinite(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, "", false
	}
	f, unit, err := parseNumberString(s)
	if err != nil {
		return 0, "", false
	}
	return f, unit, true
}

func parseNumberString(s string) (float64, string, error) {
	s = strings.TrimSpace(s)
	unit := ""
	switch {
	case strings.HasSuffix(s, "%"):
		unit = "%"
		s = strings.TrimSuffix(s, "%")
	case strings.HasSuffix(strings.ToLower(s), "x"):
		unit = "x"
		s = s[:len(s)-1]
	}
	for _, sym := range []string{"$", "€", "£", "₹"} {
		if strings.HasPrefix(s, sym) {
			unit = sym
			s = strings.TrimPrefix(s, sym)
		}
	}
	// "3.50:1.00" and "3.50 to 1.00"
	if i := strings.Index(s, ":"); i > 0 {
		s = s[:i]
		unit = "x"
	} else if i := strings.Index(strings.ToLower(s), " to "); i > 0 {
		s = s[:i]
		unit = "x"
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !isFinite(f) {
		return 0, "", errNotNumber
	}
	return f, unit, nil
}

// inferOperator guesses the direction of a covenant from its wording.
func inferOperator(text string) models.Operator {
	t := strings.ToLower(text)
	for _, hint := range []string{"max", "leverage", "debt to", "debt/", "gearing", "capex", "not exceed"} {
		if strings.Contains(t, hint) {
			return models.OpLessEqual
		}
	}
	return models.OpGreaterEqual
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
