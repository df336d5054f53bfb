package assessment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestNormalizeCovenant(t *testing.T) {
	in, ok := NormalizeCovenant(RawCovenant{
		CovenantName:   "  Maximum Leverage  ",
		CovenantType:   "Financial",
		MetricName:     "Debt/EBITDA",
		Operator:       "<=",
		ThresholdValue: raw(`3.5`),
		ThresholdUnit:  "x",
		CheckFrequency: "Quarterly",
		CovenantClause: " Section 7.1 ",
		Confidence:     raw(`0.92`),
	}, "c-1")
	require.True(t, ok)
	assert.Equal(t, "c-1", in.ContractID)
	assert.Equal(t, "Maximum Leverage", in.CovenantName)
	assert.Equal(t, models.CovenantFinancial, in.CovenantType)
	assert.Equal(t, models.OpLessEqual, in.Operator)
	assert.Equal(t, 3.5, in.ThresholdValue)
	assert.Equal(t, models.FrequencyQuarterly, in.CheckFrequency)
	assert.Equal(t, "Section 7.1", in.CovenantClause)
	assert.Equal(t, models.Confidence(0.92), in.ExtractionConfidence)
	assert.False(t, in.NeedsReview)
}

func TestNormalizeCovenantDefaults(t *testing.T) {
	tests := []struct {
		name       string
		raw        RawCovenant
		wantType   models.CovenantType
		wantOp     models.Operator
		wantFreq   models.Frequency
		wantConf   models.Confidence
		wantReview bool
	}{
		{
			name:       "unknown type becomes other",
			raw:        RawCovenant{CovenantName: "X", CovenantType: "esg", Operator: ">=", ThresholdValue: raw(`1`), CheckFrequency: "annually", Confidence: raw(`0.9`)},
			wantType:   models.CovenantOther,
			wantOp:     models.OpGreaterEqual,
			wantFreq:   models.FrequencyAnnually,
			wantConf:   0.9,
			wantReview: false,
		},
		{
			name:       "missing confidence defaults to 0.5 and flags review",
			raw:        RawCovenant{CovenantName: "X", CovenantType: "financial", Operator: ">", ThresholdValue: raw(`1`), CheckFrequency: "monthly"},
			wantType:   models.CovenantFinancial,
			wantOp:     models.OpGreater,
			wantFreq:   models.FrequencyMonthly,
			wantConf:   0.5,
			wantReview: true,
		},
		{
			name:       "out of range confidence",
			raw:        RawCovenant{CovenantName: "X", CovenantType: "financial", Operator: ">", ThresholdValue: raw(`1`), CheckFrequency: "monthly", Confidence: raw(`87`)},
			wantType:   models.CovenantFinancial,
			wantOp:     models.OpGreater,
			wantFreq:   models.FrequencyMonthly,
			wantConf:   0.5,
			wantReview: true,
		},
		{
			name:       "unknown operator is inferred",
			raw:        RawCovenant{CovenantName: "Max Leverage", CovenantType: "financial", Operator: "shall be", ThresholdValue: raw(`3`), CheckFrequency: "quarterly", Confidence: raw(`0.95`)},
			wantType:   models.CovenantFinancial,
			wantOp:     models.OpLessEqual,
			wantFreq:   models.FrequencyQuarterly,
			wantConf:   0.95,
			wantReview: true,
		},
		{
			name:       "unknown frequency falls back to quarterly",
			raw:        RawCovenant{CovenantName: "X", CovenantType: "reporting", Operator: "≤", ThresholdValue: raw(`90`), CheckFrequency: "fortnightly", Confidence: raw(`0.95`)},
			wantType:   models.CovenantReporting,
			wantOp:     models.OpLessEqual,
			wantFreq:   models.FrequencyQuarterly,
			wantConf:   0.95,
			wantReview: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in, ok := NormalizeCovenant(tc.raw, "c")
			require.True(t, ok)
			assert.Equal(t, tc.wantType, in.CovenantType)
			assert.Equal(t, tc.wantOp, in.Operator)
			assert.Equal(t, tc.wantFreq, in.CheckFrequency)
			assert.Equal(t, tc.wantConf, in.ExtractionConfidence)
			assert.Equal(t, tc.wantReview, in.NeedsReview)
		})
	}
}

func TestNormalizeCovenantDropsNameless(t *testing.T) {
	_, ok := NormalizeCovenant(RawCovenant{CovenantName: "   "}, "c")
	assert.False(t, ok)
}

func TestNormalizeCovenantMetricDefaultsToName(t *testing.T) {
	in, _ := NormalizeCovenant(RawCovenant{CovenantName: "Current Ratio", Operator: ">=", ThresholdValue: raw(`1.2`)}, "c")
	assert.Equal(t, "Current Ratio", in.MetricName)
}

func TestParseThresholdStrings(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		unit string
		ok   bool
	}{
		{`3.5`, 3.5, "", true},
		{`"3.5x"`, 3.5, "x", true},
		{`"3.50:1.00"`, 3.5, "x", true},
		{`"2.00 to 1.00"`, 2, "x", true},
		{`"25%"`, 25, "%", true},
		{`"$1,000,000"`, 1_000_000, "$", true},
		{`"n/a"`, 0, "", false},
		{`null`, 0, "", false},
		{``, 0, "", false},
	}
	for _, tc := range tests {
		v, unit, ok := parseNumber(raw(tc.in))
		if ok != tc.ok || v != tc.want || unit != tc.unit {
			t.Errorf("parseNumber(%s) = %v %q %v, want %v %q %v", tc.in, v, unit, ok, tc.want, tc.unit, tc.ok)
		}
	}
}

func TestUnparseableThresholdFlagsReview(t *testing.T) {
	in, ok := NormalizeCovenant(RawCovenant{
		CovenantName: "X", CovenantType: "financial", Operator: ">=",
		ThresholdValue: raw(`"see schedule 3"`), CheckFrequency: "quarterly", Confidence: raw(`0.99`),
	}, "c")
	require.True(t, ok)
	assert.True(t, in.NeedsReview)
	assert.Zero(t, in.ThresholdValue)
}

func TestNormalizeExtractionConfidence(t *testing.T) {
	res := NormalizeExtraction(rawExtraction{
		Covenants: []RawCovenant{
			{CovenantName: "A", Operator: "<=", ThresholdValue: raw(`3`), Confidence: raw(`0.8`)},
			{CovenantName: "B", Operator: ">=", ThresholdValue: raw(`2`), Confidence: raw(`0.6`)},
			{CovenantName: ""},
		},
	}, "c")
	require.Len(t, res.Covenants, 2)
	assert.InDelta(t, 0.7, float64(res.Confidence), 1e-9)
	assert.Equal(t, "ai", res.Source)

	empty := NormalizeExtraction(rawExtraction{}, "c")
	assert.NotNil(t, empty.Covenants)
	assert.Equal(t, DefaultConfidence, empty.Confidence)
}

func TestNormalizeRisk(t *testing.T) {
	ra := normalizeRisk(rawRisk{
		RiskLevel:         "HIGH",
		RiskScore:         raw(`14`),
		BreachProbability: raw(`65`),
		KeyRisks:          []string{" margin compression ", ""},
		Confidence:        raw(`0.8`),
	}, "cov-1")
	assert.Equal(t, models.RiskHigh, ra.RiskLevel)
	assert.Equal(t, 10.0, ra.RiskScore)
	assert.InDelta(t, 0.65, ra.BreachProbability, 1e-9)
	assert.Equal(t, []string{"margin compression"}, ra.KeyRisks)
	assert.NotNil(t, ra.Recommendations)

	ra = normalizeRisk(rawRisk{RiskLevel: "severe"}, "cov-1")
	assert.Equal(t, 5.0, ra.RiskScore)
	assert.Equal(t, models.RiskMedium, ra.RiskLevel)
	assert.InDelta(t, 0.5, ra.BreachProbability, 1e-9)
	assert.Equal(t, DefaultConfidence, ra.Confidence)

	ra = normalizeRisk(rawRisk{RiskLevel: "critical"}, "cov-1")
	assert.Equal(t, 9.0, ra.RiskScore)
}

func TestNormalizeImpact(t *testing.T) {
	var r rawImpact
	require.NoError(t, json.Unmarshal([]byte(`{
		"severity": "bogus",
		"affected_covenants": [
			{"covenant_id": "cov-1", "impact_score": 8, "reason": "leverage"},
			{"covenant_id": "cov-9", "impact_score": 0.9},
			{"covenant_id": "cov-2", "impact_score": "n/a"}
		],
		"recommended_actions": ["call borrower"]
	}`), &r))

	ia := normalizeImpact(r, "ev-1", map[string]bool{"cov-1": true, "cov-2": true})
	require.Len(t, ia.AffectedCovenants, 2)
	assert.Equal(t, "cov-1", ia.AffectedCovenants[0].CovenantID)
	assert.InDelta(t, 0.8, ia.AffectedCovenants[0].ImpactScore, 1e-9)
	assert.InDelta(t, 0.5, ia.AffectedCovenants[1].ImpactScore, 1e-9)
	assert.InDelta(t, 0.8, ia.ImpactScore, 1e-9)
	assert.Equal(t, models.RiskCritical, ia.Severity)
	assert.Equal(t, "ev-1", ia.EventID)
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		A int `json:"a"`
	}
	for _, in := range []string{
		`{"a":1}`,
		"```json\n{\"a\":1}\n```",
		"Here you go:\n```\n{\"a\":1}\n```\nThanks",
		`Sure. {"a":1} Done.`,
	} {
		v.A = 0
		require.NoError(t, decodeJSON(in, &v), in)
		assert.Equal(t, 1, v.A, in)
	}
	assert.ErrorIs(t, decodeJSON("no json here", &v), errNoJSON)
	assert.Error(t, decodeJSON(`{"a":`, &v))
}
