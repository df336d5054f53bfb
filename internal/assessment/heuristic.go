package assessment

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// heuristicConfidence is below ReviewThreshold, so every pattern-matched
// covenant is flagged for review.
const (
	heuristicConfidence     models.Confidence = 0.6
	heuristicConfidenceNoOp models.Confidence = 0.4
)

type covenantPattern struct {
	re     *regexp.Regexp
	name   string
	metric string
	typ    models.CovenantType
	op     models.Operator
}

var covenantPatterns = []covenantPattern{
	{regexp.MustCompile(`(?i)\b(?:total\s+|net\s+|senior\s+)?leverage\s+ratio\b|\b(?:total\s+|net\s+)?debt\s*(?:to|/)\s*ebitda\b`),
		"Leverage Ratio", "debt_to_ebitda", models.CovenantFinancial, models.OpLessEqual},
	{regexp.MustCompile(`(?i)\bdebt\s+service\s+coverage(?:\s+ratio)?\b|\bdscr\b`),
		"Debt Service Coverage Ratio", "dscr", models.CovenantFinancial, models.OpGreaterEqual},
	{regexp.MustCompile(`(?i)\bfixed\s+charge\s+coverage(?:\s+ratio)?\b`),
		"Fixed Charge Coverage Ratio", "fixed_charge_coverage", models.CovenantFinancial, models.OpGreaterEqual},
	{regexp.MustCompile(`(?i)\binterest\s+coverage(?:\s+ratio)?\b|\bebitda\s*(?:to|/)\s*interest\b`),
		"Interest Coverage Ratio", "interest_coverage", models.CovenantFinancial, models.OpGreaterEqual},
	{regexp.MustCompile(`(?i)\bcurrent\s+ratio\b`),
		"Current Ratio", "current_ratio", models.CovenantFinancial, models.OpGreaterEqual},
	{regexp.MustCompile(`(?i)\bdebt\s*(?:to|/)\s*equity\b|\bgearing(?:\s+ratio)?\b`),
		"Debt to Equity Ratio", "debt_to_equity", models.CovenantFinancial, models.OpLessEqual},
	{regexp.MustCompile(`(?i)\b(?:tangible\s+)?net\s+worth\b`),
		"Minimum Net Worth", "net_worth", models.CovenantFinancial, models.OpGreaterEqual},
	{regexp.MustCompile(`(?i)\bcapital\s+expenditures?\b|\bcapex\b`),
		"Capital Expenditure Limit", "capex", models.CovenantOperational, models.OpLessEqual},
	{regexp.MustCompile(`(?i)\b(?:deliver|furnish|provide)\b.{0,120}?\b(?:financial\s+statements|compliance\s+certificate)\b`),
		"Financial Reporting Deadline", "reporting_deadline_days", models.CovenantReporting, models.OpLessEqual},
}

var operatorPhrases = []struct {
	re *regexp.Regexp
	op models.Operator
}{
	{regexp.MustCompile(`\bnot\s+(?:to\s+)?(?:be\s+)?(?:greater|more|higher)\s+than\b|\bnot\s+(?:to\s+)?exceed\b|\bless\s+than\s+or\s+equal\s+to\b|\bno\s+(?:greater|more)\s+than\b|\bat\s+most\b|\bmaximum\b|\bwithin\b`), models.OpLessEqual},
	{regexp.MustCompile(`\bnot\s+(?:to\s+)?(?:be\s+)?(?:less|lower)\s+than\b|\bgreater\s+than\s+or\s+equal\s+to\b|\bno\s+less\s+than\b|\bat\s+least\b|\bminimum\b`), models.OpGreaterEqual},
	{regexp.MustCompile(`\bless\s+than\b|\bbelow\b`), models.OpLess},
	{regexp.MustCompile(`\bgreater\s+than\b|\bmore\s+than\b|\bexceed\b|\babove\b`), models.OpGreater},
}

var (
	negatedPermission = regexp.MustCompile(`\b(?:shall|will|may)\s+not\s+(?:permit|allow|suffer)\b`)
	thresholdRe       = regexp.MustCompile(`(?i)([$€£])?\s*(\d[\d,]*(?:\.\d+)?)\s*(%|x\b|times\b|:\s*1(?:\.0+)?|to\s+1(?:\.0+)?\b|days\b|million\b)?`)
)

// HeuristicExtract finds covenants in contract text by pattern matching. It
// is the fallback when the model is unavailable; confidence is always low.
func HeuristicExtract(contractID, text string) models.CovenantExtractionResult {
	res := models.CovenantExtractionResult{
		Covenants: []models.CovenantCreateInput{},
		Source:    "heuristic",
	}
	seen := make(map[string]bool)

	for _, sentence := range splitSentences(text) {
		for _, p := range covenantPatterns {
			if seen[p.metric] {
				continue
			}
			loc := p.re.FindStringIndex(sentence)
			if loc == nil {
				continue
			}
			tail := sentence[loc[1]:]
			value, unit, ok := findThreshold(tail)
			if !ok {
				continue
			}

			op, found := findOperator(sentence)
			conf := heuristicConfidence
			if !found {
				op = p.op
				conf = heuristicConfidenceNoOp
			}

			seen[p.metric] = true
			res.Covenants = append(res.Covenants, models.CovenantCreateInput{
				ContractID:           contractID,
				CovenantName:         p.name,
				CovenantType:         p.typ,
				MetricName:           p.metric,
				Operator:             op,
				ThresholdValue:       value,
				ThresholdUnit:        unit,
				CheckFrequency:       findFrequency(sentence),
				CovenantClause:       sentence,
				NeedsReview:          true,
				ExtractionConfidence: conf,
			})
		}
	}

	res.Confidence = heuristicConfidenceNoOp
	if len(res.Covenants) > 0 {
		res.Confidence = heuristicConfidence
	}
	res.Summary = fmt.Sprintf("Found %d covenant(s) by pattern matching; all require review.", len(res.Covenants))
	return res
}

func findThreshold(tail string) (float64, string, bool) {
	matches := thresholdRe.FindAllStringSubmatch(tail, -1)
	var fallback []string
	for _, m := range matches {
		if m[1] != "" || m[3] != "" {
			return thresholdFromMatch(m)
		}
		if fallback == nil {
			fallback = m
		}
	}
	if fallback != nil {
		return thresholdFromMatch(fallback)
	}
	return 0, "", false
}

func thresholdFromMatch(m []string) (float64, string, bool) {
	unitText := strings.ToLower(strings.TrimSpace(m[3]))
	v, unit, err := parseNumberString(m[1] + m[2])
	if err != nil {
		return 0, "", false
	}
	switch {
	case unitText == "%":
		unit = "%"
	case unitText == "x", unitText == "times", strings.HasPrefix(unitText, ":"), strings.HasPrefix(unitText, "to"):
		unit = "x"
	case unitText == "days":
		unit = "days"
	case unitText == "million":
		v *= 1_000_000
	}
	return v, unit, true
}

func findOperator(sentence string) (models.Operator, bool) {
	lower := strings.ToLower(sentence)
	for _, p := range operatorPhrases {
		if !p.re.MatchString(lower) {
			continue
		}
		op := p.op
		// "shall not permit X to be less than 2.0" means X >= 2.0
		if negatedPermission.MatchString(lower) {
			switch op {
			case models.OpLess:
				op = models.OpGreaterEqual
			case models.OpGreater:
				op = models.OpLessEqual
			}
		}
		return op, true
	}
	return "", false
}

func findFrequency(sentence string) models.Frequency {
	s := strings.ToLower(sentence)
	switch {
	case strings.Contains(s, "semi-annual") || strings.Contains(s, "semi annual") || strings.Contains(s, "half-year"):
		return models.FrequencySemiAnnually
	case strings.Contains(s, "month"):
		return models.FrequencyMonthly
	case strings.Contains(s, "quarter"):
		return models.FrequencyQuarterly
	case strings.Contains(s, "annual") || strings.Contains(s, "fiscal year") || strings.Contains(s, "yearly"):
		return models.FrequencyAnnually
	}
	return models.FrequencyQuarterly
}

// splitSentences cuts text at line breaks and at '.' or ';' followed by
// whitespace, so decimals such as "3.50" stay intact.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		s := strings.Join(strings.Fields(b.String()), " ")
		if len(s) > 3 {
			out = append(out, s)
		}
		b.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' && (i+1 < len(runes) && runes[i+1] == '\n' || i > 0 && runes[i-1] == '\n') {
			flush()
			continue
		}
		b.WriteRune(r)
		if (r == '.' || r == ';') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			flush()
		}
	}
	flush()
	return out
}
