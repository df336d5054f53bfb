package assessment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// maxContractChars bounds the contract text sent to the model.
const maxContractChars = 120_000

// ── System Prompts ──

// ExtractionSystemPrompt instructs the model to pull covenants from a loan agreement.
const ExtractionSystemPrompt = `You are a **Loan Covenant Analyst** at a commercial bank. You read credit agreements and extract every covenant the borrower must comply with.

## Guidelines
1. Extract financial covenants (leverage, interest coverage, DSCR, current ratio, net worth), operational covenants and reporting covenants
2. Quote the covenant clause verbatim in covenant_clause
3. Express thresholds as plain numbers (3.5 for "3.50:1.00", 25 for "25%")
4. Use only these operators: <, <=, >, >=, =, !=
5. Use only these covenant types: financial, operational, reporting, other
6. Use only these frequencies: monthly, quarterly, semi_annually, annually, on_demand
7. Give a confidence between 0 and 1 for each covenant; lower it when the clause is ambiguous
8. Never invent covenants that are not in the text

## Output Format
Respond with a single JSON object:
{"covenants":[{"covenant_name":"","covenant_type":"","metric_name":"","operator":"","threshold_value":0,"threshold_unit":"","check_frequency":"","covenant_clause":"","confidence":0.0}],"summary":"","confidence":0.0}`

// RiskSystemPrompt instructs the model to assess breach risk for one covenant.
const RiskSystemPrompt = `You are a **Credit Risk Officer** monitoring loan covenants. Given a covenant, its current health and recent metric history, assess how likely a breach is over the next two test periods.

## Guidelines
1. Base the assessment on the numbers given; do not assume data you were not shown
2. Weigh the trend and the remaining headroom more than the absolute level
3. Keep key_risks and recommendations short and actionable for a relationship manager
4. risk_score is 0-10, breach_probability and confidence are 0-1

## Output Format
Respond with a single JSON object:
{"risk_level":"low|medium|high|critical","risk_score":0,"breach_probability":0.0,"key_risks":[],"recommendations":[],"narrative":"","confidence":0.0}`

// EventSystemPrompt instructs the model to assess an adverse event against covenants.
const EventSystemPrompt = `You are a **Credit Risk Officer** assessing how an adverse event about a borrower affects its loan covenants.

## Guidelines
1. Consider each covenant listed and score its impact between 0 and 1
2. Only list covenants that are plausibly affected, using their ids exactly as given
3. severity is one of low, medium, high, critical
4. Recommended actions must be concrete steps for the bank

## Output Format
Respond with a single JSON object:
{"impact_score":0.0,"severity":"","affected_covenants":[{"covenant_id":"","impact_score":0.0,"reason":""}],"summary":"","recommended_actions":[],"confidence":0.0}`

// ── Prompt builders ──

func extractionPrompt(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > maxContractChars {
		text = text[:maxContractChars]
	}
	return "Extract all covenants from the following loan agreement.\n\n---\n" + text + "\n---"
}

// RiskInput is the data handed to a covenant risk analysis.
type RiskInput struct {
	Covenant models.Covenant         `json:"covenant"`
	Health   models.CovenantHealth   `json:"health"`
	History  []models.MetricPoint    `json:"history,omitempty"`
	Events   *models.RiskAggregation `json:"adverse_events,omitempty"`
}

// promptJSON indents v without HTML escaping so operators read as "<=".
func promptJSON(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
	return bytes.TrimSpace(buf.Bytes())
}

func riskPrompt(in RiskInput, extra string) string {
	data := promptJSON(in)
	var b strings.Builder
	b.WriteString("Assess the breach risk for this covenant.\n\n")
	b.Write(data)
	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteString("\n\nAdditional context:\n")
		b.WriteString(extra)
	}
	return b.String()
}

// EventContext is what the model needs to judge an adverse event.
type EventContext struct {
	BorrowerName string            `json:"borrower_name,omitempty"`
	Covenants    []models.Covenant `json:"covenants"`
	Notes        string            `json:"notes,omitempty"`
}

func eventPrompt(event models.AdverseEvent, ec EventContext) string {
	type covenantBrief struct {
		ID        string              `json:"id"`
		Name      string              `json:"name"`
		Type      models.CovenantType `json:"type"`
		Metric    string              `json:"metric"`
		Condition string              `json:"condition"`
	}
	briefs := make([]covenantBrief, 0, len(ec.Covenants))
	for _, c := range ec.Covenants {
		briefs = append(briefs, covenantBrief{
			ID: c.ID, Name: c.CovenantName, Type: c.CovenantType, Metric: c.MetricName,
			Condition: fmt.Sprintf("%s %s %g%s", c.MetricName, c.Operator, c.ThresholdValue, c.ThresholdUnit),
		})
	}
	payload := map[string]any{
		"event": map[string]any{
			"type":        event.EventType,
			"title":       event.Title,
			"description": event.Description,
			"source":      event.Source,
			"risk_score":  event.RiskScore,
			"event_date":  event.EventDate.Format("2006-01-02"),
		},
		"borrower":  ec.BorrowerName,
		"covenants": briefs,
	}
	if ec.Notes != "" {
		payload["notes"] = ec.Notes
	}
	data := promptJSON(payload)
	return "Assess the impact of this adverse event on the borrower's covenants.\n\n" + string(data)
}
