package report

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/covenantwatch/covenantwatch/internal/monitor"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

func ptr[T any](v T) *T { return &v }

func sampleReport() *monitor.Report {
	computed := time.Date(2025, 10, 1, 9, 30, 0, 0, time.UTC)
	return &monitor.Report{
		ContractID: "ct-7",
		Source:     "local",
		ComputedAt: computed,
		Summary:    monitor.Summary{Total: 3, Compliant: 1, Breached: 1, Failed: 1, Alerts: 1},
		Results: []monitor.CovenantResult{
			{
				Covenant: models.Covenant{ID: "lev", CovenantName: "Maximum Leverage", Operator: models.OpLessEqual, ThresholdValue: 3.5, ThresholdUnit: "x"},
				Health: &models.CovenantHealth{
					CovenantID: "lev", Status: models.StatusBreached, Trend: models.TrendDeteriorating,
					LastReportedValue: ptr(3.8), BufferPercentage: ptr(-8.57), ComputedAt: computed,
				},
				Alert: &models.Alert{Severity: models.RiskHigh, Title: "Maximum Leverage breached"},
			},
			{
				Covenant: models.Covenant{ID: "icr", CovenantName: "Interest Cover", Operator: models.OpGreaterEqual, ThresholdValue: 2.25},
				Health: &models.CovenantHealth{
					CovenantID: "icr", Status: models.StatusCompliant, Trend: models.TrendStable,
					LastReportedValue: ptr(4.1), BufferPercentage: ptr(82.2), DaysToBreach: ptr(240),
					AINarrative: "Cover is comfortable & stable.",
				},
			},
			{
				Covenant: models.Covenant{ID: "cr", CovenantName: "Current Ratio", Operator: models.OpGreaterEqual, ThresholdValue: 1.25},
				Error:    "no metric history",
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"", FormatHTML, true},
		{"HTML", FormatHTML, true},
		{" txt ", FormatText, true},
		{"pdf", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestGenerateHTML_Basic(t *testing.T) {
	html, err := GenerateHTML(sampleReport(), DefaultConfig())
	if err != nil {
		t.Fatalf("GenerateHTML failed: %v", err)
	}

	checks := []struct {
		name   string
		substr string
	}{
		{"html tag", "<html"},
		{"title", "Covenant Compliance Report: ct-7"},
		{"overall", `class="overall breached">Breached`},
		{"covenant", "Maximum Leverage"},
		{"requirement", "&lt;= 3.5x"},
		{"value", "3.8x"},
		{"buffer", "-8.6%"},
		{"alert", "[HIGH] Maximum Leverage breached"},
		{"narrative escaped", "comfortable &amp; stable"},
		{"days to breach", "breach in 240 days"},
		{"failed row", "error: no metric history"},
		{"generated at", "2025-10-01 09:30 UTC"},
		{"CSS", "font-family"},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if !strings.Contains(html, c.substr) {
				t.Errorf("expected %q in HTML output", c.substr)
			}
		})
	}
}

func TestGenerateHTML_NilReport(t *testing.T) {
	if _, err := GenerateHTML(nil, DefaultConfig()); !errors.Is(err, ErrNoReport) {
		t.Errorf("expected ErrNoReport, got %v", err)
	}
	if _, err := GenerateText(nil, DefaultConfig()); !errors.Is(err, ErrNoReport) {
		t.Errorf("expected ErrNoReport, got %v", err)
	}
}

func TestGenerateText(t *testing.T) {
	cfg := Config{Format: FormatText, Title: "Q3 Compliance"}
	text, err := Generate(sampleReport(), cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	for _, want := range []string{
		"Q3 Compliance",
		"Author: CovenantWatch",
		"Overall: Breached",
		"3 covenants: 1 compliant, 0 warning, 1 breached, 1 failed, 1 alerts",
		"breached, deteriorating",
		"compliant, stable, breach in 240 days",
		"error: no metric history",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in text report:\n%s", want, text)
		}
	}
	if strings.Contains(text, "<html") || strings.Contains(text, "&lt;") {
		t.Error("text report should not contain markup")
	}
}

func TestOverall(t *testing.T) {
	tests := []struct {
		s    monitor.Summary
		want string
	}{
		{monitor.Summary{}, "No covenants"},
		{monitor.Summary{Total: 2, Compliant: 2}, "Compliant"},
		{monitor.Summary{Total: 2, Compliant: 1, Failed: 1}, "Incomplete"},
		{monitor.Summary{Total: 2, Warning: 1, Failed: 1}, "At risk"},
		{monitor.Summary{Total: 2, Warning: 1, Breached: 1}, "Breached"},
	}
	for _, tt := range tests {
		if got, _ := overall(tt.s); got != tt.want {
			t.Errorf("overall(%+v) = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestInsufficientDataRow(t *testing.T) {
	rep := &monitor.Report{
		ContractID: "ct-1",
		Summary:    monitor.Summary{Total: 1, Compliant: 1},
		Results: []monitor.CovenantResult{{
			Covenant: models.Covenant{CovenantName: "DSCR", Operator: models.OpGreaterEqual, ThresholdValue: 1.2},
			Health:   &models.CovenantHealth{Status: models.StatusCompliant, InsufficientData: true},
		}},
	}
	d := Build(rep, DefaultConfig())
	if len(d.Rows) != 1 {
		t.Fatalf("rows = %d", len(d.Rows))
	}
	r := d.Rows[0]
	if r.Value != "n/a" || r.Buffer != "n/a" || !strings.Contains(r.Status, "insufficient data") {
		t.Errorf("row = %+v", r)
	}
}

func TestToModel(t *testing.T) {
	rep := sampleReport()
	m, err := ToModel(rep, Config{})
	if err != nil {
		t.Fatalf("ToModel failed: %v", err)
	}
	if m.ContractID != "ct-7" || m.Kind != Kind || !m.CreatedAt.Equal(rep.ComputedAt) {
		t.Errorf("model = %+v", m)
	}
	var c Content
	if err := json.Unmarshal(m.Content, &c); err != nil {
		t.Fatalf("content: %v", err)
	}
	if c.Format != FormatHTML || c.Summary.Breached != 1 || !strings.Contains(c.Body, "<html") {
		t.Errorf("content = %+v", c)
	}
}
