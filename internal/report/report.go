// Package report renders contract compliance reports from a monitor refresh.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/covenantwatch/covenantwatch/internal/covenant"
	"github.com/covenantwatch/covenantwatch/internal/monitor"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Report Generator
// ════════════════════════════════════════════════════════════════════

// Format specifies the output format.
type Format string

const (
	FormatHTML Format = "html"
	FormatText Format = "text"
)

// ParseFormat accepts "html", "text" or "txt"; empty means HTML.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "html":
		return FormatHTML, true
	case "text", "txt":
		return FormatText, true
	}
	return "", false
}

// Kind is the backend report kind used for compliance reports.
const Kind = "compliance_report"

var ErrNoReport = errors.New("report: refresh result is nil")

// Config controls report generation.
type Config struct {
	Format Format
	Title  string // default "Covenant Compliance Report: <contract>"
	Author string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Format: FormatHTML, Author: "CovenantWatch"}
}

// ════════════════════════════════════════════════════════════════════
// Report Data, flattened for rendering
// ════════════════════════════════════════════════════════════════════

// Data is the model passed to the templates.
type Data struct {
	Title       string
	ContractID  string
	Source      string
	Author      string
	GeneratedAt string

	Overall      string
	OverallClass string

	Total     int
	Compliant int
	Warning   int
	Breached  int
	Failed    int
	Alerts    int

	Rows []CovenantRow
}

// CovenantRow is one covenant line of the report.
type CovenantRow struct {
	Name         string
	Requirement  string
	Value        string
	Status       string
	StatusClass  string
	Trend        string
	Buffer       string
	DaysToBreach string
	Narrative    string
	Alert        string
	Error        string
}

// Build flattens a refresh result for rendering.
func Build(rep *monitor.Report, cfg Config) Data {
	d := Data{
		Title:       cfg.Title,
		ContractID:  rep.ContractID,
		Source:      rep.Source,
		Author:      cfg.Author,
		GeneratedAt: rep.ComputedAt.UTC().Format("2006-01-02 15:04 MST"),
		Total:       rep.Summary.Total,
		Compliant:   rep.Summary.Compliant,
		Warning:     rep.Summary.Warning,
		Breached:    rep.Summary.Breached,
		Failed:      rep.Summary.Failed,
		Alerts:      rep.Summary.Alerts,
	}
	if d.Title == "" {
		d.Title = "Covenant Compliance Report: " + rep.ContractID
	}
	if d.Author == "" {
		d.Author = DefaultConfig().Author
	}
	d.Overall, d.OverallClass = overall(rep.Summary)

	for _, r := range rep.Results {
		d.Rows = append(d.Rows, buildRow(r))
	}
	return d
}

func buildRow(r monitor.CovenantResult) CovenantRow {
	c := r.Covenant
	row := CovenantRow{
		Name:        c.CovenantName,
		Requirement: fmt.Sprintf("%s %s%s", c.Operator, formatNumber(c.ThresholdValue), c.ThresholdUnit),
		Value:       "n/a",
		Buffer:      "n/a",
		Error:       r.Error,
	}
	if r.Alert != nil {
		row.Alert = fmt.Sprintf("[%s] %s", strings.ToUpper(string(r.Alert.Severity)), r.Alert.Title)
	}
	h := r.Health
	if h == nil {
		row.Status, row.StatusClass = "failed", "failed"
		return row
	}
	row.Status = string(h.Status)
	row.StatusClass = string(h.Status)
	row.Trend = strings.ReplaceAll(string(h.Trend), "_", " ")
	row.Narrative = h.AINarrative
	if h.LastReportedValue != nil {
		row.Value = formatNumber(*h.LastReportedValue) + c.ThresholdUnit
	}
	if h.BufferPercentage != nil {
		row.Buffer = fmt.Sprintf("%.1f%%", covenant.DisplayBuffer(*h.BufferPercentage))
	}
	if h.DaysToBreach != nil {
		row.DaysToBreach = fmt.Sprintf("%d days", *h.DaysToBreach)
	}
	if h.InsufficientData {
		row.Status += " (insufficient data)"
	}
	return row
}

// overall is the worst status across the contract.
func overall(s monitor.Summary) (string, string) {
	switch {
	case s.Total == 0:
		return "No covenants", "empty"
	case s.Breached > 0:
		return "Breached", string(models.StatusBreached)
	case s.Warning > 0:
		return "At risk", string(models.StatusWarning)
	case s.Failed > 0:
		return "Incomplete", "failed"
	}
	return "Compliant", string(models.StatusCompliant)
}

func formatNumber(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// ════════════════════════════════════════════════════════════════════
// Generate Report
// ════════════════════════════════════════════════════════════════════

var reportTmpl = template.Must(template.New("report").Parse(reportTemplate))

// Generate renders rep in cfg.Format.
func Generate(rep *monitor.Report, cfg Config) (string, error) {
	if cfg.Format == FormatText {
		return GenerateText(rep, cfg)
	}
	return GenerateHTML(rep, cfg)
}

// GenerateHTML renders a standalone HTML report.
func GenerateHTML(rep *monitor.Report, cfg Config) (string, error) {
	if rep == nil {
		return "", ErrNoReport
	}
	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, Build(rep, cfg)); err != nil {
		return "", fmt.Errorf("report: executing template: %w", err)
	}
	return buf.String(), nil
}

// GenerateText renders a plain-text report for terminals.
func GenerateText(rep *monitor.Report, cfg Config) (string, error) {
	if rep == nil {
		return "", ErrNoReport
	}
	return renderText(Build(rep, cfg)), nil
}

func renderText(d Data) string {
	var sb strings.Builder
	line := strings.Repeat("═", 72)
	thinLine := strings.Repeat("─", 72)

	sb.WriteString(line + "\n")
	sb.WriteString(fmt.Sprintf("  %s\n", d.Title))
	sb.WriteString(fmt.Sprintf("  Generated: %s | Source: %s | Author: %s\n", d.GeneratedAt, d.Source, d.Author))
	sb.WriteString(line + "\n")
	sb.WriteString(fmt.Sprintf("  Overall: %s\n", d.Overall))
	sb.WriteString(fmt.Sprintf("  %d covenants: %d compliant, %d warning, %d breached, %d failed, %d alerts\n",
		d.Total, d.Compliant, d.Warning, d.Breached, d.Failed, d.Alerts))
	sb.WriteString(thinLine + "\n")

	for _, r := range d.Rows {
		if r.Error != "" {
			sb.WriteString(fmt.Sprintf("  %-36s error: %s\n", r.Name, r.Error))
			continue
		}
		sb.WriteString(fmt.Sprintf("  %-36s %-12s value %-10s buffer %s\n", r.Name, r.Requirement, r.Value, r.Buffer))
		detail := "    " + r.Status
		if r.Trend != "" {
			detail += ", " + r.Trend
		}
		if r.DaysToBreach != "" {
			detail += ", breach in " + r.DaysToBreach
		}
		sb.WriteString(detail + "\n")
		if r.Alert != "" {
			sb.WriteString("    " + r.Alert + "\n")
		}
		if r.Narrative != "" {
			sb.WriteString("    " + r.Narrative + "\n")
		}
	}
	sb.WriteString(line + "\n")
	return sb.String()
}

// ════════════════════════════════════════════════════════════════════
// Backend record
// ════════════════════════════════════════════════════════════════════

// Content is the JSON body stored with a backend report.
type Content struct {
	Format  Format          `json:"format"`
	Summary monitor.Summary `json:"summary"`
	Body    string          `json:"body"`
}

// ToModel renders rep and wraps it as a backend report record.
func ToModel(rep *monitor.Report, cfg Config) (models.Report, error) {
	if cfg.Format == "" {
		cfg.Format = FormatHTML
	}
	body, err := Generate(rep, cfg)
	if err != nil {
		return models.Report{}, err
	}
	content, err := json.Marshal(Content{Format: cfg.Format, Summary: rep.Summary, Body: body})
	if err != nil {
		return models.Report{}, fmt.Errorf("report: encode content: %w", err)
	}
	created := rep.ComputedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return models.Report{
		ContractID: rep.ContractID,
		Kind:       Kind,
		Title:      Build(rep, cfg).Title,
		Content:    content,
		CreatedAt:  created,
	}, nil
}
