// Package monitor recomputes covenant health for a contract, keeps the latest
// snapshot per covenant, raises alerts when a covenant gets worse and builds a
// borrower's adverse-event risk profile.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/covenantwatch/covenantwatch/internal/assessment"
	"github.com/covenantwatch/covenantwatch/internal/backend"
	"github.com/covenantwatch/covenantwatch/internal/covenant"
	"github.com/covenantwatch/covenantwatch/internal/metrics"
	"github.com/covenantwatch/covenantwatch/internal/risk"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// historyWindow is how many metric points feed trend and days-to-breach.
const historyWindow = 12

// eventLookback bounds the events that feed a borrower profile.
const eventLookback = 365 * 24 * time.Hour

// Store is the local persistence the monitor needs. *storage.Storage
// satisfies it.
type Store interface {
	UpsertCovenant(ctx context.Context, c models.Covenant) error
	GetCovenant(ctx context.Context, id string) (models.Covenant, error)
	ListCovenants(ctx context.Context, contractID string) ([]models.Covenant, error)
	AddMetricPoint(ctx context.Context, covenantID string, p models.MetricPoint) error
	MetricHistory(ctx context.Context, covenantID string, limit int) ([]models.MetricPoint, error)
	SaveHealth(ctx context.Context, h models.CovenantHealth) (*models.CovenantHealth, error)
	ListEvents(ctx context.Context, borrowerID string, since time.Time) ([]models.AdverseEvent, error)
}

// Backend is the remote system of record. *backend.Client satisfies it.
type Backend interface {
	AllCovenants(ctx context.Context, contractID string) ([]models.Covenant, error)
	SaveHealth(ctx context.Context, h models.CovenantHealth) error
	CreateAlert(ctx context.Context, a models.Alert) (*models.Alert, error)
	CreateAuditLog(ctx context.Context, entry models.AuditLog) error
}

// Monitor ties the evaluator, the stores and the alert fan-out together.
type Monitor struct {
	store       Store
	backend     Backend
	eval        *covenant.Evaluator
	agg         *risk.Aggregator
	assessor    *assessment.Assessor
	concurrency int
	useAI       bool
	audit       bool
	broadcast   func(models.Alert)
	log         *zap.Logger
	now         func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBackend syncs covenants from, and reports results to, the backend.
func WithBackend(b Backend) Option {
	return func(m *Monitor) { m.backend = b }
}

// WithAssessor adds AI narratives to non-compliant covenants.
func WithAssessor(a *assessment.Assessor, useAI bool) Option {
	return func(m *Monitor) {
		m.assessor = a
		m.useAI = useAI
	}
}

// WithConcurrency bounds how many covenants are evaluated at once.
func WithConcurrency(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithAuditLog writes an audit entry for every recomputed covenant.
func WithAuditLog(on bool) Option {
	return func(m *Monitor) { m.audit = on }
}

// WithBroadcast receives every alert raised, e.g. to push it to websockets.
func WithBroadcast(fn func(models.Alert)) Option {
	return func(m *Monitor) { m.broadcast = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor. eval and agg default to their zero-option versions.
func New(store Store, eval *covenant.Evaluator, agg *risk.Aggregator, opts ...Option) *Monitor {
	if eval == nil {
		eval = covenant.NewEvaluator()
	}
	if agg == nil {
		agg = risk.NewAggregator()
	}
	m := &Monitor{
		store:       store,
		eval:        eval,
		agg:         agg,
		concurrency: 4,
		audit:       true,
		log:         zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("monitor")
	return m
}

// CovenantResult is the outcome of recomputing one covenant.
type CovenantResult struct {
	Covenant models.Covenant        `json:"covenant"`
	Health   *models.CovenantHealth `json:"health,omitempty"`
	Previous models.HealthStatus    `json:"previous_status,omitempty"`
	Alert    *models.Alert          `json:"alert,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Summary counts covenants by status.
type Summary struct {
	Total     int `json:"total"`
	Compliant int `json:"compliant"`
	Warning   int `json:"warning"`
	Breached  int `json:"breached"`
	Failed    int `json:"failed"`
	Alerts    int `json:"alerts"`
}

// Report is the result of refreshing a contract.
type Report struct {
	ContractID string           `json:"contract_id"`
	Source     string           `json:"source"` // "backend" or "local"
	Results    []CovenantResult `json:"results"`
	Summary    Summary          `json:"summary"`
	ComputedAt time.Time        `json:"computed_at"`
}

// RefreshContract recomputes every covenant of a contract. Per-covenant
// failures are reported in the result; only context cancellation and a
// failure to list covenants abort the refresh.
func (m *Monitor) RefreshContract(ctx context.Context, contractID string) (*Report, error) {
	covs, source, err := m.covenants(ctx, contractID)
	if err != nil {
		return nil, err
	}

	results := make([]CovenantResult, len(covs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, cov := range covs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = m.refreshCovenant(gctx, cov)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{
		ContractID: contractID,
		Source:     source,
		Results:    results,
		ComputedAt: m.now(),
	}
	for _, r := range results {
		rep.Summary.add(r)
	}
	m.log.Info("contract refreshed",
		zap.String("contract", contractID),
		zap.String("source", source),
		zap.Int("covenants", rep.Summary.Total),
		zap.Int("breached", rep.Summary.Breached),
		zap.Int("alerts", rep.Summary.Alerts),
	)
	return rep, nil
}

func (s *Summary) add(r CovenantResult) {
	s.Total++
	if r.Alert != nil {
		s.Alerts++
	}
	if r.Health == nil {
		s.Failed++
		return
	}
	switch r.Health.Status {
	case models.StatusBreached:
		s.Breached++
	case models.StatusWarning:
		s.Warning++
	default:
		s.Compliant++
	}
}

// covenants reads the contract's covenants from the backend and mirrors them
// locally. When the backend is absent or unreachable the local copy is used.
func (m *Monitor) covenants(ctx context.Context, contractID string) ([]models.Covenant, string, error) {
	if m.backend != nil {
		covs, err := m.backend.AllCovenants(ctx, contractID)
		if err == nil {
			for i := range covs {
				c := &covs[i]
				if c.ContractID == "" {
					c.ContractID = contractID
				}
				if err := m.store.UpsertCovenant(ctx, *c); err != nil {
					return nil, "", fmt.Errorf("monitor: cache covenant %s: %w", c.ID, err)
				}
			}
			return covs, "backend", nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		info := backend.Classify(err)
		if !info.Retryable && info.Category != backend.CategoryNetwork {
			return nil, "", fmt.Errorf("monitor: list covenants: %w", err)
		}
		m.log.Warn("backend unavailable, using local covenants", zap.String("contract", contractID), zap.Error(err))
	}

	covs, err := m.store.ListCovenants(ctx, contractID)
	if err != nil {
		return nil, "", fmt.Errorf("monitor: list local covenants: %w", err)
	}
	return covs, "local", nil
}

func (m *Monitor) refreshCovenant(ctx context.Context, cov models.Covenant) CovenantResult {
	res := CovenantResult{Covenant: cov}

	history, err := m.store.MetricHistory(ctx, cov.ID, historyWindow)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	health, err := m.eval.Health(cov, history)
	if err != nil {
		m.log.Warn("covenant evaluation failed", zap.String("covenant", cov.ID), zap.Error(err))
		res.Error = err.Error()
		return res
	}
	metrics.HealthEvaluations.WithLabelValues(string(health.Status)).Inc()

	if m.useAI && m.assessor != nil && m.assessor.AIEnabled() && health.Status != models.StatusCompliant {
		ra, err := m.assessor.AssessCovenantRisk(ctx, assessment.RiskInput{Covenant: cov, Health: health, History: history}, "")
		if err == nil && ra.Source == "ai" {
			health.AINarrative = ra.Narrative
		}
	}

	prev, err := m.store.SaveHealth(ctx, health)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Health = &health

	from := models.StatusCompliant
	if prev != nil {
		from = prev.Status
		res.Previous = prev.Status
	}

	if m.backend != nil {
		if err := m.backend.SaveHealth(ctx, health); err != nil {
			m.log.Warn("backend health sync failed", zap.String("covenant", cov.ID), zap.String("reason", backend.Message(err)))
		}
	}

	if health.Status.Severity() > from.Severity() {
		alert := m.raise(ctx, cov, from, health)
		res.Alert = &alert
	}
	m.auditLog(ctx, cov, prev, health)
	return res
}

// severityFor maps a worsening transition to an alert severity.
func severityFor(h models.CovenantHealth) models.RiskLevel {
	switch {
	case h.Status == models.StatusBreached && h.Trend == models.TrendDeteriorating:
		return models.RiskCritical
	case h.Status == models.StatusBreached:
		return models.RiskHigh
	case h.DaysToBreach != nil && *h.DaysToBreach <= 90:
		return models.RiskHigh
	default:
		return models.RiskMedium
	}
}

func (m *Monitor) raise(ctx context.Context, cov models.Covenant, from models.HealthStatus, h models.CovenantHealth) models.Alert {
	alert := models.Alert{
		ID:         uuid.New().String(),
		ContractID: cov.ContractID,
		CovenantID: cov.ID,
		Severity:   severityFor(h),
		Title:      fmt.Sprintf("%s is %s", cov.CovenantName, h.Status),
		Message:    alertMessage(cov, h),
		Status:     models.AlertOpen,
		FromStatus: from,
		ToStatus:   h.Status,
		CreatedAt:  m.now(),
	}

	if m.backend != nil {
		if saved, err := m.backend.CreateAlert(ctx, alert); err != nil {
			m.log.Warn("backend alert failed", zap.String("covenant", cov.ID), zap.String("reason", backend.Message(err)))
		} else if saved != nil && saved.ID != "" {
			alert.ID = saved.ID
		}
	}
	if m.broadcast != nil {
		m.broadcast(alert)
	}
	metrics.AlertsRaised.WithLabelValues(string(alert.Severity)).Inc()
	m.log.Info("alert raised",
		zap.String("covenant", cov.ID),
		zap.String("from", string(from)),
		zap.String("to", string(h.Status)),
		zap.String("severity", string(alert.Severity)),
	)
	return alert
}

func alertMessage(cov models.Covenant, h models.CovenantHealth) string {
	msg := fmt.Sprintf("%s requires %s %g", cov.CovenantName, cov.Operator, cov.ThresholdValue)
	if h.LastReportedValue != nil {
		msg += fmt.Sprintf("; last reported %g", *h.LastReportedValue)
	}
	if h.BufferPercentage != nil {
		msg += fmt.Sprintf(" (buffer %.1f%%)", covenant.DisplayBuffer(*h.BufferPercentage))
	}
	if h.DaysToBreach != nil && h.Status != models.StatusBreached {
		msg += fmt.Sprintf("; projected breach in %d days", *h.DaysToBreach)
	}
	return msg + "."
}

func (m *Monitor) auditLog(ctx context.Context, cov models.Covenant, prev *models.CovenantHealth, h models.CovenantHealth) {
	if !m.audit || m.backend == nil {
		return
	}
	details := map[string]any{
		"status": h.Status,
		"trend":  h.Trend,
	}
	if prev != nil {
		details["previous_status"] = prev.Status
	}
	if h.BufferPercentage != nil {
		details["buffer_percentage"] = *h.BufferPercentage
	}
	if h.InsufficientData {
		details["insufficient_data"] = true
	}
	entry := models.AuditLog{
		Action:     "covenant_health_recomputed",
		EntityType: "covenant",
		EntityID:   cov.ID,
		Details:    details,
		CreatedAt:  m.now(),
	}
	if err := m.backend.CreateAuditLog(ctx, entry); err != nil {
		m.log.Debug("audit log failed", zap.String("covenant", cov.ID), zap.Error(err))
	}
}

// RecordValue stores a reported metric value and recomputes that covenant.
func (m *Monitor) RecordValue(ctx context.Context, covenantID string, p models.MetricPoint) (CovenantResult, error) {
	cov, err := m.store.GetCovenant(ctx, covenantID)
	if err != nil {
		return CovenantResult{}, err
	}
	if p.ObservedAt.IsZero() {
		p.ObservedAt = m.now()
	}
	if err := m.store.AddMetricPoint(ctx, covenantID, p); err != nil {
		return CovenantResult{}, err
	}
	return m.refreshCovenant(ctx, cov), nil
}

// RecordFinancials derives ratios from one reporting period and records a
// metric point for every covenant of the contract whose metric resolves to
// one of them. It returns how many points were recorded.
func (m *Monitor) RecordFinancials(ctx context.Context, contractID string, fin models.FinancialData) (int, error) {
	if fin.PeriodEnd.IsZero() {
		return 0, errors.New("monitor: period_end is required")
	}
	covs, err := m.store.ListCovenants(ctx, contractID)
	if err != nil {
		return 0, err
	}
	ratios := covenant.ComputeRatios(fin)
	n := 0
	for _, c := range covs {
		metric := c.MetricName
		if metric == "" {
			metric = c.CovenantName
		}
		v, ok := ratios.Lookup(metric)
		if !ok {
			continue
		}
		if err := m.store.AddMetricPoint(ctx, c.ID, models.MetricPoint{Value: v, ObservedAt: fin.PeriodEnd}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Profile is a borrower's adverse-event risk picture.
type Profile struct {
	BorrowerID  string                   `json:"borrower_id"`
	Aggregation models.RiskAggregation   `json:"aggregation"`
	Impact      *models.ImpactAssessment `json:"impact,omitempty"`
	Events      []models.AdverseEvent    `json:"events"`
}

// BorrowerProfile aggregates the borrower's recent events and, when there is
// one, assesses the impact of the riskiest event on covs.
func (m *Monitor) BorrowerProfile(ctx context.Context, borrowerID, borrowerName string, covs []models.Covenant) (*Profile, error) {
	events, err := m.store.ListEvents(ctx, borrowerID, m.now().Add(-eventLookback))
	if err != nil {
		return nil, err
	}
	p := &Profile{
		BorrowerID:  borrowerID,
		Aggregation: m.agg.Aggregate(events),
		Events:      events,
	}
	if hi := p.Aggregation.HighestRiskEvent; hi != nil && len(covs) > 0 {
		var impact models.ImpactAssessment
		if m.assessor != nil {
			impact, err = m.assessor.AssessEventImpact(ctx, *hi, assessment.EventContext{BorrowerName: borrowerName, Covenants: covs})
			if err != nil {
				return nil, err
			}
		} else {
			impact = m.agg.Impact(*hi, covs)
		}
		p.Impact = &impact
	}
	return p, nil
}

// Watch refreshes the given contracts every interval until ctx ends.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration, contractIDs []string) error {
	if interval <= 0 {
		return errors.New("monitor: interval must be positive")
	}
	ids := append([]string(nil), contractIDs...)
	sort.Strings(ids)

	run := func() {
		for _, id := range ids {
			if _, err := m.RefreshContract(ctx, id); err != nil && ctx.Err() == nil {
				m.log.Error("scheduled refresh failed", zap.String("contract", id), zap.Error(err))
			}
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}
