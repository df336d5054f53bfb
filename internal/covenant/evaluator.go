// Package covenant evaluates covenant compliance: status, buffer to the
// threshold, trend of the reported metric and a days-to-breach projection.
package covenant

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// ErrInvalidOperator is returned when a covenant carries an unsupported operator.
var ErrInvalidOperator = errors.New("covenant: invalid operator")

// equalTolerance is the relative distance within which "!=" always warns.
// Breach is decided by the exact predicate.
const equalTolerance = 1e-9

// Result is the outcome of comparing one reported value to a threshold.
type Result struct {
	Status           models.HealthStatus `json:"status"`
	BufferPercentage float64             `json:"buffer_percentage"`
	InsufficientData bool                `json:"insufficient_data,omitempty"`
}

// Evaluator computes covenant health. It holds only configuration and is
// safe for concurrent use.
type Evaluator struct {
	warningMarginPct  float64
	stableBandPct     float64
	missingDataStatus models.HealthStatus
	log               *zap.Logger
	now               func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithWarningMargin sets the warning band as a percentage of |threshold|.
func WithWarningMargin(pct float64) Option {
	return func(e *Evaluator) { e.warningMarginPct = pct }
}

// WithStableBand sets the relative change (percent) below which a trend is stable.
func WithStableBand(pct float64) Option {
	return func(e *Evaluator) { e.stableBandPct = pct }
}

// WithMissingDataStatus sets the status reported when no usable value exists.
func WithMissingDataStatus(s models.HealthStatus) Option {
	return func(e *Evaluator) { e.missingDataStatus = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) { e.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an Evaluator with a 10% warning margin and a 5% stable band.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		warningMarginPct:  10,
		stableBandPct:     5,
		missingDataStatus: models.StatusCompliant,
		log:               zap.NewNop(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate compares currentValue against thresholdValue using op. An empty op
// falls back to the covenant's own operator. A non-finite current value is
// treated as missing data rather than an error.
func (e *Evaluator) Evaluate(cov models.Covenant, currentValue, thresholdValue float64, op models.Operator) (Result, error) {
	if op == "" {
		op = cov.Operator
	}
	if !op.Valid() {
		return Result{}, fmt.Errorf("%w %q on covenant %s", ErrInvalidOperator, op, cov.ID)
	}
	if !isFinite(currentValue) || !isFinite(thresholdValue) {
		e.log.Warn("covenant value missing or not finite",
			zap.String("covenant_id", cov.ID),
			zap.String("metric", cov.MetricName),
			zap.String("status", string(e.missingDataStatus)))
		return Result{Status: e.missingDataStatus, InsufficientData: true}, nil
	}

	status := e.status(currentValue, thresholdValue, op)
	return Result{
		Status:           status,
		BufferPercentage: Buffer(currentValue, thresholdValue, op),
	}, nil
}

func (e *Evaluator) status(current, threshold float64, op models.Operator) models.HealthStatus {
	margin := e.warningMarginPct / 100 * denominator(threshold)
	diff := current - threshold

	switch op {
	case models.OpLess, models.OpLessEqual:
		if op == models.OpLess && !(current < threshold) || op == models.OpLessEqual && !(current <= threshold) {
			return models.StatusBreached
		}
		if -diff < margin {
			return models.StatusWarning
		}
	case models.OpGreater, models.OpGreaterEqual:
		if op == models.OpGreater && !(current > threshold) || op == models.OpGreaterEqual && !(current >= threshold) {
			return models.StatusBreached
		}
		if diff < margin {
			return models.StatusWarning
		}
	case models.OpEqual:
		if current != threshold {
			return models.StatusBreached
		}
	case models.OpNotEqual:
		if current == threshold {
			return models.StatusBreached
		}
		// Values within float noise of the forbidden value always warn, even
		// with a zero margin.
		if math.Abs(diff) < margin || math.Abs(diff) <= equalTolerance*math.Max(1, math.Abs(threshold)) {
			return models.StatusWarning
		}
	}
	return models.StatusCompliant
}

// Buffer returns the signed distance to the threshold as a percentage of
// |threshold|. Positive means headroom, negative means the covenant is on the
// wrong side. A zero threshold is measured in absolute units. The result is
// always finite and unclamped.
func Buffer(current, threshold float64, op models.Operator) float64 {
	d := denominator(threshold)
	var b float64
	switch op {
	case models.OpLess, models.OpLessEqual:
		b = (threshold - current) / d * 100
	case models.OpGreater, models.OpGreaterEqual:
		b = (current - threshold) / d * 100
	case models.OpEqual:
		b = -math.Abs(current-threshold) / d * 100
	case models.OpNotEqual:
		b = math.Abs(current-threshold) / d * 100
	}
	switch {
	case math.IsNaN(b):
		return 0
	case math.IsInf(b, 1):
		return math.MaxFloat64
	case math.IsInf(b, -1):
		return -math.MaxFloat64
	}
	return b
}

// DisplayBuffer clamps a buffer percentage to [-100, 100] for presentation.
// Stored values are never clamped.
func DisplayBuffer(b float64) float64 {
	return math.Max(-100, math.Min(100, b))
}

// Health builds the full snapshot for cov from its metric history. The most
// recent point is the current value. Non-finite points are left out of the
// trend; a non-finite newest point makes the snapshot insufficient data.
func (e *Evaluator) Health(cov models.Covenant, history []models.MetricPoint) (models.CovenantHealth, error) {
	if !cov.Operator.Valid() {
		return models.CovenantHealth{}, fmt.Errorf("%w %q on covenant %s", ErrInvalidOperator, cov.Operator, cov.ID)
	}

	points := cleanHistory(history)
	h := models.CovenantHealth{
		CovenantID: cov.ID,
		Trend:      models.TrendStable,
		ComputedAt: e.now(),
	}

	if len(points) == 0 {
		e.log.Warn("no financial data for covenant, using default status",
			zap.String("covenant_id", cov.ID),
			zap.String("metric", cov.MetricName),
			zap.String("status", string(e.missingDataStatus)))
		h.Status = e.missingDataStatus
		h.InsufficientData = true
		return h, nil
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}

	// The newest report carries no usable value: the older points still give a
	// trend, but there is no current value to test.
	if newest, ok := newestPoint(history); ok && !isFinite(newest.Value) {
		e.log.Warn("latest reported value is not a number, using default status",
			zap.String("covenant_id", cov.ID),
			zap.String("metric", cov.MetricName),
			zap.Time("observed_at", newest.ObservedAt),
			zap.String("status", string(e.missingDataStatus)))
		h.Status = e.missingDataStatus
		h.InsufficientData = true
		h.Trend = e.Trend(values, cov.ThresholdValue, cov.Operator)
		return h, nil
	}

	current := points[len(points)-1].Value
	res, err := e.Evaluate(cov, current, cov.ThresholdValue, cov.Operator)
	if err != nil {
		return models.CovenantHealth{}, err
	}

	h.LastReportedValue = &current
	h.Status = res.Status
	buf := res.BufferPercentage
	h.BufferPercentage = &buf

	h.Trend = e.Trend(values, cov.ThresholdValue, cov.Operator)
	h.DaysToBreach = DaysToBreach(points, cov.ThresholdValue, cov.Operator, res.Status)
	return h, nil
}

// Trend compares the mean of the first half of values with the mean of the
// second half. The middle value of an odd-length window is left out.
func (e *Evaluator) Trend(values []float64, threshold float64, op models.Operator) models.Trend {
	n := len(values)
	if n < 2 {
		return models.TrendStable
	}

	series := values
	// For = and != what matters is the distance to the threshold.
	if op == models.OpEqual || op == models.OpNotEqual {
		series = make([]float64, n)
		for i, v := range values {
			series[i] = math.Abs(v - threshold)
		}
	}

	first := mean(series[:n/2])
	second := mean(series[(n+1)/2:])

	base := math.Abs(first)
	if base == 0 {
		base = denominator(threshold)
	}
	change := (second - first) / base * 100
	if math.IsNaN(change) || math.Abs(change) < e.stableBandPct {
		return models.TrendStable
	}

	rising := change > 0
	var better bool
	switch op {
	case models.OpLess, models.OpLessEqual, models.OpEqual:
		better = !rising
	default:
		better = rising
	}
	if better {
		return models.TrendImproving
	}
	return models.TrendDeteriorating
}

// DaysToBreach projects the line through the two most recent points to the
// threshold. It returns nil when the projection is undefined: fewer than two
// points, no elapsed time, a flat slope, a slope away from breach, or the "="
// operator. A covenant already breached is 0 days from breach.
func DaysToBreach(points []models.MetricPoint, threshold float64, op models.Operator, status models.HealthStatus) *int {
	if status == models.StatusBreached {
		zero := 0
		return &zero
	}
	if op == models.OpEqual || len(points) < 2 {
		return nil
	}

	prev, last := points[len(points)-2], points[len(points)-1]
	elapsed := last.ObservedAt.Sub(prev.ObservedAt).Hours() / 24
	if elapsed <= 0 {
		return nil
	}
	slope := (last.Value - prev.Value) / elapsed
	if slope == 0 || !isFinite(slope) {
		return nil
	}

	var days float64
	switch op {
	case models.OpLess, models.OpLessEqual:
		if slope < 0 {
			return nil
		}
		days = (threshold - last.Value) / slope
	case models.OpGreater, models.OpGreaterEqual:
		if slope > 0 {
			return nil
		}
		days = (last.Value - threshold) / -slope
	case models.OpNotEqual:
		if (last.Value < threshold) != (slope > 0) {
			return nil
		}
		days = (threshold - last.Value) / slope
	default:
		return nil
	}

	days = math.Ceil(days)
	if days < 0 {
		days = 0
	}
	if !isFinite(days) || days > math.MaxInt32 {
		return nil
	}
	d := int(days)
	return &d
}

// cleanHistory returns the finite points of history ordered by time.
func cleanHistory(history []models.MetricPoint) []models.MetricPoint {
	out := make([]models.MetricPoint, 0, len(history))
	for _, p := range history {
		if isFinite(p.Value) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	return out
}

// newestPoint returns the latest point of history by time, finite or not.
// Ties go to the later entry.
func newestPoint(history []models.MetricPoint) (models.MetricPoint, bool) {
	if len(history) == 0 {
		return models.MetricPoint{}, false
	}
	newest := history[0]
	for _, p := range history[1:] {
		if !p.ObservedAt.Before(newest.ObservedAt) {
			newest = p
		}
	}
	return newest, true
}

func denominator(threshold float64) float64 {
	if threshold == 0 {
		return 1
	}
	return math.Abs(threshold)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
