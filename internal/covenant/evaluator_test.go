package covenant

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func leverageCovenant() models.Covenant {
	return models.Covenant{
		ID:             "cov-1",
		CovenantName:   "Maximum Leverage",
		CovenantType:   models.CovenantFinancial,
		MetricName:     "Debt/EBITDA",
		Operator:       models.OpLessEqual,
		ThresholdValue: 3.5,
	}
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestEvaluateLeverageExample(t *testing.T) {
	e := NewEvaluator()
	cov := leverageCovenant()

	res, err := e.Evaluate(cov, 2.8, 3.5, models.OpLessEqual)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Status != models.StatusCompliant {
		t.Errorf("status: got %q, want compliant", res.Status)
	}
	if !approx(res.BufferPercentage, 20, 1e-9) {
		t.Errorf("buffer: got %f, want 20", res.BufferPercentage)
	}

	res, _ = e.Evaluate(cov, 3.6, 3.5, models.OpLessEqual)
	if res.Status != models.StatusBreached {
		t.Errorf("status at 3.6: got %q, want breached", res.Status)
	}
	if res.BufferPercentage >= 0 {
		t.Errorf("breached buffer should be negative, got %f", res.BufferPercentage)
	}
}

func TestEvaluateStatusTable(t *testing.T) {
	e := NewEvaluator(WithWarningMargin(10))
	tests := []struct {
		name      string
		op        models.Operator
		threshold float64
		current   float64
		want      models.HealthStatus
	}{
		{"le compliant", models.OpLessEqual, 3.5, 2.8, models.StatusCompliant},
		{"le warning", models.OpLessEqual, 3.5, 3.3, models.StatusWarning},
		{"le at threshold", models.OpLessEqual, 3.5, 3.5, models.StatusWarning},
		{"le breached", models.OpLessEqual, 3.5, 3.51, models.StatusBreached},
		{"lt at threshold", models.OpLess, 3.5, 3.5, models.StatusBreached},
		{"ge compliant", models.OpGreaterEqual, 2.0, 3.0, models.StatusCompliant},
		{"ge warning", models.OpGreaterEqual, 2.0, 2.1, models.StatusWarning},
		{"ge breached", models.OpGreaterEqual, 2.0, 1.9, models.StatusBreached},
		{"gt at threshold", models.OpGreater, 2.0, 2.0, models.StatusBreached},
		{"eq exact", models.OpEqual, 1.0, 1.0, models.StatusCompliant},
		{"eq off", models.OpEqual, 1.0, 1.01, models.StatusBreached},
		{"ne far", models.OpNotEqual, 0, 5, models.StatusCompliant},
		{"ne near", models.OpNotEqual, 10, 10.5, models.StatusWarning},
		{"ne equal", models.OpNotEqual, 10, 10, models.StatusBreached},
		{"ne float noise", models.OpNotEqual, 10, 10.000000000001, models.StatusWarning},
		{"eq float noise", models.OpEqual, 10, 10.000000000001, models.StatusBreached},
		{"zero threshold ge", models.OpGreaterEqual, 0, 0.05, models.StatusWarning},
		{"negative threshold ge", models.OpGreaterEqual, -5, -4, models.StatusCompliant},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := e.Evaluate(models.Covenant{}, tc.current, tc.threshold, tc.op)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if res.Status != tc.want {
				t.Errorf("got %q, want %q", res.Status, tc.want)
			}
		})
	}
}

// A breached status must always mean the predicate is false, and vice versa.
func TestEvaluateStatusConsistentWithPredicate(t *testing.T) {
	e := NewEvaluator()
	predicate := map[models.Operator]func(c, th float64) bool{
		models.OpLess:         func(c, th float64) bool { return c < th },
		models.OpLessEqual:    func(c, th float64) bool { return c <= th },
		models.OpGreater:      func(c, th float64) bool { return c > th },
		models.OpGreaterEqual: func(c, th float64) bool { return c >= th },
		models.OpEqual:        func(c, th float64) bool { return c == th },
		models.OpNotEqual:     func(c, th float64) bool { return c != th },
	}
	values := []float64{-100, -3.5, -1, -0.001, 0, 0.001, 0.5, 1, 2.8, 3.15, 3.5, 3.6, 7, 10, 1e6}
	for op, pred := range predicate {
		for _, th := range values {
			currents := append([]float64{th + 1e-12, th - 1e-12, th * (1 + 1e-13)}, values...)
			for _, c := range currents {
				res, err := e.Evaluate(models.Covenant{}, c, th, op)
				if err != nil {
					t.Fatalf("Evaluate(%v %s %v): %v", c, op, th, err)
				}
				breached := res.Status == models.StatusBreached
				if breached == pred(c, th) {
					t.Errorf("%v %s %v: status %q inconsistent with predicate", c, op, th, res.Status)
				}
				if math.IsNaN(res.BufferPercentage) || math.IsInf(res.BufferPercentage, 0) {
					t.Errorf("%v %s %v: buffer not finite", c, op, th)
				}
			}
		}
	}
}

func TestEvaluateInvalidOperator(t *testing.T) {
	_, err := NewEvaluator().Evaluate(models.Covenant{ID: "x"}, 1, 2, "~")
	if !errors.Is(err, ErrInvalidOperator) {
		t.Errorf("got %v, want ErrInvalidOperator", err)
	}
}

func TestEvaluateUsesCovenantOperatorWhenEmpty(t *testing.T) {
	res, err := NewEvaluator().Evaluate(leverageCovenant(), 4, 3.5, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.StatusBreached {
		t.Errorf("got %q, want breached", res.Status)
	}
}

func TestEvaluateMissingValue(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		want  models.HealthStatus
		value float64
	}{
		{"nan default", nil, models.StatusCompliant, math.NaN()},
		{"inf default", nil, models.StatusCompliant, math.Inf(1)},
		{"nan warning policy", []Option{WithMissingDataStatus(models.StatusWarning)}, models.StatusWarning, math.NaN()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := NewEvaluator(tc.opts...).Evaluate(leverageCovenant(), tc.value, 3.5, models.OpLessEqual)
			if err != nil {
				t.Fatal(err)
			}
			if res.Status != tc.want || !res.InsufficientData {
				t.Errorf("got %+v, want status %q with insufficient data", res, tc.want)
			}
		})
	}
}

func TestBuffer(t *testing.T) {
	tests := []struct {
		op        models.Operator
		threshold float64
		current   float64
		want      float64
	}{
		{models.OpLessEqual, 3.5, 2.8, 20},
		{models.OpLess, 4, 5, -25},
		{models.OpGreaterEqual, 2, 3, 50},
		{models.OpGreater, 2, 1, -50},
		{models.OpEqual, 10, 9, -10},
		{models.OpNotEqual, 10, 12, 20},
		{models.OpGreaterEqual, 0, 0.5, 50},
		{models.OpGreaterEqual, -2, -1, 50},
	}
	for _, tc := range tests {
		got := Buffer(tc.current, tc.threshold, tc.op)
		if !approx(got, tc.want, 1e-9) {
			t.Errorf("Buffer(%v %s %v): got %f, want %f", tc.current, tc.op, tc.threshold, got, tc.want)
		}
	}

	if b := Buffer(math.MaxFloat64, -math.MaxFloat64, models.OpGreaterEqual); math.IsInf(b, 0) || math.IsNaN(b) {
		t.Errorf("overflowing buffer should stay finite, got %f", b)
	}
}

func TestDisplayBuffer(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{20, 20}, {250, 100}, {-900, -100}, {-100, -100},
	}
	for _, tc := range tests {
		if got := DisplayBuffer(tc.in); got != tc.want {
			t.Errorf("DisplayBuffer(%f): got %f, want %f", tc.in, got, tc.want)
		}
	}
}

func TestTrend(t *testing.T) {
	e := NewEvaluator()
	tests := []struct {
		name   string
		op     models.Operator
		values []float64
		want   models.Trend
	}{
		{"single point", models.OpLessEqual, []float64{3}, models.TrendStable},
		{"leverage falling", models.OpLessEqual, []float64{3.2, 3.1, 2.8, 2.6}, models.TrendImproving},
		{"leverage rising", models.OpLessEqual, []float64{2.6, 2.8, 3.1, 3.3}, models.TrendDeteriorating},
		{"within band", models.OpLessEqual, []float64{3.00, 3.02, 3.05, 3.04}, models.TrendStable},
		{"coverage rising", models.OpGreaterEqual, []float64{2.0, 2.2, 2.6, 2.9}, models.TrendImproving},
		{"coverage falling", models.OpGreater, []float64{3.0, 2.9, 2.4, 2.2}, models.TrendDeteriorating},
		{"odd window", models.OpGreaterEqual, []float64{1, 100, 2}, models.TrendImproving},
		{"equal drifting away", models.OpEqual, []float64{1.0, 1.0, 1.5, 1.6}, models.TrendDeteriorating},
		{"not equal moving away", models.OpNotEqual, []float64{5.1, 5.2, 6, 7}, models.TrendImproving},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			threshold := 3.5
			switch tc.op {
			case models.OpGreaterEqual, models.OpGreater:
				threshold = 1.5
			case models.OpEqual:
				threshold = 1.0
			case models.OpNotEqual:
				threshold = 5.0
			}
			if got := e.Trend(tc.values, threshold, tc.op); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func points(vals ...float64) []models.MetricPoint {
	out := make([]models.MetricPoint, len(vals))
	for i, v := range vals {
		out[i] = models.MetricPoint{Value: v, ObservedAt: t0.AddDate(0, 0, 10*i)}
	}
	return out
}

func TestDaysToBreach(t *testing.T) {
	tests := []struct {
		name      string
		op        models.Operator
		threshold float64
		pts       []models.MetricPoint
		status    models.HealthStatus
		want      *int
	}{
		{"rising leverage", models.OpLessEqual, 3.5, points(2.5, 3.0), models.StatusCompliant, intPtr(10)},
		{"rounds up", models.OpLessEqual, 3.5, points(2.5, 3.0, 3.3), models.StatusWarning, intPtr(7)},
		{"falling leverage", models.OpLessEqual, 3.5, points(3.0, 2.5), models.StatusCompliant, nil},
		{"flat", models.OpLessEqual, 3.5, points(3.0, 3.0), models.StatusCompliant, nil},
		{"one point", models.OpLessEqual, 3.5, points(3.0), models.StatusCompliant, nil},
		{"falling coverage", models.OpGreaterEqual, 2.0, points(3.0, 2.5), models.StatusCompliant, intPtr(10)},
		{"rising coverage", models.OpGreaterEqual, 2.0, points(2.5, 3.0), models.StatusCompliant, nil},
		{"equal op", models.OpEqual, 1, points(1, 1), models.StatusCompliant, nil},
		{"not equal approaching", models.OpNotEqual, 5, points(3, 4), models.StatusCompliant, intPtr(10)},
		{"already breached", models.OpLessEqual, 3.5, points(3.0, 4.0), models.StatusBreached, intPtr(0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DaysToBreach(tc.pts, tc.threshold, tc.op, tc.status)
			switch {
			case tc.want == nil && got != nil:
				t.Errorf("got %d, want none", *got)
			case tc.want != nil && got == nil:
				t.Errorf("got none, want %d", *tc.want)
			case tc.want != nil && *got != *tc.want:
				t.Errorf("got %d, want %d", *got, *tc.want)
			}
		})
	}

	sameTime := []models.MetricPoint{{Value: 1, ObservedAt: t0}, {Value: 2, ObservedAt: t0}}
	if got := DaysToBreach(sameTime, 3.5, models.OpLessEqual, models.StatusCompliant); got != nil {
		t.Errorf("zero elapsed time should give none, got %d", *got)
	}
}

func TestHealthSnapshot(t *testing.T) {
	now := t0.AddDate(0, 3, 0)
	e := NewEvaluator(WithClock(func() time.Time { return now }))

	// Deliberately out of order; Health sorts by time.
	history := []models.MetricPoint{
		{Value: 3.0, ObservedAt: t0.AddDate(0, 0, 20)},
		{Value: 2.5, ObservedAt: t0},
		{Value: math.NaN(), ObservedAt: t0.AddDate(0, 0, 25)},
		{Value: 2.7, ObservedAt: t0.AddDate(0, 0, 10)},
		{Value: 3.2, ObservedAt: t0.AddDate(0, 0, 30)},
	}
	h, err := e.Health(leverageCovenant(), history)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.CovenantID != "cov-1" || !h.ComputedAt.Equal(now) {
		t.Errorf("identity fields: %+v", h)
	}
	if h.LastReportedValue == nil || *h.LastReportedValue != 3.2 {
		t.Fatalf("last value: %v", h.LastReportedValue)
	}
	if h.Status != models.StatusWarning {
		t.Errorf("status: got %q, want warning", h.Status)
	}
	if h.Trend != models.TrendDeteriorating {
		t.Errorf("trend: got %q, want deteriorating", h.Trend)
	}
	if h.DaysToBreach == nil || *h.DaysToBreach != 15 {
		t.Errorf("days to breach: got %v, want 15", h.DaysToBreach)
	}
	if h.InsufficientData {
		t.Error("should not be flagged as insufficient")
	}
}

func TestHealthMissingData(t *testing.T) {
	e := NewEvaluator()
	h, err := e.Health(leverageCovenant(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != models.StatusCompliant || h.Trend != models.TrendStable || !h.InsufficientData {
		t.Errorf("got %+v, want compliant/stable/insufficient", h)
	}
	if h.BufferPercentage != nil || h.LastReportedValue != nil || h.DaysToBreach != nil {
		t.Errorf("missing data should leave optional fields empty: %+v", h)
	}

	e = NewEvaluator(WithMissingDataStatus(models.StatusWarning))
	h, _ = e.Health(leverageCovenant(), []models.MetricPoint{{Value: math.NaN(), ObservedAt: t0}})
	if h.Status != models.StatusWarning {
		t.Errorf("configured missing status: got %q", h.Status)
	}
}

func intPtr(i int) *int { return &i }

func TestHealthNewestValueNotANumber(t *testing.T) {
	e := NewEvaluator()
	history := points(2.0, 2.5, math.NaN())
	h, err := e.Health(leverageCovenant(), history)
	if err != nil {
		t.Fatal(err)
	}
	if !h.InsufficientData {
		t.Error("a NaN newest report should flag insufficient data")
	}
	if h.LastReportedValue != nil || h.BufferPercentage != nil || h.DaysToBreach != nil {
		t.Errorf("older values must not stand in for the current one: %+v", h)
	}
	if h.Trend != models.TrendDeteriorating {
		t.Errorf("trend from older points: got %q, want deteriorating", h.Trend)
	}

	// An older NaN is simply skipped.
	h, _ = e.Health(leverageCovenant(), points(2.0, math.Inf(1), 2.5))
	if h.InsufficientData || h.LastReportedValue == nil || *h.LastReportedValue != 2.5 {
		t.Errorf("older non-finite point: got %+v", h)
	}
}
