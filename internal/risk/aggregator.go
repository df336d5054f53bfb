// Package risk aggregates a borrower's adverse events into a single
// recency-weighted risk view and scores how events bear on covenants.
package risk

import (
	"math"
	"sort"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

const (
	minEventScore = 1.0
	maxEventScore = 10.0

	// count amplification: +10% per additional event, up to five extra events.
	amplificationStep = 0.1
	amplificationCap  = 5
)

// Aggregator computes RiskAggregation values. It is stateless apart from
// configuration and safe for concurrent use.
type Aggregator struct {
	recentWindow  time.Duration
	halfLife      time.Duration
	trendMargin   float64
	highRiskScore float64
	now           func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRecentWindow sets the age up to which events count at full weight.
func WithRecentWindow(d time.Duration) Option {
	return func(a *Aggregator) { a.recentWindow = d }
}

// WithHalfLife sets the decay half-life applied beyond the recent window.
func WithHalfLife(d time.Duration) Option {
	return func(a *Aggregator) { a.halfLife = d }
}

// WithTrendMargin sets the average-score gap that makes a trend non-stable.
func WithTrendMargin(m float64) Option {
	return func(a *Aggregator) { a.trendMargin = m }
}

// WithHighRiskScore sets the score from which an event is flagged high-risk.
func WithHighRiskScore(s float64) Option {
	return func(a *Aggregator) { a.highRiskScore = s }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator returns an Aggregator with a 30-day window and half-life.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		recentWindow:  30 * 24 * time.Hour,
		halfLife:      30 * 24 * time.Hour,
		trendMargin:   1.5,
		highRiskScore: 7,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RecencyWeight is 1 for events inside the recent window and halves every
// half-life after that. Future-dated events count as current.
func (a *Aggregator) RecencyWeight(eventDate time.Time) float64 {
	age := a.now().Sub(eventDate)
	if age <= a.recentWindow {
		return 1
	}
	if a.halfLife <= 0 {
		return 0
	}
	excess := float64(age-a.recentWindow) / float64(a.halfLife)
	return math.Exp(-math.Ln2 * excess)
}

// Aggregate combines events into one RiskAggregation.
//
// score = weighted mean × (0.5 + 0.5·max weight) × (1 + 0.1·min(N−1, 5)),
// clamped to [0, 10]. The weighted mean uses recency weights; the second
// factor discounts a pool made only of stale events; the third nudges the
// score up as events accumulate.
func (a *Aggregator) Aggregate(events []models.AdverseEvent) models.RiskAggregation {
	agg := models.RiskAggregation{
		RiskFactors: []string{},
		RiskTrend:   models.RiskStable,
		EventCount:  len(events),
		ComputedAt:  a.now(),
	}
	if len(events) == 0 {
		return agg
	}

	sorted := sortByRecency(events)

	var weightedSum, totalWeight, plainSum, maxWeight float64
	for _, ev := range sorted {
		s := clampScore(ev.RiskScore)
		w := a.RecencyWeight(ev.EventDate)
		weightedSum += s * w
		totalWeight += w
		plainSum += s
		if w > maxWeight {
			maxWeight = w
		}
	}

	mean := plainSum / float64(len(sorted))
	if totalWeight > 0 {
		mean = weightedSum / totalWeight
	}
	staleness := 0.5 + 0.5*maxWeight
	amplification := 1 + amplificationStep*float64(min(len(sorted)-1, amplificationCap))

	agg.AggregateRiskScore = math.Max(0, math.Min(maxEventScore, mean*staleness*amplification))
	agg.RiskFactors = a.riskFactors(sorted)
	agg.HighestRiskEvent = highestRisk(sorted)
	agg.RiskTrend = a.trend(sorted)
	return agg
}

// riskFactors lists event-type labels, most recent first, without duplicates.
func (a *Aggregator) riskFactors(sorted []models.AdverseEvent) []string {
	seen := make(map[string]bool)
	factors := []string{}
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			factors = append(factors, f)
		}
	}
	for _, ev := range sorted {
		label := ev.EventType.Label()
		add(label)
		if clampScore(ev.RiskScore) >= a.highRiskScore {
			add("High-risk " + lowerFirst(label))
		}
	}
	return factors
}

func (a *Aggregator) trend(sorted []models.AdverseEvent) models.RiskTrend {
	now := a.now()
	var recent, older []float64
	for _, ev := range sorted {
		if now.Sub(ev.EventDate) <= a.recentWindow {
			recent = append(recent, clampScore(ev.RiskScore))
		} else {
			older = append(older, clampScore(ev.RiskScore))
		}
	}

	if len(recent) == 0 {
		for _, s := range older {
			if s >= a.highRiskScore {
				return models.RiskDecreasing
			}
		}
		return models.RiskStable
	}
	if len(older) == 0 {
		return models.RiskStable
	}

	diff := average(recent) - average(older)
	switch {
	case diff >= a.trendMargin:
		return models.RiskIncreasing
	case -diff >= a.trendMargin:
		return models.RiskDecreasing
	}
	return models.RiskStable
}

// highestRisk picks the max-score event; sorted is newest first so the first
// maximum found is the most recent one.
func highestRisk(sorted []models.AdverseEvent) *models.AdverseEvent {
	best := 0
	for i := 1; i < len(sorted); i++ {
		if sorted[i].RiskScore > sorted[best].RiskScore {
			best = i
		}
	}
	ev := sorted[best]
	return &ev
}

// sortByRecency returns a copy of events ordered newest first.
func sortByRecency(events []models.AdverseEvent) []models.AdverseEvent {
	out := make([]models.AdverseEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventDate.After(out[j].EventDate)
	})
	return out
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return minEventScore
	}
	return math.Max(minEventScore, math.Min(maxEventScore, s))
}

func average(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
