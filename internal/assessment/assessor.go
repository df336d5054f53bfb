package assessment

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/internal/cache"
	"github.com/covenantwatch/covenantwatch/internal/metrics"
	"github.com/covenantwatch/covenantwatch/internal/risk"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// ErrEmptyText is returned when there is no contract text to extract from.
var ErrEmptyText = errors.New("assessment: contract text is empty")

// Assessor tries the model first and falls back to local heuristics on any
// assessment error. Only model results are cached.
type Assessor struct {
	client *Client
	agg    *risk.Aggregator
	cache  cache.Cache
	log    *zap.Logger
}

// AssessorOption configures an Assessor.
type AssessorOption func(*Assessor)

// WithCache caches model results by content hash.
func WithCache(c cache.Cache) AssessorOption {
	return func(a *Assessor) { a.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) AssessorOption {
	return func(a *Assessor) { a.log = l }
}

// NewAssessor creates an Assessor. client may be nil or disabled.
func NewAssessor(client *Client, agg *risk.Aggregator, opts ...AssessorOption) *Assessor {
	a := &Assessor{client: client, agg: agg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		a.client = NewClient(nil, a.log)
	}
	if a.agg == nil {
		a.agg = risk.NewAggregator()
	}
	a.log = a.log.Named("assessor")
	return a
}

// AIEnabled reports whether model calls will be attempted.
func (a *Assessor) AIEnabled() bool { return a.client.Enabled() }

// ExtractCovenants extracts covenants from contract text. It only fails when
// text is empty or ctx is done.
func (a *Assessor) ExtractCovenants(ctx context.Context, contractID, text string) (models.CovenantExtractionResult, error) {
	if strings.TrimSpace(text) == "" {
		return models.CovenantExtractionResult{}, ErrEmptyText
	}

	key := cache.Key(OpExtract, contractID, text)
	var res models.CovenantExtractionResult
	if a.cached(ctx, key, &res) {
		return res, nil
	}

	out, err := a.client.ExtractCovenants(ctx, contractID, text)
	if err == nil {
		a.store(ctx, key, out)
		return *out, nil
	}
	if ctx.Err() != nil {
		return models.CovenantExtractionResult{}, ctx.Err()
	}
	a.fallback(OpExtract, err)
	return HeuristicExtract(contractID, text), nil
}

// AssessCovenantRisk returns a breach-risk assessment for one covenant.
func (a *Assessor) AssessCovenantRisk(ctx context.Context, in RiskInput, extra string) (models.RiskAssessment, error) {
	key, keyErr := riskKey(in, extra)
	var res models.RiskAssessment
	if keyErr == nil && a.cached(ctx, key, &res) {
		return res, nil
	}

	out, err := a.client.AnalyzeCovenantRisk(ctx, in, extra)
	if err == nil {
		if keyErr == nil {
			a.store(ctx, key, out)
		}
		return *out, nil
	}
	if ctx.Err() != nil {
		return models.RiskAssessment{}, ctx.Err()
	}
	a.fallback(OpAnalyzeRisk, err)
	return risk.AssessCovenant(in.Covenant, in.Health, in.Events), nil
}

// AssessEventImpact returns how event affects the covenants in ec.
func (a *Assessor) AssessEventImpact(ctx context.Context, event models.AdverseEvent, ec EventContext) (models.ImpactAssessment, error) {
	key, keyErr := eventKey(event, ec)
	var res models.ImpactAssessment
	if keyErr == nil && a.cached(ctx, key, &res) {
		return res, nil
	}

	out, err := a.client.AnalyzeAdverseEvent(ctx, event, ec)
	if err == nil {
		if keyErr == nil {
			a.store(ctx, key, out)
		}
		return *out, nil
	}
	if ctx.Err() != nil {
		return models.ImpactAssessment{}, ctx.Err()
	}
	a.fallback(OpAnalyzeEvent, err)
	return a.agg.Impact(event, ec.Covenants), nil
}

// riskKey identifies a risk assessment by the data the model sees. Computation
// timestamps and earlier narratives change on every refresh and are left out.
func riskKey(in RiskInput, extra string) (string, error) {
	h := in.Health
	h.ComputedAt = time.Time{}
	h.AINarrative = ""
	var events *models.RiskAggregation
	if in.Events != nil {
		ev := *in.Events
		ev.ComputedAt = time.Time{}
		events = &ev
	}
	return cache.KeyJSON(OpAnalyzeRisk, struct {
		Covenant models.Covenant
		Health   models.CovenantHealth
		History  []models.MetricPoint
		Events   *models.RiskAggregation
		Extra    string
	}{in.Covenant, h, in.History, events, extra})
}

func eventKey(event models.AdverseEvent, ec EventContext) (string, error) {
	event.CreatedAt = time.Time{}
	return cache.KeyJSON(OpAnalyzeEvent, struct {
		Event models.AdverseEvent
		Ctx   EventContext
	}{event, ec})
}

func (a *Assessor) fallback(op string, err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = KindTransport
	}
	metrics.AIFallbacksTotal.WithLabelValues(op, string(kind)).Inc()
	if kind == KindNoAPIKey {
		a.log.Debug("AI disabled, using heuristics", zap.String("op", op))
		return
	}
	a.log.Warn("AI assessment failed, using heuristics", zap.String("op", op), zap.Error(err))
}

func (a *Assessor) cached(ctx context.Context, key string, dst any) bool {
	if a.cache == nil {
		return false
	}
	ok, err := a.cache.Get(ctx, key, dst)
	if err != nil {
		a.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (a *Assessor) store(ctx context.Context, key string, v any) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Set(ctx, key, v); err != nil {
		a.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
