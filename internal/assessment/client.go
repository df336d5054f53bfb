package assessment

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/internal/llm"
	"github.com/covenantwatch/covenantwatch/internal/metrics"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

const (
	OpExtract      = "extract_covenants"
	OpAnalyzeRisk  = "analyze_covenant_risk"
	OpAnalyzeEvent = "analyze_adverse_event"
)

// Client runs the three AI assessments against a Generator and normalizes the
// results. A Client with a nil Generator fails every call with KindNoAPIKey.
type Client struct {
	gen llm.Generator
	log *zap.Logger
}

// NewClient creates a client. gen may be nil when no API key is configured.
func NewClient(gen llm.Generator, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{gen: gen, log: log.Named("assessment")}
}

// Enabled reports whether a model is configured.
func (c *Client) Enabled() bool { return c != nil && c.gen != nil }

// ExtractCovenants asks the model for every covenant in a contract. Returned
// covenants are normalized and carry contractID.
func (c *Client) ExtractCovenants(ctx context.Context, contractID, text string) (*models.CovenantExtractionResult, error) {
	var raw rawExtraction
	if err := c.call(ctx, OpExtract, ExtractionSystemPrompt, extractionPrompt(text), &raw); err != nil {
		return nil, err
	}
	res := NormalizeExtraction(raw, contractID)
	return &res, nil
}

// AnalyzeCovenantRisk asks the model how likely a covenant is to be breached.
func (c *Client) AnalyzeCovenantRisk(ctx context.Context, in RiskInput, extra string) (*models.RiskAssessment, error) {
	var raw rawRisk
	if err := c.call(ctx, OpAnalyzeRisk, RiskSystemPrompt, riskPrompt(in, extra), &raw); err != nil {
		return nil, err
	}
	ra := normalizeRisk(raw, in.Covenant.ID)
	return &ra, nil
}

// AnalyzeAdverseEvent asks the model how an event affects the given covenants.
// Affected covenants the model names that are not in ec are dropped.
func (c *Client) AnalyzeAdverseEvent(ctx context.Context, event models.AdverseEvent, ec EventContext) (*models.ImpactAssessment, error) {
	var raw rawImpact
	if err := c.call(ctx, OpAnalyzeEvent, EventSystemPrompt, eventPrompt(event, ec), &raw); err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(ec.Covenants))
	for _, cov := range ec.Covenants {
		known[cov.ID] = true
	}
	ia := normalizeImpact(raw, event.ID, known)
	return &ia, nil
}

func (c *Client) call(ctx context.Context, op, system, prompt string, out any) error {
	if !c.Enabled() {
		metrics.AICallsTotal.WithLabelValues(op, string(KindNoAPIKey)).Inc()
		return &Error{Op: op, Kind: KindNoAPIKey, Err: llm.ErrNoAPIKey}
	}

	start := time.Now()
	resp, err := c.gen.Chat(ctx, []llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(prompt),
	}, &llm.ChatOptions{JSON: true})
	metrics.AICallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		ae := transportError(op, err)
		metrics.AICallsTotal.WithLabelValues(op, string(ae.Kind)).Inc()
		if !errors.Is(err, context.Canceled) {
			c.log.Warn("model call failed", zap.String("op", op), zap.Error(err))
		}
		return ae
	}

	if err := decodeJSON(resp.Content, out); err != nil {
		metrics.AICallsTotal.WithLabelValues(op, string(KindParse)).Inc()
		c.log.Warn("unparseable model output",
			zap.String("op", op),
			zap.String("finish_reason", string(resp.FinishReason)),
			zap.Int("chars", len(resp.Content)),
			zap.Error(err))
		return parseError(op, err)
	}

	metrics.AICallsTotal.WithLabelValues(op, "ok").Inc()
	c.log.Debug("model call",
		zap.String("op", op),
		zap.Int("attempts", resp.Attempts),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", resp.Latency))
	return nil
}
