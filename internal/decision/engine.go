// Package decision implements the decision engine: four decide points backed
// by the pattern cache, an LLM primary/fallback pair, and deterministic
// heuristics that keep the pipeline correct when no LLM is configured.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/internal/observability"
	"github.com/uomlabs/uom/internal/pattern"
)

// Backend is an LLM that can answer a decision point with a JSON payload
// matching that point's decision type.
type Backend interface {
	Decide(ctx context.Context, point domain.DecisionPoint, req domain.DecisionRequest) (json.RawMessage, error)
}

// Config tunes the engine.
type Config struct {
	// LLMTimeout bounds a single backend call.
	LLMTimeout time.Duration
}

// Engine resolves decisions in a fixed order: pattern cache, trivially safe
// fast path, primary LLM, fallback LLM, then the deterministic heuristics.
type Engine struct {
	patterns *pattern.Service
	primary  Backend
	fallback Backend
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates a decision engine. patterns, primary, and fallback may
// each be nil; with everything nil the engine runs on heuristics alone.
func NewEngine(patterns *pattern.Service, primary, fallback Backend, cfg Config, logger *slog.Logger) *Engine {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 30 * time.Second
	}
	return &Engine{
		patterns: patterns,
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		logger:   observability.WithComponent(logger, "decision"),
	}
}

// DecideInitialTriage picks the sandbox tier, priority, tools, and timeout.
func (e *Engine) DecideInitialTriage(ctx context.Context, req domain.DecisionRequest) (*domain.Decision[domain.TriageDecision], error) {
	return decide(ctx, e, domain.PointInitialTriage, req, fallbackTriage, triageFastPath)
}

// DecideSecurityAssessment decides whether processing may continue.
func (e *Engine) DecideSecurityAssessment(ctx context.Context, req domain.DecisionRequest) (*domain.Decision[domain.SecurityDecision], error) {
	return decide(ctx, e, domain.PointSecurityAssessment, req, fallbackSecurity, securityFastPath)
}

// DecideProcessingRoute picks the downstream service and method.
func (e *Engine) DecideProcessingRoute(ctx context.Context, req domain.DecisionRequest) (*domain.Decision[domain.RouteDecision], error) {
	return decide(ctx, e, domain.PointProcessingRoute, req, fallbackRoute, nil)
}

// DecidePostProcessing picks storage destinations and learning behavior.
func (e *Engine) DecidePostProcessing(ctx context.Context, req domain.DecisionRequest) (*domain.Decision[domain.PostProcessDecision], error) {
	return decide(ctx, e, domain.PointPostProcessing, req, fallbackPostProcess, nil)
}

// fastPathFn is a trivially safe heuristic tried before any LLM call. It
// returns ok false when the request is not trivially decidable.
type fastPathFn[T any] func(req domain.DecisionRequest) (payload T, reason string, ok bool)

// triageFastPath decides binaries without an LLM; nothing is cheaper or more
// reliable than the extension/MIME table for that case.
func triageFastPath(req domain.DecisionRequest) (domain.TriageDecision, string, bool) {
	if IsKnownBinary(req.File) {
		d := fallbackTriage(req)
		return d, d.Reason, true
	}
	return domain.TriageDecision{}, "", false
}

// securityFastPath blocks on an unambiguous sandbox verdict without
// consulting an LLM.
func securityFastPath(req domain.DecisionRequest) (domain.SecurityDecision, string, bool) {
	if req.SandboxResult != nil && req.SandboxResult.Security.IsMalicious {
		d := fallbackSecurity(req)
		return d, d.Reason, true
	}
	return domain.SecurityDecision{}, "", false
}

// decide runs the resolution order for one decision point.
func decide[T any](
	ctx context.Context,
	e *Engine,
	point domain.DecisionPoint,
	req domain.DecisionRequest,
	heuristic func(domain.DecisionRequest) T,
	fastPath fastPathFn[T],
) (*domain.Decision[T], error) {
	start := time.Now()

	finish := func(payload T, source domain.DecisionSource, confidence float64, reason string, learn bool) *domain.Decision[T] {
		d := &domain.Decision[T]{
			Point:            point,
			Payload:          payload,
			Confidence:       confidence,
			Reason:           reason,
			DurationMs:       time.Since(start).Milliseconds(),
			Source:           source,
			LearnFromOutcome: learn,
		}
		e.logger.Debug("decision resolved",
			slog.String("point", string(point)),
			slog.String("source", string(source)),
			slog.Float64("confidence", confidence),
			slog.String("correlation_id", req.CorrelationID),
		)
		return d
	}

	// 1. Pattern cache.
	if e.patterns != nil {
		fp := pattern.FingerprintFor(req.File, point)
		match, err := e.patterns.FindPattern(ctx, fp, 0)
		if err != nil {
			e.logger.Warn("pattern cache lookup failed",
				slog.String("point", string(point)),
				slog.String("error", err.Error()),
			)
		} else if match != nil && match.Pattern.DecisionPayload != "" {
			var payload T
			if err := json.Unmarshal([]byte(match.Pattern.DecisionPayload), &payload); err == nil {
				return finish(payload, domain.SourcePatternCache, match.Confidence, match.Reason, true), nil
			}
			e.logger.Warn("cached decision payload undecodable, ignoring",
				slog.String("pattern_id", match.Pattern.ID.String()),
			)
		}
	}

	// 2. Trivially safe fast path.
	if fastPath != nil {
		if payload, reason, ok := fastPath(req); ok {
			return finish(payload, domain.SourceFastPath, 0.9, reason, false), nil
		}
	}

	// 3. Primary LLM, then 4. fallback LLM.
	for _, attempt := range []struct {
		backend Backend
		source  domain.DecisionSource
	}{
		{e.primary, domain.SourceLLMPrimary},
		{e.fallback, domain.SourceLLMFallback},
	} {
		if attempt.backend == nil {
			continue
		}
		payload, reason, confidence, err := callBackend[T](ctx, e, attempt.backend, point, req)
		if err != nil {
			e.logger.Warn("llm backend failed",
				slog.String("point", string(point)),
				slog.String("source", string(attempt.source)),
				slog.String("error", err.Error()),
			)
			continue
		}
		return finish(payload, attempt.source, confidence, reason, true), nil
	}

	// 5. Deterministic heuristic.
	payload := heuristic(req)
	return finish(payload, domain.SourceFastPath, fallbackConfidence, heuristicReason(payload), false), nil
}

// backendEnvelope is the JSON shape backends answer with.
type backendEnvelope struct {
	Decision   json.RawMessage `json:"decision"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
}

// callBackend invokes one LLM backend under the configured timeout.
func callBackend[T any](ctx context.Context, e *Engine, backend Backend, point domain.DecisionPoint, req domain.DecisionRequest) (T, string, float64, error) {
	var zero T

	ctx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
	defer cancel()

	raw, err := backend.Decide(ctx, point, req)
	if err != nil {
		return zero, "", 0, err
	}

	var envelope backendEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return zero, "", 0, fmt.Errorf("decoding backend envelope: %w", err)
	}
	if len(envelope.Decision) == 0 {
		return zero, "", 0, fmt.Errorf("backend returned no decision")
	}

	var payload T
	if err := json.Unmarshal(envelope.Decision, &payload); err != nil {
		return zero, "", 0, fmt.Errorf("decoding backend decision: %w", err)
	}

	confidence := envelope.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}
	return payload, envelope.Reason, confidence, nil
}

// heuristicReason extracts a Reason field when the payload carries one.
func heuristicReason(payload any) string {
	switch p := payload.(type) {
	case domain.TriageDecision:
		return p.Reason
	case domain.SecurityDecision:
		return p.Reason
	case domain.RouteDecision:
		return p.Reason
	case domain.PostProcessDecision:
		return p.Reason
	default:
		return ""
	}
}

// StorePattern records a successful decision against the request fingerprint
// so future requests with the same shape resolve from cache.
func (e *Engine) StorePattern(ctx context.Context, req domain.DecisionRequest, point domain.DecisionPoint, payload any) error {
	if e.patterns == nil {
		return nil
	}
	fp := pattern.FingerprintFor(req.File, point)
	return e.patterns.RecordSuccess(ctx, fp, payload)
}

// StoreLearnedPattern records a successful routing decision against the
// request fingerprint. When the processor reported a generated recipe, the
// pattern also carries the executable body so later files with the same
// fingerprint can skip orchestration entirely.
func (e *Engine) StoreLearnedPattern(ctx context.Context, req domain.DecisionRequest, route domain.RouteDecision, gen *domain.GeneratedPattern) error {
	if e.patterns == nil {
		return nil
	}
	payload, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("encoding route decision: %w", err)
	}
	body := pattern.Body{DecisionPayload: string(payload)}
	if gen != nil && gen.Code != "" {
		lang := models.PatternLanguage(strings.ToLower(gen.Language))
		if lang.Valid() {
			body.ProcessingCode = gen.Code
			body.Language = lang
			body.Packages = gen.Packages
		} else {
			e.logger.Warn("ignoring generated pattern with unsupported language",
				slog.String("language", gen.Language),
			)
		}
	}
	fp := pattern.FingerprintFor(req.File, domain.PointProcessingRoute)
	_, err = e.patterns.StorePattern(ctx, fp, body)
	return err
}

// RecordPatternFailure records a pipeline failure against the request's
// routing fingerprint so a bad cached decision ages out.
func (e *Engine) RecordPatternFailure(ctx context.Context, req domain.DecisionRequest) error {
	if e.patterns == nil {
		return nil
	}
	fp := pattern.FingerprintFor(req.File, domain.PointProcessingRoute)
	return e.patterns.RecordFailure(ctx, fp)
}
