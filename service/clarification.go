package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"geocompliance-backend/llm"
	"geocompliance-backend/models"
	"geocompliance-backend/session"
	"geocompliance-backend/telemetry"
)

const minContentWords = 3

// State of one clarification id
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingResponse State = "awaiting_response"
)

// Outcome is either a final assessment or a question that must be answered
// before the analysis can continue
type Outcome struct {
	Assessment    *models.ComplianceAssessment `json:"assessment,omitempty"`
	Clarification *models.Clarification        `json:"clarification,omitempty"`
}

// Coordinator drives an analysis through clarification rounds. Each suspended
// analysis lives in the session store under its own id, so concurrent
// analyses never share state.
type Coordinator struct {
	matcher *MatchingService
	store   session.Store
	ttl     time.Duration
	newID   func() string
	now     func() time.Time
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// CoordinatorOption is a functional option for Coordinator
type CoordinatorOption func(*Coordinator)

// CoordWithStore sets where pending clarifications are kept
func CoordWithStore(s session.Store) CoordinatorOption {
	return func(c *Coordinator) {
		c.store = s
	}
}

// CoordWithTTL sets how long a clarification stays resumable
func CoordWithTTL(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// CoordWithIDGenerator overrides clarification id generation
func CoordWithIDGenerator(f func() string) CoordinatorOption {
	return func(c *Coordinator) {
		c.newID = f
	}
}

// CoordWithClock overrides the clock
func CoordWithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// CoordWithLogger sets the logger
func CoordWithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates a coordinator on top of a matching service
func NewCoordinator(matcher *MatchingService, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		matcher: matcher,
		store:   session.NewMemoryStore(),
		ttl:     15 * time.Minute,
		newID:   func() string { return uuid.NewString() },
		now:     time.Now,
		logger:  slog.Default().With("component", "clarification"),
		metrics: telemetry.MustMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Analyze starts a new analysis
func (c *Coordinator) Analyze(ctx context.Context, req AssessRequest) (*Outcome, error) {
	if strings.TrimSpace(req.FeatureText) == "" {
		return nil, ErrEmptyFeatureText
	}
	actx := models.AnalysisContext{FeatureText: strings.TrimSpace(req.FeatureText)}
	for _, j := range req.Jurisdictions {
		if j = strings.ToUpper(strings.TrimSpace(j)); j != "" && !slices.Contains(actx.Jurisdictions, j) {
			actx.Jurisdictions = append(actx.Jurisdictions, j)
		}
	}
	return c.step(ctx, actx)
}

// Resume answers a pending clarification. An answer outside the offered
// options re-prompts under a new id. A cancelled resume drops the pending
// entry; any other failure puts it back so the same answer can be retried.
func (c *Coordinator) Resume(ctx context.Context, id, answer string) (*Outcome, error) {
	pending, err := c.store.Take(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrClarificationNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := c.resume(ctx, pending, answer)
	if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		if perr := c.store.Put(context.WithoutCancel(ctx), pending, c.ttl); perr != nil {
			c.logger.ErrorContext(ctx, "failed to restore clarification", "id", id, "error", perr)
		} else {
			c.logger.WarnContext(ctx, "clarification restored after failed resume", "id", id, "error", err)
		}
	}
	return out, err
}

func (c *Coordinator) resume(ctx context.Context, pending *session.PendingClarification, answer string) (*Outcome, error) {
	id := pending.ID
	actx := pending.Context.Clone()
	asked := underlying(pending.Request)

	value, ok := pending.Request.Resolve(answer)
	if !ok {
		c.logger.InfoContext(ctx, "invalid clarification answer", "id", id, "type", asked.Type(), "answer", answer)
		retry := &models.ClarifyResponseRequest{
			Prompt:   fmt.Sprintf("%q is not one of the available options. %s", strings.TrimSpace(answer), asked.Question()),
			Reason:   ErrInvalidClarificationAnswer.Error(),
			Original: asked,
			Rejected: strings.TrimSpace(answer),
		}
		if actx.Rounds >= c.matcher.cfg.MaxClarificationRounds {
			eval, err := c.matcher.Evaluate(ctx, actx)
			if err != nil {
				return nil, err
			}
			return c.exhausted(eval, actx), nil
		}
		return c.suspend(ctx, actx, retry)
	}

	switch asked.Type() {
	case models.ClarifyGeneral:
		actx.Details = append(actx.Details, value)
	case models.ClarifyGeographicScope:
		switch value {
		case models.ScopeAll:
			actx.Jurisdictions = c.matcher.jurisdictions.Codes()
		case models.ScopeMultiple:
			if actx.Rounds >= c.matcher.cfg.MaxClarificationRounds {
				break
			}
			return c.suspend(ctx, actx, &models.SpecificRegionsRequest{
				Prompt:  "Which regions does this feature target? Answer with a comma separated list.",
				Reason:  "The feature was described as targeting multiple regions.",
				Regions: c.matcher.jurisdictions.Codes(),
			})
		default:
			actx.Jurisdictions = []string{value}
		}
	case models.ClarifySpecificRegions:
		actx.Jurisdictions = strings.Split(value, ",")
	case models.ClarifyFeatureCategory:
		actx.Category = value
	case models.ClarifyRiskAssessment:
		actx.RiskLevel = value
	}
	return c.step(ctx, actx)
}

// Cancel drops a pending clarification
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	if _, err := c.store.Take(ctx, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrClarificationNotFound, id)
		}
		return err
	}
	c.logger.InfoContext(ctx, "clarification cancelled", "id", id)
	return nil
}

// State reports whether id is awaiting an answer
func (c *Coordinator) State(ctx context.Context, id string) (State, error) {
	_, err := c.store.Peek(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return StateIdle, nil
	case err != nil:
		return "", err
	}
	return StateAwaitingResponse, nil
}

// Pending returns the question waiting under id
func (c *Coordinator) Pending(ctx context.Context, id string) (*models.Clarification, error) {
	p, err := c.store.Peek(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrClarificationNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &models.Clarification{ID: p.ID, Request: p.Request}, nil
}

func (c *Coordinator) step(ctx context.Context, actx models.AnalysisContext) (*Outcome, error) {
	eval, err := c.matcher.Evaluate(ctx, actx)
	if err != nil {
		return nil, err
	}
	req := c.nextRequest(actx, eval)
	if req == nil {
		return &Outcome{Assessment: c.finalize(eval, actx)}, nil
	}
	if actx.Rounds >= c.matcher.cfg.MaxClarificationRounds {
		return c.exhausted(eval, actx), nil
	}
	return c.suspend(ctx, actx, req)
}

// nextRequest picks the first applicable trigger not yet raised for this analysis
func (c *Coordinator) nextRequest(actx models.AnalysisContext, eval *Evaluation) models.ClarificationRequest {
	cfg := c.matcher.cfg

	if !actx.WasAsked(models.ClarifyGeneral) && contentWords(actx) < minContentWords {
		return &models.GeneralRequest{
			Prompt: "Please describe the feature in more detail: what it does, who uses it and what data it handles.",
			Reason: fmt.Sprintf("The description has fewer than %d content words.", minContentWords),
		}
	}

	tied := tiedGroups(eval.Groups, cfg.TieEpsilon)
	if len(tied) >= 2 {
		regions, names := tiedRegions(tied)
		if !eval.JurisdictionKnown && !actx.WasAsked(models.ClarifyGeographicScope) {
			offered := regions
			if len(regions) < 2 {
				// a single tied region is no choice; offer every known one too
				offered = slices.Clone(regions)
				for _, code := range c.matcher.jurisdictions.Codes() {
					if !slices.Contains(offered, code) {
						offered = append(offered, code)
					}
				}
			}
			return &models.GeographicScopeRequest{
				Prompt:     "Which jurisdiction does this feature target?",
				Reason:     fmt.Sprintf("Regulations from %s match equally well: %s.", strings.Join(regions, ", "), strings.Join(names, ", ")),
				Regions:    offered,
				Candidates: names,
			}
		}
		if actx.Category == "" && !actx.WasAsked(models.ClarifyFeatureCategory) {
			return &models.FeatureCategoryRequest{
				Prompt:     "Which compliance area best describes this feature?",
				Reason:     fmt.Sprintf("Several regulations match equally well: %s.", strings.Join(names, ", ")),
				Categories: IndicatorCategories(),
			}
		}
	}

	if len(eval.Groups) > 0 && actx.RiskLevel == "" && !actx.WasAsked(models.ClarifyRiskAssessment) {
		top := eval.Groups[0].Match
		if top.ConfidenceScore >= cfg.ConfidenceThreshold-cfg.RiskMargin && top.ConfidenceScore <= cfg.ConfidenceThreshold {
			return &models.RiskAssessmentRequest{
				Prompt:         fmt.Sprintf("How would you rate the compliance risk of this feature with respect to %s?", top.RegulationName),
				Reason:         fmt.Sprintf("The best match scores %.2f, just below the %.2f threshold.", top.ConfidenceScore, cfg.ConfidenceThreshold),
				RegulationName: top.RegulationName,
			}
		}
	}
	return nil
}

func (c *Coordinator) suspend(ctx context.Context, actx models.AnalysisContext, req models.ClarificationRequest) (*Outcome, error) {
	actx.Rounds++
	actx.MarkAsked(underlying(req).Type())
	p := &session.PendingClarification{
		ID:        c.newID(),
		Request:   req,
		Context:   actx,
		CreatedAt: c.now(),
	}
	if err := c.store.Put(ctx, p, c.ttl); err != nil {
		return nil, err
	}
	c.metrics.Clarifications.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(req.Type()))))
	c.logger.InfoContext(ctx, "clarification requested", "id", p.ID, "type", req.Type(), "round", actx.Rounds)
	return &Outcome{Clarification: &models.Clarification{ID: p.ID, Request: req}}, nil
}

func (c *Coordinator) finalize(eval *Evaluation, actx models.AnalysisContext) *models.ComplianceAssessment {
	a := eval.Assessment
	a.ClarificationRounds = actx.Rounds
	if len(eval.Groups) == 0 {
		return a
	}
	switch actx.RiskLevel {
	case "high":
		if !a.RequiresCompliance {
			a.RequiresCompliance = true
			a.Reasoning += fmt.Sprintf(" Rated high risk by the requester against %s.", eval.Groups[0].Match.RegulationName)
		}
	case "low":
		if !a.RequiresCompliance {
			a.Reasoning += " Rated low risk by the requester."
		}
	}
	return a
}

func (c *Coordinator) exhausted(eval *Evaluation, actx models.AnalysisContext) *Outcome {
	a := c.finalize(eval, actx)
	a.Confidence *= c.matcher.cfg.ExhaustionPenalty
	a.ClarificationExhausted = true
	a.Reasoning += fmt.Sprintf(" Clarification limit of %d rounds reached; confidence reduced to %.2f.", actx.Rounds, a.Confidence)
	c.logger.Info("clarification exhausted", "rounds", actx.Rounds, "confidence", a.Confidence)
	return &Outcome{Assessment: a}
}

// tiedGroups returns the leading groups whose confidence is within eps of the top
func tiedGroups(groups []RegulationGroup, eps float64) []RegulationGroup {
	if len(groups) < 2 {
		return nil
	}
	top := groups[0].Match.ConfidenceScore
	n := 1
	for n < len(groups) && top-groups[n].Match.ConfidenceScore <= eps {
		n++
	}
	if n < 2 {
		return nil
	}
	return groups[:n]
}

func tiedRegions(groups []RegulationGroup) (regions, names []string) {
	for _, g := range groups {
		if !slices.Contains(regions, g.Match.Region) {
			regions = append(regions, g.Match.Region)
		}
		names = append(names, g.Match.RegulationName)
	}
	return regions, names
}

func contentWords(actx models.AnalysisContext) int {
	return len(llm.Tokenize(strings.Join(append([]string{actx.FeatureText}, actx.Details...), " ")))
}

func underlying(req models.ClarificationRequest) models.ClarificationRequest {
	if cr, ok := req.(*models.ClarifyResponseRequest); ok {
		return cr.Underlying()
	}
	return req
}
