package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"geocompliance-backend/config"
	"geocompliance-backend/llm"
	"geocompliance-backend/models"
	"geocompliance-backend/telemetry"
	"geocompliance-backend/vectorindex"
)

const (
	corroborationBonus  = 0.05
	maxCorroboration    = 3
	sharedCategoryBonus = 0.1
	maxSharedCategories = 2
	reasoningMatches    = 3
)

// AssessRequest is a feature description to check against ingested regulations
type AssessRequest struct {
	FeatureText   string   `json:"feature_text" binding:"required"`
	Jurisdictions []string `json:"jurisdictions,omitempty"`
}

// RegulationGroup is one regulation and the hits that support it
type RegulationGroup struct {
	Match      models.MatchedRegulation
	Seq        int64
	Text       string
	Categories []string
}

// Evaluation is an assessment together with the ranked groups behind it
type Evaluation struct {
	Assessment        *models.ComplianceAssessment
	Groups            []RegulationGroup
	JurisdictionKnown bool
}

// MatchingService scores feature descriptions against the vector index
type MatchingService struct {
	embedder      llm.Embedder
	index         vectorindex.Index
	jurisdictions *JurisdictionCatalog
	cfg           config.MatchingConfig
	logger        *slog.Logger
	metrics       *telemetry.Metrics
}

// MatchingServiceOption is a functional option for MatchingService
type MatchingServiceOption func(*MatchingService)

// MatchWithEmbedder sets the query embedder
func MatchWithEmbedder(e llm.Embedder) MatchingServiceOption {
	return func(s *MatchingService) {
		s.embedder = e
	}
}

// MatchWithIndex sets the vector index
func MatchWithIndex(idx vectorindex.Index) MatchingServiceOption {
	return func(s *MatchingService) {
		s.index = idx
	}
}

// MatchWithJurisdictions sets the region catalog used for detection
func MatchWithJurisdictions(c *JurisdictionCatalog) MatchingServiceOption {
	return func(s *MatchingService) {
		s.jurisdictions = c
	}
}

// MatchWithConfig sets the thresholds
func MatchWithConfig(cfg config.MatchingConfig) MatchingServiceOption {
	return func(s *MatchingService) {
		s.cfg = cfg
	}
}

// MatchWithLogger sets the logger
func MatchWithLogger(l *slog.Logger) MatchingServiceOption {
	return func(s *MatchingService) {
		s.logger = l
	}
}

// NewMatchingService creates a new matching service
func NewMatchingService(opts ...MatchingServiceOption) *MatchingService {
	def := config.Default()
	s := &MatchingService{
		jurisdictions: NewJurisdictionCatalog(def.Jurisdictions),
		cfg:           def.Matching,
		logger:        slog.Default().With("component", "matching"),
		metrics:       telemetry.MustMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the thresholds in use
func (s *MatchingService) Config() config.MatchingConfig { return s.cfg }

// Jurisdictions returns the region catalog
func (s *MatchingService) Jurisdictions() *JurisdictionCatalog { return s.jurisdictions }

// Assess scores a feature description without clarification
func (s *MatchingService) Assess(ctx context.Context, req AssessRequest) (*models.ComplianceAssessment, error) {
	eval, err := s.Evaluate(ctx, models.AnalysisContext{
		FeatureText:   req.FeatureText,
		Jurisdictions: req.Jurisdictions,
	})
	if err != nil {
		return nil, err
	}
	return eval.Assessment, nil
}

// QueryText is the feature text with clarification details and the chosen
// category's keywords folded in
func QueryText(actx models.AnalysisContext) string {
	parts := []string{strings.TrimSpace(actx.FeatureText)}
	parts = append(parts, actx.Details...)
	if kws := CategoryKeywords(actx.Category); len(kws) > 0 {
		parts = append(parts, strings.Join(kws, " "))
	}
	return strings.Join(parts, " ")
}

// Evaluate runs retrieval and scoring for an analysis context
func (s *MatchingService) Evaluate(ctx context.Context, actx models.AnalysisContext) (*Evaluation, error) {
	if strings.TrimSpace(actx.FeatureText) == "" {
		return nil, ErrEmptyFeatureText
	}
	if s.embedder == nil || s.index == nil {
		return nil, errors.New("matching service is missing an embedder or index")
	}
	ctx, span := telemetry.Tracer().Start(ctx, "matching.evaluate")
	defer span.End()

	query := QueryText(actx)
	regions := s.jurisdictions.Resolve(actx.Jurisdictions, query)
	span.SetAttributes(attribute.StringSlice("jurisdictions", regions))

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", vectorindex.ErrEmbeddingUnavailable, err)
	}
	candidates, err := s.index.Query(ctx, vec, vectorindex.Filter{Regions: regions}, s.cfg.TopK)
	if err != nil {
		return nil, err
	}

	featureCategories := DetectCategories(query)
	groups := s.group(candidates, featureCategories)

	a := &models.ComplianceAssessment{
		MatchedRegulations:   make([]models.MatchedRegulation, 0, len(groups)),
		ComplianceIndicators: DetectIndicators(strings.Join(append([]string{actx.FeatureText}, actx.Details...), " ")),
		Jurisdictions:        regions,
		ClarificationRounds:  actx.Rounds,
	}
	for _, g := range groups {
		a.MatchedRegulations = append(a.MatchedRegulations, g.Match)
	}
	if len(groups) == 0 {
		a.Reasoning = fmt.Sprintf("No ingested regulation%s is similar enough to the feature description (similarity threshold %.2f).",
			scopePhrase(regions), s.cfg.SimilarityThreshold)
	} else {
		top := groups[0].Match
		a.Confidence = top.ConfidenceScore
		a.RequiresCompliance = top.ConfidenceScore > s.cfg.ConfidenceThreshold
		a.Reasoning = s.reasoning(groups, featureCategories, a.RequiresCompliance)
	}

	s.metrics.Assessments.Add(ctx, 1, metric.WithAttributes(attribute.Bool("requires_compliance", a.RequiresCompliance)))
	s.logger.DebugContext(ctx, "evaluated feature",
		"candidates", len(candidates),
		"groups", len(groups),
		"confidence", a.Confidence,
		"requires_compliance", a.RequiresCompliance)

	return &Evaluation{Assessment: a, Groups: groups, JurisdictionKnown: len(regions) > 0}, nil
}

// group keeps candidates above the similarity threshold, folds definition hits
// into the regulations they corroborate and ranks the result
func (s *MatchingService) group(candidates []vectorindex.Candidate, featureCategories []string) []RegulationGroup {
	var (
		groups      []RegulationGroup
		byName      = make(map[string]int)
		definitions []vectorindex.Candidate
	)
	for _, c := range candidates {
		if c.Similarity < s.cfg.SimilarityThreshold {
			continue
		}
		meta := c.Entry.Metadata
		if meta.Kind == models.KindDefinition {
			definitions = append(definitions, c)
			continue
		}
		if i, ok := byName[meta.Name]; ok {
			g := &groups[i]
			g.Match.Corroborating++
			g.Match.SimilarityScore = max(g.Match.SimilarityScore, c.Similarity)
			g.Seq = min(g.Seq, c.Seq)
			continue
		}
		byName[meta.Name] = len(groups)
		groups = append(groups, RegulationGroup{
			Match: models.MatchedRegulation{
				RegulationName:  meta.Name,
				SimilarityScore: c.Similarity,
				Region:          meta.Region,
				Statute:         meta.Statute,
				LawID:           meta.LawID,
				Corroborating:   1,
			},
			Seq:        c.Seq,
			Text:       meta.Text,
			Categories: DetectCategories(meta.Text),
		})
	}

	for _, d := range definitions {
		term := strings.ToLower(d.Entry.Metadata.Term)
		if term == "" {
			continue
		}
		for i := range groups {
			g := &groups[i]
			if strings.EqualFold(g.Match.Region, d.Entry.Metadata.Region) &&
				strings.EqualFold(g.Match.Statute, d.Entry.Metadata.Statute) &&
				strings.Contains(strings.ToLower(g.Text), term) {
				g.Match.Corroborating++
			}
		}
	}

	for i := range groups {
		g := &groups[i]
		g.Match.ConfidenceScore = Confidence(
			g.Match.SimilarityScore,
			g.Match.Corroborating,
			len(intersect(featureCategories, g.Categories)),
		)
	}

	slices.SortStableFunc(groups, compareGroups)
	return groups
}

// Confidence is the best similarity plus a bonus per corroborating hit.
// The shared-category bonus supplements that score with keyword matching:
// it counts indicator categories found in both the feature text and the
// regulation text, so a literal vocabulary overlap can lift a borderline
// embedding match. The result is clamped to [0, 1].
func Confidence(similarity float64, corroborating, sharedCategories int) float64 {
	c := similarity +
		corroborationBonus*float64(min(max(corroborating-1, 0), maxCorroboration)) +
		sharedCategoryBonus*float64(min(sharedCategories, maxSharedCategories))
	return math.Max(0, math.Min(1, c))
}

func compareGroups(a, b RegulationGroup) int {
	switch {
	case a.Match.ConfidenceScore != b.Match.ConfidenceScore:
		if a.Match.ConfidenceScore > b.Match.ConfidenceScore {
			return -1
		}
		return 1
	case a.Match.SimilarityScore != b.Match.SimilarityScore:
		if a.Match.SimilarityScore > b.Match.SimilarityScore {
			return -1
		}
		return 1
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}

func (s *MatchingService) reasoning(groups []RegulationGroup, featureCategories []string, requires bool) string {
	var sb strings.Builder
	if requires {
		fmt.Fprintf(&sb, "Confidence %.2f exceeds the %.2f threshold. ", groups[0].Match.ConfidenceScore, s.cfg.ConfidenceThreshold)
	} else {
		fmt.Fprintf(&sb, "Best confidence %.2f does not exceed the %.2f threshold. ", groups[0].Match.ConfidenceScore, s.cfg.ConfidenceThreshold)
	}
	sb.WriteString("Top matches: ")
	for i, g := range groups[:min(len(groups), reasoningMatches)] {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s (similarity %.2f, confidence %.2f", g.Match.RegulationName, g.Match.SimilarityScore, g.Match.ConfidenceScore)
		if shared := intersect(featureCategories, g.Categories); len(shared) > 0 {
			fmt.Fprintf(&sb, ", shared indicators: %s", strings.Join(shared, ", "))
		}
		sb.WriteString(")")
	}
	sb.WriteString(".")
	return sb.String()
}

func intersect(a, b []string) []string {
	var out []string
	for _, x := range a {
		if slices.Contains(b, x) {
			out = append(out, x)
		}
	}
	return out
}

func scopePhrase(regions []string) string {
	if len(regions) == 0 {
		return ""
	}
	return " in " + strings.Join(regions, ", ")
}
