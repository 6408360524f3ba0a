package models

// MatchedRegulation is one regulation group that cleared the similarity threshold
type MatchedRegulation struct {
	RegulationName  string  `json:"regulation_name"`
	SimilarityScore float64 `json:"similarity_score"`
	ConfidenceScore float64 `json:"confidence_score"`
	Region          string  `json:"region"`
	Statute         string  `json:"statute"`
	LawID           string  `json:"law_id"`
	Corroborating   int     `json:"corroborating_hits"`
}

// ComplianceIndicator is a keyword category detected in the feature text
type ComplianceIndicator struct {
	Category string   `json:"category"`
	Text     string   `json:"text"`
	Keywords []string `json:"keywords"`
}

// ComplianceAssessment is the result of one analysis request
type ComplianceAssessment struct {
	RequiresCompliance     bool                  `json:"requires_compliance"`
	Confidence             float64               `json:"confidence"`
	Reasoning              string                `json:"reasoning"`
	MatchedRegulations     []MatchedRegulation   `json:"matched_regulations"`
	ComplianceIndicators   []ComplianceIndicator `json:"compliance_indicators"`
	Jurisdictions          []string              `json:"jurisdictions,omitempty"`
	ClarificationRounds    int                   `json:"clarification_rounds"`
	ClarificationExhausted bool                  `json:"clarification_exhausted"`
}
