package models

import "slices"

// AnalysisContext accumulates what is known about one feature analysis across
// clarification rounds
type AnalysisContext struct {
	FeatureText   string              `json:"feature_text"`
	Details       []string            `json:"details,omitempty"` // free-text answers appended to the query
	Jurisdictions []string            `json:"jurisdictions,omitempty"`
	Category      string              `json:"category,omitempty"`
	RiskLevel     string              `json:"risk_level,omitempty"`
	Asked         []ClarificationType `json:"asked,omitempty"`
	Rounds        int                 `json:"rounds"`
}

// WasAsked reports whether a clarification type has already been raised
func (c *AnalysisContext) WasAsked(t ClarificationType) bool {
	return slices.Contains(c.Asked, t)
}

// MarkAsked records that a clarification type has been raised
func (c *AnalysisContext) MarkAsked(t ClarificationType) {
	if !c.WasAsked(t) {
		c.Asked = append(c.Asked, t)
	}
}

// Clone returns a deep copy
func (c AnalysisContext) Clone() AnalysisContext {
	c.Details = slices.Clone(c.Details)
	c.Jurisdictions = slices.Clone(c.Jurisdictions)
	c.Asked = slices.Clone(c.Asked)
	return c
}
