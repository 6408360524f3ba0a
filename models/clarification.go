package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// ClarificationType enumerates the kinds of clarification the matcher can ask for
type ClarificationType string

const (
	ClarifyGeographicScope ClarificationType = "geographic_scope"
	ClarifySpecificRegions ClarificationType = "specific_regions"
	ClarifyResponse        ClarificationType = "clarify_response"
	ClarifyFeatureCategory ClarificationType = "feature_category"
	ClarifyRiskAssessment  ClarificationType = "risk_assessment"
	ClarifyGeneral         ClarificationType = "general"
)

// Answers with special meaning for geographic_scope
const (
	ScopeAll      = "all"
	ScopeMultiple = "multiple"
)

// Risk levels offered by risk_assessment
var RiskLevels = []string{"high", "medium", "low"}

// ClarificationRequest is a tagged variant over the clarification types.
// Each implementation carries only the fields its answer handler needs.
type ClarificationRequest interface {
	Type() ClarificationType
	Question() string
	Context() string
	// Options returns the accepted answers, or nil when free text is accepted.
	Options() []string
	// Resolve validates an answer and returns its canonical form.
	Resolve(answer string) (string, bool)

	isClarificationRequest()
}

// GeographicScopeRequest asks which jurisdiction a feature targets
type GeographicScopeRequest struct {
	Prompt     string   `json:"question"`
	Reason     string   `json:"context"`
	Regions    []string `json:"regions"`
	Candidates []string `json:"candidates"` // Tied regulation names
}

func (r *GeographicScopeRequest) Type() ClarificationType { return ClarifyGeographicScope }
func (r *GeographicScopeRequest) Question() string        { return r.Prompt }
func (r *GeographicScopeRequest) Context() string         { return r.Reason }
func (r *GeographicScopeRequest) Options() []string {
	return append(slices.Clone(r.Regions), ScopeMultiple, ScopeAll)
}
func (r *GeographicScopeRequest) Resolve(answer string) (string, bool) {
	return matchOption(r.Options(), answer)
}
func (*GeographicScopeRequest) isClarificationRequest() {}

// SpecificRegionsRequest asks for a subset of known regions
type SpecificRegionsRequest struct {
	Prompt  string   `json:"question"`
	Reason  string   `json:"context"`
	Regions []string `json:"regions"`
}

func (r *SpecificRegionsRequest) Type() ClarificationType { return ClarifySpecificRegions }
func (r *SpecificRegionsRequest) Question() string        { return r.Prompt }
func (r *SpecificRegionsRequest) Context() string         { return r.Reason }
func (r *SpecificRegionsRequest) Options() []string       { return slices.Clone(r.Regions) }

// Resolve accepts a comma separated list where every element is a declared region.
func (r *SpecificRegionsRequest) Resolve(answer string) (string, bool) {
	var picked []string
	for _, part := range strings.Split(answer, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		region, ok := matchOption(r.Regions, part)
		if !ok {
			return "", false
		}
		if !slices.Contains(picked, region) {
			picked = append(picked, region)
		}
	}
	if len(picked) == 0 {
		return "", false
	}
	return strings.Join(picked, ","), true
}
func (*SpecificRegionsRequest) isClarificationRequest() {}

// FeatureCategoryRequest asks which compliance category the feature falls under
type FeatureCategoryRequest struct {
	Prompt     string   `json:"question"`
	Reason     string   `json:"context"`
	Categories []string `json:"categories"`
}

func (r *FeatureCategoryRequest) Type() ClarificationType { return ClarifyFeatureCategory }
func (r *FeatureCategoryRequest) Question() string        { return r.Prompt }
func (r *FeatureCategoryRequest) Context() string         { return r.Reason }
func (r *FeatureCategoryRequest) Options() []string       { return slices.Clone(r.Categories) }
func (r *FeatureCategoryRequest) Resolve(answer string) (string, bool) {
	return matchOption(r.Categories, answer)
}
func (*FeatureCategoryRequest) isClarificationRequest() {}

// RiskAssessmentRequest asks the user to rate a borderline match
type RiskAssessmentRequest struct {
	Prompt         string `json:"question"`
	Reason         string `json:"context"`
	RegulationName string `json:"regulation_name"`
}

func (r *RiskAssessmentRequest) Type() ClarificationType { return ClarifyRiskAssessment }
func (r *RiskAssessmentRequest) Question() string        { return r.Prompt }
func (r *RiskAssessmentRequest) Context() string         { return r.Reason }
func (r *RiskAssessmentRequest) Options() []string       { return slices.Clone(RiskLevels) }
func (r *RiskAssessmentRequest) Resolve(answer string) (string, bool) {
	return matchOption(RiskLevels, answer)
}
func (*RiskAssessmentRequest) isClarificationRequest() {}

// ClarifyResponseRequest re-asks a question whose answer was not one of its options
type ClarifyResponseRequest struct {
	Prompt   string               `json:"question"`
	Reason   string               `json:"context"`
	Original ClarificationRequest `json:"-"`
	Rejected string               `json:"rejected"`
}

func (r *ClarifyResponseRequest) Type() ClarificationType { return ClarifyResponse }
func (r *ClarifyResponseRequest) Question() string        { return r.Prompt }
func (r *ClarifyResponseRequest) Context() string         { return r.Reason }
func (r *ClarifyResponseRequest) Options() []string       { return r.Original.Options() }
func (r *ClarifyResponseRequest) Resolve(answer string) (string, bool) {
	return r.Original.Resolve(answer)
}
func (*ClarifyResponseRequest) isClarificationRequest() {}

// Underlying returns the request that was originally asked
func (r *ClarifyResponseRequest) Underlying() ClarificationRequest {
	if inner, ok := r.Original.(*ClarifyResponseRequest); ok {
		return inner.Underlying()
	}
	return r.Original
}

// GeneralRequest asks for free-text detail
type GeneralRequest struct {
	Prompt string `json:"question"`
	Reason string `json:"context"`
}

func (r *GeneralRequest) Type() ClarificationType { return ClarifyGeneral }
func (r *GeneralRequest) Question() string        { return r.Prompt }
func (r *GeneralRequest) Context() string         { return r.Reason }
func (r *GeneralRequest) Options() []string       { return nil }
func (r *GeneralRequest) Resolve(answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	return answer, answer != ""
}
func (*GeneralRequest) isClarificationRequest() {}

// ClarificationResponse is the structured answer supplied on resume
type ClarificationResponse struct {
	ResolvedValue string `json:"resolved_value"`
}

// Clarification pairs a request with the id used to resume it
type Clarification struct {
	ID      string
	Request ClarificationRequest
}

type clarificationWire struct {
	ID       string             `json:"id"`
	Type     ClarificationType  `json:"type"`
	Question string             `json:"question"`
	Context  string             `json:"context"`
	Options  []string           `json:"options,omitempty"`
	Payload  json.RawMessage    `json:"payload"`
	Original *clarificationWire `json:"original,omitempty"`
}

// MarshalJSON encodes the request with its type tag
func (c Clarification) MarshalJSON() ([]byte, error) {
	wire, err := toWire(c.ID, c.Request)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a tagged request
func (c *Clarification) UnmarshalJSON(data []byte) error {
	var wire clarificationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	req, err := fromWire(&wire)
	if err != nil {
		return err
	}
	c.ID = wire.ID
	c.Request = req
	return nil
}

func toWire(id string, req ClarificationRequest) (*clarificationWire, error) {
	if req == nil {
		return nil, fmt.Errorf("clarification %s has no request", id)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal clarification payload: %w", err)
	}
	wire := &clarificationWire{
		ID:       id,
		Type:     req.Type(),
		Question: req.Question(),
		Context:  req.Context(),
		Options:  req.Options(),
		Payload:  payload,
	}
	if cr, ok := req.(*ClarifyResponseRequest); ok {
		wire.Original, err = toWire("", cr.Original)
		if err != nil {
			return nil, err
		}
	}
	return wire, nil
}

func fromWire(wire *clarificationWire) (ClarificationRequest, error) {
	var req ClarificationRequest
	switch wire.Type {
	case ClarifyGeographicScope:
		req = &GeographicScopeRequest{}
	case ClarifySpecificRegions:
		req = &SpecificRegionsRequest{}
	case ClarifyFeatureCategory:
		req = &FeatureCategoryRequest{}
	case ClarifyRiskAssessment:
		req = &RiskAssessmentRequest{}
	case ClarifyGeneral:
		req = &GeneralRequest{}
	case ClarifyResponse:
		if wire.Original == nil {
			return nil, fmt.Errorf("clarify_response without original request")
		}
		original, err := fromWire(wire.Original)
		if err != nil {
			return nil, err
		}
		cr := &ClarifyResponseRequest{}
		if err := json.Unmarshal(wire.Payload, cr); err != nil {
			return nil, fmt.Errorf("failed to decode clarify_response payload: %w", err)
		}
		cr.Original = original
		return cr, nil
	default:
		return nil, fmt.Errorf("unknown clarification type: %q", wire.Type)
	}
	if err := json.Unmarshal(wire.Payload, req); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", wire.Type, err)
	}
	return req, nil
}

// matchOption compares case-insensitively and returns the declared spelling
func matchOption(options []string, answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	for _, opt := range options {
		if strings.EqualFold(opt, answer) {
			return opt, true
		}
	}
	return "", false
}
