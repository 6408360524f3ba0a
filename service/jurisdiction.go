package service

import (
	"regexp"
	"slices"
	"strings"

	"geocompliance-backend/config"
)

type jurisdictionPattern struct {
	code   string
	codeRe *regexp.Regexp
	nameRe *regexp.Regexp
}

// JurisdictionCatalog recognises configured regions in free text.
// Codes match case-sensitively on word boundaries so "CA" does not fire on "ca";
// full names match case-insensitively.
type JurisdictionCatalog struct {
	patterns []jurisdictionPattern
}

// NewJurisdictionCatalog builds a catalog from configured jurisdictions
func NewJurisdictionCatalog(jurisdictions []config.Jurisdiction) *JurisdictionCatalog {
	c := &JurisdictionCatalog{}
	for _, j := range jurisdictions {
		code := strings.ToUpper(strings.TrimSpace(j.Code))
		if code == "" {
			continue
		}
		p := jurisdictionPattern{
			code:   code,
			codeRe: regexp.MustCompile(`\b` + regexp.QuoteMeta(code) + `\b`),
		}
		if name := strings.TrimSpace(j.Name); name != "" {
			p.nameRe = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
		}
		c.patterns = append(c.patterns, p)
	}
	return c
}

// Codes returns every known region code in configuration order
func (c *JurisdictionCatalog) Codes() []string {
	out := make([]string, 0, len(c.patterns))
	for _, p := range c.patterns {
		out = append(out, p.code)
	}
	return out
}

// Known reports whether code is configured
func (c *JurisdictionCatalog) Known(code string) bool {
	return slices.Contains(c.Codes(), strings.ToUpper(strings.TrimSpace(code)))
}

// Detect returns the regions named in text in configuration order
func (c *JurisdictionCatalog) Detect(text string) []string {
	var out []string
	for _, p := range c.patterns {
		if p.codeRe.MatchString(text) || (p.nameRe != nil && p.nameRe.MatchString(text)) {
			out = append(out, p.code)
		}
	}
	return out
}

// Resolve merges explicit regions with those detected in text, without duplicates
func (c *JurisdictionCatalog) Resolve(explicit []string, text string) []string {
	var out []string
	for _, r := range explicit {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r != "" && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	for _, r := range c.Detect(text) {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}
