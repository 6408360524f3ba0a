package service

import (
	"regexp"
	"slices"
	"strings"

	"geocompliance-backend/models"
)

// Indicator categories
const (
	CategoryMinorProtection            = "minor_protection"
	CategoryDataPrivacy                = "data_privacy"
	CategoryContentModeration          = "content_moderation"
	CategoryGeolocation                = "geolocation"
	CategoryRecommendationTransparency = "recommendation_transparency"
	CategoryAdvertising                = "advertising"
)

type indicatorCategory struct {
	name     string
	keywords []string
	patterns []*regexp.Regexp
}

var indicatorCatalog = buildCatalog(map[string][]string{
	CategoryMinorProtection: {
		"minor", "minors", "child", "children", "kids", "teen", "teens", "teenager", "youth",
		"under 13", "under 16", "under 18", "age verification", "verify age", "age gate",
		"parental consent", "parent", "parents", "guardian",
	},
	CategoryDataPrivacy: {
		"personal data", "personal information", "privacy", "data collection", "collect data",
		"data retention", "data sharing", "sell data", "pii", "biometric", "tracking", "cookies",
	},
	CategoryContentModeration: {
		"moderation", "moderate", "harmful content", "takedown", "remove content",
		"report content", "harassment", "abuse", "self-harm", "explicit content",
	},
	CategoryGeolocation: {
		"location", "geolocation", "gps", "geofence", "geofencing", "precise location", "ip address",
	},
	CategoryRecommendationTransparency: {
		"recommendation", "recommendations", "algorithm", "algorithmic", "feed",
		"personalized", "personalised", "ranking", "for you",
	},
	CategoryAdvertising: {
		"advertising", "advertisement", "advertisements", "ads", "targeted ads",
		"marketing", "sponsored", "promotion",
	},
})

// categoryOrder is the order categories are offered and reported in
var categoryOrder = []string{
	CategoryMinorProtection,
	CategoryDataPrivacy,
	CategoryContentModeration,
	CategoryGeolocation,
	CategoryRecommendationTransparency,
	CategoryAdvertising,
}

var sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]?`)

func buildCatalog(src map[string][]string) map[string]*indicatorCategory {
	out := make(map[string]*indicatorCategory, len(src))
	for name, keywords := range src {
		c := &indicatorCategory{name: name, keywords: keywords}
		for _, kw := range keywords {
			c.patterns = append(c.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
		}
		out[name] = c
	}
	return out
}

// IndicatorCategories returns the known categories in display order
func IndicatorCategories() []string {
	return slices.Clone(categoryOrder)
}

// CategoryKeywords returns the keywords of a category, nil if unknown
func CategoryKeywords(category string) []string {
	c, ok := indicatorCatalog[category]
	if !ok {
		return nil
	}
	return slices.Clone(c.keywords)
}

func (c *indicatorCategory) match(text string) []string {
	var found []string
	for i, p := range c.patterns {
		if p.MatchString(text) {
			found = append(found, c.keywords[i])
		}
	}
	return found
}

// DetectCategories returns the categories with at least one keyword in text
func DetectCategories(text string) []string {
	var out []string
	for _, name := range categoryOrder {
		if len(indicatorCatalog[name].match(text)) > 0 {
			out = append(out, name)
		}
	}
	return out
}

// DetectIndicators reports each matching category with its keywords and the
// first sentence they were found in
func DetectIndicators(text string) []models.ComplianceIndicator {
	sentences := sentencePattern.FindAllString(text, -1)
	var out []models.ComplianceIndicator
	for _, name := range categoryOrder {
		c := indicatorCatalog[name]
		keywords := c.match(text)
		if len(keywords) == 0 {
			continue
		}
		ind := models.ComplianceIndicator{Category: name, Keywords: keywords}
		for _, s := range sentences {
			if len(c.match(s)) > 0 {
				ind.Text = strings.TrimSpace(s)
				break
			}
		}
		out = append(out, ind)
	}
	return out
}
