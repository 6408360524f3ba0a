// Package segmenter splits regulatory text into addressable sections.
//
// Three scans run independently over the filtered text: statute citations
// ("13-63-101."), amendment sections ("Section 2. Section 13-63-101 is amended
// to read:") and part headings ("Part 1."). Text covered by more than one scan
// is emitted once per scan.
package segmenter

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"geocompliance-backend/models"
)

var (
	citationHeading  = regexp.MustCompile(`(?m)^[ \t]*(\d+[A-Za-z]?-\d+[A-Za-z]?-\d+(?:\.\d+)?)\.[ \t]+`)
	amendmentHeading = regexp.MustCompile(`(?m)^[ \t]*Section[ \t]+(\d+)\.[ \t]+Section[ \t]+(\d+[A-Za-z]?-\d+[A-Za-z]?-\d+(?:\.\d+)?)[ \t]+is[ \t]+(amended|enacted)[ \t]+to[ \t]+read:`)
	sectionHeading   = regexp.MustCompile(`(?m)^[ \t]*Section[ \t]+\d+\.`)
	partHeading      = regexp.MustCompile(`(?m)^[ \t]*Part[ \t]+(\d+)\.[ \t]*([^\n]*)`)
	effectiveDate    = regexp.MustCompile(`This bill takes effect (?:on )?([^\n.]+)\.?`)
)

// Default boilerplate patterns found in enrolled bills
var (
	DefaultExactLines = []string{
		"Enrolled Copy",
		"LEGISLATIVE GENERAL COUNSEL",
		"Be it enacted by the Legislature of the state of Utah:",
	}
	DefaultLinePrefixes = []string{
		"H.B. ",
		"S.B. ",
		"Approved for Filing:",
		"Chief Sponsor:",
		"Senate Sponsor:",
		"House Sponsor:",
		"Drafted by",
	}
	DefaultLinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d{1,4}$`),
		regexp.MustCompile(`^Page \d+( of \d+)?$`),
		regexp.MustCompile(`^\d{1,2}-\d{1,2}-\d{2,4} \d{1,2}:\d{2} ?(AM|PM|am|pm)$`),
	}
)

// Segmenter turns document text into sections
type Segmenter struct {
	exact    map[string]struct{}
	prefixes []string
	patterns []*regexp.Regexp
	logger   *slog.Logger
}

// Option configures a Segmenter
type Option func(*Segmenter)

// WithExactLines adds lines dropped when they match exactly (after trimming)
func WithExactLines(lines ...string) Option {
	return func(s *Segmenter) {
		for _, l := range lines {
			s.exact[strings.TrimSpace(l)] = struct{}{}
		}
	}
}

// WithLinePrefixes adds prefixes of lines to drop
func WithLinePrefixes(prefixes ...string) Option {
	return func(s *Segmenter) {
		s.prefixes = append(s.prefixes, prefixes...)
	}
}

// WithLinePatterns adds full-line regular expressions of lines to drop
func WithLinePatterns(patterns ...*regexp.Regexp) Option {
	return func(s *Segmenter) {
		s.patterns = append(s.patterns, patterns...)
	}
}

// WithoutDefaults clears the built-in boilerplate patterns
func WithoutDefaults() Option {
	return func(s *Segmenter) {
		s.exact = map[string]struct{}{}
		s.prefixes = nil
		s.patterns = nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Segmenter) {
		s.logger = logger
	}
}

// New creates a Segmenter with the default boilerplate patterns
func New(opts ...Option) *Segmenter {
	s := &Segmenter{
		exact:    make(map[string]struct{}, len(DefaultExactLines)),
		prefixes: append([]string(nil), DefaultLinePrefixes...),
		patterns: append([]*regexp.Regexp(nil), DefaultLinePatterns...),
		logger:   slog.Default().With("component", "segmenter"),
	}
	for _, l := range DefaultExactLines {
		s.exact[l] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FilterLines drops boilerplate lines. Other lines pass through unchanged and in order.
func (s *Segmenter) FilterLines(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if s.isBoilerplate(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func (s *Segmenter) isBoilerplate(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if _, ok := s.exact[trimmed]; ok {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	for _, re := range s.patterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// Segment returns the document's sections in source order.
// An empty result means no structure was recognised; it is not an error.
func (s *Segmenter) Segment(doc models.RegulatoryDocument) []models.Section {
	text := norm.NFKC.String(s.FilterLines(doc.RawText))
	sectionStarts := headingStarts(sectionHeading, text)

	var sections []models.Section
	sections = append(sections, s.scanCitations(doc, text, sectionStarts)...)
	sections = append(sections, s.scanAmendments(doc, text, sectionStarts)...)
	sections = append(sections, s.scanParts(doc, text, sectionStarts)...)
	if eff, ok := s.scanEffectiveDate(doc, text); ok {
		sections = append(sections, eff)
	}

	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Start < sections[j].Start
	})

	s.logger.Debug("segmented document",
		"region", doc.Region,
		"statute", doc.Statute,
		"source", doc.SourcePath,
		"sections", len(sections))
	return sections
}

func (s *Segmenter) scanCitations(doc models.RegulatoryDocument, text string, sectionStarts []int) []models.Section {
	matches := citationHeading.FindAllStringSubmatchIndex(text, -1)
	stops := mergeStops(matchStarts(matches), sectionStarts)

	var out []models.Section
	index := make(map[string]int)
	for _, m := range matches {
		label := text[m[2]:m[3]]
		content := normalizeWhitespace(text[m[1]:nextStop(stops, m[0], len(text))])
		sec := models.Section{
			ID:            sectionID(doc, models.TagCitation, label),
			RegulationTag: models.TagCitation,
			Label:         label,
			Content:       content,
			DisplayText:   fmt.Sprintf("%s. %s", label, content),
			Start:         m[0],
		}
		// Later duplicates replace the content but keep the first position
		if i, ok := index[label]; ok {
			sec.Start = out[i].Start
			out[i] = sec
			continue
		}
		index[label] = len(out)
		out = append(out, sec)
	}
	return out
}

func (s *Segmenter) scanAmendments(doc models.RegulatoryDocument, text string, sectionStarts []int) []models.Section {
	var out []models.Section
	index := make(map[string]int)
	for _, m := range amendmentHeading.FindAllStringSubmatchIndex(text, -1) {
		number := text[m[2]:m[3]]
		citation := text[m[4]:m[5]]
		verb := text[m[6]:m[7]]
		content := normalizeWhitespace(text[m[1]:nextStop(sectionStarts, m[0], len(text))])
		sec := models.Section{
			ID:            sectionID(doc, models.TagAmendment, citation),
			RegulationTag: models.TagAmendment,
			Label:         citation,
			Content:       content,
			DisplayText:   fmt.Sprintf("Section %s. Section %s is %s to read: %s", number, citation, verb, content),
			Start:         m[0],
		}
		if i, ok := index[citation]; ok {
			sec.Start = out[i].Start
			out[i] = sec
			continue
		}
		index[citation] = len(out)
		out = append(out, sec)
	}
	return out
}

func (s *Segmenter) scanParts(doc models.RegulatoryDocument, text string, sectionStarts []int) []models.Section {
	matches := partHeading.FindAllStringSubmatchIndex(text, -1)
	stops := mergeStops(matchStarts(matches), sectionStarts)

	var out []models.Section
	for _, m := range matches {
		label := "Part " + text[m[2]:m[3]]
		title := strings.TrimSpace(text[m[4]:m[5]])
		body := normalizeWhitespace(text[m[1]:nextStop(stops, m[0], len(text))])
		content := strings.TrimSpace(title + " " + body)
		out = append(out, models.Section{
			ID:            sectionID(doc, models.TagPart, label),
			RegulationTag: models.TagPart,
			Label:         label,
			Content:       content,
			DisplayText:   fmt.Sprintf("%s. %s", label, content),
			Start:         m[0],
		})
	}
	return out
}

func (s *Segmenter) scanEffectiveDate(doc models.RegulatoryDocument, text string) (models.Section, bool) {
	all := effectiveDate.FindAllStringSubmatchIndex(text, -1)
	if len(all) == 0 {
		return models.Section{}, false
	}
	m := all[len(all)-1]
	date := normalizeWhitespace(text[m[2]:m[3]])
	return models.Section{
		ID:            sectionID(doc, models.TagEffectiveDate, date),
		RegulationTag: models.TagEffectiveDate,
		Label:         date,
		Content:       normalizeWhitespace(text[m[0]:m[1]]),
		DisplayText:   "Effective date: " + date,
		Start:         m[0],
	}, true
}

func sectionID(doc models.RegulatoryDocument, tag, label string) string {
	return strings.ToUpper(doc.Region) + "/" + strings.ToUpper(doc.Statute) + "/" + tag + "/" + label
}

// normalizeWhitespace collapses every whitespace run to one space
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func headingStarts(re *regexp.Regexp, text string) []int {
	return matchStarts(re.FindAllStringIndex(text, -1))
}

func matchStarts(matches [][]int) []int {
	starts := make([]int, len(matches))
	for i, m := range matches {
		starts[i] = m[0]
	}
	return starts
}

func mergeStops(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Ints(out)
	return out
}

// nextStop returns the first stop strictly after pos, or limit
func nextStop(stops []int, pos, limit int) int {
	i := sort.SearchInts(stops, pos+1)
	if i < len(stops) {
		return stops[i]
	}
	return limit
}
