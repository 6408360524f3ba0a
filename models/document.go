package models

// RegulatoryDocument represents a statute or bill loaded for ingestion
type RegulatoryDocument struct {
	Region     string `json:"region"`
	Statute    string `json:"statute"`
	RawText    string `json:"raw_text"`
	SourcePath string `json:"source_path"`
}

// Section tags
const (
	TagCitation      = "citation"
	TagAmendment     = "amendment"
	TagPart          = "part"
	TagEffectiveDate = "effective_date"
)

// Section represents an addressable piece of a regulatory document
type Section struct {
	ID            string `json:"id"`
	RegulationTag string `json:"regulation_tag"` // "citation", "amendment", "part", "effective_date"
	Label         string `json:"citation_or_part_label"`
	Content       string `json:"content"`
	DisplayText   string `json:"composed_display_text"`
	Start         int    `json:"-"` // Byte offset of the heading in the filtered text
}

// Span is a half-open byte range [Start, End) in the section content
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Chunk represents a bounded slice of section text used for extraction
type Chunk struct {
	SectionRef string `json:"source_section_ref"`
	Sequence   int    `json:"sequence_index"`
	Text       string `json:"text"`
	Span       Span   `json:"char_span"`
	Overlap    int    `json:"overlap"` // Leading bytes shared with the previous chunk
}

// Fresh returns the part of the chunk not shared with its predecessor
func (c Chunk) Fresh() string {
	return c.Text[c.Overlap:]
}
