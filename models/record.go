package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordKind distinguishes definitions from regulations in the vector index
type RecordKind string

const (
	KindDefinition RecordKind = "definition"
	KindRegulation RecordKind = "regulation"
)

// DefinitionRecord represents a defined term extracted from a statute
type DefinitionRecord struct {
	Region     string    `json:"region"`
	Statute    string    `json:"statute"`
	Term       string    `json:"term"`
	Meaning    string    `json:"meaning"`
	SourceFile string    `json:"source_file"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// RegulationRecord represents a citation-addressed obligation
type RegulationRecord struct {
	Region         string    `json:"region"`
	Statute        string    `json:"statute"`
	LawID          string    `json:"law_id"`
	RegulationText string    `json:"regulation_text"`
	SourceFile     string    `json:"source_file"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// EntryMetadata is the filterable payload stored next to each vector.
// The same fields are stored in the relational row for cross-validation.
type EntryMetadata struct {
	Kind       RecordKind `json:"kind"`
	Name       string     `json:"name"`
	Region     string     `json:"region"`
	Statute    string     `json:"statute"`
	LawID      string     `json:"law_id,omitempty"`
	Term       string     `json:"term,omitempty"`
	Text       string     `json:"text"`
	SourceFile string     `json:"source_file,omitempty"`
}

// EmbeddingEntry is one vector index entry, keyed by the record's stable id
type EmbeddingEntry struct {
	StableID uuid.UUID     `json:"stable_id"`
	Vector   []float32     `json:"-"`
	Metadata EntryMetadata `json:"metadata"`
}
