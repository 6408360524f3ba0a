package service

import (
	"errors"

	"geocompliance-backend/extractor"
	"geocompliance-backend/repository"
	"geocompliance-backend/vectorindex"
)

var (
	ErrEmptyDocument              = errors.New("document is empty")
	ErrParseEmpty                 = errors.New("no sections recognised in document")
	ErrEmptyFeatureText           = errors.New("feature text is empty")
	ErrClarificationNotFound      = errors.New("clarification not found or expired")
	ErrInvalidClarificationAnswer = errors.New("answer is not one of the offered options")
)

// Errors raised by the lower layers, re-exported so callers only import service
var (
	ErrExtractionFailed     = extractor.ErrExtractionFailed
	ErrUpsertConflict       = repository.ErrUpsertConflict
	ErrEmbeddingUnavailable = vectorindex.ErrEmbeddingUnavailable
)
