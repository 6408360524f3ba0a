package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"geocompliance-backend/chunker"
	"geocompliance-backend/extractor"
	"geocompliance-backend/identity"
	"geocompliance-backend/llm"
	"geocompliance-backend/models"
	"geocompliance-backend/repository"
	"geocompliance-backend/segmenter"
	"geocompliance-backend/storage"
	"geocompliance-backend/telemetry"
	"geocompliance-backend/vectorindex"
)

// ChunkExtractor turns one chunk into definitions and regulations
type ChunkExtractor interface {
	Extract(ctx context.Context, chunk models.Chunk) (*extractor.Extraction, error)
}

// RecordStore persists a region's records in one transaction
type RecordStore interface {
	UpsertBatch(ctx context.Context, batch repository.Batch) (repository.UpsertResult, error)
}

// IngestRequest identifies one document to ingest
type IngestRequest struct {
	Region  string `json:"region" binding:"required"`
	Statute string `json:"statute" binding:"required"`
	Source  string `json:"source" binding:"required"` // local path, file://, s3:// or gs:// URI
}

// IngestError is a non-fatal problem recorded while ingesting a document
type IngestError struct {
	SectionRef string `json:"section_ref,omitempty"`
	Sequence   int    `json:"sequence"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

// IngestResult summarises one ingested document
type IngestResult struct {
	Region             string        `json:"region"`
	Statute            string        `json:"statute"`
	Source             string        `json:"source"`
	Sections           int           `json:"sections"`
	Chunks             int           `json:"chunks"`
	DefinitionsWritten int           `json:"definitions_written"`
	RegulationsWritten int           `json:"regulations_written"`
	Embedded           int           `json:"embedded"`
	ParseEmpty         bool          `json:"parse_empty"`
	Errors             []IngestError `json:"errors,omitempty"`
}

// BatchItem is the outcome of one document in IngestBatch
type BatchItem struct {
	Request IngestRequest `json:"request"`
	Result  *IngestResult `json:"result,omitempty"`
	Err     error         `json:"-"`
}

// IngestionService runs documents through segmentation, chunking, extraction,
// the relational upsert and the vector index
type IngestionService struct {
	storage      storage.Storage
	segmenter    *segmenter.Segmenter
	chunker      *chunker.Chunker
	extractor    ChunkExtractor
	records      RecordStore
	embedder     llm.Embedder
	index        vectorindex.Index
	concurrency  int
	embedTimeout time.Duration
	logger       *slog.Logger
	metrics      *telemetry.Metrics
}

// IngestionServiceOption is a functional option for IngestionService
type IngestionServiceOption func(*IngestionService)

// IngestWithStorage sets the document source storage
func IngestWithStorage(s storage.Storage) IngestionServiceOption {
	return func(svc *IngestionService) {
		svc.storage = s
	}
}

// IngestWithSegmenter overrides the default segmenter
func IngestWithSegmenter(s *segmenter.Segmenter) IngestionServiceOption {
	return func(svc *IngestionService) {
		svc.segmenter = s
	}
}

// IngestWithChunker overrides the default chunker
func IngestWithChunker(c *chunker.Chunker) IngestionServiceOption {
	return func(svc *IngestionService) {
		svc.chunker = c
	}
}

// IngestWithExtractor sets the chunk extractor
func IngestWithExtractor(e ChunkExtractor) IngestionServiceOption {
	return func(svc *IngestionService) {
		svc.extractor = e
	}
}

// IngestWithRecordStore sets the relational store
func IngestWithRecordStore(r RecordStore) IngestionServiceOption {
	return func(svc *IngestionService) {
		svc.records = r
	}
}

// IngestWithEmbedder sets the document embedder
func IngestWithEmbedder(e llm.Embedder) IngestionServiceOption {
	return func(svc *IngestionService) {
		svc.embedder = e
	}
}

// IngestWithIndex sets the vector index
func IngestWithIndex(idx vectorindex.Index) IngestionServiceOption {
	return func(svc *IngestionService) {
		svc.index = idx
	}
}

// IngestWithConcurrency caps concurrent extraction and embedding calls per document
func IngestWithConcurrency(n int) IngestionServiceOption {
	return func(svc *IngestionService) {
		if n > 0 {
			svc.concurrency = n
		}
	}
}

// IngestWithEmbeddingTimeout bounds each embedding call
func IngestWithEmbeddingTimeout(d time.Duration) IngestionServiceOption {
	return func(svc *IngestionService) {
		if d > 0 {
			svc.embedTimeout = d
		}
	}
}

// IngestWithLogger sets the logger
func IngestWithLogger(l *slog.Logger) IngestionServiceOption {
	return func(svc *IngestionService) {
		svc.logger = l
	}
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(opts ...IngestionServiceOption) *IngestionService {
	s := &IngestionService{
		segmenter:    segmenter.New(),
		chunker:      chunker.New(chunker.Config{}),
		concurrency:  4,
		embedTimeout: 30 * time.Second,
		logger:       slog.Default().With("component", "ingestion"),
		metrics:      telemetry.MustMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest loads a document from storage and ingests it
func (s *IngestionService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if s.storage == nil {
		return nil, errors.New("ingestion service has no storage configured")
	}
	text, err := storage.ReadText(ctx, s.storage, req.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", req.Source, err)
	}
	return s.IngestDocument(ctx, models.RegulatoryDocument{
		Region:     req.Region,
		Statute:    req.Statute,
		RawText:    text,
		SourcePath: req.Source,
	})
}

// IngestBatch ingests independent documents in parallel. A failed document
// does not stop the others; its error is reported in its BatchItem.
func (s *IngestionService) IngestBatch(ctx context.Context, reqs []IngestRequest) []BatchItem {
	items := make([]BatchItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		items[i].Request = req
		g.Go(func() error {
			items[i].Result, items[i].Err = s.Ingest(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// IngestDocument runs an already loaded document through the pipeline.
// Chunk extraction failures are collected in the result; an empty document,
// a failed upsert or an unavailable embedding store abort the call.
func (s *IngestionService) IngestDocument(ctx context.Context, doc models.RegulatoryDocument) (*IngestResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingestion.document")
	defer span.End()
	span.SetAttributes(
		attribute.String("region", doc.Region),
		attribute.String("statute", doc.Statute),
	)
	start := time.Now()

	res, err := s.ingest(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "ingestion failed", "source", doc.SourcePath, "error", err)
		return nil, err
	}

	s.metrics.IngestDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("region", res.Region)))
	s.logger.InfoContext(ctx, "ingested document",
		"source", doc.SourcePath,
		"region", res.Region,
		"statute", res.Statute,
		"sections", res.Sections,
		"chunks", res.Chunks,
		"definitions", res.DefinitionsWritten,
		"regulations", res.RegulationsWritten,
		"errors", len(res.Errors))
	return res, nil
}

func (s *IngestionService) ingest(ctx context.Context, doc models.RegulatoryDocument) (*IngestResult, error) {
	if s.extractor == nil || s.records == nil || s.embedder == nil || s.index == nil {
		return nil, errors.New("ingestion service is missing a collaborator")
	}
	doc.Region = strings.ToUpper(strings.TrimSpace(doc.Region))
	doc.Statute = strings.ToUpper(strings.TrimSpace(doc.Statute))
	if _, err := identity.RegionIdent(doc.Region); err != nil {
		return nil, err
	}
	if doc.Statute == "" {
		return nil, errors.New("statute is required")
	}
	if strings.TrimSpace(doc.RawText) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, doc.SourcePath)
	}

	res := &IngestResult{Region: doc.Region, Statute: doc.Statute, Source: doc.SourcePath}

	sections := s.segmenter.Segment(doc)
	res.Sections = len(sections)
	if len(sections) == 0 {
		res.ParseEmpty = true
		res.Errors = append(res.Errors, IngestError{Message: ErrParseEmpty.Error(), Err: ErrParseEmpty})
		s.logger.WarnContext(ctx, "no sections recognised", "source", doc.SourcePath)
		return res, nil
	}

	var chunks []models.Chunk
	for _, sec := range sections {
		for c := range s.chunker.Chunks(sec.ID, sec.DisplayText) {
			chunks = append(chunks, c)
		}
	}
	res.Chunks = len(chunks)

	extractions, err := s.extractAll(ctx, chunks, res)
	if err != nil {
		return nil, err
	}

	batch := merge(doc, extractions)
	if len(batch.Definitions) == 0 && len(batch.Regulations) == 0 {
		return res, nil
	}

	written, err := s.records.UpsertBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to store records for %s/%s: %w", doc.Region, doc.Statute, err)
	}
	res.DefinitionsWritten = written.DefinitionsWritten
	res.RegulationsWritten = written.RegulationsWritten
	s.metrics.RecordsWritten.Add(ctx, int64(written.DefinitionsWritten+written.RegulationsWritten),
		metric.WithAttributes(attribute.String("region", doc.Region)))

	entries, err := s.embedAll(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := s.index.Upsert(ctx, entries); err != nil {
		if !errors.Is(err, vectorindex.ErrEmbeddingUnavailable) {
			err = fmt.Errorf("%w: %w", vectorindex.ErrEmbeddingUnavailable, err)
		}
		return nil, err
	}
	res.Embedded = len(entries)
	return res, nil
}

// extractAll runs extraction with bounded concurrency. The returned slice is
// indexed like chunks; failed chunks leave a nil entry and an IngestError.
func (s *IngestionService) extractAll(ctx context.Context, chunks []models.Chunk, res *IngestResult) ([]*extractor.Extraction, error) {
	out := make([]*extractor.Extraction, len(chunks))
	errs := make([]error, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			out[i], errs[i] = s.extractor.Extract(gctx, c)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.metrics.ChunksProcessed.Add(ctx, int64(len(chunks)))

	for i, err := range errs {
		if err == nil {
			continue
		}
		s.metrics.ExtractionFailures.Add(ctx, 1)
		s.logger.WarnContext(ctx, "chunk extraction failed",
			"section", chunks[i].SectionRef,
			"sequence", chunks[i].Sequence,
			"error", err)
		res.Errors = append(res.Errors, IngestError{
			SectionRef: chunks[i].SectionRef,
			Sequence:   chunks[i].Sequence,
			Message:    err.Error(),
			Err:        err,
		})
	}
	return out, nil
}

// merge folds extractions into one batch. Extractions are visited in
// section and sequence order, so a later duplicate replaces an earlier one.
func merge(doc models.RegulatoryDocument, extractions []*extractor.Extraction) repository.Batch {
	batch := repository.Batch{Region: doc.Region}
	defIndex := make(map[string]int)
	regIndex := make(map[string]int)

	for _, ext := range extractions {
		if ext == nil {
			continue
		}
		for _, d := range ext.Definitions {
			rec := models.DefinitionRecord{
				Region:     doc.Region,
				Statute:    doc.Statute,
				Term:       d.Term,
				Meaning:    d.Meaning,
				SourceFile: doc.SourcePath,
			}
			if i, ok := defIndex[d.Term]; ok {
				batch.Definitions[i] = rec
				continue
			}
			defIndex[d.Term] = len(batch.Definitions)
			batch.Definitions = append(batch.Definitions, rec)
		}
		for _, r := range ext.Regulations {
			rec := models.RegulationRecord{
				Region:         doc.Region,
				Statute:        doc.Statute,
				LawID:          r.LawID,
				RegulationText: r.Text,
				SourceFile:     doc.SourcePath,
			}
			if i, ok := regIndex[r.LawID]; ok {
				batch.Regulations[i] = rec
				continue
			}
			regIndex[r.LawID] = len(batch.Regulations)
			batch.Regulations = append(batch.Regulations, rec)
		}
	}
	return batch
}

func (s *IngestionService) embedAll(ctx context.Context, batch repository.Batch) ([]models.EmbeddingEntry, error) {
	var entries []models.EmbeddingEntry
	for _, d := range batch.Definitions {
		entries = append(entries, models.EmbeddingEntry{
			StableID: identity.DefinitionID(d),
			Metadata: models.EntryMetadata{
				Kind:       models.KindDefinition,
				Name:       identity.DefinitionName(d.Region, d.Statute, d.Term),
				Region:     d.Region,
				Statute:    d.Statute,
				Term:       d.Term,
				Text:       fmt.Sprintf("%q means %s", d.Term, d.Meaning),
				SourceFile: d.SourceFile,
			},
		})
	}
	for _, r := range batch.Regulations {
		entries = append(entries, models.EmbeddingEntry{
			StableID: identity.RegulationID(r),
			Metadata: models.EntryMetadata{
				Kind:       models.KindRegulation,
				Name:       identity.RegulationName(r.Region, r.Statute, r.LawID),
				Region:     r.Region,
				Statute:    r.Statute,
				LawID:      r.LawID,
				Text:       r.RegulationText,
				SourceFile: r.SourceFile,
			},
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range entries {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.embedTimeout)
			defer cancel()
			vec, err := s.embedder.Embed(callCtx, entries[i].Metadata.Text)
			if err != nil {
				return fmt.Errorf("%w: embedding %s: %w", vectorindex.ErrEmbeddingUnavailable, entries[i].Metadata.Name, err)
			}
			entries[i].Vector = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}
