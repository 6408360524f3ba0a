package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"geocompliance-backend/identity"
	"geocompliance-backend/models"
)

var (
	ErrUpsertConflict = errors.New("upsert conflict")
	ErrRecordNotFound = errors.New("record not found")
)

// UpsertConflictError reports a batch whose transaction was rolled back
type UpsertConflictError struct {
	Region string
	Err    error
}

func (e *UpsertConflictError) Error() string {
	return fmt.Sprintf("upsert batch for region %s rolled back: %v", e.Region, e.Err)
}

func (e *UpsertConflictError) Unwrap() error { return e.Err }

func (e *UpsertConflictError) Is(target error) bool { return target == ErrUpsertConflict }

// Batch is the set of records written in one transaction. All records belong to Region.
type Batch struct {
	Region      string
	Definitions []models.DefinitionRecord
	Regulations []models.RegulationRecord
}

// UpsertResult counts the rows written by a batch
type UpsertResult struct {
	DefinitionsWritten int
	RegulationsWritten int
}

// RecordRepository stores definitions and regulations in per-region tables
type RecordRepository struct {
	db      *sql.DB
	dialect Dialect
	schema  SchemaProvider
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	ensured map[string]bool
}

// RecordOption configures a RecordRepository
type RecordOption func(*RecordRepository)

// RecordWithSchemaProvider replaces the default SQL schema provider
func RecordWithSchemaProvider(p SchemaProvider) RecordOption {
	return func(r *RecordRepository) {
		r.schema = p
	}
}

// RecordWithClock sets the timestamp source
func RecordWithClock(now func() time.Time) RecordOption {
	return func(r *RecordRepository) {
		r.now = now
	}
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *sql.DB, dialect Dialect, opts ...RecordOption) *RecordRepository {
	r := &RecordRepository{
		db:      db,
		dialect: dialect,
		schema:  NewSQLSchemaProvider(db),
		logger:  slog.Default().With("component", "record_repository"),
		now:     func() time.Time { return time.Now().UTC() },
		ensured: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureRegion creates the region's tables once per process
func (r *RecordRepository) EnsureRegion(ctx context.Context, region string) error {
	ident, err := identity.RegionIdent(region)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ensured[ident] {
		return nil
	}
	if err := r.schema.EnsureSchema(ctx, ident); err != nil {
		return err
	}
	r.ensured[ident] = true
	r.logger.InfoContext(ctx, "region schema ready", "region", ident)
	return nil
}

// UpsertBatch writes every record of the batch in one transaction.
// Existing rows with the same identity are overwritten. Any failure rolls
// the whole batch back and is returned as *UpsertConflictError.
func (r *RecordRepository) UpsertBatch(ctx context.Context, batch Batch) (UpsertResult, error) {
	var result UpsertResult
	if err := r.EnsureRegion(ctx, batch.Region); err != nil {
		return result, &UpsertConflictError{Region: batch.Region, Err: err}
	}
	defs, regs, _ := tableNames(batch.Region)
	now := r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, &UpsertConflictError{Region: batch.Region, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	defQuery := r.dialect.rebind(fmt.Sprintf(`INSERT INTO %s (statute, term, meaning, source_file, stable_id, updated_at) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (statute, term) DO UPDATE SET meaning = excluded.meaning, source_file = excluded.source_file, stable_id = excluded.stable_id, updated_at = excluded.updated_at`, defs))
	for _, d := range batch.Definitions {
		if err := checkRegion(batch.Region, d.Region); err != nil {
			return UpsertResult{}, &UpsertConflictError{Region: batch.Region, Err: err}
		}
		_, err := tx.ExecContext(ctx, defQuery,
			strings.ToUpper(d.Statute), d.Term, d.Meaning, d.SourceFile, identity.DefinitionID(d).String(), now)
		if err != nil {
			return UpsertResult{}, &UpsertConflictError{Region: batch.Region, Err: fmt.Errorf("definition %q: %w", d.Term, err)}
		}
		result.DefinitionsWritten++
	}

	regQuery := r.dialect.rebind(fmt.Sprintf(`INSERT INTO %s (statute, law_id, regulation_name, regulation_text, source_file, stable_id, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (statute, law_id) DO UPDATE SET regulation_name = excluded.regulation_name, regulation_text = excluded.regulation_text, source_file = excluded.source_file, stable_id = excluded.stable_id, updated_at = excluded.updated_at`, regs))
	for _, reg := range batch.Regulations {
		if err := checkRegion(batch.Region, reg.Region); err != nil {
			return UpsertResult{}, &UpsertConflictError{Region: batch.Region, Err: err}
		}
		_, err := tx.ExecContext(ctx, regQuery,
			strings.ToUpper(reg.Statute), reg.LawID, identity.RegulationName(reg.Region, reg.Statute, reg.LawID),
			reg.RegulationText, reg.SourceFile, identity.RegulationID(reg).String(), now)
		if err != nil {
			return UpsertResult{}, &UpsertConflictError{Region: batch.Region, Err: fmt.Errorf("regulation %q: %w", reg.LawID, err)}
		}
		result.RegulationsWritten++
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, &UpsertConflictError{Region: batch.Region, Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}
	return result, nil
}

func checkRegion(batchRegion, recordRegion string) error {
	if !strings.EqualFold(batchRegion, recordRegion) {
		return fmt.Errorf("record region %q does not match batch region %q", recordRegion, batchRegion)
	}
	return nil
}

// GetRegulation returns one regulation by its identity
func (r *RecordRepository) GetRegulation(ctx context.Context, region, statute, lawID string) (*models.RegulationRecord, error) {
	if err := r.EnsureRegion(ctx, region); err != nil {
		return nil, err
	}
	_, regs, _ := tableNames(region)

	query := r.dialect.rebind(fmt.Sprintf(`SELECT statute, law_id, regulation_text, source_file, updated_at FROM %s WHERE statute = ? AND law_id = ?`, regs))
	rec := models.RegulationRecord{Region: strings.ToUpper(region)}
	err := r.db.QueryRowContext(ctx, query, strings.ToUpper(statute), lawID).
		Scan(&rec.Statute, &rec.LawID, &rec.RegulationText, &rec.SourceFile, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get regulation: %w", err)
	}
	return &rec, nil
}

// ListRegulations returns a region's regulations, optionally limited to one statute
func (r *RecordRepository) ListRegulations(ctx context.Context, region, statute string) ([]models.RegulationRecord, error) {
	if err := r.EnsureRegion(ctx, region); err != nil {
		return nil, err
	}
	_, regs, _ := tableNames(region)

	query := fmt.Sprintf(`SELECT statute, law_id, regulation_text, source_file, updated_at FROM %s`, regs)
	var args []any
	if statute != "" {
		query += ` WHERE statute = ?`
		args = append(args, strings.ToUpper(statute))
	}
	query += ` ORDER BY statute, law_id`

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list regulations: %w", err)
	}
	defer rows.Close()

	var out []models.RegulationRecord
	for rows.Next() {
		rec := models.RegulationRecord{Region: strings.ToUpper(region)}
		if err := rows.Scan(&rec.Statute, &rec.LawID, &rec.RegulationText, &rec.SourceFile, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan regulation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListDefinitions returns a region's definitions, optionally limited to one statute
func (r *RecordRepository) ListDefinitions(ctx context.Context, region, statute string) ([]models.DefinitionRecord, error) {
	if err := r.EnsureRegion(ctx, region); err != nil {
		return nil, err
	}
	defs, _, _ := tableNames(region)

	query := fmt.Sprintf(`SELECT statute, term, meaning, source_file, updated_at FROM %s`, defs)
	var args []any
	if statute != "" {
		query += ` WHERE statute = ?`
		args = append(args, strings.ToUpper(statute))
	}
	query += ` ORDER BY statute, term`

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var out []models.DefinitionRecord
	for rows.Next() {
		rec := models.DefinitionRecord{Region: strings.ToUpper(region)}
		if err := rows.Scan(&rec.Statute, &rec.Term, &rec.Meaning, &rec.SourceFile, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountRecords returns the number of definitions and regulations stored for a region
func (r *RecordRepository) CountRecords(ctx context.Context, region string) (definitions, regulations int, err error) {
	if err := r.EnsureRegion(ctx, region); err != nil {
		return 0, 0, err
	}
	defs, regs, _ := tableNames(region)

	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, defs)).Scan(&definitions); err != nil {
		return 0, 0, fmt.Errorf("failed to count definitions: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, regs)).Scan(&regulations); err != nil {
		return 0, 0, fmt.Errorf("failed to count regulations: %w", err)
	}
	return definitions, regulations, nil
}
