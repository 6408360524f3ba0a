package repository

import (
	"context"
	"database/sql"
	"fmt"

	"geocompliance-backend/identity"
)

// SchemaProvider creates the per-region tables on demand
type SchemaProvider interface {
	EnsureSchema(ctx context.Context, region string) error
}

// SQLSchemaProvider issues CREATE TABLE IF NOT EXISTS for a region's tables
type SQLSchemaProvider struct {
	db *sql.DB
}

// NewSQLSchemaProvider creates a schema provider
func NewSQLSchemaProvider(db *sql.DB) *SQLSchemaProvider {
	return &SQLSchemaProvider{db: db}
}

// EnsureSchema creates <region>_definitions and <region>_regulations
func (p *SQLSchemaProvider) EnsureSchema(ctx context.Context, region string) error {
	for _, stmt := range SchemaStatements(region) {
		if stmt == "" {
			return fmt.Errorf("invalid region: %q", region)
		}
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables for region %s: %w", region, err)
		}
	}
	return nil
}

// SchemaStatements returns the DDL for a region, or empty strings if the region is invalid
func SchemaStatements(region string) []string {
	defs, regs, err := tableNames(region)
	if err != nil {
		return []string{""}
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (statute TEXT NOT NULL, term TEXT NOT NULL, meaning TEXT NOT NULL, source_file TEXT NOT NULL DEFAULT '', stable_id TEXT NOT NULL, updated_at TIMESTAMP NOT NULL, PRIMARY KEY (statute, term))`, defs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (statute TEXT NOT NULL, law_id TEXT NOT NULL, regulation_name TEXT NOT NULL, regulation_text TEXT NOT NULL, source_file TEXT NOT NULL DEFAULT '', stable_id TEXT NOT NULL, updated_at TIMESTAMP NOT NULL, PRIMARY KEY (statute, law_id))`, regs),
	}
}

func tableNames(region string) (defs, regs string, err error) {
	ident, err := identity.RegionIdent(region)
	if err != nil {
		return "", "", err
	}
	return ident + "_definitions", ident + "_regulations", nil
}
