package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"geocompliance-backend/config"
)

// Dialect selects placeholder style for the relational store
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Open connects to the configured relational store and verifies the connection
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, Dialect, error) {
	driver, dialect := "sqlite", DialectSQLite
	if cfg.Driver == "pgx" || cfg.Driver == "postgres" {
		driver, dialect = "pgx", DialectPostgres
	}

	db, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, "", fmt.Errorf("unable to open database: %w", err)
	}
	if dialect == DialectSQLite {
		// a single writer avoids SQLITE_BUSY under concurrent ingestion
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("unable to ping database: %w", err)
	}
	return db, dialect, nil
}

// rebind rewrites ? placeholders to $n for Postgres
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
