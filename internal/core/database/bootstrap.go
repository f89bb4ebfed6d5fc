package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/markdave123-py/citedoc/internal/core"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// EnsureBootstrapped creates the schema on first start and checks that an existing
// schema was built for the configured dimension and metric.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, dim int, metric string) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'citedoc_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}
	if !exists {
		return runBootstrap(ctxBoot, db, dim, metric)
	}

	var (
		gotDim    int
		gotMetric string
	)
	err = db.QueryRowContext(ctxBoot, `SELECT dimension, metric FROM citedoc_meta WHERE version = $1`, schemaVersion).
		Scan(&gotDim, &gotMetric)
	if err == sql.ErrNoRows {
		return runBootstrap(ctxBoot, db, dim, metric)
	}
	if err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if gotDim != dim || gotMetric != metric {
		return core.IndexError("bootstrap", fmt.Errorf("%w: schema is %s/%d, index configured %s/%d",
			core.ErrIndexCorrupt, gotMetric, gotDim, metric, dim))
	}
	return nil
}

func bootstrapSQL(dim int, metric string) (string, error) {
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return "", fmt.Errorf("read initdb.sql: %w", err)
	}
	return strings.NewReplacer(
		"{{DIMENSION}}", strconv.Itoa(dim),
		"{{METRIC}}", metric,
	).Replace(string(sqlBytes)), nil
}

func runBootstrap(ctx context.Context, db *sql.DB, dim int, metric string) error {
	script, err := bootstrapSQL(dim, metric)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}
