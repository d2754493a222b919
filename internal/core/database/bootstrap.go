package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/markdave123-py/docpipe/internal/core"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

// schemaVersion is the docpipe_meta row written by scripts/initdb.sql.
// Version 2 scopes match_document_chunks by owner and enables iterative HNSW scans.
const schemaVersion = 2

// EnsureBootstrapped creates the schema on first run, re-applies the script
// over an older version and verifies that an existing schema was built for
// the same embedding dimension.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, embedDim int) error {

	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'docpipe_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}
	if !exists {
		return runBootstrap(ctxBoot, db, embedDim)
	}

	var version, dim int
	err = db.QueryRowContext(ctxBoot, `SELECT version, embed_dim FROM docpipe_meta ORDER BY version DESC LIMIT 1`).
		Scan(&version, &dim)
	if err == sql.ErrNoRows {
		return runBootstrap(ctxBoot, db, embedDim)
	}
	if err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if dim != embedDim {
		return core.E(core.KindConfig, "bootstrap",
			fmt.Errorf("schema was created for %d-dim embeddings, EMBED_DIM is %d", dim, embedDim))
	}
	if version < schemaVersion {
		log.Printf("Bootstrap: upgrading schema from version %d to %d", version, schemaVersion)
		return runBootstrap(ctxBoot, db, embedDim)
	}

	log.Printf("Bootstrap: schema version %d already applied", schemaVersion)
	return nil
}

func renderBootstrap(embedDim int) (string, error) {
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return "", fmt.Errorf("read initdb.sql: %w", err)
	}
	return strings.ReplaceAll(string(sqlBytes), "{{EMBED_DIM}}", strconv.Itoa(embedDim)), nil
}

func runBootstrap(ctx context.Context, db *sql.DB, embedDim int) error {
	if embedDim <= 0 {
		return core.E(core.KindConfig, "bootstrap", fmt.Errorf("embedding dimension must be > 0, got %d", embedDim))
	}
	script, err := renderBootstrap(embedDim)
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
	log.Printf("Bootstrap: schema version %d applied (embedding dimension %d)", schemaVersion, embedDim)
	return nil
}
