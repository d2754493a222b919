package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/docpipe/internal/config"
	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

var _ core.DocumentStore = (*DatabaseClient)(nil)

// staleReason is stored on documents failed by the reconciliation sweep.
const staleReason = "processing timed out"

// Open connects to Postgres through the pgx stdlib driver and bootstraps the schema.
func Open(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, core.E(core.KindConfig, "db.open", errors.New("DATABASE_URL is empty"))
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		// Append SSL params to the provided DATABASE_URL safely.
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return db, nil
}

// DatabaseClient is the Postgres document status tracker.
type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return core.E(core.KindInvalidInput, "db.create_document", errors.New("nil document"))
	}
	if doc.Status == "" {
		doc.Status = models.StatusUploaded
	}
	const q = `
		INSERT INTO documents
			(id, user_id, chat_id, file_name, storage_path, byte_size, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`
	err := c.db.QueryRowContext(ctx, q,
		doc.ID, doc.UserID, doc.ChatID, doc.FileName, doc.StoragePath, doc.ByteSize, doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return core.E(core.KindStorage, "db.create_document", err)
	}
	return nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, user_id, chat_id, file_name, storage_path, byte_size, status,
		       page_count, error_message, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	var (
		d         models.Document
		pageCount sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.UserID, &d.ChatID, &d.FileName, &d.StoragePath, &d.ByteSize, &d.Status,
		&pageCount, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.E(core.KindNotFound, "db.get_document", fmt.Errorf("%s: %w", id, core.ErrDocumentNotFound))
	}
	if err != nil {
		return nil, core.E(core.KindStorage, "db.get_document", err)
	}
	if pageCount.Valid {
		n := int(pageCount.Int64)
		d.PageCount = &n
	}
	return &d, nil
}

// DeleteDocument removes the row; its chunks go with it through ON DELETE CASCADE.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return core.E(core.KindStorage, "db.delete_document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.E(core.KindNotFound, "db.delete_document", fmt.Errorf("%s: %w", id, core.ErrDocumentNotFound))
	}
	return nil
}

// UpdateDocumentStatus moves a document to status if its current status allows it.
func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	const q = `
		UPDATE documents
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = ANY(string_to_array($2, ','))
	`
	return c.transition(ctx, "db.update_status", id, status, q, string(status))
}

// MarkProcessed records the terminal success state and the page count.
func (c *DatabaseClient) MarkProcessed(ctx context.Context, id string, pageCount int) error {
	const q = `
		UPDATE documents
		SET status = 'processed', page_count = $3, error_message = '', updated_at = now()
		WHERE id = $1 AND status = ANY(string_to_array($2, ','))
	`
	return c.transition(ctx, "db.mark_processed", id, models.StatusProcessed, q, pageCount)
}

// MarkFailed records the terminal failure state and its reason.
func (c *DatabaseClient) MarkFailed(ctx context.Context, id string, reason string) error {
	const q = `
		UPDATE documents
		SET status = 'failed', error_message = $3, updated_at = now()
		WHERE id = $1 AND status = ANY(string_to_array($2, ','))
	`
	return c.transition(ctx, "db.mark_failed", id, models.StatusFailed, q, reason)
}

// transition runs a guarded UPDATE whose $1 is the id and $2 the comma
// separated allowed predecessors of to. When no row matches it tells a
// missing document apart from a forbidden transition.
func (c *DatabaseClient) transition(ctx context.Context, op, id string, to models.DocumentStatus, q string, arg any) error {
	allowed := to.AllowedFrom()
	if len(allowed) == 0 {
		return core.E(core.KindInvalidTransition, op, fmt.Errorf("%w: nothing moves to %q", core.ErrInvalidTransition, to))
	}

	res, err := c.db.ExecContext(ctx, q, id, joinStatuses(allowed), arg)
	if err != nil {
		return core.E(core.KindStorage, op, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current models.DocumentStatus
	err = c.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return core.E(core.KindNotFound, op, fmt.Errorf("%s: %w", id, core.ErrDocumentNotFound))
	}
	if err != nil {
		return core.E(core.KindStorage, op, err)
	}
	return core.E(core.KindInvalidTransition, op,
		fmt.Errorf("%w: %s is %s, cannot become %s", core.ErrInvalidTransition, id, current, to))
}

// FailStaleProcessing fails documents whose processing attempt has not
// touched the row for longer than olderThan.
func (c *DatabaseClient) FailStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `
		UPDATE documents
		SET status = 'failed', error_message = $2, updated_at = now()
		WHERE status = 'processing' AND updated_at < now() - make_interval(secs => $1)
	`
	res, err := c.db.ExecContext(ctx, q, olderThan.Seconds(), staleReason)
	if err != nil {
		return 0, core.E(core.KindStorage, "db.fail_stale", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, core.E(core.KindStorage, "db.fail_stale", err)
	}
	return n, nil
}

func joinStatuses(ss []models.DocumentStatus) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}
