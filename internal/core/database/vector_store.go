package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

var _ core.VectorStore = (*PgVectorStore)(nil)

const chunkColumns = 7

// PgVectorStore keeps chunk embeddings in the document_chunks table.
type PgVectorStore struct {
	db *sql.DB
}

func NewPgVectorStore(db *sql.DB) *PgVectorStore {
	return &PgVectorStore{db: db}
}

// StoreBatch writes chunks with one multi-row INSERT, so the batch is
// accepted or rejected as a whole.
func (s *PgVectorStore) StoreBatch(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO document_chunks (document_id, chat_id, user_id, page_number, chunk_index, content, embedding) VALUES `)
	args := make([]any, 0, len(chunks)*chunkColumns)
	for i := range chunks {
		ch := &chunks[i]
		if len(ch.Embedding) == 0 {
			return core.E(core.KindStorage, "vectors.store_batch", fmt.Errorf("chunk %d has no embedding", ch.ChunkIndex))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * chunkColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args,
			ch.DocumentID, ch.ChatID, ch.UserID, ch.PageNumber, ch.ChunkIndex, ch.Content,
			pgvector.NewVector(ch.Embedding),
		)
	}

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return core.E(core.KindStorage, "vectors.store_batch", err)
	}
	return nil
}

// DeleteByDocument removes every chunk of documentID. Zero matching rows is not an error.
func (s *PgVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return core.E(core.KindStorage, "vectors.delete_by_document", err)
	}
	return nil
}

// QueryTopK returns up to k chunks of chatID, most similar first. A non-empty
// userID restricts the search to chunks that user uploaded.
func (s *PgVectorStore) QueryTopK(ctx context.Context, chatID, userID string, embedding []float32, k int) ([]models.RetrievedChunk, error) {
	out := []models.RetrievedChunk{}
	if k <= 0 {
		return out, nil
	}

	const q = `
		SELECT document_id, page_number, chunk_index, content, similarity
		FROM match_document_chunks($1, $2, $3, $4)
	`
	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(embedding), chatID, userID, k)
	if err != nil {
		return nil, core.E(core.KindStorage, "vectors.query_top_k", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rc models.RetrievedChunk
		if err := rows.Scan(&rc.DocumentID, &rc.PageNumber, &rc.ChunkIndex, &rc.Content, &rc.Similarity); err != nil {
			return nil, core.E(core.KindStorage, "vectors.query_top_k", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, core.E(core.KindStorage, "vectors.query_top_k", err)
	}
	return out, nil
}
