package materials

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcdev12/ludus/go/internal/sqlutil"
)

const listChunks = `
SELECT content
FROM doc_chunks
WHERE doc_id = ANY($1) AND embedding IS NOT NULL
ORDER BY doc_id, chunk_index
LIMIT $2`

// Repository reads study material excerpts from Postgres
type Repository struct {
	db sqlutil.Querier
}

// NewRepository creates a new materials repository
func NewRepository(db sqlutil.Querier) *Repository {
	return &Repository{db: db}
}

// Excerpts returns up to limit chunks of the given documents in document
// order. Blank chunks are skipped.
func (r *Repository) Excerpts(ctx context.Context, documentIDs []string, limit int) ([]string, error) {
	if len(documentIDs) == 0 || limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, listChunks, documentIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query document chunks: %w", err)
	}
	defer rows.Close()

	var excerpts []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to scan document chunk: %w", err)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		excerpts = append(excerpts, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read document chunks: %w", err)
	}
	return excerpts, nil
}
