package databases

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgText is a Postgres-backed TextIndex using a generated tsvector column
// and websearch_to_tsquery over the 'simple' dictionary.
type pgText struct{ pool *pgxpool.Pool }

func NewPostgresText(pool *pgxpool.Pool) TextIndex {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS text_chunks (
  id TEXT PRIMARY KEY,
  text TEXT NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(text,''))) STORED
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS text_chunks_ts_idx ON text_chunks USING GIN (ts)`)
	return &pgText{pool: pool}
}

func (p *pgText) Upsert(ctx context.Context, id, text string, metadata map[string]string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO text_chunks(id, text, metadata) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, metadata=EXCLUDED.metadata
`, id, text, mapToJSON(metadata))
	return err
}

func (p *pgText) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM text_chunks WHERE id=$1`, id)
	return err
}

func (p *pgText) Search(ctx context.Context, query string, limit int, filter map[string]string) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, ts_rank(ts, websearch_to_tsquery('simple', $1)) AS score,
       left(text, 120) AS snippet, text, metadata
FROM text_chunks
WHERE ts @@ websearch_to_tsquery('simple', $1) AND metadata @> $2
ORDER BY score DESC
LIMIT $3
`, q, mapToJSON(filter), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]SearchResult, 0, limit)
	for rows.Next() {
		var r SearchResult
		var md map[string]string
		if err := rows.Scan(&r.ID, &r.Score, &r.Snippet, &r.Text, &md); err != nil {
			return nil, err
		}
		r.Metadata = md
		out = append(out, r)
	}
	return out, rows.Err()
}

// mapToJSON ensures we never pass SQL NULL into a NOT NULL JSONB column.
func mapToJSON(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
