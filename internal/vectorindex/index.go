// Package vectorindex implements the persistent vector index (C5): one
// record per chunk, cosine distance, backed by sqlite-vec's vec0
// virtual table. Grounded on the teacher's store.go vec_chunks table,
// InsertEmbedding/VectorSearch methods and serializeFloat32 encoding
// (spec §4.5), narrowed to a standalone chunk-id-keyed index rather
// than the teacher's document/chunk/entity schema.
package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

func init() {
	sqlite_vec.Auto()
}

// Record is one match returned by Query: the stored document text and
// metadata alongside the raw cosine distance (spec §4.5).
type Record struct {
	ID       string
	Document string
	Metadata string // opaque JSON, caller-defined
	Distance float64
}

// Score converts Distance to a fusion-ready similarity in [0,1]
// (spec §4.5: "1 - distance, clipped to [0, 1]").
func (r Record) Score() float64 {
	s := 1 - r.Distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Index wraps a sqlite-vec-backed vector table keyed by an arbitrary
// string chunk id.
type Index struct {
	db  *sql.DB
	dim int
}

// Open opens (or creates) the vector database at dbPath with the given
// embedding dimension.
func Open(dbPath string, dim int) (*Index, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "creating vector index directory", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "opening vector index", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindStorage, "pinging vector index", err)
	}

	schema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
			chunk_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
		CREATE TABLE IF NOT EXISTS vec_payload (
			chunk_id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			document TEXT NOT NULL,
			metadata TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_vec_payload_path ON vec_payload(path);
	`, dim)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindStorage, "creating vector index schema", err)
	}

	return &Index{db: db, dim: dim}, nil
}

// Close closes the underlying database.
func (idx *Index) Close() error { return idx.db.Close() }

// Add inserts or replaces embeddings for ids, one record per chunk.
// path is the owning file, used by Delete's "where path == P" contract.
func (idx *Index) Add(ctx context.Context, path string, ids []string, embeddings [][]float32, documents []string, metadata []string) error {
	if len(ids) != len(embeddings) || len(ids) != len(documents) || len(ids) != len(metadata) {
		return apperr.New(apperr.KindInternal, "vectorindex.Add: mismatched slice lengths")
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "beginning vector add transaction", err)
	}
	defer tx.Rollback()

	vecStmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "preparing vector insert", err)
	}
	defer vecStmt.Close()

	payloadStmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO vec_payload (chunk_id, path, document, metadata) VALUES (?, ?, ?, ?)")
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "preparing payload insert", err)
	}
	defer payloadStmt.Close()

	for i, id := range ids {
		if len(embeddings[i]) != idx.dim {
			return apperr.New(apperr.KindEmbedding, fmt.Sprintf("embedding dimension %d does not match index dimension %d", len(embeddings[i]), idx.dim))
		}
		if _, err := vecStmt.ExecContext(ctx, id, serializeFloat32(embeddings[i])); err != nil {
			return apperr.Wrap(apperr.KindStorage, "inserting embedding", err)
		}
		if _, err := payloadStmt.ExecContext(ctx, id, path, documents[i], metadata[i]); err != nil {
			return apperr.Wrap(apperr.KindStorage, "inserting vector payload", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindStorage, "committing vector add", err)
	}
	return nil
}

// Delete removes every record whose path matches (spec §4.5's
// "delete(where path == P)").
func (idx *Index) Delete(ctx context.Context, path string) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "beginning vector delete transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT chunk_id FROM vec_payload WHERE path = ?", path)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "selecting chunks for delete", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return apperr.Wrap(apperr.KindStorage, "scanning chunk id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperr.Wrap(apperr.KindStorage, "iterating chunks for delete", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks WHERE chunk_id = ?", id); err != nil {
			return apperr.Wrap(apperr.KindStorage, "deleting embedding", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vec_payload WHERE path = ?", path); err != nil {
		return apperr.Wrap(apperr.KindStorage, "deleting vector payload", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindStorage, "committing vector delete", err)
	}
	return nil
}

// Query performs a KNN search for the k nearest chunks to embedding.
func (idx *Index) Query(ctx context.Context, embedding []float32, k int) ([]Record, error) {
	if len(embedding) != idx.dim {
		return nil, apperr.New(apperr.KindEmbedding, fmt.Sprintf("query embedding dimension %d does not match index dimension %d", len(embedding), idx.dim))
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT v.chunk_id, v.distance, p.document, p.metadata
		FROM vec_chunks v
		JOIN vec_payload p ON p.chunk_id = v.chunk_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(embedding), k)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "querying vector index", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Distance, &r.Document, &r.Metadata); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "scanning vector result", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Count returns the number of embedded chunks, used for health reporting.
func (idx *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_payload").Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, "counting vector index", err)
	}
	return n, nil
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec, exactly as the teacher's store.serializeFloat32.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
