// Package catalog implements the persistent per-file metadata store (C1):
// path, content hash, compressed content blob, summary, and processing
// status, with SHA-256 deduplication by hash. Grounded on the teacher's
// store/store.go (SQLite, WAL, ON CONFLICT upsert, inTx helper), narrowed
// from the teacher's document/chunk/entity/relationship schema down to
// the spec's single `files` table (spec §3, §4.1).
package catalog

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

// Processing statuses, per spec §3.
const (
	StatusPendingEmbedding = "pending_embedding"
	StatusPendingSummary   = "pending_summary"
	StatusCompleted        = "completed"
)

// FileEntry is one row of the catalog (spec §3 "File entry").
type FileEntry struct {
	Path             string
	Hash             string
	Summary          string
	ProcessingStatus string
	LastIndexed      time.Time
}

// HasSummary reports whether the entry carries a real (non-pending) summary.
func (f FileEntry) HasSummary() bool {
	return f.Summary != ""
}

// Stats summarises catalog size and processing-status breakdown.
type Stats struct {
	TotalFiles int            `json:"total_files"`
	ByStatus   map[string]int `json:"by_status"`
}

// Catalog wraps the SQLite database backing the file catalog.
type Catalog struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database at dbPath and applies the
// schema and any pending migrations. Grounded on store.New's connection
// string (`_journal_mode=WAL&_foreign_keys=on&_busy_timeout`), which
// satisfies spec §4.1's "serialisable, WAL-style journal so readers never
// block writers" requirement.
func Open(dbPath string) (*Catalog, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "creating catalog directory", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "opening catalog database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindStorage, "pinging catalog database", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindStorage, "creating catalog schema", err)
	}

	// SQLite tolerates many readers but one writer at a time; a small
	// pool plus the WAL journal lets readers proceed during a write,
	// matching the teacher's store.New pool sizing.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	c := &Catalog{db: db}
	if err := c.migrate(context.Background()); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindStorage, "running catalog migrations", err)
	}
	return c, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error { return c.db.Close() }

// Digest returns the SHA-256 hex digest of text (invariant A).
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func compress(text string) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(text)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(blob []byte) (string, error) {
	r, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UpsertContent stores compressed text for path, sets status to
// pending_embedding, and refreshes last_indexed. A conflict on path
// updates the existing row in place (spec §4.1).
func (c *Catalog) UpsertContent(ctx context.Context, path, text, hash string) error {
	blob, err := compress(text)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "compressing content", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO files (path, hash, content_blob, summary, processing_status, last_indexed)
		VALUES (?, ?, ?, '', ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			content_blob = excluded.content_blob,
			summary = '',
			processing_status = excluded.processing_status,
			last_indexed = CURRENT_TIMESTAMP
	`, path, hash, blob, StatusPendingEmbedding)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "upserting file content", err)
	}
	return nil
}

// UpdateStatus sets the processing_status field for path.
func (c *Catalog) UpdateStatus(ctx context.Context, path, status string) error {
	res, err := c.db.ExecContext(ctx,
		"UPDATE files SET processing_status = ? WHERE path = ?", status, path)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "updating status", err)
	}
	return checkAffected(res, path)
}

// UpdateSummary sets the summary and, per spec §4.1, side-effects the
// status to completed.
func (c *Catalog) UpdateSummary(ctx context.Context, path, summary string) error {
	res, err := c.db.ExecContext(ctx,
		"UPDATE files SET summary = ?, processing_status = ? WHERE path = ?",
		summary, StatusCompleted, path)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "updating summary", err)
	}
	return checkAffected(res, path)
}

func checkAffected(res sql.Result, path string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "reading rows affected", err)
	}
	if n == 0 {
		return apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("file not found: %s", path), nil)
	}
	return nil
}

func scanEntry(row interface{ Scan(...any) error }) (*FileEntry, string, error) {
	var f FileEntry
	var blob []byte
	if err := row.Scan(&f.Path, &f.Hash, &blob, &f.Summary, &f.ProcessingStatus, &f.LastIndexed); err != nil {
		return nil, "", err
	}
	text, err := decompress(blob)
	if err != nil {
		return nil, "", err
	}
	return &f, text, nil
}

// Get retrieves the catalog row for path.
func (c *Catalog) Get(ctx context.Context, path string) (*FileEntry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT path, hash, content_blob, summary, processing_status, last_indexed
		FROM files WHERE path = ?`, path)
	f, _, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("file not found: %s", path), err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "reading file", err)
	}
	return f, nil
}

// Meta returns the summary and processing status for path, the small
// slice of a FileEntry the hybrid retriever needs to finish resolving a
// result (spec §4.11 step 5), without paying for decompressing the
// full content blob.
func (c *Catalog) Meta(ctx context.Context, path string) (FileMeta, error) {
	var m FileMeta
	err := c.db.QueryRowContext(ctx,
		"SELECT summary, processing_status FROM files WHERE path = ?", path,
	).Scan(&m.Summary, &m.ProcessingStatus)
	if err == sql.ErrNoRows {
		return m, apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("file not found: %s", path), err)
	}
	if err != nil {
		return m, apperr.Wrap(apperr.KindStorage, "reading file metadata", err)
	}
	return m, nil
}

// FileMeta is the summary/status pair returned by Meta.
type FileMeta struct {
	Summary          string
	ProcessingStatus string
}

// GetContent retrieves the decompressed content for path.
func (c *Catalog) GetContent(ctx context.Context, path string) (string, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT path, hash, content_blob, summary, processing_status, last_indexed
		FROM files WHERE path = ?`, path)
	_, text, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return "", apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("file not found: %s", path), err)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, "reading file content", err)
	}
	return text, nil
}

// GetByHash is a read-only dedup lookup: different paths may legitimately
// share a hash (invariant C), so this returns every match.
func (c *Catalog) GetByHash(ctx context.Context, hash string) ([]FileEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT path, hash, content_blob, summary, processing_status, last_indexed
		FROM files WHERE hash = ? COLLATE NOCASE`, hash)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "querying by hash", err)
	}
	defer rows.Close()

	var entries []FileEntry
	for rows.Next() {
		f, _, err := scanEntry(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "scanning hash row", err)
		}
		entries = append(entries, *f)
	}
	return entries, rows.Err()
}

// NeedsReindex reports true iff there is no row for path, or the row's
// hash differs from digest(text) (spec §4.1).
func (c *Catalog) NeedsReindex(ctx context.Context, path, text string) (bool, error) {
	var hash string
	err := c.db.QueryRowContext(ctx, "SELECT hash FROM files WHERE path = ?", path).Scan(&hash)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.KindStorage, "checking reindex state", err)
	}
	return !strings.EqualFold(hash, Digest(text)), nil
}

// Delete removes the row for path. It is a no-op (not an error) if the
// path was never catalogued, matching the watcher's delete-on-miss path.
func (c *Catalog) Delete(ctx context.Context, path string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path); err != nil {
		return apperr.Wrap(apperr.KindStorage, "deleting file", err)
	}
	return nil
}

// Pending returns up to limit files with the given processing_status,
// oldest last_indexed first.
func (c *Catalog) Pending(ctx context.Context, status string, limit int) ([]FileEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT path, hash, content_blob, summary, processing_status, last_indexed
		FROM files WHERE processing_status = ?
		ORDER BY last_indexed ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "querying pending files", err)
	}
	defer rows.Close()

	var entries []FileEntry
	for rows.Next() {
		f, _, err := scanEntry(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "scanning pending row", err)
		}
		entries = append(entries, *f)
	}
	return entries, rows.Err()
}

// All returns every catalogued file, used by index-rebuild paths.
func (c *Catalog) All(ctx context.Context) ([]FileEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT path, hash, content_blob, summary, processing_status, last_indexed FROM files`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "listing files", err)
	}
	defer rows.Close()

	var entries []FileEntry
	for rows.Next() {
		f, _, err := scanEntry(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "scanning file row", err)
		}
		entries = append(entries, *f)
	}
	return entries, rows.Err()
}

// Stats reports catalog size and processing-status breakdown.
func (c *Catalog) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: map[string]int{}}
	rows, err := c.db.QueryContext(ctx, "SELECT processing_status, COUNT(*) FROM files GROUP BY processing_status")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "computing stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "scanning stats row", err)
		}
		stats.ByStatus[status] = count
		stats.TotalFiles += count
	}
	return stats, rows.Err()
}

// LogQuery writes an entry to the query audit log, mirroring the
// teacher's store.LogQuery but narrowed to the fields the self-correcting
// RAG workflow exposes (spec §9 supplemented feature: query-log trail).
func (c *Catalog) LogQuery(ctx context.Context, query, answer string, rounds int, gradingStatsJSON string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO query_log (query, answer, rounds, grading_stats)
		VALUES (?, ?, ?, ?)
	`, query, answer, rounds, gradingStatsJSON)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "logging query", err)
	}
	return nil
}
