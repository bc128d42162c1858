package catalog

// schemaSQL returns the DDL for the catalog database. Grounded on the
// teacher's store/schema.go: same WAL-friendly virtual-table-free layout,
// narrowed to one row per file plus a query audit log.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS files (
    path TEXT PRIMARY KEY,
    hash TEXT NOT NULL,
    content_blob BLOB NOT NULL,
    summary TEXT,
    processing_status TEXT NOT NULL DEFAULT 'pending_embedding',
    last_indexed DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_files_hash ON files(hash);
CREATE INDEX IF NOT EXISTS idx_files_status ON files(processing_status);

CREATE TABLE IF NOT EXISTS query_log (
    id INTEGER PRIMARY KEY,
    query TEXT NOT NULL,
    answer TEXT,
    rounds INTEGER,
    grading_stats JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    description TEXT,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
