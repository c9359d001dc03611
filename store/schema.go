package store

// schemaSQL is the DDL of the result cache.
const schemaSQL = `
-- One row per cached extraction, keyed by input hash and options
CREATE TABLE IF NOT EXISTS extractions (
    key TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    filename TEXT,
    format TEXT NOT NULL,
    content TEXT NOT NULL,
    metadata JSON,
    partial INTEGER NOT NULL DEFAULT 0,
    diagnostics JSON,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    accessed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_extractions_content_hash ON extractions(content_hash);
CREATE INDEX IF NOT EXISTS idx_extractions_created ON extractions(created_at);
CREATE INDEX IF NOT EXISTS idx_extractions_accessed ON extractions(accessed_at);
`
