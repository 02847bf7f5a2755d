package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "mem_nodes: hierarchical memory tree + tombstones",
		SQL: `
CREATE TABLE mem_nodes (
    id               TEXT PRIMARY KEY,
    parent_id        TEXT REFERENCES mem_nodes(id),
    ord              INTEGER NOT NULL DEFAULT 0,
    level            TEXT NOT NULL CHECK (level IN ('L0', 'L1', 'L2', 'L3', 'L4+')),
    summary          TEXT NOT NULL,

    -- Time range covered by this memory
    ts_start         INTEGER NOT NULL,
    ts_end           INTEGER NOT NULL,

    -- Utility-driven retention
    utility          REAL NOT NULL DEFAULT 0.5,
    locked           INTEGER NOT NULL DEFAULT 0,
    access_count     INTEGER NOT NULL DEFAULT 0,
    last_access      INTEGER,

    -- Raw payload handle (may be forgotten over the node's life)
    payload_key      TEXT,
    payload_compressed INTEGER NOT NULL DEFAULT 0,

    -- Scene detail, cleared by text-only eviction
    detail           TEXT,

    -- Merge audit trail (JSON array of source ids)
    lineage          TEXT,

    corrected        INTEGER NOT NULL DEFAULT 0,
    downgraded       INTEGER NOT NULL DEFAULT 0,
    prior_confidence REAL,

    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

CREATE INDEX idx_nodes_parent  ON mem_nodes(parent_id);
CREATE INDEX idx_nodes_level   ON mem_nodes(level);
CREATE INDEX idx_nodes_ts      ON mem_nodes(ts_start);

-- Retired ids. A deleted node's id is never reused.
CREATE TABLE tombstones (
    id         TEXT PRIMARY KEY,
    level      TEXT NOT NULL,
    deleted_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "payloads: raw image/audio blobs",
		SQL: `
CREATE TABLE payloads (
    key          TEXT PRIMARY KEY,
    data         BLOB NOT NULL,
    content_type TEXT,
    created_at   INTEGER NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "mem_vectors: cached embeddings for density scoring",
		SQL: `
CREATE TABLE mem_vectors (
    node_id    TEXT PRIMARY KEY REFERENCES mem_nodes(id) ON DELETE CASCADE,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "corrections + feedback: retroactive edit history",
		SQL: `
CREATE TABLE corrections (
    id             INTEGER PRIMARY KEY,
    node_id        TEXT NOT NULL,
    original       TEXT NOT NULL,
    correction     TEXT NOT NULL,
    new_summary    TEXT NOT NULL,
    method         TEXT NOT NULL,
    verifier_claim TEXT,
    created_at     INTEGER NOT NULL
);

CREATE INDEX idx_corrections_node ON corrections(node_id, created_at);

-- Verification outcomes of past user corrections, drives the confidence
-- model's user-accuracy term.
CREATE TABLE feedback (
    id         INTEGER PRIMARY KEY,
    verified   INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
