// Package sqlite provides a SQLite implementation of the storage interfaces.
package sqlite

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent (IF NOT EXISTS) so the schema can be applied
// on every open.
const Schema = `
-- Canonical entities: one row per real-world referent, never deleted.
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    normalized_name TEXT NOT NULL,
    external_table TEXT,
    external_id TEXT,
    properties TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_normalized_name ON entities(normalized_name);

-- Aliases: one normalized surface form points at exactly one entity.
CREATE TABLE IF NOT EXISTS entity_aliases (
    alias TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL REFERENCES entities(id),
    source TEXT NOT NULL,
    origin_event_id TEXT,
    use_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    last_used_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_aliases_entity ON entity_aliases(entity_id);

-- Memory records: append-mostly, soft-delete via status only.
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    subject_entity_id TEXT NOT NULL REFERENCES entities(id),
    predicate TEXT NOT NULL DEFAULT '',
    object_value TEXT,
    canonical_value TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL,
    reinforcement_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL,
    last_reinforced_at TIMESTAMP NOT NULL,
    last_validated_at TIMESTAMP,
    provenance TEXT,
    superseded_by TEXT NOT NULL DEFAULT '',
    superseded_reason TEXT NOT NULL DEFAULT '',
    consolidated_into TEXT NOT NULL DEFAULT '',
    linked_entity_ids TEXT,
    importance REAL NOT NULL DEFAULT 0,
    embedding TEXT,
    session_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_memories_subject ON memories(subject_entity_id, predicate, status);
CREATE INDEX IF NOT EXISTS idx_memories_consolidation
    ON memories(subject_entity_id, status, kind, consolidated_into);

-- Summary payloads; the summary's record row lives in memories.
CREATE TABLE IF NOT EXISTS summaries (
    id TEXT PRIMARY KEY REFERENCES memories(id),
    text TEXT NOT NULL,
    key_facts TEXT
);

CREATE TABLE IF NOT EXISTS summary_sources (
    summary_id TEXT NOT NULL REFERENCES summaries(id),
    memory_id TEXT NOT NULL REFERENCES memories(id),
    PRIMARY KEY (summary_id, memory_id)
);

-- Conflicts: append-only log; resolution stamps the row, never removes it.
CREATE TABLE IF NOT EXISTS conflicts (
    id TEXT PRIMARY KEY,
    pair_key TEXT NOT NULL,
    type TEXT NOT NULL,
    subject_entity_id TEXT NOT NULL,
    predicate TEXT NOT NULL,
    left_ref TEXT NOT NULL,
    right_ref TEXT NOT NULL,
    recommended TEXT NOT NULL,
    recommended_ref TEXT,
    confidence_diff REAL NOT NULL DEFAULT 0,
    temporal_diff_days REAL NOT NULL DEFAULT 0,
    reinforcement_diff INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP,
    outcome TEXT NOT NULL DEFAULT ''
);

-- One unresolved conflict per pair; resolved rows are history and may repeat.
CREATE UNIQUE INDEX IF NOT EXISTS idx_conflicts_open_pair
    ON conflicts(pair_key) WHERE resolved_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_conflicts_subject ON conflicts(subject_entity_id);
`
