// Package postgres provides a PostgreSQL implementation of the storage
// interfaces, with optional pgvector-backed candidate search.
package postgres

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent (IF NOT EXISTS) so the schema can be applied
// on every open. The embedding column is added separately once the pgvector
// extension is confirmed available.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    normalized_name TEXT NOT NULL,
    external_table TEXT,
    external_id TEXT,
    properties JSONB,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_normalized_name ON entities(normalized_name);

CREATE TABLE IF NOT EXISTS entity_aliases (
    alias TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL REFERENCES entities(id),
    source TEXT NOT NULL,
    origin_event_id TEXT,
    use_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    last_used_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_aliases_entity ON entity_aliases(entity_id);

CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    subject_entity_id TEXT NOT NULL REFERENCES entities(id),
    predicate TEXT NOT NULL DEFAULT '',
    object_value JSONB,
    canonical_value TEXT NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL,
    reinforcement_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL,
    last_reinforced_at TIMESTAMPTZ NOT NULL,
    last_validated_at TIMESTAMPTZ,
    provenance TEXT,
    superseded_by TEXT NOT NULL DEFAULT '',
    superseded_reason TEXT NOT NULL DEFAULT '',
    consolidated_into TEXT NOT NULL DEFAULT '',
    linked_entity_ids JSONB,
    importance DOUBLE PRECISION NOT NULL DEFAULT 0,
    session_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_memories_subject ON memories(subject_entity_id, predicate, status);
CREATE INDEX IF NOT EXISTS idx_memories_consolidation
    ON memories(subject_entity_id, status, kind, consolidated_into);

CREATE TABLE IF NOT EXISTS summaries (
    id TEXT PRIMARY KEY REFERENCES memories(id),
    text TEXT NOT NULL,
    key_facts JSONB
);

CREATE TABLE IF NOT EXISTS summary_sources (
    summary_id TEXT NOT NULL REFERENCES summaries(id),
    memory_id TEXT NOT NULL REFERENCES memories(id),
    PRIMARY KEY (summary_id, memory_id)
);

CREATE TABLE IF NOT EXISTS conflicts (
    id TEXT PRIMARY KEY,
    pair_key TEXT NOT NULL,
    type TEXT NOT NULL,
    subject_entity_id TEXT NOT NULL,
    predicate TEXT NOT NULL,
    left_ref JSONB NOT NULL,
    right_ref JSONB NOT NULL,
    recommended TEXT NOT NULL,
    recommended_ref JSONB,
    confidence_diff DOUBLE PRECISION NOT NULL DEFAULT 0,
    temporal_diff_days DOUBLE PRECISION NOT NULL DEFAULT 0,
    reinforcement_diff INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    resolved_at TIMESTAMPTZ,
    outcome TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conflicts_open_pair
    ON conflicts(pair_key) WHERE resolved_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_conflicts_subject ON conflicts(subject_entity_id);
`

// MigrationPgvector adds the embedding column and its index once the vector
// extension is confirmed. Applied only when pgvector is available.
const MigrationPgvector = `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS embedding vector(1536);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`
