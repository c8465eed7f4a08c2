package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database, configures WAL mode, and applies the
// schema. Use ":memory:" as the dsn for an in-process store.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// FactStore
// ---------------------------------------------------------------------------

// PutRecord inserts a new memory record.
func (s *Store) PutRecord(ctx context.Context, record *types.MemoryRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: record with ID is required", storage.ErrInvalidInput)
	}

	objectJSON, err := marshalJSON(record.ObjectValue)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal object value: %w", err)
	}
	linkedJSON, err := marshalJSON(record.LinkedEntityIDs)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal linked entities: %w", err)
	}
	embeddingJSON, err := marshalJSON(record.Embedding)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, kind, subject_entity_id, predicate, object_value, canonical_value,
			confidence, reinforcement_count, status,
			created_at, last_reinforced_at, last_validated_at,
			provenance, superseded_by, superseded_reason, consolidated_into,
			linked_entity_ids, importance, embedding, session_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID, string(record.Kind), record.SubjectEntityID, record.Predicate,
		nullableString(objectJSON), types.CanonicalValue(record.ObjectValue),
		record.Confidence, record.ReinforcementCount, string(record.Status),
		record.CreatedAt, record.LastReinforcedAt, nullableTime(record.LastValidatedAt),
		record.Provenance, record.SupersededBy, record.SupersededReason, record.ConsolidatedInto,
		nullableString(linkedJSON), record.Importance, nullableString(embeddingJSON), record.SessionID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert memory: %w", err)
	}
	return nil
}

// GetRecord retrieves a record by ID.
func (s *Store) GetRecord(ctx context.Context, id string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, selectMemoryColumns+" FROM memories m WHERE m.id = ?", id)
	record, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get memory %s: %w", id, err)
	}
	return record, nil
}

// UpdateRecord rewrites an existing record's mutable fields.
func (s *Store) UpdateRecord(ctx context.Context, record *types.MemoryRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: record with ID is required", storage.ErrInvalidInput)
	}

	objectJSON, err := marshalJSON(record.ObjectValue)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal object value: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET
			object_value = ?, canonical_value = ?,
			confidence = ?, reinforcement_count = ?, status = ?,
			last_reinforced_at = ?, last_validated_at = ?,
			superseded_by = ?, superseded_reason = ?, consolidated_into = ?,
			importance = ?
		WHERE id = ?
	`,
		nullableString(objectJSON), types.CanonicalValue(record.ObjectValue),
		record.Confidence, record.ReinforcementCount, string(record.Status),
		record.LastReinforcedAt, nullableTime(record.LastValidatedAt),
		record.SupersededBy, record.SupersededReason, record.ConsolidatedInto,
		record.Importance, record.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update memory %s: %w", record.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, record.ID)
	}
	return nil
}

// GetCandidates returns records tied to the queried entities, newest first.
// A record matches when its subject is in the set or its linked entities
// intersect it.
func (s *Store) GetCandidates(ctx context.Context, q storage.CandidateQuery) ([]types.MemoryRecord, error) {
	q.Normalize()
	if len(q.EntityIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.EntityIDs)), ",")
	args := make([]any, 0, 2*len(q.EntityIDs)+8)
	for _, id := range q.EntityIDs {
		args = append(args, id)
	}
	for _, id := range q.EntityIDs {
		args = append(args, id)
	}

	query := selectMemoryColumns + ` FROM memories m
		WHERE (m.subject_entity_id IN (` + placeholders + `)
			OR EXISTS (
				SELECT 1 FROM json_each(COALESCE(m.linked_entity_ids, '[]'))
				WHERE json_each.value IN (` + placeholders + `)
			))`

	if !q.IncludeInactive {
		query += " AND m.status = ?"
		args = append(args, string(types.StatusActive))
	}
	if !q.IncludeConsolidated {
		query += " AND m.consolidated_into = ''"
	}
	if len(q.Kinds) > 0 {
		kindPlaceholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Kinds)), ",")
		query += " AND m.kind IN (" + kindPlaceholders + ")"
		for _, kind := range q.Kinds {
			args = append(args, string(kind))
		}
	}

	query += " ORDER BY m.created_at DESC, m.id ASC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: candidate query failed: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// GetActiveByKey returns active, unconsolidated records for one
// (subject, predicate) pair, oldest first.
func (s *Store) GetActiveByKey(ctx context.Context, subjectEntityID, predicate string) ([]types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectMemoryColumns+`
		FROM memories m
		WHERE m.subject_entity_id = ? AND m.predicate = ?
			AND m.status = ? AND m.consolidated_into = ''
		ORDER BY m.created_at ASC, m.id ASC
	`, subjectEntityID, predicate, string(types.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("sqlite: active-by-key query failed: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// MarkSuperseded flips records to superseded status in one transaction.
func (s *Store) MarkSuperseded(ctx context.Context, ids []string, supersededBy, reason string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE memories SET status = ?, superseded_by = ?, superseded_reason = ?
			WHERE id = ?
		`, string(types.StatusSuperseded), supersededBy, reason, id)
		if err != nil {
			return fmt.Errorf("sqlite: failed to supersede memory %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
		}
	}

	return tx.Commit()
}

// ListEligibleForConsolidation returns active, non-summary, not-yet-
// consolidated records for an entity, oldest first, trimmed to the window.
func (s *Store) ListEligibleForConsolidation(ctx context.Context, entityID string, window storage.ConsolidationWindow) ([]types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectMemoryColumns+`
		FROM memories m
		WHERE m.subject_entity_id = ? AND m.status = ?
			AND m.kind != ? AND m.consolidated_into = ''
		ORDER BY m.created_at ASC, m.id ASC
	`, entityID, string(types.StatusActive), string(types.KindSummary))
	if err != nil {
		return nil, fmt.Errorf("sqlite: eligibility query failed: %w", err)
	}
	defer rows.Close()

	records, err := collectMemories(rows)
	if err != nil {
		return nil, err
	}
	return window.Apply(records), nil
}

// PersistSummary atomically inserts the summary record, its payload, its
// source set, and stamps consolidated_into on every source.
func (s *Store) PersistSummary(ctx context.Context, summary *types.MemorySummary) error {
	if summary == nil || summary.Record.ID == "" {
		return fmt.Errorf("%w: summary with record ID is required", storage.ErrInvalidInput)
	}
	if len(summary.SourceIDs) == 0 {
		return fmt.Errorf("%w: summary requires at least one source", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec := &summary.Record
	linkedJSON, err := marshalJSON(rec.LinkedEntityIDs)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal linked entities: %w", err)
	}
	keyFactsJSON, err := marshalJSON(summary.KeyFacts)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal key facts: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memories (
			id, kind, subject_entity_id, predicate, object_value, canonical_value,
			confidence, reinforcement_count, status,
			created_at, last_reinforced_at, last_validated_at,
			provenance, superseded_by, superseded_reason, consolidated_into,
			linked_entity_ids, importance, embedding, session_id
		) VALUES (?, ?, ?, ?, NULL, '', ?, 0, ?, ?, ?, NULL, ?, '', '', '', ?, ?, NULL, ?)
	`,
		rec.ID, string(types.KindSummary), rec.SubjectEntityID, rec.Predicate,
		rec.Confidence, string(types.StatusActive),
		rec.CreatedAt, rec.LastReinforcedAt, rec.Provenance,
		nullableString(linkedJSON), rec.Importance, rec.SessionID,
	); err != nil {
		return fmt.Errorf("sqlite: failed to insert summary record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO summaries (id, text, key_facts) VALUES (?, ?, ?)",
		rec.ID, summary.Text, nullableString(keyFactsJSON),
	); err != nil {
		return fmt.Errorf("sqlite: failed to insert summary payload: %w", err)
	}

	for _, sourceID := range summary.SourceIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO summary_sources (summary_id, memory_id) VALUES (?, ?)",
			rec.ID, sourceID,
		); err != nil {
			return fmt.Errorf("sqlite: failed to record summary source %s: %w", sourceID, err)
		}

		// Sources consolidated by a concurrent run are not re-stamped; the
		// whole summary aborts instead of double-consolidating.
		res, err := tx.ExecContext(ctx,
			"UPDATE memories SET consolidated_into = ? WHERE id = ? AND consolidated_into = ''",
			rec.ID, sourceID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: failed to stamp source %s: %w", sourceID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: source %s already consolidated", storage.ErrConcurrencyConflict, sourceID)
		}
	}

	return tx.Commit()
}

// GetSummary retrieves a summary with its payload and source set.
func (s *Store) GetSummary(ctx context.Context, id string) (*types.MemorySummary, error) {
	record, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	var text string
	var keyFactsJSON sql.NullString
	err = s.db.QueryRowContext(ctx, "SELECT text, key_facts FROM summaries WHERE id = ?", id).
		Scan(&text, &keyFactsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: summary %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get summary %s: %w", id, err)
	}

	summary := &types.MemorySummary{Record: *record, Text: text}
	if keyFactsJSON.Valid && keyFactsJSON.String != "" {
		if err := json.Unmarshal([]byte(keyFactsJSON.String), &summary.KeyFacts); err != nil {
			return nil, fmt.Errorf("sqlite: failed to decode key facts for %s: %w", id, err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT memory_id FROM summary_sources WHERE summary_id = ? ORDER BY memory_id", id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list summary sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sourceID string
		if err := rows.Scan(&sourceID); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan summary source: %w", err)
		}
		summary.SourceIDs = append(summary.SourceIDs, sourceID)
	}
	return summary, rows.Err()
}

// ListConsolidationDue returns entity IDs whose eligible record count meets
// the threshold.
func (s *Store) ListConsolidationDue(ctx context.Context, minRecords int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_entity_id FROM memories
		WHERE status = ? AND kind != ? AND consolidated_into = ''
		GROUP BY subject_entity_id
		HAVING COUNT(*) >= ?
		ORDER BY subject_entity_id
	`, string(types.StatusActive), string(types.KindSummary), minRecords)
	if err != nil {
		return nil, fmt.Errorf("sqlite: consolidation-due query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountRecords reports the total number of memory rows regardless of status.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count memories: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// EntityStore
// ---------------------------------------------------------------------------

// CreateEntity inserts a new canonical entity.
func (s *Store) CreateEntity(ctx context.Context, entity *types.CanonicalEntity) error {
	if entity == nil || entity.ID == "" || entity.CanonicalName == "" {
		return fmt.Errorf("%w: entity with ID and canonical name is required", storage.ErrInvalidInput)
	}

	propsJSON, err := marshalJSON(entity.Properties)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal entity properties: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (
			id, entity_type, canonical_name, normalized_name,
			external_table, external_id, properties, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entity.ID, entity.EntityType, entity.CanonicalName,
		types.NormalizeMention(entity.CanonicalName),
		entity.ExternalTable, entity.ExternalID, nullableString(propsJSON),
		entity.CreatedAt, entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert entity: %w", err)
	}
	return nil
}

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.CanonicalEntity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity_type, canonical_name, external_table, external_id,
			properties, created_at, updated_at
		FROM entities WHERE id = ?
	`, id)

	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entity %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get entity %s: %w", id, err)
	}
	return entity, nil
}

// UpdateEntityProperties amends an entity's free-form properties.
func (s *Store) UpdateEntityProperties(ctx context.Context, id string, properties map[string]any) error {
	propsJSON, err := marshalJSON(properties)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal entity properties: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE entities SET properties = ?, updated_at = ? WHERE id = ?",
		nullableString(propsJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update entity %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entity %s", storage.ErrNotFound, id)
	}
	return nil
}

// GetAlias looks up one normalized alias.
func (s *Store) GetAlias(ctx context.Context, alias string) (*types.EntityAlias, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT alias, entity_id, source, origin_event_id, use_count, created_at, last_used_at
		FROM entity_aliases WHERE alias = ?
	`, types.NormalizeMention(alias))

	a, err := scanAlias(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: alias %q", storage.ErrNotFound, alias)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get alias %q: %w", alias, err)
	}
	return a, nil
}

// UpsertAlias creates an alias or re-points an existing one.
func (s *Store) UpsertAlias(ctx context.Context, alias *types.EntityAlias) error {
	if alias == nil || alias.Alias == "" || alias.EntityID == "" {
		return fmt.Errorf("%w: alias text and entity id are required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_aliases (alias, entity_id, source, origin_event_id, use_count, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET
			entity_id = excluded.entity_id,
			source = excluded.source,
			origin_event_id = excluded.origin_event_id,
			last_used_at = excluded.last_used_at
	`,
		types.NormalizeMention(alias.Alias), alias.EntityID, string(alias.Source),
		alias.OriginEventID, alias.UseCount, alias.CreatedAt, alias.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert alias %q: %w", alias.Alias, err)
	}
	return nil
}

// IncrementAliasUse bumps use_count and last_used_at.
func (s *Store) IncrementAliasUse(ctx context.Context, alias string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE entity_aliases SET use_count = use_count + 1, last_used_at = ? WHERE alias = ?",
		now, types.NormalizeMention(alias),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to increment alias use: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: alias %q", storage.ErrNotFound, alias)
	}
	return nil
}

// ListAliases returns every stored alias.
func (s *Store) ListAliases(ctx context.Context) ([]types.EntityAlias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alias, entity_id, source, origin_event_id, use_count, created_at, last_used_at
		FROM entity_aliases ORDER BY alias
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list aliases: %w", err)
	}
	defer rows.Close()

	var aliases []types.EntityAlias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan alias: %w", err)
		}
		aliases = append(aliases, *a)
	}
	return aliases, rows.Err()
}

// ---------------------------------------------------------------------------
// ConflictStore
// ---------------------------------------------------------------------------

// AppendConflict inserts a conflict row unless an unresolved conflict with
// the same pair key already exists.
func (s *Store) AppendConflict(ctx context.Context, conflict *types.Conflict) (bool, error) {
	if conflict == nil || conflict.ID == "" {
		return false, fmt.Errorf("%w: conflict with ID is required", storage.ErrInvalidInput)
	}

	leftJSON, err := marshalJSON(conflict.Left)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to marshal left ref: %w", err)
	}
	rightJSON, err := marshalJSON(conflict.Right)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to marshal right ref: %w", err)
	}
	recommendedJSON, err := marshalJSON(conflict.RecommendedRef)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to marshal recommended ref: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts (
			id, pair_key, type, subject_entity_id, predicate,
			left_ref, right_ref, recommended, recommended_ref,
			confidence_diff, temporal_diff_days, reinforcement_diff,
			created_at, resolved_at, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, '')
		ON CONFLICT DO NOTHING
	`,
		conflict.ID, conflict.PairKey(), string(conflict.Type),
		conflict.SubjectID, conflict.Predicate,
		leftJSON, rightJSON, string(conflict.Recommended), nullableString(recommendedJSON),
		conflict.ConfidenceDiff, conflict.TemporalDiffDays, conflict.ReinforcementDiff,
		conflict.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to append conflict: %w", err)
	}

	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetConflict retrieves a conflict by ID.
func (s *Store) GetConflict(ctx context.Context, id string) (*types.Conflict, error) {
	row := s.db.QueryRowContext(ctx, selectConflictColumns+" FROM conflicts WHERE id = ?", id)
	conflict, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conflict %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get conflict %s: %w", id, err)
	}
	return conflict, nil
}

// ListOpenConflicts returns unresolved conflicts, optionally by subject.
func (s *Store) ListOpenConflicts(ctx context.Context, subjectEntityID string) ([]types.Conflict, error) {
	query := selectConflictColumns + " FROM conflicts WHERE resolved_at IS NULL"
	args := []any{}
	if subjectEntityID != "" {
		query += " AND subject_entity_id = ?"
		args = append(args, subjectEntityID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list open conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []types.Conflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, *conflict)
	}
	return conflicts, rows.Err()
}

// ResolveConflict stamps the outcome on the conflict row.
func (s *Store) ResolveConflict(ctx context.Context, id string, outcome types.Resolution, resolvedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conflicts SET outcome = ?, resolved_at = ? WHERE id = ? AND resolved_at IS NULL",
		string(outcome), resolvedAt, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to resolve conflict %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: open conflict %s", storage.ErrNotFound, id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Row scanning helpers
// ---------------------------------------------------------------------------

const selectMemoryColumns = `SELECT
	m.id, m.kind, m.subject_entity_id, m.predicate, m.object_value,
	m.confidence, m.reinforcement_count, m.status,
	m.created_at, m.last_reinforced_at, m.last_validated_at,
	m.provenance, m.superseded_by, m.superseded_reason, m.consolidated_into,
	m.linked_entity_ids, m.importance, m.embedding, m.session_id`

const selectConflictColumns = `SELECT
	id, type, subject_entity_id, predicate, left_ref, right_ref,
	recommended, recommended_ref, confidence_diff, temporal_diff_days,
	reinforcement_diff, created_at, resolved_at, outcome`

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*types.MemoryRecord, error) {
	var (
		rec                                  types.MemoryRecord
		kind, status                         string
		objectJSON, linkedJSON, embedJSON    sql.NullString
		provenance                           sql.NullString
		lastValidated                        sql.NullTime
	)

	err := row.Scan(
		&rec.ID, &kind, &rec.SubjectEntityID, &rec.Predicate, &objectJSON,
		&rec.Confidence, &rec.ReinforcementCount, &status,
		&rec.CreatedAt, &rec.LastReinforcedAt, &lastValidated,
		&provenance, &rec.SupersededBy, &rec.SupersededReason, &rec.ConsolidatedInto,
		&linkedJSON, &rec.Importance, &embedJSON, &rec.SessionID,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = types.MemoryKind(kind)
	rec.Status = types.MemoryStatus(status)
	rec.Provenance = provenance.String
	if lastValidated.Valid {
		t := lastValidated.Time
		rec.LastValidatedAt = &t
	}
	if objectJSON.Valid && objectJSON.String != "" {
		if err := json.Unmarshal([]byte(objectJSON.String), &rec.ObjectValue); err != nil {
			return nil, fmt.Errorf("failed to decode object value: %w", err)
		}
	}
	if linkedJSON.Valid && linkedJSON.String != "" {
		if err := json.Unmarshal([]byte(linkedJSON.String), &rec.LinkedEntityIDs); err != nil {
			return nil, fmt.Errorf("failed to decode linked entities: %w", err)
		}
	}
	if embedJSON.Valid && embedJSON.String != "" {
		if err := json.Unmarshal([]byte(embedJSON.String), &rec.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding: %w", err)
		}
	}
	return &rec, nil
}

func collectMemories(rows *sql.Rows) ([]types.MemoryRecord, error) {
	var records []types.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan memory: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanEntity(row scanner) (*types.CanonicalEntity, error) {
	var (
		entity                    types.CanonicalEntity
		externalTable, externalID sql.NullString
		propsJSON                 sql.NullString
	)

	err := row.Scan(
		&entity.ID, &entity.EntityType, &entity.CanonicalName,
		&externalTable, &externalID, &propsJSON,
		&entity.CreatedAt, &entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entity.ExternalTable = externalTable.String
	entity.ExternalID = externalID.String
	if propsJSON.Valid && propsJSON.String != "" {
		if err := json.Unmarshal([]byte(propsJSON.String), &entity.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode entity properties: %w", err)
		}
	}
	return &entity, nil
}

func scanAlias(row scanner) (*types.EntityAlias, error) {
	var (
		alias  types.EntityAlias
		source string
		origin sql.NullString
	)

	err := row.Scan(
		&alias.Alias, &alias.EntityID, &source, &origin,
		&alias.UseCount, &alias.CreatedAt, &alias.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	alias.Source = types.AliasSource(source)
	alias.OriginEventID = origin.String
	return &alias, nil
}

func scanConflict(row scanner) (*types.Conflict, error) {
	var (
		conflict                      types.Conflict
		conflictType, recommended     string
		leftJSON, rightJSON           string
		recommendedJSON, outcome      sql.NullString
		resolvedAt                    sql.NullTime
	)

	err := row.Scan(
		&conflict.ID, &conflictType, &conflict.SubjectID, &conflict.Predicate,
		&leftJSON, &rightJSON, &recommended, &recommendedJSON,
		&conflict.ConfidenceDiff, &conflict.TemporalDiffDays, &conflict.ReinforcementDiff,
		&conflict.CreatedAt, &resolvedAt, &outcome,
	)
	if err != nil {
		return nil, err
	}

	conflict.Type = types.ConflictType(conflictType)
	conflict.Recommended = types.Resolution(recommended)
	conflict.Outcome = types.Resolution(outcome.String)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		conflict.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(leftJSON), &conflict.Left); err != nil {
		return nil, fmt.Errorf("failed to decode left ref: %w", err)
	}
	if err := json.Unmarshal([]byte(rightJSON), &conflict.Right); err != nil {
		return nil, fmt.Errorf("failed to decode right ref: %w", err)
	}
	if recommendedJSON.Valid && recommendedJSON.String != "" {
		var ref types.ConflictRef
		if err := json.Unmarshal([]byte(recommendedJSON.String), &ref); err != nil {
			return nil, fmt.Errorf("failed to decode recommended ref: %w", err)
		}
		conflict.RecommendedRef = &ref
	}
	return &conflict, nil
}

// marshalJSON encodes v to JSON, returning "" for nil values so nullable
// columns stay NULL.
func marshalJSON(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case []string:
		if val == nil {
			return "", nil
		}
	case []float32:
		if val == nil {
			return "", nil
		}
	case map[string]any:
		if val == nil {
			return "", nil
		}
	case *types.ConflictRef:
		if val == nil {
			return "", nil
		}
	case []types.KeyFact:
		if val == nil {
			return "", nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
