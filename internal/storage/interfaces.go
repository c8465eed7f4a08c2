// Package storage provides composable storage interfaces for the Recall
// memory engine.
//
// The layer is split into small, focused interfaces that can be implemented
// independently and composed as needed: FactStore owns memory record and
// summary lifecycle, EntityStore owns canonical entities and aliases, and
// ConflictStore owns the append-only conflict log. Backends implement Store,
// the composition of all three.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// FactStore owns MemoryRecord and MemorySummary lifecycle. No operation on
// this interface ever physically deletes a row: supersession and
// consolidation are status flips that keep the audit trail intact.
type FactStore interface {
	// PutRecord inserts a new memory record.
	// Returns ErrInvalidInput for malformed records.
	PutRecord(ctx context.Context, record *types.MemoryRecord) error

	// GetRecord retrieves a record by ID. Returns ErrNotFound when absent.
	GetRecord(ctx context.Context, id string) (*types.MemoryRecord, error)

	// UpdateRecord rewrites an existing record (used by reinforcement and
	// resolution application). Returns ErrNotFound when absent.
	UpdateRecord(ctx context.Context, record *types.MemoryRecord) error

	// GetCandidates returns records tied to the queried entities, most
	// recent first.
	GetCandidates(ctx context.Context, q CandidateQuery) ([]types.MemoryRecord, error)

	// GetActiveByKey returns the active, unconsolidated records for one
	// (subject, predicate) pair. Used by the reinforcement path and the
	// conflict detector.
	GetActiveByKey(ctx context.Context, subjectEntityID, predicate string) ([]types.MemoryRecord, error)

	// MarkSuperseded flips the given records to superseded status, recording
	// who replaced them and why. Records are retained.
	MarkSuperseded(ctx context.Context, ids []string, supersededBy, reason string) error

	// ListEligibleForConsolidation returns active, non-summary,
	// not-yet-consolidated records for an entity within the window,
	// oldest first.
	ListEligibleForConsolidation(ctx context.Context, entityID string, window ConsolidationWindow) ([]types.MemoryRecord, error)

	// PersistSummary atomically inserts the summary record, its source set,
	// and stamps consolidated_into on every source. All-or-nothing: on error
	// no source is marked.
	PersistSummary(ctx context.Context, summary *types.MemorySummary) error

	// GetSummary retrieves a summary with its source IDs and key facts.
	GetSummary(ctx context.Context, id string) (*types.MemorySummary, error)

	// ListConsolidationDue returns entity IDs whose count of eligible
	// records meets minRecords. Used by the background runner sweep.
	ListConsolidationDue(ctx context.Context, minRecords int) ([]string, error)

	// CountRecords reports the total number of memory rows regardless of
	// status. Exists to make the no-hard-delete property auditable.
	CountRecords(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// EntityStore owns CanonicalEntity and EntityAlias lifecycle.
type EntityStore interface {
	// CreateEntity inserts a new canonical entity.
	CreateEntity(ctx context.Context, entity *types.CanonicalEntity) error

	// GetEntity retrieves an entity by ID. Returns ErrNotFound when absent.
	GetEntity(ctx context.Context, id string) (*types.CanonicalEntity, error)

	// UpdateEntityProperties amends an entity's free-form properties.
	// Identity fields are immutable.
	UpdateEntityProperties(ctx context.Context, id string, properties map[string]any) error

	// GetAlias looks up a normalized alias. Returns ErrNotFound when absent.
	GetAlias(ctx context.Context, alias string) (*types.EntityAlias, error)

	// UpsertAlias creates an alias or re-points an existing one to the
	// alias's entity (explicit correction path).
	UpsertAlias(ctx context.Context, alias *types.EntityAlias) error

	// IncrementAliasUse bumps use_count and last_used_at for an alias.
	IncrementAliasUse(ctx context.Context, alias string, now time.Time) error

	// ListAliases returns every stored alias. The registry scans these for
	// fuzzy matching; alias cardinality is bounded by conversation history,
	// not by record volume.
	ListAliases(ctx context.Context) ([]types.EntityAlias, error)
}

// ConflictStore owns the append-only conflict log.
type ConflictStore interface {
	// AppendConflict inserts a conflict row unless an unresolved conflict
	// with the same pair key already exists. Reports whether a row was
	// created, making repeated detection over an unchanged candidate set
	// idempotent.
	AppendConflict(ctx context.Context, conflict *types.Conflict) (created bool, err error)

	// GetConflict retrieves a conflict by ID.
	GetConflict(ctx context.Context, id string) (*types.Conflict, error)

	// ListOpenConflicts returns unresolved conflicts, optionally filtered by
	// subject entity (empty string means all).
	ListOpenConflicts(ctx context.Context, subjectEntityID string) ([]types.Conflict, error)

	// ResolveConflict records the outcome on the conflict row. The row is
	// never deleted.
	ResolveConflict(ctx context.Context, id string, outcome types.Resolution, resolvedAt time.Time) error
}

// Store is the full storage contract a backend provides.
type Store interface {
	FactStore
	EntityStore
	ConflictStore
}
