package storage

import (
	"errors"

	"github.com/scrypster/recall/pkg/types"
)

var (
	// ErrNotFound indicates that the requested entity, record, or conflict
	// does not exist. Surfaced to the caller; not retryable.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates a malformed record or parameter. Rejected
	// synchronously, never partially applied.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConcurrencyConflict indicates lock contention or an isolation
	// violation on a (subject, predicate) write. Safe to retry with backoff:
	// writers re-derive state from current stored values.
	ErrConcurrencyConflict = errors.New("concurrent write conflict")

	// ErrStorageUnavailable indicates the backend is unreachable. Propagated
	// as-is; retry policy belongs to the host.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// CandidateQuery selects memory records tied to a set of entities.
type CandidateQuery struct {
	// EntityIDs are the subject entities to fetch candidates for. Records
	// whose LinkedEntityIDs intersect the set are included as well.
	EntityIDs []string

	// Kinds restricts the record kinds returned. Empty means all kinds.
	Kinds []types.MemoryKind

	// Limit bounds the result size (default 50, max 500).
	Limit int

	// IncludeConsolidated includes records already folded into a summary.
	// Off by default: the summary represents them in retrieval.
	IncludeConsolidated bool

	// IncludeInactive includes superseded/corrected records, for audit paths.
	IncludeInactive bool
}

// Normalize applies defaults and bounds to the query.
func (q *CandidateQuery) Normalize() {
	if q.Limit < 1 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

// ConsolidationWindow bounds which records one consolidation pass may
// compress. The tighter of the two bounds applies; a zero bound is ignored.
type ConsolidationWindow struct {
	// MaxRecords caps the number of most-recent eligible records considered.
	MaxRecords int

	// MaxSessions caps the window to records from the N most recent sessions.
	MaxSessions int
}

// Apply trims a chronologically ascending slice of records to the window.
// Backends fetch all eligible records and share this bound logic.
func (w ConsolidationWindow) Apply(records []types.MemoryRecord) []types.MemoryRecord {
	out := records

	if w.MaxSessions > 0 {
		// Collect the most recent sessions by walking from the newest record.
		recent := make(map[string]bool)
		for i := len(out) - 1; i >= 0 && len(recent) < w.MaxSessions; i-- {
			recent[out[i].SessionID] = true
		}
		kept := make([]types.MemoryRecord, 0, len(out))
		for _, rec := range out {
			if recent[rec.SessionID] {
				kept = append(kept, rec)
			}
		}
		out = kept
	}

	if w.MaxRecords > 0 && len(out) > w.MaxRecords {
		out = out[len(out)-w.MaxRecords:]
	}

	return out
}
