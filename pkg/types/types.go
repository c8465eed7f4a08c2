// Package types defines the core data structures for the Recall memory engine:
// memory records, canonical entities and their aliases, detected conflicts,
// and retrieval strategies.
package types

// MemoryKind classifies a memory record.
type MemoryKind string

// Memory kind constants.
const (
	// KindEpisodic records a single observed event. Decays fastest.
	KindEpisodic MemoryKind = "episodic"

	// KindSemantic records a durable (subject, predicate, value) fact.
	KindSemantic MemoryKind = "semantic"

	// KindProcedural records how to do something. Decays slowly.
	KindProcedural MemoryKind = "procedural"

	// KindSummary is a consolidated record derived from other records.
	KindSummary MemoryKind = "summary"
)

// ValidMemoryKinds is the set of all valid memory kinds.
var ValidMemoryKinds = []MemoryKind{
	KindEpisodic,
	KindSemantic,
	KindProcedural,
	KindSummary,
}

// IsValid reports whether the kind is recognized.
func (k MemoryKind) IsValid() bool {
	for _, valid := range ValidMemoryKinds {
		if k == valid {
			return true
		}
	}
	return false
}

// RequiresPredicate reports whether records of this kind must carry a
// predicate. Episodic records and summaries describe events or digests
// rather than a single (subject, predicate) assertion.
func (k MemoryKind) RequiresPredicate() bool {
	return k == KindSemantic || k == KindProcedural
}

// MemoryStatus represents the lifecycle status of a memory record.
// Records are never hard-deleted; status transitions keep the audit trail.
type MemoryStatus string

// Memory status constants.
const (
	// StatusActive indicates the record is current and retrievable.
	StatusActive MemoryStatus = "active"

	// StatusSuperseded indicates a newer record replaced this one.
	StatusSuperseded MemoryStatus = "superseded"

	// StatusCorrected indicates the record was explicitly corrected.
	StatusCorrected MemoryStatus = "corrected"
)

// ValidMemoryStatuses is the set of all valid record statuses.
var ValidMemoryStatuses = []MemoryStatus{
	StatusActive,
	StatusSuperseded,
	StatusCorrected,
}

// IsValid reports whether the status is recognized.
func (s MemoryStatus) IsValid() bool {
	for _, valid := range ValidMemoryStatuses {
		if s == valid {
			return true
		}
	}
	return false
}

// MaxConfidence is the upper bound for every confidence value in the system.
// Confidence never reaches 1.0: even exact or authoritative data can be stale
// or wrong, and downstream consumers must always be able to hedge.
const MaxConfidence = 0.95

// ClampConfidence forces v into [0, MaxConfidence].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxConfidence {
		return MaxConfidence
	}
	return v
}

// Entity type constants. The registry accepts any non-empty type; these cover
// the common cases and are used by callers for filtering.
const (
	EntityTypePerson       = "person"
	EntityTypeOrganization = "organization"
	EntityTypeProject      = "project"
	EntityTypeLocation     = "location"
	EntityTypeConcept      = "concept"
	EntityTypeSystem       = "system"
)
