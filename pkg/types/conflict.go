package types

import "time"

// ConflictType categorizes what kind of sources disagree.
type ConflictType string

const (
	// ConflictMemoryVsMemory is a contradiction between two stored records.
	ConflictMemoryVsMemory ConflictType = "memory_vs_memory"

	// ConflictMemoryVsExternal is a contradiction between a stored record
	// and a caller-supplied authoritative fact.
	ConflictMemoryVsExternal ConflictType = "memory_vs_external"
)

// Resolution is the detector's recommendation for a conflict. The detector
// only recommends; applying a resolution is a separate, explicit caller step.
type Resolution string

const (
	// ResolutionKeepNewest prefers the side observed more recently.
	ResolutionKeepNewest Resolution = "keep_newest"

	// ResolutionKeepHighestConfidence prefers the side with markedly higher
	// effective confidence.
	ResolutionKeepHighestConfidence Resolution = "keep_highest_confidence"

	// ResolutionKeepMostReinforced prefers the side corroborated more often.
	ResolutionKeepMostReinforced Resolution = "keep_most_reinforced"

	// ResolutionSurfaceBoth means the signals are too close to call; both
	// sides must be presented to the consumer rather than silently picking
	// a winner.
	ResolutionSurfaceBoth Resolution = "surface_both"
)

// ConflictRef identifies one side of a conflict: either a stored memory
// record or an external authoritative fact.
type ConflictRef struct {
	// MemoryID is set when the side is a stored record.
	MemoryID string `json:"memory_id,omitempty"`

	// ExternalSource/ExternalKey identify an external fact
	// (e.g. "crm.customers" / "42").
	ExternalSource string `json:"external_source,omitempty"`
	ExternalKey    string `json:"external_key,omitempty"`

	// Value is the canonical form of the side's asserted value, kept for
	// explainability.
	Value string `json:"value,omitempty"`
}

// IsExternal reports whether the reference points at an external fact.
func (r ConflictRef) IsExternal() bool {
	return r.MemoryID == ""
}

// Conflict is a detected contradiction between two facts about the same
// (subject, predicate). Conflict rows are append-only: resolving one records
// the outcome, it never deletes the row.
type Conflict struct {
	ID           string       `json:"id"` // Unique identifier (format: conf:uuid)
	Type         ConflictType `json:"type"`
	SubjectID    string       `json:"subject_entity_id"`
	Predicate    string       `json:"predicate"`
	Left         ConflictRef  `json:"left"`
	Right        ConflictRef  `json:"right"`
	Recommended  Resolution   `json:"recommended_resolution"`

	// RecommendedRef points at the side the recommendation favors. Unset for
	// surface_both.
	RecommendedRef *ConflictRef `json:"recommended_ref,omitempty"`

	// Diagnostic diffs feeding the recommendation, kept for explainability.
	ConfidenceDiff    float64 `json:"confidence_diff"`
	TemporalDiffDays  float64 `json:"temporal_diff_days"`
	ReinforcementDiff int     `json:"reinforcement_diff"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// Outcome records how the caller resolved the conflict, if it has.
	Outcome Resolution `json:"outcome,omitempty"`
}

// PairKey returns a deterministic identity for the conflicting pair,
// independent of left/right ordering. Re-running detection over an unchanged
// candidate set reuses this key to avoid duplicate rows.
func (c *Conflict) PairKey() string {
	left, right := c.Left.refKey(), c.Right.refKey()
	if left > right {
		left, right = right, left
	}
	return c.SubjectID + "|" + c.Predicate + "|" + left + "|" + right
}

func (r ConflictRef) refKey() string {
	if r.IsExternal() {
		return "ext:" + r.ExternalSource + ":" + r.ExternalKey
	}
	return "mem:" + r.MemoryID
}

// ExternalFact is a caller-supplied authoritative fact checked against stored
// records. It is never treated as absolute truth: the detector assigns it the
// configured external-fact confidence, which is always below 1.0.
type ExternalFact struct {
	Source    string    `json:"source"` // e.g. the authoritative table name
	Key       string    `json:"key"`    // row identifier in the source
	SubjectID string    `json:"subject_entity_id"`
	Predicate string    `json:"predicate"`
	Value     any       `json:"value"`
	AsOf      time.Time `json:"as_of"` // when the source last updated the fact
}
