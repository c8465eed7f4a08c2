package types

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// MemoryRecord is the core unit of stored knowledge. Records are versioned
// and append-mostly: corrections and supersession flip Status, they never
// delete rows. A record's stored Confidence is the base value; it must only
// be read through the decay engine once age matters.
type MemoryRecord struct {
	// Core identification
	ID              string     `json:"id"`                  // Unique identifier (format: mem:uuid)
	Kind            MemoryKind `json:"kind"`                // episodic, semantic, procedural, summary
	SubjectEntityID string     `json:"subject_entity_id"`   // Canonical entity this record is about
	Predicate       string     `json:"predicate,omitempty"` // Required for semantic/procedural kinds

	// ObjectValue is the structured payload: a scalar for simple facts or an
	// arbitrary JSON object for richer ones. Compared via CanonicalValue.
	ObjectValue any `json:"object_value,omitempty"`

	// Confidence is the base confidence in [0, MaxConfidence].
	Confidence float64 `json:"confidence"`

	// ReinforcementCount is incremented each time a new observation
	// corroborates this record.
	ReinforcementCount int `json:"reinforcement_count"`

	Status MemoryStatus `json:"status"`

	// Timestamps
	CreatedAt        time.Time  `json:"created_at"`
	LastReinforcedAt time.Time  `json:"last_reinforced_at"`
	LastValidatedAt  *time.Time `json:"last_validated_at,omitempty"`

	// Provenance is the originating event id (e.g. a chat turn id).
	Provenance string `json:"provenance,omitempty"`

	// SupersededBy links to the record or summary that replaced this one
	// when Status is superseded/corrected.
	SupersededBy string `json:"superseded_by,omitempty"`

	// SupersededReason records why the record left active status.
	SupersededReason string `json:"superseded_reason,omitempty"`

	// ConsolidatedInto is set to the summary id once this record has been
	// compressed into a summary. The record stays retrievable for audit.
	ConsolidatedInto string `json:"consolidated_into,omitempty"`

	// LinkedEntityIDs are additional entities mentioned by this record,
	// used by the scorer's entity-overlap signal.
	LinkedEntityIDs []string `json:"linked_entity_ids,omitempty"`

	// Importance is a caller-supplied or derived weight in [0, 1].
	Importance float64 `json:"importance,omitempty"`

	// Embedding is the record's vector embedding, supplied by the caller.
	Embedding []float32 `json:"embedding,omitempty"`

	// SessionID groups records by the conversation session that produced them.
	SessionID string `json:"session_id,omitempty"`
}

// IsActive reports whether the record is in active status.
func (m *MemoryRecord) IsActive() bool {
	return m.Status == StatusActive
}

// IsConsolidated reports whether the record has been folded into a summary.
func (m *MemoryRecord) IsConsolidated() bool {
	return m.ConsolidatedInto != ""
}

// KeyFact is one distilled fact inside a summary, carried alongside the
// summary text so consumers can cite individual claims.
type KeyFact struct {
	Predicate string  `json:"predicate,omitempty"`
	Statement string  `json:"statement"`
	SourceIDs []string `json:"source_ids,omitempty"` // Memory IDs backing the fact
}

// MemorySummary is a derived record of kind summary together with the set of
// source records it compresses. Sources are marked consolidated, never
// deleted, and remain independently retrievable.
type MemorySummary struct {
	Record    MemoryRecord `json:"record"`
	Text      string       `json:"text"`
	KeyFacts  []KeyFact    `json:"key_facts,omitempty"`
	SourceIDs []string     `json:"source_ids"`
}

// CanonicalValue renders an object value into a normalized comparison key.
// Strings are lowercased and whitespace-collapsed; everything else is
// JSON-encoded (encoding/json sorts map keys, so equal objects encode
// identically). Two records assert the same thing iff their canonical
// values are equal.
func CanonicalValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(s, &decoded); err != nil {
			return strings.TrimSpace(string(s))
		}
		return CanonicalValue(decoded)
	case []any:
		parts := make([]string, len(s))
		for i, elem := range s {
			parts[i] = CanonicalValue(elem)
		}
		sort.Strings(parts)
		return "[" + strings.Join(parts, ",") + "]"
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// ValuesEqual reports whether two object values assert the same thing.
func ValuesEqual(a, b any) bool {
	return CanonicalValue(a) == CanonicalValue(b)
}
