package types

import (
	"strings"
	"time"
)

// CanonicalEntity is the single stable identity record for a real-world
// thing, independent of how it is referred to in text. Entities are created
// on first resolution of a novel mention and never deleted; properties may
// be amended.
type CanonicalEntity struct {
	ID            string `json:"id"`   // Unique identifier (format: ent:uuid), immutable
	EntityType    string `json:"entity_type"`
	CanonicalName string `json:"canonical_name"`

	// ExternalTable/ExternalID optionally reference a row in an authoritative
	// system (e.g. a CRM customer table).
	ExternalTable string `json:"external_table,omitempty"`
	ExternalID    string `json:"external_id,omitempty"`

	Properties map[string]any `json:"properties,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AliasSource describes how an alias came to exist.
type AliasSource string

const (
	// AliasDeclared was supplied explicitly by a caller or operator.
	AliasDeclared AliasSource = "declared"

	// AliasLearned was created from a confirmed disambiguation.
	AliasLearned AliasSource = "learned"
)

// EntityAlias maps one normalized surface form to exactly one entity at a
// time. An alias may be re-pointed by explicit correction but never fans out
// to several entities.
type EntityAlias struct {
	Alias    string      `json:"alias"` // Normalized text, see NormalizeMention
	EntityID string      `json:"entity_id"`
	Source   AliasSource `json:"source"`

	// OriginEventID is the message or turn the alias was learned from.
	OriginEventID string `json:"origin_event_id,omitempty"`

	// UseCount is incremented on every resolution through this alias and
	// feeds the registry's frequency boost.
	UseCount int `json:"use_count"`

	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// NormalizeMention lowercases a mention and collapses internal whitespace.
// Aliases are always stored and looked up in normalized form.
func NormalizeMention(mention string) string {
	return strings.Join(strings.Fields(strings.ToLower(mention)), " ")
}

// MatchType describes how a mention was matched to an entity.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
	MatchNone  MatchType = "none"
)

// EntityCandidate is one scored candidate for a mention.
type EntityCandidate struct {
	EntityID      string    `json:"entity_id"`
	CanonicalName string    `json:"canonical_name"`
	Score         float64   `json:"score"`
	MatchType     MatchType `json:"match_type"`

	// Similarity is the raw string similarity for fuzzy matches.
	Similarity float64 `json:"similarity,omitempty"`

	// ContextBoost is the additive boost applied from conversational context.
	ContextBoost float64 `json:"context_boost,omitempty"`
}

// ResolvedEntity is the registry's answer for a single mention.
type ResolvedEntity struct {
	// EntityID is set when the mention auto-resolved. Empty when unresolved
	// or when disambiguation is needed.
	EntityID   string    `json:"entity_id,omitempty"`
	Confidence float64   `json:"confidence"`
	MatchType  MatchType `json:"match_type"`

	// Alternatives holds the remaining ranked candidates. On a
	// disambiguation request it contains every candidate, best first.
	Alternatives []EntityCandidate `json:"alternatives,omitempty"`

	// DisambiguationNeeded is true when the registry could not safely pick a
	// winner; the caller must obtain clarification before proceeding.
	DisambiguationNeeded bool `json:"disambiguation_needed"`
}

// Resolved reports whether the mention mapped to exactly one entity.
func (r *ResolvedEntity) Resolved() bool {
	return r.EntityID != "" && !r.DisambiguationNeeded
}
