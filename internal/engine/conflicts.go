package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// Detector flags contradictions between candidate records, and between
// records and caller-supplied authoritative facts. It only ever reads records
// and appends Conflict rows; it never mutates confidence or status. Applying
// a resolution is a separate, explicit caller step.
type Detector struct {
	store storage.ConflictStore
	decay *Decay
	cfg   config.ConflictConfig
}

// NewDetector creates a conflict detector over the given store.
func NewDetector(store storage.ConflictStore, decay *Decay, cfg config.ConflictConfig) *Detector {
	return &Detector{store: store, decay: decay, cfg: cfg}
}

// side is one comparable fact: either a memory record or an external fact,
// reduced to the signals the recommendation ladder needs.
type side struct {
	ref           types.ConflictRef
	canonical     string
	confidence    float64
	observedAt    time.Time
	reinforcement int
}

// Detect compares active candidates pairwise within each (subject, predicate)
// key, and each candidate against matching external facts. Detected conflicts
// are appended to the store; an unresolved conflict already recorded for the
// same pair is returned as-is rather than duplicated, so repeated detection
// over an unchanged candidate set is idempotent.
func (d *Detector) Detect(ctx context.Context, candidates []types.MemoryRecord, external []types.ExternalFact, now time.Time) ([]types.Conflict, error) {
	groups := make(map[[2]string][]side)
	for i := range candidates {
		record := &candidates[i]
		if !record.IsActive() || record.Predicate == "" {
			continue
		}
		key := [2]string{record.SubjectEntityID, record.Predicate}
		groups[key] = append(groups[key], side{
			ref: types.ConflictRef{
				MemoryID: record.ID,
				Value:    types.CanonicalValue(record.ObjectValue),
			},
			canonical:     types.CanonicalValue(record.ObjectValue),
			confidence:    d.decay.EffectiveConfidence(record, now),
			observedAt:    observedAt(record),
			reinforcement: record.ReinforcementCount,
		})
	}

	var conflicts []types.Conflict
	keys := make([][2]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	for _, key := range keys {
		sides := groups[key]

		// memory vs memory, pairwise within the key
		for i := 0; i < len(sides); i++ {
			for j := i + 1; j < len(sides); j++ {
				if sides[i].canonical == sides[j].canonical {
					continue
				}
				conflict, err := d.record(ctx, types.ConflictMemoryVsMemory, key[0], key[1], sides[i], sides[j], now)
				if err != nil {
					return nil, err
				}
				conflicts = append(conflicts, *conflict)
			}
		}

		// memory vs external. External facts are never absolute truth: they
		// get the configured confidence, always below 1.0, so the confidence
		// rule can still go either way.
		for _, fact := range external {
			if fact.SubjectID != key[0] || fact.Predicate != key[1] {
				continue
			}
			factSide := side{
				ref: types.ConflictRef{
					ExternalSource: fact.Source,
					ExternalKey:    fact.Key,
					Value:          types.CanonicalValue(fact.Value),
				},
				canonical:  types.CanonicalValue(fact.Value),
				confidence: d.cfg.ExternalFactConfidence,
				observedAt: fact.AsOf,
			}
			for _, memSide := range sides {
				if memSide.canonical == factSide.canonical {
					continue
				}
				conflict, err := d.record(ctx, types.ConflictMemoryVsExternal, key[0], key[1], memSide, factSide, now)
				if err != nil {
					return nil, err
				}
				conflicts = append(conflicts, *conflict)
			}
		}
	}

	return conflicts, nil
}

// record builds the conflict, appends it, and returns the persisted row. When
// an unresolved conflict for the same pair already exists, that row is
// returned instead of creating a duplicate.
func (d *Detector) record(ctx context.Context, kind types.ConflictType, subjectID, predicate string, left, right side, now time.Time) (*types.Conflict, error) {
	conflict := &types.Conflict{
		ID:                "conf:" + uuid.New().String(),
		Type:              kind,
		SubjectID:         subjectID,
		Predicate:         predicate,
		Left:              left.ref,
		Right:             right.ref,
		ConfidenceDiff:    math.Abs(left.confidence - right.confidence),
		TemporalDiffDays:  math.Abs(left.observedAt.Sub(right.observedAt).Hours() / 24.0),
		ReinforcementDiff: abs(left.reinforcement - right.reinforcement),
		CreatedAt:         now,
	}
	conflict.Recommended, conflict.RecommendedRef = d.recommend(conflict, left, right)

	created, err := d.store.AppendConflict(ctx, conflict)
	if err != nil {
		return nil, err
	}
	if created {
		return conflict, nil
	}

	// Already on record: surface the existing open row.
	existing, err := d.store.ListOpenConflicts(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	pairKey := conflict.PairKey()
	for i := range existing {
		if existing[i].PairKey() == pairKey {
			return &existing[i], nil
		}
	}
	// The prior row was resolved between Append and List; keep the fresh one.
	return conflict, nil
}

// recommend applies the resolution ladder, first matching rule wins:
// a large observation-time gap prefers the newest side; next a clear
// confidence gap prefers the more confident side; next a clear corroboration
// gap prefers the more reinforced side; with every signal too close to call,
// both sides are surfaced and no winner is picked.
func (d *Detector) recommend(conflict *types.Conflict, left, right side) (types.Resolution, *types.ConflictRef) {
	if conflict.TemporalDiffDays >= d.cfg.TemporalThresholdDays {
		if left.observedAt.After(right.observedAt) {
			return types.ResolutionKeepNewest, &left.ref
		}
		return types.ResolutionKeepNewest, &right.ref
	}
	if conflict.ConfidenceDiff >= d.cfg.ConfidenceThreshold {
		if left.confidence > right.confidence {
			return types.ResolutionKeepHighestConfidence, &left.ref
		}
		return types.ResolutionKeepHighestConfidence, &right.ref
	}
	if conflict.ReinforcementDiff >= d.cfg.ReinforcementThreshold {
		if left.reinforcement > right.reinforcement {
			return types.ResolutionKeepMostReinforced, &left.ref
		}
		return types.ResolutionKeepMostReinforced, &right.ref
	}
	return types.ResolutionSurfaceBoth, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
