package engine

import (
	"math"
	"sort"
	"time"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/pkg/types"
)

// Scorer ranks candidate records against a query context using a weighted
// combination of five signals, with effective confidence as a multiplicative
// gate. It is pure: no I/O, no shared state, and every score is traceable to
// its inputs through the returned breakdown.
type Scorer struct {
	cfg   config.ScoringConfig
	decay *Decay
}

// NewScorer creates a scorer over the given configuration and decay calculator.
func NewScorer(cfg config.ScoringConfig, decay *Decay) *Scorer {
	return &Scorer{cfg: cfg, decay: decay}
}

// QueryContext is the read-only snapshot a scoring call operates on. Now is
// computed once per logical operation by the caller and passed through, so a
// record decayed twice within one request sees the same instant.
type QueryContext struct {
	// Now is the scoring instant.
	Now time.Time

	// EntityIDs are the query's resolved entities, used for the
	// entity-overlap signal.
	EntityIDs []string

	// Similarity maps memory id to the cosine similarity between the query
	// embedding and that record's embedding. Supplied by the caller (e.g.
	// from vector search); records absent from the map score 0 on the
	// semantic signal.
	Similarity map[string]float64
}

// Signal is one raw signal value and its weighted contribution.
type Signal struct {
	Raw      float64 `json:"raw"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
}

// ScoreBreakdown exposes every signal's raw and weighted value so a consumer
// can explain why a record ranked where it did.
type ScoreBreakdown struct {
	SemanticSimilarity Signal  `json:"semantic_similarity"`
	EntityOverlap      Signal  `json:"entity_overlap"`
	TemporalRelevance  Signal  `json:"temporal_relevance"`
	Importance         Signal  `json:"importance"`
	Reinforcement      Signal  `json:"reinforcement"`
	WeightedSum        float64 `json:"weighted_sum"`

	// EffectiveConfidence gates the weighted sum multiplicatively.
	EffectiveConfidence float64 `json:"effective_confidence"`

	// NeedsValidation carries the decay calculator's staleness flag through
	// to the consumer.
	NeedsValidation bool `json:"needs_validation"`
}

// ScoredRecord is one ranked candidate.
type ScoredRecord struct {
	Record    types.MemoryRecord `json:"record"`
	Score     float64            `json:"score"`
	Breakdown ScoreBreakdown     `json:"breakdown"`
}

// Score ranks candidates for the query under the given strategy. The
// ordering is deterministic: descending score, ties broken by ascending
// memory id.
func (s *Scorer) Score(candidates []types.MemoryRecord, qc QueryContext, strategy types.Strategy) []ScoredRecord {
	weights := s.cfg.WeightsFor(strategy)

	ranked := make([]ScoredRecord, 0, len(candidates))
	for _, record := range candidates {
		breakdown := s.breakdown(&record, qc, weights)
		ranked = append(ranked, ScoredRecord{
			Record:    record,
			Score:     breakdown.WeightedSum * breakdown.EffectiveConfidence,
			Breakdown: breakdown,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Record.ID < ranked[j].Record.ID
	})
	return ranked
}

func (s *Scorer) breakdown(record *types.MemoryRecord, qc QueryContext, weights types.SignalWeights) ScoreBreakdown {
	view := s.decay.View(record, qc.Now)

	b := ScoreBreakdown{
		SemanticSimilarity:  signal(clamp01(qc.Similarity[record.ID]), weights.SemanticSimilarity),
		EntityOverlap:       signal(entityOverlap(qc.EntityIDs, record), weights.EntityOverlap),
		TemporalRelevance:   signal(s.temporalRelevance(record, qc.Now), weights.TemporalRelevance),
		Importance:          signal(clamp01(record.Importance), weights.Importance),
		Reinforcement:       signal(s.reinforcementSignal(record.ReinforcementCount), weights.Reinforcement),
		EffectiveConfidence: view.Effective,
		NeedsValidation:     view.NeedsValidation,
	}
	b.WeightedSum = b.SemanticSimilarity.Weighted + b.EntityOverlap.Weighted +
		b.TemporalRelevance.Weighted + b.Importance.Weighted + b.Reinforcement.Weighted
	return b
}

// temporalRelevance is a deliberately recent-biased score, independent of
// confidence decay: 0.5^(ageDays / temporalHalfLife) over the record's last
// observation time.
func (s *Scorer) temporalRelevance(record *types.MemoryRecord, now time.Time) float64 {
	ageDays := now.Sub(observedAt(record)).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(0.5, ageDays/s.cfg.TemporalHalfLifeDays)
}

// reinforcementSignal normalizes a corroboration count into [0, 1), reaching
// 0.5 at the configured saturation point.
func (s *Scorer) reinforcementSignal(count int) float64 {
	if count <= 0 {
		return 0
	}
	return float64(count) / (float64(count) + s.cfg.ReinforcementSaturation)
}

// entityOverlap is the Jaccard overlap between the query's resolved entities
// and the record's entity set (subject plus linked entities).
func entityOverlap(queryEntities []string, record *types.MemoryRecord) float64 {
	if len(queryEntities) == 0 {
		return 0
	}

	recordSet := make(map[string]struct{}, len(record.LinkedEntityIDs)+1)
	if record.SubjectEntityID != "" {
		recordSet[record.SubjectEntityID] = struct{}{}
	}
	for _, id := range record.LinkedEntityIDs {
		recordSet[id] = struct{}{}
	}
	if len(recordSet) == 0 {
		return 0
	}

	querySet := make(map[string]struct{}, len(queryEntities))
	for _, id := range queryEntities {
		querySet[id] = struct{}{}
	}

	shared := 0
	for id := range querySet {
		if _, ok := recordSet[id]; ok {
			shared++
		}
	}
	union := len(querySet) + len(recordSet) - shared
	return float64(shared) / float64(union)
}

func signal(raw, weight float64) Signal {
	return Signal{Raw: raw, Weight: weight, Weighted: raw * weight}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
