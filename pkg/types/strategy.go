package types

import (
	"fmt"
	"math"
)

// Strategy selects the weight vector the scorer applies to its signals.
// Strategy classification happens upstream (an orchestration concern); this
// engine only accepts an already-chosen strategy.
type Strategy string

const (
	// StrategyFactualEntityFocused favors entity overlap and semantic
	// similarity for "what do we know about X" queries.
	StrategyFactualEntityFocused Strategy = "factual_entity_focused"

	// StrategyProcedural favors reinforcement and importance for
	// "how do I do X" queries.
	StrategyProcedural Strategy = "procedural"

	// StrategyTemporal favors recency for "what happened recently" queries.
	StrategyTemporal Strategy = "temporal"

	// StrategyBalanced spreads weight evenly; the fallback when the caller
	// has no stronger signal about query shape.
	StrategyBalanced Strategy = "balanced"
)

// ValidStrategies is the set of all recognized strategies.
var ValidStrategies = []Strategy{
	StrategyFactualEntityFocused,
	StrategyProcedural,
	StrategyTemporal,
	StrategyBalanced,
}

// IsValid reports whether the strategy is recognized.
func (s Strategy) IsValid() bool {
	for _, valid := range ValidStrategies {
		if s == valid {
			return true
		}
	}
	return false
}

// SignalWeights is the weight vector a strategy assigns to the scorer's five
// signals. Weights must sum to 1.0.
type SignalWeights struct {
	SemanticSimilarity float64 `yaml:"semantic_similarity" json:"semantic_similarity"`
	EntityOverlap      float64 `yaml:"entity_overlap" json:"entity_overlap"`
	TemporalRelevance  float64 `yaml:"temporal_relevance" json:"temporal_relevance"`
	Importance         float64 `yaml:"importance" json:"importance"`
	Reinforcement      float64 `yaml:"reinforcement" json:"reinforcement"`
}

// weightSumTolerance absorbs float drift when validating that weights sum to 1.
const weightSumTolerance = 1e-6

// Validate checks that every weight is non-negative and the vector sums to 1.0.
func (w SignalWeights) Validate() error {
	for name, v := range map[string]float64{
		"semantic_similarity": w.SemanticSimilarity,
		"entity_overlap":      w.EntityOverlap,
		"temporal_relevance":  w.TemporalRelevance,
		"importance":          w.Importance,
		"reinforcement":       w.Reinforcement,
	} {
		if v < 0 {
			return fmt.Errorf("signal weight %s is negative: %f", name, v)
		}
	}

	sum := w.SemanticSimilarity + w.EntityOverlap + w.TemporalRelevance + w.Importance + w.Reinforcement
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("signal weights must sum to 1.0, got %f", sum)
	}
	return nil
}
