// Package config provides configuration for the Recall memory engine.
// Settings load from environment variables with the RECALL_ prefix, optionally
// overlaid by a YAML file, and are passed into engine components as explicit,
// immutable structs. Heuristic tables (decay half-lives, strategy weight
// vectors, resolution thresholds) live here so hosts can supply per-tenant or
// learned overrides without global state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/recall/pkg/types"
)

// Config holds every tunable for the engine.
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Decay         DecayConfig         `yaml:"decay"`
	Scoring       ScoringConfig       `yaml:"scoring"`
	Resolution    ResolutionConfig    `yaml:"resolution"`
	Conflict      ConflictConfig      `yaml:"conflict"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
}

// StorageConfig selects and parameterizes the storage backend.
type StorageConfig struct {
	// Engine is the backend type: "sqlite" or "postgres".
	Engine string `yaml:"engine"`

	// DataPath is the directory holding the SQLite database file.
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string used when Engine is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// DecayConfig parameterizes the read-time confidence decay model.
type DecayConfig struct {
	// Half-lives in days per record kind. Episodic memories fade fastest;
	// procedural knowledge and summaries are the most durable.
	EpisodicHalfLifeDays   float64 `yaml:"episodic_half_life_days"`
	SemanticHalfLifeDays   float64 `yaml:"semantic_half_life_days"`
	ProceduralHalfLifeDays float64 `yaml:"procedural_half_life_days"`
	SummaryHalfLifeDays    float64 `yaml:"summary_half_life_days"`

	// PredicateHalfLifeDays optionally overrides the kind half-life for
	// specific predicate classes (e.g. volatile preferences).
	PredicateHalfLifeDays map[string]float64 `yaml:"predicate_half_life_days"`

	// ReinforcementFloorScale controls how fast the reinforcement floor
	// approaches 1: floor(n) = n / (n + scale). Higher scale means more
	// corroboration is needed to resist decay.
	ReinforcementFloorScale float64 `yaml:"reinforcement_floor_scale"`

	// StalenessThresholdDays and NeedsValidationBelow together flag records
	// that should be re-validated: older than the threshold since last
	// validation AND decayed below the confidence bar.
	StalenessThresholdDays float64 `yaml:"staleness_threshold_days"`
	NeedsValidationBelow   float64 `yaml:"needs_validation_below"`
}

// HalfLifeDays returns the decay half-life for a record kind, honoring a
// predicate-class override when one is configured.
func (d DecayConfig) HalfLifeDays(kind types.MemoryKind, predicate string) float64 {
	if predicate != "" {
		if hl, ok := d.PredicateHalfLifeDays[predicate]; ok && hl > 0 {
			return hl
		}
	}
	switch kind {
	case types.KindEpisodic:
		return d.EpisodicHalfLifeDays
	case types.KindSemantic:
		return d.SemanticHalfLifeDays
	case types.KindProcedural:
		return d.ProceduralHalfLifeDays
	case types.KindSummary:
		return d.SummaryHalfLifeDays
	default:
		return d.SemanticHalfLifeDays
	}
}

// ScoringConfig parameterizes the multi-signal scorer.
type ScoringConfig struct {
	// Weights maps each strategy to its fixed weight vector. Every vector
	// must sum to 1.0.
	Weights map[types.Strategy]types.SignalWeights `yaml:"weights"`

	// TemporalHalfLifeDays shapes the temporal-relevance signal. This is a
	// deliberately recent-biased score and is independent of confidence decay.
	TemporalHalfLifeDays float64 `yaml:"temporal_half_life_days"`

	// ReinforcementSaturation is the reinforcement count at which the
	// normalized reinforcement signal reaches 0.5.
	ReinforcementSaturation float64 `yaml:"reinforcement_saturation"`
}

// WeightsFor returns the weight vector for a strategy, falling back to the
// balanced vector for unknown strategies.
func (s ScoringConfig) WeightsFor(strategy types.Strategy) types.SignalWeights {
	if w, ok := s.Weights[strategy]; ok {
		return w
	}
	return s.Weights[types.StrategyBalanced]
}

// ResolutionConfig parameterizes entity resolution.
type ResolutionConfig struct {
	// FuzzyThreshold is the minimum trigram similarity for a fuzzy match.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// FuzzyPenalty multiplies the similarity to produce fuzzy-match
	// confidence, keeping fuzzy always below exact.
	FuzzyPenalty float64 `yaml:"fuzzy_penalty"`

	// ExactMatchConfidence is the confidence assigned to normalized exact
	// alias/name matches.
	ExactMatchConfidence float64 `yaml:"exact_match_confidence"`

	// Additive context boosts, applied before capping at MaxConfidence.
	RecencyBoostMax   float64 `yaml:"recency_boost_max"`   // mentioned in the last RecentTurns turns
	FrequencyBoostMax float64 `yaml:"frequency_boost_max"` // high alias use-count
	ActiveWorkBoost   float64 `yaml:"active_work_boost"`   // caller-flagged active work

	// RecentTurns bounds how far back the recency boost looks.
	RecentTurns int `yaml:"recent_turns"`

	// FrequencySaturation is the alias use-count at which the frequency
	// boost reaches half its maximum.
	FrequencySaturation float64 `yaml:"frequency_saturation"`

	// Auto-resolve rules: a lone candidate always resolves; otherwise the
	// top candidate must score at least AutoResolveScore and lead the
	// runner-up by a factor of AutoResolveRatio.
	AutoResolveScore float64 `yaml:"auto_resolve_score"`
	AutoResolveRatio float64 `yaml:"auto_resolve_ratio"`

	// AliasCacheSize bounds the registry's in-process LRU of normalized
	// alias lookups.
	AliasCacheSize int `yaml:"alias_cache_size"`
}

// ConflictConfig parameterizes conflict detection thresholds.
type ConflictConfig struct {
	// TemporalThresholdDays triggers keep_newest when the observation times
	// differ by at least this many days.
	TemporalThresholdDays float64 `yaml:"temporal_threshold_days"`

	// ConfidenceThreshold triggers keep_highest_confidence.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// ReinforcementThreshold triggers keep_most_reinforced.
	ReinforcementThreshold int `yaml:"reinforcement_threshold"`

	// ExternalFactConfidence is assigned to caller-supplied authoritative
	// facts. Kept below 1.0: authoritative sources can be stale too.
	ExternalFactConfidence float64 `yaml:"external_fact_confidence"`
}

// ConsolidationConfig parameterizes the consolidator and its background runner.
type ConsolidationConfig struct {
	// MinRecords is the minimum count of eligible records before a summary
	// is produced.
	MinRecords int `yaml:"min_records"`

	// WindowRecords bounds how many eligible records one summary may
	// compress.
	WindowRecords int `yaml:"window_records"`

	// WindowSessions bounds the window by distinct sessions instead when
	// non-zero; the tighter of the two bounds applies.
	WindowSessions int `yaml:"window_sessions"`

	// Synthesis-quality weights; used to compute summary confidence from
	// measured signals instead of a fixed constant. Must sum to 1.0.
	CompletenessWeight  float64 `yaml:"completeness_weight"`
	ContradictionWeight float64 `yaml:"contradiction_weight"`
	CoverageWeight      float64 `yaml:"coverage_weight"`
	TemporalWeight      float64 `yaml:"temporal_weight"`

	// Circuit breaker protecting the summarization collaborator.
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`

	// Background runner tuning.
	RunnerInterval    time.Duration `yaml:"runner_interval"`
	RunnerRatePerSec  float64       `yaml:"runner_rate_per_sec"`
	RunnerBurst       int           `yaml:"runner_burst"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Decay: DecayConfig{
			EpisodicHalfLifeDays:    30,
			SemanticHalfLifeDays:    90,
			ProceduralHalfLifeDays:  180,
			SummaryHalfLifeDays:     180,
			ReinforcementFloorScale: 3,
			StalenessThresholdDays:  90,
			NeedsValidationBelow:    0.6,
		},
		Scoring: ScoringConfig{
			Weights: map[types.Strategy]types.SignalWeights{
				types.StrategyFactualEntityFocused: {
					SemanticSimilarity: 0.35,
					EntityOverlap:      0.35,
					TemporalRelevance:  0.10,
					Importance:         0.10,
					Reinforcement:      0.10,
				},
				types.StrategyProcedural: {
					SemanticSimilarity: 0.30,
					EntityOverlap:      0.10,
					TemporalRelevance:  0.05,
					Importance:         0.25,
					Reinforcement:      0.30,
				},
				types.StrategyTemporal: {
					SemanticSimilarity: 0.20,
					EntityOverlap:      0.15,
					TemporalRelevance:  0.45,
					Importance:         0.10,
					Reinforcement:      0.10,
				},
				types.StrategyBalanced: {
					SemanticSimilarity: 0.20,
					EntityOverlap:      0.20,
					TemporalRelevance:  0.20,
					Importance:         0.20,
					Reinforcement:      0.20,
				},
			},
			TemporalHalfLifeDays:    14,
			ReinforcementSaturation: 5,
		},
		Resolution: ResolutionConfig{
			FuzzyThreshold:       0.85,
			FuzzyPenalty:         0.9,
			ExactMatchConfidence: types.MaxConfidence,
			RecencyBoostMax:      0.3,
			FrequencyBoostMax:    0.2,
			ActiveWorkBoost:      0.1,
			RecentTurns:          10,
			FrequencySaturation:  5,
			AutoResolveScore:     0.8,
			AutoResolveRatio:     2.0,
			AliasCacheSize:       1024,
		},
		Conflict: ConflictConfig{
			TemporalThresholdDays:  30,
			ConfidenceThreshold:    0.2,
			ReinforcementThreshold: 3,
			ExternalFactConfidence: 0.95,
		},
		Consolidation: ConsolidationConfig{
			MinRecords:          10,
			WindowRecords:       50,
			WindowSessions:      3,
			CompletenessWeight:  0.35,
			ContradictionWeight: 0.25,
			CoverageWeight:      0.25,
			TemporalWeight:      0.15,
			BreakerMaxFailures:  3,
			BreakerTimeout:      30 * time.Second,
			RunnerInterval:      time.Hour,
			RunnerRatePerSec:    1,
			RunnerBurst:         5,
		},
	}
}

// LoadConfig builds the configuration from defaults overlaid by environment
// variables. Environment variables cover deployment-level settings; the
// heuristic tables are file/struct-only.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	cfg.Storage.Engine = getEnv("RECALL_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("RECALL_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("RECALL_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Decay.EpisodicHalfLifeDays = getEnvFloat("RECALL_EPISODIC_HALF_LIFE_DAYS", cfg.Decay.EpisodicHalfLifeDays)
	cfg.Decay.SemanticHalfLifeDays = getEnvFloat("RECALL_SEMANTIC_HALF_LIFE_DAYS", cfg.Decay.SemanticHalfLifeDays)
	cfg.Decay.ProceduralHalfLifeDays = getEnvFloat("RECALL_PROCEDURAL_HALF_LIFE_DAYS", cfg.Decay.ProceduralHalfLifeDays)
	cfg.Decay.SummaryHalfLifeDays = getEnvFloat("RECALL_SUMMARY_HALF_LIFE_DAYS", cfg.Decay.SummaryHalfLifeDays)

	cfg.Conflict.ExternalFactConfidence = getEnvFloat("RECALL_EXTERNAL_FACT_CONFIDENCE", cfg.Conflict.ExternalFactConfidence)
	cfg.Consolidation.MinRecords = getEnvInt("RECALL_CONSOLIDATION_MIN_RECORDS", cfg.Consolidation.MinRecords)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML file over the defaults. Unset fields keep their
// default values.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants that would otherwise surface as
// subtle scoring bugs.
func (c *Config) Validate() error {
	for strategy, weights := range c.Scoring.Weights {
		if err := weights.Validate(); err != nil {
			return fmt.Errorf("config: strategy %s: %w", strategy, err)
		}
	}
	if _, ok := c.Scoring.Weights[types.StrategyBalanced]; !ok {
		return fmt.Errorf("config: scoring weights must include the %s fallback", types.StrategyBalanced)
	}

	for name, hl := range map[string]float64{
		"episodic":   c.Decay.EpisodicHalfLifeDays,
		"semantic":   c.Decay.SemanticHalfLifeDays,
		"procedural": c.Decay.ProceduralHalfLifeDays,
		"summary":    c.Decay.SummaryHalfLifeDays,
	} {
		if hl <= 0 {
			return fmt.Errorf("config: %s half-life must be positive, got %f", name, hl)
		}
	}

	if c.Conflict.ExternalFactConfidence <= 0 || c.Conflict.ExternalFactConfidence > types.MaxConfidence {
		return fmt.Errorf("config: external fact confidence must be in (0, %v], got %f",
			types.MaxConfidence, c.Conflict.ExternalFactConfidence)
	}

	if c.Resolution.FuzzyThreshold <= 0 || c.Resolution.FuzzyThreshold > 1 {
		return fmt.Errorf("config: fuzzy threshold must be in (0, 1], got %f", c.Resolution.FuzzyThreshold)
	}
	if c.Resolution.FuzzyPenalty <= 0 || c.Resolution.FuzzyPenalty >= 1 {
		return fmt.Errorf("config: fuzzy penalty must be in (0, 1), got %f", c.Resolution.FuzzyPenalty)
	}

	qualitySum := c.Consolidation.CompletenessWeight + c.Consolidation.ContradictionWeight +
		c.Consolidation.CoverageWeight + c.Consolidation.TemporalWeight
	if qualitySum < 0.999 || qualitySum > 1.001 {
		return fmt.Errorf("config: consolidation quality weights must sum to 1.0, got %f", qualitySum)
	}

	if c.Consolidation.MinRecords < 2 {
		return fmt.Errorf("config: consolidation min_records must be at least 2, got %d", c.Consolidation.MinRecords)
	}
	if c.Consolidation.WindowRecords < c.Consolidation.MinRecords {
		return fmt.Errorf("config: consolidation window_records (%d) must be >= min_records (%d)",
			c.Consolidation.WindowRecords, c.Consolidation.MinRecords)
	}

	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value when unset or unparseable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value when unset or unparseable.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
