// Package engine implements the memory engine core: entity resolution,
// read-time confidence decay, multi-signal retrieval scoring, conflict
// detection, and consolidation of fine-grained records into summaries.
package engine

import (
	"math"
	"time"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/pkg/types"
)

// Decay computes time- and kind-adjusted confidence for stored records at
// read time. It is a pure calculator: it never mutates stored state, and a
// record's base confidence must only be consumed through it once age matters.
type Decay struct {
	cfg config.DecayConfig
}

// NewDecay creates a decay calculator with the given configuration.
func NewDecay(cfg config.DecayConfig) *Decay {
	return &Decay{cfg: cfg}
}

// ConfidenceView is the decay calculator's answer for one record at one
// instant. Informational only; nothing in it is written back.
type ConfidenceView struct {
	// Effective is the confidence after decay and the reinforcement floor.
	Effective float64 `json:"effective"`

	// Decayed is the confidence after exponential decay, before the floor.
	Decayed float64 `json:"decayed"`

	// Floor is the corroboration floor: base * reinforcementFloor(count).
	Floor float64 `json:"floor"`

	// NeedsValidation flags a record that is both stale (no validation within
	// the staleness threshold) and decayed below the validation bar. The
	// caller decides whether to re-validate; the engine only reports.
	NeedsValidation bool `json:"needs_validation"`
}

// EffectiveConfidence returns the record's confidence at the given instant:
// exponential half-life decay keyed by kind (and optionally predicate class),
// floored so heavily corroborated facts resist fading.
//
// Formula: decayed = base * 0.5^(ageDays / halfLifeDays), then
// effective = max(decayed, base * count/(count+scale)).
func (d *Decay) EffectiveConfidence(record *types.MemoryRecord, now time.Time) float64 {
	return d.View(record, now).Effective
}

// View returns the full confidence breakdown for one record at one instant.
func (d *Decay) View(record *types.MemoryRecord, now time.Time) ConfidenceView {
	base := types.ClampConfidence(record.Confidence)
	halfLife := d.cfg.HalfLifeDays(record.Kind, record.Predicate)

	ageDays := now.Sub(observedAt(record)).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}

	view := ConfidenceView{
		Decayed: base * math.Pow(0.5, ageDays/halfLife),
		Floor:   base * reinforcementFloor(record.ReinforcementCount, d.cfg.ReinforcementFloorScale),
	}
	view.Effective = math.Max(view.Decayed, view.Floor)

	validatedAt := record.CreatedAt
	if record.LastValidatedAt != nil {
		validatedAt = *record.LastValidatedAt
	}
	staleDays := now.Sub(validatedAt).Hours() / 24.0
	view.NeedsValidation = staleDays > d.cfg.StalenessThresholdDays &&
		view.Effective < d.cfg.NeedsValidationBelow

	return view
}

// observedAt is the instant the record was last asserted: its creation, or
// the latest corroboration. Reinforcement restarts the decay clock.
func observedAt(record *types.MemoryRecord) time.Time {
	if record.LastReinforcedAt.After(record.CreatedAt) {
		return record.LastReinforcedAt
	}
	return record.CreatedAt
}

// reinforcementFloor maps a corroboration count to a fraction of base
// confidence that decay cannot take away: count/(count+scale). Approaches but
// never reaches 1, so even heavily corroborated facts keep some humility.
func reinforcementFloor(count int, scale float64) float64 {
	if count <= 0 {
		return 0
	}
	return float64(count) / (float64(count) + scale)
}
