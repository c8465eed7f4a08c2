package engine

import (
	"testing"
	"time"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/pkg/types"
)

func testDecay() *Decay {
	return NewDecay(config.DefaultConfig().Decay)
}

func semanticRecord(confidence float64, ageDays int, reinforcement int) *types.MemoryRecord {
	created := time.Now().UTC().Add(-time.Duration(ageDays) * 24 * time.Hour)
	return &types.MemoryRecord{
		ID:                 "mem:decay-test",
		Kind:               types.KindSemantic,
		SubjectEntityID:    "ent:x",
		Predicate:          "prefers_delivery_day",
		Confidence:         confidence,
		ReinforcementCount: reinforcement,
		Status:             types.StatusActive,
		CreatedAt:          created,
		LastReinforcedAt:   created,
	}
}

func TestEffectiveConfidence_Fresh(t *testing.T) {
	d := testDecay()
	record := semanticRecord(0.8, 0, 0)

	got := d.EffectiveConfidence(record, time.Now().UTC())
	if got < 0.79 || got > 0.8 {
		t.Errorf("fresh record should sit at base confidence, got %f", got)
	}
}

func TestEffectiveConfidence_HalfLife(t *testing.T) {
	d := testDecay()
	// Semantic half-life defaults to 90 days.
	record := semanticRecord(0.8, 90, 0)

	got := d.EffectiveConfidence(record, time.Now().UTC())
	if got < 0.39 || got > 0.41 {
		t.Errorf("confidence should halve at one half-life, got %f", got)
	}
}

func TestEffectiveConfidence_Monotonic(t *testing.T) {
	d := testDecay()
	record := semanticRecord(0.9, 0, 0)

	now := time.Now().UTC()
	prev := d.EffectiveConfidence(record, now)
	for days := 10; days <= 400; days += 10 {
		cur := d.EffectiveConfidence(record, now.Add(time.Duration(days)*24*time.Hour))
		if cur > prev {
			t.Fatalf("decay must be monotonic: %f at day %d exceeds %f", cur, days, prev)
		}
		prev = cur
	}
}

func TestEffectiveConfidence_Bounds(t *testing.T) {
	d := testDecay()
	now := time.Now().UTC()

	for _, record := range []*types.MemoryRecord{
		semanticRecord(0.95, 0, 100),
		semanticRecord(1.7, 0, 0), // stored out of range; read side still clamps
		semanticRecord(0.01, 3650, 0),
	} {
		got := d.EffectiveConfidence(record, now)
		if got < 0 || got > types.MaxConfidence {
			t.Errorf("effective confidence out of bounds: %f", got)
		}
	}
}

func TestEffectiveConfidence_ReinforcementFloor(t *testing.T) {
	d := testDecay()
	now := time.Now().UTC()

	plain := d.EffectiveConfidence(semanticRecord(0.8, 720, 0), now)
	corroborated := d.EffectiveConfidence(semanticRecord(0.8, 720, 9), now)

	if corroborated <= plain {
		t.Errorf("corroboration should resist decay: plain=%f corroborated=%f", plain, corroborated)
	}
	// floor(9) = 9/12 with the default scale of 3
	want := 0.8 * 9.0 / 12.0
	if diff := corroborated - want; diff < -0.001 || diff > 0.001 {
		t.Errorf("floor mismatch: got %f, want %f", corroborated, want)
	}
	if corroborated >= 0.8 {
		t.Errorf("floor must stay below base confidence, got %f", corroborated)
	}
}

func TestView_NeedsValidation(t *testing.T) {
	d := testDecay()
	now := time.Now().UTC()

	// Old, never validated, decayed below the bar.
	stale := d.View(semanticRecord(0.7, 200, 0), now)
	if !stale.NeedsValidation {
		t.Error("stale low-confidence record should need validation")
	}

	// Recently validated stays clear even when decayed.
	record := semanticRecord(0.7, 200, 0)
	validated := now.Add(-24 * time.Hour)
	record.LastValidatedAt = &validated
	if d.View(record, now).NeedsValidation {
		t.Error("recently validated record should not need validation")
	}

	// Heavily corroborated records stay above the confidence bar.
	confident := d.View(semanticRecord(0.9, 200, 20), now)
	if confident.NeedsValidation {
		t.Errorf("high effective confidence should not need validation (effective=%f)", confident.Effective)
	}
}

func TestView_NeverMutates(t *testing.T) {
	d := testDecay()
	record := semanticRecord(0.8, 100, 2)

	d.View(record, time.Now().UTC())
	if record.Confidence != 0.8 || record.ReinforcementCount != 2 || record.LastValidatedAt != nil {
		t.Error("decay must not mutate the record")
	}
}
