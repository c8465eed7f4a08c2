package types

import (
	"encoding/json"
	"testing"
)

func TestClampConfidence(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.6, 0.6},
		{MaxConfidence, MaxConfidence},
		{1.0, MaxConfidence},
		{3.7, MaxConfidence},
	}
	for _, tc := range cases {
		if got := ClampConfidence(tc.in); got != tc.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeMention(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Kai Media", "kai media"},
		{"  KAI   media  ", "kai media"},
		{"kai media", "kai media"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeMention(tc.in); got != tc.want {
			t.Errorf("NormalizeMention(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalValue(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string case and spacing", "  Thursday   Morning ", "thursday morning"},
		{"array order", []any{"b", "a"}, "[a,b]"},
		{"raw json", json.RawMessage(`"Friday"`), "friday"},
		{"number", 42.0, "42"},
	}
	for _, tc := range cases {
		if got := CanonicalValue(tc.in); got != tc.want {
			t.Errorf("%s: CanonicalValue(%v) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestValuesEqual(t *testing.T) {
	if !ValuesEqual("Thursday", " thursday ") {
		t.Error("case and whitespace variants should compare equal")
	}
	if !ValuesEqual([]any{"b", "a"}, []any{"a", "b"}) {
		t.Error("array values should compare order-independently")
	}
	if ValuesEqual("thursday", "friday") {
		t.Error("distinct values should not compare equal")
	}
}

func TestConflictPairKeyOrderIndependent(t *testing.T) {
	left := ConflictRef{MemoryID: "mem:a"}
	right := ConflictRef{MemoryID: "mem:b"}

	forward := Conflict{SubjectID: "ent:kai", Predicate: "industry", Left: left, Right: right}
	reversed := Conflict{SubjectID: "ent:kai", Predicate: "industry", Left: right, Right: left}

	if forward.PairKey() != reversed.PairKey() {
		t.Errorf("PairKey differs by side order: %q vs %q", forward.PairKey(), reversed.PairKey())
	}

	other := Conflict{SubjectID: "ent:kai", Predicate: "budget", Left: left, Right: right}
	if forward.PairKey() == other.PairKey() {
		t.Error("PairKey should distinguish predicates")
	}
}

func TestSignalWeightsValidate(t *testing.T) {
	valid := SignalWeights{
		SemanticSimilarity: 0.4,
		EntityOverlap:      0.2,
		TemporalRelevance:  0.2,
		Importance:         0.1,
		Reinforcement:      0.1,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid weights rejected: %v", err)
	}

	negative := valid
	negative.Importance = -0.1
	negative.SemanticSimilarity = 0.6
	if err := negative.Validate(); err == nil {
		t.Error("negative weight accepted")
	}

	short := valid
	short.Reinforcement = 0
	if err := short.Validate(); err == nil {
		t.Error("weights summing below 1.0 accepted")
	}
}
