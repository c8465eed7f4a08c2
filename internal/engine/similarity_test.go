package engine

import (
	"math"
	"testing"
)

func TestTrigramSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "kai media", "kai media", 1.0},
		{"case and whitespace insensitive", "Kai  Media", "kai media", 1.0},
		// "kay"/"kai" share two of four trigrams each; "media" matches fully:
		// 8 shared over a union of 12.
		{"close misspelling", "kay media", "kai media", 8.0 / 12.0},
		{"disjoint", "kai media", "zorp", 0.0},
		{"empty", "", "kai media", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trigramSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("trigramSimilarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
			if sym := trigramSimilarity(tt.b, tt.a); math.Abs(sym-got) > 1e-9 {
				t.Errorf("similarity must be symmetric: %f vs %f", got, sym)
			}
		})
	}
}
