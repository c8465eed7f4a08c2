package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/pkg/types"
)

func deliveryRecord(id, subjectID, day string, confidence float64, ageDays, reinforcement int) types.MemoryRecord {
	created := daysAgo(ageDays)
	return types.MemoryRecord{
		ID:                 id,
		Kind:               types.KindSemantic,
		SubjectEntityID:    subjectID,
		Predicate:          "prefers_delivery_day",
		ObjectValue:        day,
		Confidence:         confidence,
		ReinforcementCount: reinforcement,
		Status:             types.StatusActive,
		CreatedAt:          created,
		LastReinforcedAt:   created,
	}
}

func TestDetect_KeepNewestScenario(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	thursday := deliveryRecord("mem:thursday", "ent:customer-x", "Thursday", 0.7, 40, 0)
	friday := deliveryRecord("mem:friday", "ent:customer-x", "Friday", 0.85, 5, 0)

	conflicts, err := eng.DetectConflicts(ctx, []types.MemoryRecord{thursday, friday}, nil, now)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	c := conflicts[0]
	assert.Equal(t, types.ConflictMemoryVsMemory, c.Type)
	assert.Equal(t, "ent:customer-x", c.SubjectID)
	assert.Equal(t, "prefers_delivery_day", c.Predicate)
	assert.InDelta(t, 35, c.TemporalDiffDays, 0.1)
	assert.Equal(t, types.ResolutionKeepNewest, c.Recommended)
	require.NotNil(t, c.RecommendedRef)
	assert.Equal(t, "mem:friday", c.RecommendedRef.MemoryID)
}

func TestDetect_RecommendationLadder(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name   string
		left   types.MemoryRecord
		right  types.MemoryRecord
		want   types.Resolution
		winner string
	}{
		{
			name:   "confidence gap below temporal threshold",
			left:   deliveryRecord("mem:l1", "ent:s1", "Monday", 0.9, 3, 0),
			right:  deliveryRecord("mem:r1", "ent:s1", "Tuesday", 0.3, 5, 0),
			want:   types.ResolutionKeepHighestConfidence,
			winner: "mem:l1",
		},
		{
			name:   "reinforcement gap with close confidence and times",
			left:   deliveryRecord("mem:l2", "ent:s2", "Monday", 0.7, 3, 6),
			right:  deliveryRecord("mem:r2", "ent:s2", "Tuesday", 0.68, 5, 1),
			want:   types.ResolutionKeepMostReinforced,
			winner: "mem:l2",
		},
		{
			name:  "everything too close to call",
			left:  deliveryRecord("mem:l3", "ent:s3", "Monday", 0.7, 3, 1),
			right: deliveryRecord("mem:r3", "ent:s3", "Tuesday", 0.68, 5, 1),
			want:  types.ResolutionSurfaceBoth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conflicts, err := eng.DetectConflicts(ctx, []types.MemoryRecord{tt.left, tt.right}, nil, now)
			require.NoError(t, err)
			require.Len(t, conflicts, 1)

			assert.Equal(t, tt.want, conflicts[0].Recommended)
			if tt.winner == "" {
				assert.Nil(t, conflicts[0].RecommendedRef)
			} else {
				require.NotNil(t, conflicts[0].RecommendedRef)
				assert.Equal(t, tt.winner, conflicts[0].RecommendedRef.MemoryID)
			}
		})
	}
}

func TestDetect_AgreementIsNotConflict(t *testing.T) {
	eng := newTestEngine(t, nil)
	now := time.Now().UTC()

	// Same canonical value despite surface differences.
	a := deliveryRecord("mem:a", "ent:s", "Friday", 0.7, 40, 0)
	b := deliveryRecord("mem:b", "ent:s", "  friday ", 0.85, 5, 0)

	conflicts, err := eng.DetectConflicts(context.Background(), []types.MemoryRecord{a, b}, nil, now)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetect_IgnoresInactiveAndOtherKeys(t *testing.T) {
	eng := newTestEngine(t, nil)
	now := time.Now().UTC()

	superseded := deliveryRecord("mem:old", "ent:s", "Monday", 0.7, 40, 0)
	superseded.Status = types.StatusSuperseded
	active := deliveryRecord("mem:new", "ent:s", "Tuesday", 0.8, 5, 0)
	otherPredicate := deliveryRecord("mem:other", "ent:s", "Wednesday", 0.8, 5, 0)
	otherPredicate.Predicate = "prefers_contact_channel"

	conflicts, err := eng.DetectConflicts(context.Background(),
		[]types.MemoryRecord{superseded, active, otherPredicate}, nil, now)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetect_ExternalFact(t *testing.T) {
	eng := newTestEngine(t, nil)
	now := time.Now().UTC()

	record := deliveryRecord("mem:stale", "ent:customer-x", "Thursday", 0.7, 10, 0)
	fact := types.ExternalFact{
		Source:    "crm.customers",
		Key:       "42",
		SubjectID: "ent:customer-x",
		Predicate: "prefers_delivery_day",
		Value:     "Friday",
		AsOf:      now.Add(-24 * time.Hour),
	}

	conflicts, err := eng.DetectConflicts(context.Background(), []types.MemoryRecord{record}, []types.ExternalFact{fact}, now)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	c := conflicts[0]
	assert.Equal(t, types.ConflictMemoryVsExternal, c.Type)
	assert.True(t, c.Right.IsExternal())
	assert.Equal(t, "crm.customers", c.Right.ExternalSource)
	// The external fact is capped, not absolute: rule 2 decides on the
	// confidence gap against the decayed memory side.
	assert.Equal(t, types.ResolutionKeepHighestConfidence, c.Recommended)
	require.NotNil(t, c.RecommendedRef)
	assert.True(t, c.RecommendedRef.IsExternal())
}

func TestDetect_Idempotent(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	candidates := []types.MemoryRecord{
		deliveryRecord("mem:thursday", "ent:customer-x", "Thursday", 0.7, 40, 0),
		deliveryRecord("mem:friday", "ent:customer-x", "Friday", 0.85, 5, 0),
	}

	first, err := eng.DetectConflicts(ctx, candidates, nil, now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := eng.DetectConflicts(ctx, candidates, nil, now)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "re-detection must surface the existing row")

	open, err := eng.OpenConflicts(ctx, "ent:customer-x")
	require.NoError(t, err)
	assert.Len(t, open, 1, "no duplicate conflict rows for the same pair")
}
