package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// newTestStore creates an in-memory store. NewStore applies the full Schema,
// so no additional DDL is required in tests.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEntity(t *testing.T, s *Store, id, name string) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CreateEntity(context.Background(), &types.CanonicalEntity{
		ID:            id,
		EntityType:    types.EntityTypeOrganization,
		CanonicalName: name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func testRecord(id, subjectID string, created time.Time) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:               id,
		Kind:             types.KindSemantic,
		SubjectEntityID:  subjectID,
		Predicate:        "prefers_delivery_day",
		ObjectValue:      "Friday",
		Confidence:       0.8,
		Status:           types.StatusActive,
		CreatedAt:        created,
		LastReinforcedAt: created,
	}
}

func TestRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testEntity(t, s, "ent:kai", "Kai Media")

	now := time.Now().UTC().Truncate(time.Second)
	record := testRecord("mem:1", "ent:kai", now)
	record.ObjectValue = map[string]any{"day": "Friday", "window": "morning"}
	record.LinkedEntityIDs = []string{"ent:driver"}
	record.Embedding = []float32{0.1, 0.2, 0.3}
	record.Provenance = "turn-42"
	record.SessionID = "session-1"
	record.Importance = 0.6
	require.NoError(t, s.PutRecord(ctx, record))

	got, err := s.GetRecord(ctx, "mem:1")
	require.NoError(t, err)
	assert.Equal(t, record.Kind, got.Kind)
	assert.Equal(t, record.SubjectEntityID, got.SubjectEntityID)
	assert.Equal(t, map[string]any{"day": "Friday", "window": "morning"}, got.ObjectValue)
	assert.Equal(t, []string{"ent:driver"}, got.LinkedEntityIDs)
	assert.Equal(t, "turn-42", got.Provenance)
	assert.Equal(t, "session-1", got.SessionID)
	assert.InDelta(t, 0.6, got.Importance, 1e-9)
	assert.True(t, got.CreatedAt.Equal(now))

	_, err = s.GetRecord(ctx, "mem:missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testEntity(t, s, "ent:kai", "Kai Media")
	testEntity(t, s, "ent:other", "Other Corp")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.PutRecord(ctx, testRecord("mem:old", "ent:kai", now.Add(-48*time.Hour))))
	require.NoError(t, s.PutRecord(ctx, testRecord("mem:new", "ent:kai", now)))

	// Linked entity matches too.
	linked := testRecord("mem:linked", "ent:other", now.Add(-time.Hour))
	linked.LinkedEntityIDs = []string{"ent:kai"}
	require.NoError(t, s.PutRecord(ctx, linked))

	superseded := testRecord("mem:superseded", "ent:kai", now.Add(-time.Hour))
	superseded.Status = types.StatusSuperseded
	require.NoError(t, s.PutRecord(ctx, superseded))

	got, err := s.GetCandidates(ctx, storage.CandidateQuery{EntityIDs: []string{"ent:kai"}})
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Newest first.
	assert.Equal(t, "mem:new", got[0].ID)
	assert.Equal(t, "mem:linked", got[1].ID)
	assert.Equal(t, "mem:old", got[2].ID)

	withInactive, err := s.GetCandidates(ctx, storage.CandidateQuery{
		EntityIDs: []string{"ent:kai"}, IncludeInactive: true,
	})
	require.NoError(t, err)
	assert.Len(t, withInactive, 4)

	kindFiltered, err := s.GetCandidates(ctx, storage.CandidateQuery{
		EntityIDs: []string{"ent:kai"}, Kinds: []types.MemoryKind{types.KindEpisodic},
	})
	require.NoError(t, err)
	assert.Empty(t, kindFiltered)
}

func TestMarkSuperseded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testEntity(t, s, "ent:kai", "Kai Media")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.PutRecord(ctx, testRecord("mem:1", "ent:kai", now)))

	require.NoError(t, s.MarkSuperseded(ctx, []string{"mem:1"}, "mem:2", "newer observation"))

	got, err := s.GetRecord(ctx, "mem:1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuperseded, got.Status)
	assert.Equal(t, "mem:2", got.SupersededBy)
	assert.Equal(t, "newer observation", got.SupersededReason)

	// A missing id fails the whole batch.
	err = s.MarkSuperseded(ctx, []string{"mem:1", "mem:missing"}, "", "x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPersistSummary_AtomicAndGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testEntity(t, s, "ent:kai", "Kai Media")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.PutRecord(ctx, testRecord("mem:1", "ent:kai", now.Add(-time.Hour))))
	require.NoError(t, s.PutRecord(ctx, testRecord("mem:2", "ent:kai", now)))

	summary := &types.MemorySummary{
		Record: types.MemoryRecord{
			ID:               "sum:1",
			Kind:             types.KindSummary,
			SubjectEntityID:  "ent:kai",
			Confidence:       0.7,
			Status:           types.StatusActive,
			CreatedAt:        now,
			LastReinforcedAt: now,
		},
		Text:      "delivery preference summary",
		KeyFacts:  []types.KeyFact{{Statement: "prefers friday", SourceIDs: []string{"mem:1", "mem:2"}}},
		SourceIDs: []string{"mem:1", "mem:2"},
	}
	require.NoError(t, s.PersistSummary(ctx, summary))

	got, err := s.GetSummary(ctx, "sum:1")
	require.NoError(t, err)
	assert.Equal(t, "delivery preference summary", got.Text)
	assert.ElementsMatch(t, []string{"mem:1", "mem:2"}, got.SourceIDs)
	require.Len(t, got.KeyFacts, 1)

	source, err := s.GetRecord(ctx, "mem:1")
	require.NoError(t, err)
	assert.Equal(t, "sum:1", source.ConsolidatedInto)

	// A second summary over an already-consolidated source rolls back whole.
	rival := &types.MemorySummary{
		Record:    types.MemoryRecord{ID: "sum:2", Kind: types.KindSummary, SubjectEntityID: "ent:kai", Status: types.StatusActive, CreatedAt: now, LastReinforcedAt: now},
		Text:      "rival",
		SourceIDs: []string{"mem:2"},
	}
	err = s.PersistSummary(ctx, rival)
	assert.ErrorIs(t, err, storage.ErrConcurrencyConflict)

	_, err = s.GetRecord(ctx, "sum:2")
	assert.ErrorIs(t, err, storage.ErrNotFound, "nothing of the failed summary may persist")
}

func TestListEligibleForConsolidation_Window(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testEntity(t, s, "ent:kai", "Kai Media")

	now := time.Now().UTC().Truncate(time.Second)
	sessions := []string{"s1", "s1", "s2", "s2", "s3", "s4"}
	for i, session := range sessions {
		record := testRecord(fmt.Sprintf("mem:%d", i), "ent:kai", now.Add(time.Duration(i)*time.Minute))
		record.Kind = types.KindEpisodic
		record.Predicate = ""
		record.SessionID = session
		require.NoError(t, s.PutRecord(ctx, record))
	}

	got, err := s.ListEligibleForConsolidation(ctx, "ent:kai", storage.ConsolidationWindow{MaxSessions: 2})
	require.NoError(t, err)
	require.Len(t, got, 2, "only the two most recent sessions are in the window")
	assert.Equal(t, "s3", got[0].SessionID)
	assert.Equal(t, "s4", got[1].SessionID)

	capped, err := s.ListEligibleForConsolidation(ctx, "ent:kai", storage.ConsolidationWindow{MaxRecords: 3})
	require.NoError(t, err)
	assert.Len(t, capped, 3)
}

func TestConflictAppendOnlyAndDedupe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	conflict := &types.Conflict{
		ID:        "conf:1",
		Type:      types.ConflictMemoryVsMemory,
		SubjectID: "ent:kai",
		Predicate: "prefers_delivery_day",
		Left:      types.ConflictRef{MemoryID: "mem:thursday", Value: "thursday"},
		Right:     types.ConflictRef{MemoryID: "mem:friday", Value: "friday"},

		Recommended:      types.ResolutionKeepNewest,
		RecommendedRef:   &types.ConflictRef{MemoryID: "mem:friday", Value: "friday"},
		TemporalDiffDays: 35,
		CreatedAt:        now,
	}

	created, err := s.AppendConflict(ctx, conflict)
	require.NoError(t, err)
	assert.True(t, created)

	// Same pair, opposite side order: still a duplicate.
	dup := *conflict
	dup.ID = "conf:2"
	dup.Left, dup.Right = conflict.Right, conflict.Left
	created, err = s.AppendConflict(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)

	open, err := s.ListOpenConflicts(ctx, "ent:kai")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "conf:1", open[0].ID)
	require.NotNil(t, open[0].RecommendedRef)
	assert.Equal(t, "mem:friday", open[0].RecommendedRef.MemoryID)

	// Resolution records the outcome; the row survives.
	require.NoError(t, s.ResolveConflict(ctx, "conf:1", types.ResolutionKeepNewest, now))
	resolved, err := s.GetConflict(ctx, "conf:1")
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionKeepNewest, resolved.Outcome)
	require.NotNil(t, resolved.ResolvedAt)

	open, err = s.ListOpenConflicts(ctx, "ent:kai")
	require.NoError(t, err)
	assert.Empty(t, open)

	// With the prior conflict resolved, the same pair may be flagged again.
	again := *conflict
	again.ID = "conf:3"
	created, err = s.AppendConflict(ctx, &again)
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, s.ResolveConflict(ctx, "conf:3", types.ResolutionSurfaceBoth, now))
	err = s.ResolveConflict(ctx, "conf:3", types.ResolutionSurfaceBoth, now)
	assert.ErrorIs(t, err, storage.ErrNotFound, "resolving twice is rejected")
}

func TestAliasLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	testEntity(t, s, "ent:kai", "Kai Media")

	now := time.Now().UTC().Truncate(time.Second)
	alias := &types.EntityAlias{
		Alias:      "the media folks",
		EntityID:   "ent:kai",
		Source:     types.AliasLearned,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	require.NoError(t, s.UpsertAlias(ctx, alias))
	require.NoError(t, s.IncrementAliasUse(ctx, "The  Media FOLKS", now.Add(time.Minute)))

	got, err := s.GetAlias(ctx, "the media folks")
	require.NoError(t, err)
	assert.Equal(t, "ent:kai", got.EntityID)
	assert.Equal(t, 1, got.UseCount)
	assert.Equal(t, types.AliasLearned, got.Source)

	all, err := s.ListAliases(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	err = s.IncrementAliasUse(ctx, "unknown alias", now)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
