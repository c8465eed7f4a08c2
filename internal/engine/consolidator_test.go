package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/pkg/types"
)

func seedEpisodes(t *testing.T, eng *Engine, entityID string, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = mustPut(t, eng, &types.MemoryRecord{
			Kind:            types.KindEpisodic,
			SubjectEntityID: entityID,
			ObjectValue:     "observation",
			Confidence:      0.7,
			CreatedAt:       daysAgo(n - i),
			SessionID:       "session-1",
		})
	}
	return ids
}

func TestConsolidate_TwelveRecordScenario(t *testing.T) {
	stub := &stubSummarizer{}
	eng := newTestEngine(t, stub)
	ctx := context.Background()
	entity := mustCreateEntity(t, eng, "Kai Media")
	now := time.Now().UTC()

	ids := seedEpisodes(t, eng, entity.ID, 12)

	summary, err := eng.Consolidate(ctx, entity.ID, now)
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, types.KindSummary, summary.Record.Kind)
	assert.Equal(t, entity.ID, summary.Record.SubjectEntityID)
	assert.ElementsMatch(t, ids, summary.SourceIDs, "the summary must reference all 12 sources")
	assert.Greater(t, summary.Record.Confidence, 0.0)
	assert.LessOrEqual(t, summary.Record.Confidence, types.MaxConfidence)

	// Every source is stamped, none deleted, all still retrievable.
	for _, id := range ids {
		source, err := eng.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, summary.Record.ID, source.ConsolidatedInto)
		assert.Equal(t, types.StatusActive, source.Status)
	}

	// The summary round-trips with its payload.
	stored, err := eng.Store().GetSummary(ctx, summary.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, summary.Text, stored.Text)
	assert.ElementsMatch(t, ids, stored.SourceIDs)
}

func TestConsolidate_BelowThresholdIsNoop(t *testing.T) {
	stub := &stubSummarizer{}
	eng := newTestEngine(t, stub)
	entity := mustCreateEntity(t, eng, "Kai Media")

	seedEpisodes(t, eng, entity.ID, 5)

	summary, err := eng.Consolidate(context.Background(), entity.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, summary)
	assert.Zero(t, stub.calls, "the collaborator must not be called below the threshold")
}

func TestConsolidate_Idempotent(t *testing.T) {
	eng := newTestEngine(t, &stubSummarizer{})
	ctx := context.Background()
	entity := mustCreateEntity(t, eng, "Kai Media")
	now := time.Now().UTC()

	seedEpisodes(t, eng, entity.ID, 12)

	first, err := eng.Consolidate(ctx, entity.ID, now)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Unchanged window: consolidated sources left the eligible set.
	second, err := eng.Consolidate(ctx, entity.ID, now)
	require.NoError(t, err)
	assert.Nil(t, second)

	// New records accrue: a new summary appears, the prior one stands.
	for i := 0; i < 12; i++ {
		mustPut(t, eng, &types.MemoryRecord{
			Kind:            types.KindEpisodic,
			SubjectEntityID: entity.ID,
			ObjectValue:     "fresh observation",
			Confidence:      0.7,
			SessionID:       "session-2",
		})
	}
	third, err := eng.Consolidate(ctx, entity.ID, now)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.NotEqual(t, first.Record.ID, third.Record.ID)

	prior, err := eng.Get(ctx, first.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, prior.Status)
}

func TestConsolidate_AbortLeavesNoPartialState(t *testing.T) {
	stub := &stubSummarizer{err: errors.New("model unavailable")}
	eng := newTestEngine(t, stub)
	ctx := context.Background()
	entity := mustCreateEntity(t, eng, "Kai Media")

	ids := seedEpisodes(t, eng, entity.ID, 12)

	summary, err := eng.Consolidate(ctx, entity.ID, time.Now().UTC())
	assert.ErrorIs(t, err, ErrConsolidationAborted)
	assert.Nil(t, summary)

	// Sources stay unconsolidated and eligible for a later retry.
	for _, id := range ids {
		source, getErr := eng.Get(ctx, id)
		require.NoError(t, getErr)
		assert.Empty(t, source.ConsolidatedInto)
	}

	stub.err = nil
	retried, err := eng.Consolidate(ctx, entity.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.NotNil(t, retried)
}

func TestConsolidate_RejectsIncoherentDraft(t *testing.T) {
	eng := newTestEngine(t, &badCitationSummarizer{})
	entity := mustCreateEntity(t, eng, "Kai Media")

	seedEpisodes(t, eng, entity.ID, 12)

	_, err := eng.Consolidate(context.Background(), entity.ID, time.Now().UTC())
	assert.ErrorIs(t, err, ErrConsolidationAborted)
}

// badCitationSummarizer returns a draft citing a record that does not exist.
type badCitationSummarizer struct{}

func (b *badCitationSummarizer) Summarize(context.Context, []types.MemoryRecord) (*SummaryDraft, error) {
	return &SummaryDraft{
		Text:     "summary",
		KeyFacts: []types.KeyFact{{Statement: "claim", SourceIDs: []string{"mem:phantom"}}},
	}, nil
}

func TestRunner_Sweep(t *testing.T) {
	eng := newTestEngine(t, &stubSummarizer{})
	ctx := context.Background()

	busy := mustCreateEntity(t, eng, "Busy Corp")
	quiet := mustCreateEntity(t, eng, "Quiet Corp")
	seedEpisodes(t, eng, busy.ID, 12)
	seedEpisodes(t, eng, quiet.ID, 3)

	cfg := eng.cfg.Consolidation
	cfg.RunnerRatePerSec = 1000 // keep the test fast
	runner := NewRunner(eng.Store(), eng.Consolidator(), cfg)

	produced, err := runner.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, produced)

	// A second sweep finds nothing due.
	produced, err = runner.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, produced)
}
