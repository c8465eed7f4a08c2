package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/storage/sqlite"
	"github.com/scrypster/recall/pkg/types"
)

// newTestStore creates an in-memory SQLite store. The full Schema is applied
// by NewStore, so no additional DDL is required in tests.
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestEngine(t *testing.T, summarizer Summarizer) *Engine {
	t.Helper()
	if summarizer == nil {
		summarizer = &stubSummarizer{}
	}
	eng, err := New(newTestStore(t), config.DefaultConfig(), summarizer)
	require.NoError(t, err)
	return eng
}

// stubSummarizer is a deterministic Summarizer for consolidation tests.
type stubSummarizer struct {
	err   error
	calls int
}

func (s *stubSummarizer) Summarize(_ context.Context, records []types.MemoryRecord) (*SummaryDraft, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}

	sourceIDs := make([]string, len(records))
	for i := range records {
		sourceIDs[i] = records[i].ID
	}
	return &SummaryDraft{
		Text: "stub summary",
		KeyFacts: []types.KeyFact{
			{Statement: "stub key fact", SourceIDs: sourceIDs},
		},
	}, nil
}

func mustCreateEntity(t *testing.T, eng *Engine, name string) *types.CanonicalEntity {
	t.Helper()
	entity, err := eng.Registry().CreateEntity(context.Background(), types.EntityTypePerson, name, nil)
	require.NoError(t, err)
	return entity
}

func mustPut(t *testing.T, eng *Engine, record *types.MemoryRecord) string {
	t.Helper()
	id, err := eng.Put(context.Background(), record)
	require.NoError(t, err)
	return id
}

func daysAgo(days int) time.Time {
	return time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
}
