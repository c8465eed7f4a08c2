package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// ErrConsolidationAborted is returned when the summarization collaborator
// failed or produced incoherent output. No partial summary is persisted;
// source records stay unconsolidated and eligible for a later retry.
var ErrConsolidationAborted = errors.New("consolidation aborted")

// SummaryDraft is the structured output expected from a summarization
// collaborator: the summary text plus the distilled key facts, each citing
// the source records backing it.
type SummaryDraft struct {
	Text     string
	KeyFacts []types.KeyFact
}

// Summarizer synthesizes a draft summary from a set of source records. The
// implementation (LLM-backed or rule-based) lives outside the engine; the
// consolidator's own logic stays deterministic and testable with a stub.
type Summarizer interface {
	Summarize(ctx context.Context, records []types.MemoryRecord) (*SummaryDraft, error)
}

// Consolidator compresses a bounded window of fine-grained records for one
// entity into a durable summary record. Sources are marked consolidated,
// never deleted, and the whole operation commits atomically.
type Consolidator struct {
	store      storage.FactStore
	summarizer Summarizer
	decay      *Decay
	cfg        config.ConsolidationConfig

	// breaker shields the engine from a failing summarization collaborator.
	breaker *gobreaker.CircuitBreaker
}

// NewConsolidator creates a consolidator over the given store and collaborator.
func NewConsolidator(store storage.FactStore, summarizer Summarizer, decay *Decay, cfg config.ConsolidationConfig) *Consolidator {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "summarizer",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
	})
	return &Consolidator{
		store:      store,
		summarizer: summarizer,
		decay:      decay,
		cfg:        cfg,
		breaker:    breaker,
	}
}

// Consolidate compresses the entity's eligible records into a summary.
// Returns (nil, nil) when the window holds fewer than the minimum record
// count — in particular, re-running over an unchanged window after a prior
// successful run is a no-op, because consolidated sources leave the eligible
// set. Running again after new records accrue produces a new summary without
// invalidating the prior one.
func (c *Consolidator) Consolidate(ctx context.Context, entityID string, now time.Time) (*types.MemorySummary, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id is required", storage.ErrInvalidInput)
	}

	window := storage.ConsolidationWindow{
		MaxRecords:  c.cfg.WindowRecords,
		MaxSessions: c.cfg.WindowSessions,
	}
	records, err := c.store.ListEligibleForConsolidation(ctx, entityID, window)
	if err != nil {
		return nil, err
	}
	if len(records) < c.cfg.MinRecords {
		return nil, nil
	}

	draft, err := c.summarize(ctx, records)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	confidence := c.summaryConfidence(records, draft, now)

	sourceIDs := make([]string, len(records))
	linked := make(map[string]struct{})
	for i := range records {
		sourceIDs[i] = records[i].ID
		for _, id := range records[i].LinkedEntityIDs {
			linked[id] = struct{}{}
		}
	}

	summary := &types.MemorySummary{
		Record: types.MemoryRecord{
			ID:               "sum:" + uuid.New().String(),
			Kind:             types.KindSummary,
			SubjectEntityID:  entityID,
			Confidence:       confidence,
			Status:           types.StatusActive,
			CreatedAt:        now,
			LastReinforcedAt: now,
			Provenance:       "consolidation",
			LinkedEntityIDs:  sortedKeys(linked),
			Importance:       maxImportance(records),
		},
		Text:      draft.Text,
		KeyFacts:  draft.KeyFacts,
		SourceIDs: sourceIDs,
	}

	if err := c.store.PersistSummary(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// summarize routes the collaborator call through the circuit breaker and
// rejects incoherent drafts. Any failure maps to ErrConsolidationAborted.
func (c *Consolidator) summarize(ctx context.Context, records []types.MemoryRecord) (*SummaryDraft, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.summarizer.Summarize(ctx, records)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: summarizer: %v", ErrConsolidationAborted, err)
	}

	draft, ok := result.(*SummaryDraft)
	if !ok || draft == nil || strings.TrimSpace(draft.Text) == "" {
		return nil, fmt.Errorf("%w: summarizer returned an empty draft", ErrConsolidationAborted)
	}

	known := make(map[string]struct{}, len(records))
	for i := range records {
		known[records[i].ID] = struct{}{}
	}
	for _, fact := range draft.KeyFacts {
		if strings.TrimSpace(fact.Statement) == "" {
			return nil, fmt.Errorf("%w: key fact with empty statement", ErrConsolidationAborted)
		}
		for _, id := range fact.SourceIDs {
			if _, ok := known[id]; !ok {
				return nil, fmt.Errorf("%w: key fact cites unknown source %s", ErrConsolidationAborted, id)
			}
		}
	}
	return draft, nil
}

// highReinforcementCount is the corroboration level at which a source record
// counts as highly reinforced for the coverage signal.
const highReinforcementCount = 3

// highConfidenceBar is the effective confidence above which a source counts
// as high-confidence for the completeness signal.
const highConfidenceBar = 0.7

// temporalCoherenceHalfLifeDays shapes the temporal-coherence signal: a
// window spanning this many days scores 0.5.
const temporalCoherenceHalfLifeDays = 90.0

// summaryConfidence derives the summary's confidence from measured synthesis
// quality rather than a fixed constant:
//
//   - completeness: fraction of high-confidence sources cited by key facts
//   - contradiction: fraction of (predicate) groups free of conflicting values
//   - coverage: fraction of highly reinforced sources cited by key facts
//   - temporal: coherence of the window's time span
//
// The weighted quality is scaled by MaxConfidence so a summary can never
// claim more certainty than any other record.
func (c *Consolidator) summaryConfidence(records []types.MemoryRecord, draft *SummaryDraft, now time.Time) float64 {
	cited := make(map[string]struct{})
	for _, fact := range draft.KeyFacts {
		for _, id := range fact.SourceIDs {
			cited[id] = struct{}{}
		}
	}

	var highConfTotal, highConfCited int
	var reinforcedTotal, reinforcedCited int
	groups := make(map[string]map[string]struct{})
	oldest, newest := records[0].CreatedAt, records[0].CreatedAt

	for i := range records {
		record := &records[i]

		if c.decay.EffectiveConfidence(record, now) >= highConfidenceBar {
			highConfTotal++
			if _, ok := cited[record.ID]; ok {
				highConfCited++
			}
		}
		if record.ReinforcementCount >= highReinforcementCount {
			reinforcedTotal++
			if _, ok := cited[record.ID]; ok {
				reinforcedCited++
			}
		}
		if record.Predicate != "" {
			values := groups[record.Predicate]
			if values == nil {
				values = make(map[string]struct{})
				groups[record.Predicate] = values
			}
			values[types.CanonicalValue(record.ObjectValue)] = struct{}{}
		}
		if record.CreatedAt.Before(oldest) {
			oldest = record.CreatedAt
		}
		if record.CreatedAt.After(newest) {
			newest = record.CreatedAt
		}
	}

	completeness := fraction(highConfCited, highConfTotal)
	coverage := fraction(reinforcedCited, reinforcedTotal)

	clean := 0
	for _, values := range groups {
		if len(values) <= 1 {
			clean++
		}
	}
	contradiction := fraction(clean, len(groups))

	spanDays := newest.Sub(oldest).Hours() / 24.0
	temporal := math.Pow(0.5, spanDays/temporalCoherenceHalfLifeDays)

	quality := c.cfg.CompletenessWeight*completeness +
		c.cfg.ContradictionWeight*contradiction +
		c.cfg.CoverageWeight*coverage +
		c.cfg.TemporalWeight*temporal

	return types.ClampConfidence(quality * types.MaxConfidence)
}

// fraction returns covered/total, treating an empty population as fully
// covered so an absent signal never drags quality down.
func fraction(covered, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(covered) / float64(total)
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func maxImportance(records []types.MemoryRecord) float64 {
	max := 0.0
	for i := range records {
		if records[i].Importance > max {
			max = records[i].Importance
		}
	}
	return max
}
