// Package summarize provides a rule-based summarization collaborator for the
// consolidator. It is deterministic: hosts that want richer prose plug in
// their own engine.Summarizer (typically LLM-backed) instead.
package summarize

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scrypster/recall/internal/engine"
	"github.com/scrypster/recall/pkg/types"
)

// Heuristic distills source records into key facts by (predicate) group,
// preferring the most corroborated value in each group.
type Heuristic struct{}

// NewHeuristic creates a rule-based summarizer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Summarize builds one key fact per predicate group plus a line per
// ungrouped episodic record, and joins the statements into the summary text.
func (h *Heuristic) Summarize(_ context.Context, records []types.MemoryRecord) (*engine.SummaryDraft, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("summarize: no source records")
	}

	type group struct {
		predicate string
		records   []*types.MemoryRecord
	}
	byPredicate := make(map[string]*group)
	var order []string
	var episodic []*types.MemoryRecord

	for i := range records {
		record := &records[i]
		if record.Predicate == "" {
			episodic = append(episodic, record)
			continue
		}
		g := byPredicate[record.Predicate]
		if g == nil {
			g = &group{predicate: record.Predicate}
			byPredicate[record.Predicate] = g
			order = append(order, record.Predicate)
		}
		g.records = append(g.records, record)
	}
	sort.Strings(order)

	var facts []types.KeyFact
	for _, predicate := range order {
		g := byPredicate[predicate]

		// Prefer the most corroborated value; confidence breaks ties.
		best := g.records[0]
		for _, record := range g.records[1:] {
			if record.ReinforcementCount > best.ReinforcementCount ||
				(record.ReinforcementCount == best.ReinforcementCount && record.Confidence > best.Confidence) {
				best = record
			}
		}

		sourceIDs := make([]string, len(g.records))
		for i, record := range g.records {
			sourceIDs[i] = record.ID
		}
		sort.Strings(sourceIDs)

		facts = append(facts, types.KeyFact{
			Predicate: predicate,
			Statement: fmt.Sprintf("%s: %s", predicate, types.CanonicalValue(best.ObjectValue)),
			SourceIDs: sourceIDs,
		})
	}

	for _, record := range episodic {
		value := types.CanonicalValue(record.ObjectValue)
		if value == "" {
			continue
		}
		facts = append(facts, types.KeyFact{
			Statement: fmt.Sprintf("observed %s: %s", record.CreatedAt.Format("2006-01-02"), value),
			SourceIDs: []string{record.ID},
		})
	}

	if len(facts) == 0 {
		return nil, fmt.Errorf("summarize: no distillable content in %d records", len(records))
	}

	statements := make([]string, len(facts))
	for i, fact := range facts {
		statements[i] = fact.Statement
	}

	return &engine.SummaryDraft{
		Text:     strings.Join(statements, ". ") + ".",
		KeyFacts: facts,
	}, nil
}
