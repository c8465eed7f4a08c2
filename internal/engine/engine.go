package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// reinforceRate is the fraction of the remaining headroom to MaxConfidence
// that one corroboration closes. Saturating: repeated reinforcement
// approaches but never reaches the cap.
const reinforceRate = 0.2

// Engine is the library facade: it wires the registry, decay calculator,
// scorer, conflict detector, and consolidator over one storage backend, and
// serializes writes per (subject, predicate) key.
type Engine struct {
	store storage.Store
	cfg   *config.Config

	registry     *Registry
	decay        *Decay
	scorer       *Scorer
	detector     *Detector
	consolidator *Consolidator

	locks keyLock
}

// New assembles an engine over the given store. The summarizer is the
// consolidation collaborator; pass a stub in tests.
func New(store storage.Store, cfg *config.Config, summarizer Summarizer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry, err := NewRegistry(store, cfg.Resolution)
	if err != nil {
		return nil, err
	}

	decay := NewDecay(cfg.Decay)
	return &Engine{
		store:        store,
		cfg:          cfg,
		registry:     registry,
		decay:        decay,
		scorer:       NewScorer(cfg.Scoring, decay),
		detector:     NewDetector(store, decay, cfg.Conflict),
		consolidator: NewConsolidator(store, summarizer, decay, cfg.Consolidation),
	}, nil
}

// Registry returns the entity registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Decay returns the decay calculator.
func (e *Engine) Decay() *Decay { return e.decay }

// Scorer returns the multi-signal scorer.
func (e *Engine) Scorer() *Scorer { return e.scorer }

// Detector returns the conflict detector.
func (e *Engine) Detector() *Detector { return e.detector }

// Consolidator returns the consolidator.
func (e *Engine) Consolidator() *Consolidator { return e.consolidator }

// Store returns the underlying storage backend.
func (e *Engine) Store() storage.Store { return e.store }

// Resolve maps a mention to a canonical entity. See Registry.Resolve.
func (e *Engine) Resolve(ctx context.Context, mention string, rctx ResolutionContext) (*types.ResolvedEntity, error) {
	return e.registry.Resolve(ctx, mention, rctx)
}

// Put validates and stores a new memory record, returning its id.
//
// Out-of-range confidence is clamped into [0, MaxConfidence] rather than
// rejected; structural problems (unknown kind, missing predicate on a kind
// that requires one, unknown subject entity) return ErrInvalidInput.
func (e *Engine) Put(ctx context.Context, record *types.MemoryRecord) (string, error) {
	if record == nil {
		return "", fmt.Errorf("%w: record is required", storage.ErrInvalidInput)
	}
	if !record.Kind.IsValid() {
		return "", fmt.Errorf("%w: unknown memory kind %q", storage.ErrInvalidInput, record.Kind)
	}
	if record.Kind == types.KindSummary {
		return "", fmt.Errorf("%w: summary records are produced by consolidation", storage.ErrInvalidInput)
	}
	if record.Kind.RequiresPredicate() && record.Predicate == "" {
		return "", fmt.Errorf("%w: %s records require a predicate", storage.ErrInvalidInput, record.Kind)
	}
	if record.SubjectEntityID == "" {
		return "", fmt.Errorf("%w: subject entity id is required", storage.ErrInvalidInput)
	}
	if _, err := e.store.GetEntity(ctx, record.SubjectEntityID); err != nil {
		return "", err
	}

	record.Confidence = types.ClampConfidence(record.Confidence)
	if record.ID == "" {
		record.ID = "mem:" + uuid.New().String()
	}
	if record.Status == "" {
		record.Status = types.StatusActive
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.LastReinforcedAt.IsZero() {
		record.LastReinforcedAt = record.CreatedAt
	}

	if err := e.store.PutRecord(ctx, record); err != nil {
		return "", err
	}
	return record.ID, nil
}

// Get retrieves one record by id.
func (e *Engine) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	return e.store.GetRecord(ctx, id)
}

// Candidates returns records tied to the queried entities, newest first.
func (e *Engine) Candidates(ctx context.Context, q storage.CandidateQuery) ([]types.MemoryRecord, error) {
	return e.store.GetCandidates(ctx, q)
}

// Rank fetches candidates and scores them for the query in one call.
func (e *Engine) Rank(ctx context.Context, q storage.CandidateQuery, qc QueryContext, strategy types.Strategy) ([]ScoredRecord, error) {
	candidates, err := e.store.GetCandidates(ctx, q)
	if err != nil {
		return nil, err
	}
	return e.scorer.Score(candidates, qc, strategy), nil
}

// Observation is one incoming assertion routed through Reinforce.
type Observation struct {
	Kind            types.MemoryKind
	SubjectEntityID string
	Predicate       string
	Value           any
	Confidence      float64
	Importance      float64
	LinkedEntityIDs []string
	Provenance      string
	SessionID       string

	// ObservedAt is the observation instant; zero means time.Now().
	ObservedAt time.Time
}

// Reinforce is the corroboration path. When the observation's value matches
// an existing active record for the same (subject, predicate), that record's
// reinforcement count is bumped and its confidence raised toward
// MaxConfidence by a saturating step — reinforcement never decreases
// confidence. A divergent value is never silently overwritten: a new record
// is stored alongside the old one for the conflict detector to flag.
//
// Returns the affected record and whether an existing record was reinforced.
// Writes to one (subject, predicate) key are serialized, so concurrent calls
// never lose an increment or duplicate a corroboration.
func (e *Engine) Reinforce(ctx context.Context, obs Observation) (*types.MemoryRecord, bool, error) {
	if obs.SubjectEntityID == "" || obs.Predicate == "" {
		return nil, false, fmt.Errorf("%w: subject entity id and predicate are required", storage.ErrInvalidInput)
	}

	unlock := e.locks.lock(obs.SubjectEntityID, obs.Predicate)
	defer unlock()

	observedAt := obs.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	existing, err := e.store.GetActiveByKey(ctx, obs.SubjectEntityID, obs.Predicate)
	if err != nil {
		return nil, false, err
	}

	for i := range existing {
		record := &existing[i]
		if !types.ValuesEqual(record.ObjectValue, obs.Value) {
			continue
		}

		record.ReinforcementCount++
		record.LastReinforcedAt = observedAt
		record.Confidence = types.ClampConfidence(
			record.Confidence + (types.MaxConfidence-record.Confidence)*reinforceRate)

		if err := e.store.UpdateRecord(ctx, record); err != nil {
			return nil, false, err
		}
		return record, true, nil
	}

	kind := obs.Kind
	if kind == "" {
		kind = types.KindSemantic
	}
	record := &types.MemoryRecord{
		Kind:            kind,
		SubjectEntityID: obs.SubjectEntityID,
		Predicate:       obs.Predicate,
		ObjectValue:     obs.Value,
		Confidence:      obs.Confidence,
		Importance:      obs.Importance,
		LinkedEntityIDs: obs.LinkedEntityIDs,
		Provenance:      obs.Provenance,
		SessionID:       obs.SessionID,
		CreatedAt:       observedAt,
	}
	if _, err := e.Put(ctx, record); err != nil {
		return nil, false, err
	}
	return record, false, nil
}

// MarkSuperseded flips the given records to superseded status. Records are
// retained; nothing is deleted.
func (e *Engine) MarkSuperseded(ctx context.Context, ids []string, supersededBy, reason string) error {
	return e.store.MarkSuperseded(ctx, ids, supersededBy, reason)
}

// DetectConflicts inspects candidates (and external facts) for
// contradictions. See Detector.Detect.
func (e *Engine) DetectConflicts(ctx context.Context, candidates []types.MemoryRecord, external []types.ExternalFact, now time.Time) ([]types.Conflict, error) {
	return e.detector.Detect(ctx, candidates, external, now)
}

// OpenConflicts lists unresolved conflicts, optionally filtered by subject.
func (e *Engine) OpenConflicts(ctx context.Context, subjectEntityID string) ([]types.Conflict, error) {
	return e.store.ListOpenConflicts(ctx, subjectEntityID)
}

// ApplyResolution applies an outcome to an open conflict: the losing memory
// side (if any) is marked superseded by the winner, and the outcome is
// recorded on the conflict row. The row itself is never deleted. For
// surface_both no record changes status; the conflict is only closed.
func (e *Engine) ApplyResolution(ctx context.Context, conflictID string, outcome types.Resolution, now time.Time) error {
	switch outcome {
	case types.ResolutionKeepNewest, types.ResolutionKeepHighestConfidence,
		types.ResolutionKeepMostReinforced, types.ResolutionSurfaceBoth:
	default:
		return fmt.Errorf("%w: unknown resolution outcome %q", storage.ErrInvalidInput, outcome)
	}

	conflict, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}
	if conflict.ResolvedAt != nil {
		return fmt.Errorf("%w: conflict %s is already resolved", storage.ErrInvalidInput, conflictID)
	}

	if outcome != types.ResolutionSurfaceBoth {
		winner, err := e.pickWinner(ctx, conflict, outcome, now)
		if err != nil {
			return err
		}

		var losers []string
		for _, ref := range []types.ConflictRef{conflict.Left, conflict.Right} {
			if !ref.IsExternal() && ref.MemoryID != winner.MemoryID {
				losers = append(losers, ref.MemoryID)
			}
		}
		if len(losers) > 0 {
			supersededBy := winner.MemoryID
			if winner.IsExternal() {
				supersededBy = winner.ExternalSource + ":" + winner.ExternalKey
			}
			reason := fmt.Sprintf("conflict %s resolved: %s", conflict.ID, outcome)
			if err := e.store.MarkSuperseded(ctx, losers, supersededBy, reason); err != nil {
				return err
			}
		}
	}

	return e.store.ResolveConflict(ctx, conflictID, outcome, now)
}

// pickWinner determines which side the outcome favors. When the caller
// accepts the detector's recommendation the stored recommended ref is used;
// otherwise the criterion is re-derived from current record state.
func (e *Engine) pickWinner(ctx context.Context, conflict *types.Conflict, outcome types.Resolution, now time.Time) (types.ConflictRef, error) {
	if conflict.RecommendedRef != nil && outcome == conflict.Recommended {
		return *conflict.RecommendedRef, nil
	}

	left, err := e.resolveSide(ctx, conflict.Left, now)
	if err != nil {
		return types.ConflictRef{}, err
	}
	right, err := e.resolveSide(ctx, conflict.Right, now)
	if err != nil {
		return types.ConflictRef{}, err
	}

	switch outcome {
	case types.ResolutionKeepNewest:
		if left.observedAt.After(right.observedAt) {
			return left.ref, nil
		}
		return right.ref, nil
	case types.ResolutionKeepHighestConfidence:
		if left.confidence > right.confidence {
			return left.ref, nil
		}
		return right.ref, nil
	case types.ResolutionKeepMostReinforced:
		if left.reinforcement > right.reinforcement {
			return left.ref, nil
		}
		return right.ref, nil
	}
	return types.ConflictRef{}, fmt.Errorf("%w: outcome %q picks no winner", storage.ErrInvalidInput, outcome)
}

// resolveSide rebuilds the comparison signals for one conflict side from
// current state. External facts carry no stored observation time, so an
// external side loses keep_newest re-derivation by construction; callers
// accepting the original recommendation are unaffected.
func (e *Engine) resolveSide(ctx context.Context, ref types.ConflictRef, now time.Time) (side, error) {
	if ref.IsExternal() {
		return side{ref: ref, canonical: ref.Value, confidence: e.cfg.Conflict.ExternalFactConfidence}, nil
	}

	record, err := e.store.GetRecord(ctx, ref.MemoryID)
	if err != nil {
		return side{}, err
	}
	return side{
		ref:           ref,
		canonical:     types.CanonicalValue(record.ObjectValue),
		confidence:    e.decay.EffectiveConfidence(record, now),
		observedAt:    observedAt(record),
		reinforcement: record.ReinforcementCount,
	}, nil
}

// Consolidate compresses an entity's eligible records into a summary. See
// Consolidator.Consolidate.
func (e *Engine) Consolidate(ctx context.Context, entityID string, now time.Time) (*types.MemorySummary, error) {
	return e.consolidator.Consolidate(ctx, entityID, now)
}

// Stats is a coarse health snapshot exposed for operational tooling.
type Stats struct {
	TotalRecords  int `json:"total_records"`
	OpenConflicts int `json:"open_conflicts"`
}

// Stats reports record and open-conflict counts.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	total, err := e.store.CountRecords(ctx)
	if err != nil {
		return nil, err
	}
	open, err := e.store.ListOpenConflicts(ctx, "")
	if err != nil {
		return nil, err
	}
	return &Stats{TotalRecords: total, OpenConflicts: len(open)}, nil
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}
