package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// Registry maps text mentions to canonical entities. It owns CanonicalEntity
// and EntityAlias lifecycle: entities are created on first resolution of a
// novel mention and never deleted; aliases are learned from confirmed
// disambiguations and may be re-pointed by explicit correction.
type Registry struct {
	store storage.EntityStore
	cfg   config.ResolutionConfig

	// cache maps normalized alias text to entity id for the exact-match fast
	// path. Invalidation is by eviction or re-point; misses fall through to
	// the store.
	cache *lru.Cache[string, string]
}

// NewRegistry creates an entity registry backed by the given store.
func NewRegistry(store storage.EntityStore, cfg config.ResolutionConfig) (*Registry, error) {
	size := cfg.AliasCacheSize
	if size < 1 {
		size = 1024
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to create alias cache: %w", err)
	}
	return &Registry{store: store, cfg: cfg, cache: cache}, nil
}

// ResolutionContext carries the conversational context a caller supplies with
// a mention. All fields are optional.
type ResolutionContext struct {
	// RecentEntities are entities mentioned in the current conversation,
	// keyed by how many turns ago each was last mentioned (0 = current turn).
	RecentEntities map[string]int

	// ActiveWork flags entities the caller considers part of active work
	// (e.g. the project currently being edited).
	ActiveWork map[string]bool

	// Now is the resolution instant; zero means time.Now().
	Now time.Time
}

func (rc *ResolutionContext) now() time.Time {
	if rc.Now.IsZero() {
		return time.Now().UTC()
	}
	return rc.Now
}

// Resolve maps a mention to a canonical entity.
//
// The match ladder is: (1) normalized exact alias match, (2) fuzzy trigram
// similarity above the configured threshold with confidence similarity ×
// penalty, (3) additive context boosts (recency, frequency, active work)
// capped at MaxConfidence. A lone candidate auto-resolves; otherwise the top
// candidate must clear the auto-resolve score and lead the runner-up by the
// configured ratio, or the caller gets disambiguation_needed with every
// candidate ranked. No candidates at all returns an unresolved result; the
// caller decides whether to create a new entity.
func (r *Registry) Resolve(ctx context.Context, mention string, rctx ResolutionContext) (*types.ResolvedEntity, error) {
	normalized := types.NormalizeMention(mention)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty mention", storage.ErrInvalidInput)
	}

	// Exact path first: one alias, one entity, done.
	if entityID, ok := r.lookupExact(ctx, normalized); ok {
		if err := r.store.IncrementAliasUse(ctx, normalized, rctx.now()); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return &types.ResolvedEntity{
			EntityID:   entityID,
			Confidence: r.cfg.ExactMatchConfidence,
			MatchType:  types.MatchExact,
		}, nil
	}

	candidates, matchedAlias, err := r.fuzzyCandidates(ctx, normalized, rctx)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return &types.ResolvedEntity{MatchType: types.MatchNone}, nil
	case 1:
		return r.autoResolve(ctx, matchedAlias[candidates[0].EntityID], candidates[0], nil, rctx.now())
	}

	top, runnerUp := candidates[0], candidates[1]
	if top.Score >= r.cfg.AutoResolveScore && top.Score >= r.cfg.AutoResolveRatio*runnerUp.Score {
		return r.autoResolve(ctx, matchedAlias[top.EntityID], top, candidates[1:], rctx.now())
	}

	return &types.ResolvedEntity{
		Confidence:           top.Score,
		MatchType:            top.MatchType,
		Alternatives:         candidates,
		DisambiguationNeeded: true,
	}, nil
}

// CreateEntity registers a new canonical entity and a declared alias for its
// normalized name. Returns the created entity.
func (r *Registry) CreateEntity(ctx context.Context, entityType, canonicalName string, properties map[string]any) (*types.CanonicalEntity, error) {
	if entityType == "" || types.NormalizeMention(canonicalName) == "" {
		return nil, fmt.Errorf("%w: entity type and canonical name are required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	entity := &types.CanonicalEntity{
		ID:            "ent:" + uuid.New().String(),
		EntityType:    entityType,
		CanonicalName: canonicalName,
		Properties:    properties,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.CreateEntity(ctx, entity); err != nil {
		return nil, err
	}

	if err := r.learnAlias(ctx, canonicalName, entity.ID, "", types.AliasDeclared, now); err != nil {
		return nil, err
	}
	return entity, nil
}

// LearnAlias records a confirmed disambiguation: the mention now maps to the
// given entity. An existing alias is re-pointed (explicit correction path).
func (r *Registry) LearnAlias(ctx context.Context, mention, entityID, originEventID string) error {
	if types.NormalizeMention(mention) == "" || entityID == "" {
		return fmt.Errorf("%w: mention and entity id are required", storage.ErrInvalidInput)
	}
	if _, err := r.store.GetEntity(ctx, entityID); err != nil {
		return err
	}
	return r.learnAlias(ctx, mention, entityID, originEventID, types.AliasLearned, time.Now().UTC())
}

func (r *Registry) learnAlias(ctx context.Context, mention, entityID, originEventID string, source types.AliasSource, now time.Time) error {
	normalized := types.NormalizeMention(mention)

	useCount := 0
	if existing, err := r.store.GetAlias(ctx, normalized); err == nil {
		useCount = existing.UseCount
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	alias := &types.EntityAlias{
		Alias:         normalized,
		EntityID:      entityID,
		Source:        source,
		OriginEventID: originEventID,
		UseCount:      useCount,
		CreatedAt:     now,
		LastUsedAt:    now,
	}
	if err := r.store.UpsertAlias(ctx, alias); err != nil {
		return err
	}
	r.cache.Add(normalized, entityID)
	return nil
}

func (r *Registry) lookupExact(ctx context.Context, normalized string) (string, bool) {
	if entityID, ok := r.cache.Get(normalized); ok {
		return entityID, true
	}
	alias, err := r.store.GetAlias(ctx, normalized)
	if err != nil {
		return "", false
	}
	r.cache.Add(normalized, alias.EntityID)
	return alias.EntityID, true
}

// fuzzyCandidates scans stored aliases for trigram matches above the
// threshold, keeps the best alias per entity, applies context boosts, and
// returns candidates ranked best first (entity id breaks ties) plus the
// matched alias text per entity.
func (r *Registry) fuzzyCandidates(ctx context.Context, normalized string, rctx ResolutionContext) ([]types.EntityCandidate, map[string]string, error) {
	aliases, err := r.store.ListAliases(ctx)
	if err != nil {
		return nil, nil, err
	}

	type match struct {
		alias      string
		similarity float64
		useCount   int
	}
	best := make(map[string]match)
	for _, alias := range aliases {
		sim := trigramSimilarity(normalized, alias.Alias)
		if sim < r.cfg.FuzzyThreshold {
			continue
		}
		if prev, ok := best[alias.EntityID]; !ok || sim > prev.similarity {
			best[alias.EntityID] = match{alias: alias.Alias, similarity: sim, useCount: alias.UseCount}
		}
	}

	matchedAlias := make(map[string]string, len(best))
	candidates := make([]types.EntityCandidate, 0, len(best))
	for entityID, m := range best {
		matchedAlias[entityID] = m.alias
		entity, err := r.store.GetEntity(ctx, entityID)
		if err != nil {
			return nil, nil, err
		}

		boost := r.contextBoost(entityID, m.useCount, rctx)
		candidates = append(candidates, types.EntityCandidate{
			EntityID:      entityID,
			CanonicalName: entity.CanonicalName,
			Score:         types.ClampConfidence(m.similarity*r.cfg.FuzzyPenalty + boost),
			MatchType:     types.MatchFuzzy,
			Similarity:    m.similarity,
			ContextBoost:  boost,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].EntityID < candidates[j].EntityID
	})
	return candidates, matchedAlias, nil
}

// contextBoost is the additive boost from conversational context: up to
// RecencyBoostMax for entities mentioned within the recent-turn window, up to
// FrequencyBoostMax for frequently used aliases, plus the flat ActiveWorkBoost
// for caller-flagged active work.
func (r *Registry) contextBoost(entityID string, useCount int, rctx ResolutionContext) float64 {
	boost := 0.0

	if turnsAgo, ok := rctx.RecentEntities[entityID]; ok && turnsAgo < r.cfg.RecentTurns {
		boost += r.cfg.RecencyBoostMax * (1 - float64(turnsAgo)/float64(r.cfg.RecentTurns))
	}
	if useCount > 0 {
		boost += r.cfg.FrequencyBoostMax * float64(useCount) / (float64(useCount) + r.cfg.FrequencySaturation)
	}
	if rctx.ActiveWork[entityID] {
		boost += r.cfg.ActiveWorkBoost
	}
	return boost
}

func (r *Registry) autoResolve(ctx context.Context, matchedAlias string, winner types.EntityCandidate, alternatives []types.EntityCandidate, now time.Time) (*types.ResolvedEntity, error) {
	// Count the use against the stored alias that matched so future frequency
	// boosts reflect it. The mention itself only becomes an alias through a
	// confirmed disambiguation (LearnAlias), not implicitly.
	if err := r.store.IncrementAliasUse(ctx, matchedAlias, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	return &types.ResolvedEntity{
		EntityID:     winner.EntityID,
		Confidence:   winner.Score,
		MatchType:    winner.MatchType,
		Alternatives: alternatives,
	}, nil
}
