package services

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"

	"github.com/jacksonlee411/metaregistry/modules/catalog/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/catalog/domain/types"
	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
)

const (
	DefaultFuzzyThreshold = 0.75
	exactConfidence       = 100
	maxFuzzyConfidence    = 90
)

type ResolverOptions struct {
	// Threshold is the minimum similarity a fuzzy candidate must reach. Zero means DefaultFuzzyThreshold.
	Threshold  float64
	Similarity Similarity
}

type AliasResolver struct {
	store      ports.CatalogStore
	threshold  float64
	similarity Similarity
}

func NewAliasResolver(store ports.CatalogStore, opts ResolverOptions) *AliasResolver {
	r := &AliasResolver{store: store, threshold: opts.Threshold, similarity: opts.Similarity}
	if r.threshold <= 0 || r.threshold > 1 {
		r.threshold = DefaultFuzzyThreshold
	}
	if r.similarity == nil {
		r.similarity = EditTokenSimilarity{}
	}
	return r
}

// Resolve maps free text onto active concepts. Exact hits on an alias, a
// canonical key or a label score 100 and suppress fuzzy candidates entirely.
// An empty result is a normal outcome.
func (r *AliasResolver) Resolve(ctx context.Context, tenantID string, rawText string, domainHint string) ([]types.RankedMatch, error) {
	text := types.NormalizeText(rawText)
	if text == "" {
		return nil, metaerr.NewValidation("text", "text is required")
	}
	filter := types.ConceptFilter{}
	if strings.TrimSpace(domainHint) != "" {
		d, ok := types.ParseDomain(domainHint)
		if !ok {
			return nil, metaerr.NewValidation("domain_hint", "unknown domain "+domainHint)
		}
		filter.Domain = d
	}

	concepts, err := r.store.ListConcepts(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	if len(concepts) == 0 {
		return []types.RankedMatch{}, nil
	}
	byID := make(map[string]types.Concept, len(concepts))
	for _, c := range concepts {
		byID[c.ID] = c
	}

	best := make(map[string]types.RankedMatch)
	offer := func(m types.RankedMatch) {
		if cur, ok := best[m.Concept.ID]; !ok || betterMatch(m, cur) {
			best[m.Concept.ID] = m
		}
	}

	exact, err := r.store.FindAliasesByNormalizedValue(ctx, tenantID, text)
	if err != nil {
		return nil, err
	}
	for _, a := range exact {
		if c, ok := byID[a.ConceptID]; ok {
			offer(types.RankedMatch{Concept: c, MatchedAlias: &a, MatchedOn: types.MatchedOnAlias, Confidence: exactConfidence})
		}
	}
	for _, c := range concepts {
		if types.NormalizeText(c.CanonicalKey) == text {
			offer(types.RankedMatch{Concept: c, MatchedOn: types.MatchedOnCanonicalKey, Confidence: exactConfidence})
		}
		if types.NormalizeText(c.Label) == text {
			offer(types.RankedMatch{Concept: c, MatchedOn: types.MatchedOnLabel, Confidence: exactConfidence})
		}
	}

	if len(best) == 0 {
		aliases, err := r.store.ListAliases(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		for _, a := range aliases {
			c, ok := byID[a.ConceptID]
			if !ok {
				continue
			}
			if conf, ok := r.fuzzy(text, a.NormalizedValue); ok {
				offer(types.RankedMatch{Concept: c, MatchedAlias: &a, MatchedOn: types.MatchedOnAlias, Confidence: conf})
			}
		}
		for _, c := range concepts {
			if conf, ok := r.fuzzy(text, keyWords(c.CanonicalKey)); ok {
				offer(types.RankedMatch{Concept: c, MatchedOn: types.MatchedOnCanonicalKey, Confidence: conf})
			}
			if conf, ok := r.fuzzy(text, types.NormalizeText(c.Label)); ok {
				offer(types.RankedMatch{Concept: c, MatchedOn: types.MatchedOnLabel, Confidence: conf})
			}
		}
	}

	out := make([]types.RankedMatch, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	slices.SortFunc(out, compareMatches)
	return out, nil
}

func (r *AliasResolver) fuzzy(text string, candidate string) (int, bool) {
	if candidate == "" {
		return 0, false
	}
	sim := r.similarity.Score(text, candidate)
	if sim < r.threshold {
		return 0, false
	}
	return min(maxFuzzyConfidence, int(math.Round(maxFuzzyConfidence*sim))), true
}

// keyWords turns "revenue_gross" into "revenue gross" for fuzzy comparison.
func keyWords(key string) string {
	return types.NormalizeText(strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(key))
}

func hasSource(m types.RankedMatch) bool {
	return m.MatchedAlias != nil && m.MatchedAlias.SourceSystem != nil
}

func matchRank(s types.MatchSource) int {
	switch s {
	case types.MatchedOnAlias:
		return 0
	case types.MatchedOnCanonicalKey:
		return 1
	default:
		return 2
	}
}

// betterMatch picks the representative match for one concept.
func betterMatch(a types.RankedMatch, b types.RankedMatch) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if hasSource(a) != hasSource(b) {
		return !hasSource(a)
	}
	return matchRank(a.MatchedOn) < matchRank(b.MatchedOn)
}

func compareMatches(a types.RankedMatch, b types.RankedMatch) int {
	if a.Confidence != b.Confidence {
		return cmp.Compare(b.Confidence, a.Confidence)
	}
	if hasSource(a) != hasSource(b) {
		if hasSource(a) {
			return 1
		}
		return -1
	}
	return strings.Compare(a.Concept.CanonicalKey, b.Concept.CanonicalKey)
}
