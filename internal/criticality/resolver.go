// File: internal/criticality/resolver.go
package criticality

import (
	"strings"

	"go.uber.org/zap"
)

// fuzzyTagFactor discounts tag weights matched by substring rather than
// exactly.
const fuzzyTagFactor = 0.8

// Resolver answers weight lookups against one profile. Lookups are total:
// every path and tag resolves to a weight, falling back to the profile
// default.
type Resolver struct {
	logger      *zap.Logger
	profile     *Profile
	loweredTags map[string]float64
}

// NewResolver creates a resolver for the given profile. A nil profile means
// the built-in streaming profile.
func NewResolver(logger *zap.Logger, profile *Profile) *Resolver {
	if profile == nil {
		profile = DefaultStreamingProfile()
	}
	loweredTags := make(map[string]float64, len(profile.TagWeights))
	for tag, weight := range profile.TagWeights {
		loweredTags[strings.ToLower(tag)] = weight
	}
	log := logger.Named("criticality")
	log.Debug("resolver ready",
		zap.String("profile", profile.Name),
		zap.Int("path_weights", len(profile.PathWeights)),
		zap.Int("tag_weights", len(profile.TagWeights)),
		zap.Float64("default_weight", profile.DefaultWeight),
	)
	return &Resolver{
		logger:      log,
		profile:     profile,
		loweredTags: loweredTags,
	}
}

// Profile returns the profile backing this resolver.
func (r *Resolver) Profile() *Profile {
	return r.profile
}

// ResolvePath returns the weight for a JSON path. Exact entries win; among
// matching globs the longest literal prefix wins, with lexicographically
// smaller patterns breaking ties; otherwise the profile default applies.
func (r *Resolver) ResolvePath(path string) float64 {
	if weight, ok := r.profile.PathWeights[path]; ok {
		return weight
	}

	var (
		found       bool
		bestWeight  float64
		bestLiteral int
		bestPattern string
	)
	for pattern, weight := range r.profile.PathWeights {
		literal, ok := matchGlob(pattern, path)
		if !ok {
			continue
		}
		if !found || literal > bestLiteral || (literal == bestLiteral && pattern < bestPattern) {
			found = true
			bestWeight = weight
			bestLiteral = literal
			bestPattern = pattern
		}
	}
	if found {
		return bestWeight
	}
	return r.profile.DefaultWeight
}

// ResolveTag returns the weight for an operation tag. Exact matches are
// case-insensitive; otherwise any profile tag containing or contained in the
// query scores its weight discounted by fuzzyTagFactor, best product winning.
func (r *Resolver) ResolveTag(tag string) float64 {
	lowered := strings.ToLower(tag)
	if lowered == "" {
		return r.profile.DefaultWeight
	}
	if weight, ok := r.loweredTags[lowered]; ok {
		return weight
	}

	best := -1.0
	for profileTag, weight := range r.loweredTags {
		if strings.Contains(profileTag, lowered) || strings.Contains(lowered, profileTag) {
			if fuzzy := weight * fuzzyTagFactor; fuzzy > best {
				best = fuzzy
			}
		}
	}
	if best >= 0 {
		return best
	}
	return r.profile.DefaultWeight
}

// Resolve combines the path weight with the best tag weight. More specific
// knowledge always wins, so the maximum applies.
func (r *Resolver) Resolve(path string, tags []string) float64 {
	weight := r.ResolvePath(path)
	for _, tag := range tags {
		if w := r.ResolveTag(tag); w > weight {
			weight = w
		}
	}
	return weight
}

// matchGlob reports whether a single-star glob matches the path, returning
// the length of the pattern's literal prefix for specificity ranking. A
// trailing star anchors the literal at the start, a leading star at the end;
// a pattern without a star never matches here (exact lookups are handled by
// the caller).
func matchGlob(pattern, path string) (int, bool) {
	switch {
	case strings.HasSuffix(pattern, "*"):
		literal := pattern[:len(pattern)-1]
		if strings.HasPrefix(path, literal) {
			return len(literal), true
		}
	case strings.HasPrefix(pattern, "*"):
		literal := pattern[1:]
		if strings.HasSuffix(path, literal) {
			return 0, true
		}
	}
	return 0, false
}
