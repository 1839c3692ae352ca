// Package resolver decides, for a newly captured memory, which existing
// memories it relates to and how.
package resolver

import (
	"context"
	"fmt"

	"github.com/memweave/memweave/pkg/classify"
	"github.com/memweave/memweave/pkg/store"
)

const (
	// DefaultTopK bounds how many similar candidates get a conflict check.
	DefaultTopK = 10

	// DefaultMinSimilarity is the cosine similarity floor below which a
	// candidate is not considered related at all.
	DefaultMinSimilarity = 0.5
)

// CandidateSource is the slice of the store the resolver needs: a
// similarity query over one owner's active memories.
type CandidateSource interface {
	Nearest(ctx context.Context, userID string, vector []float32, limit int, minSimilarity float64) ([]store.Match, error)
}

// Resolver finds and classifies links from a new memory to existing ones.
type Resolver struct {
	source        CandidateSource
	classifier    classify.Classifier
	topK          int
	minSimilarity float64
}

// New creates a resolver with default tuning.
func New(source CandidateSource, classifier classify.Classifier) *Resolver {
	return &Resolver{
		source:        source,
		classifier:    classifier,
		topK:          DefaultTopK,
		minSimilarity: DefaultMinSimilarity,
	}
}

// WithTuning overrides the candidate count and similarity floor.
// Non-positive values keep the defaults.
func (r *Resolver) WithTuning(topK int, minSimilarity float64) *Resolver {
	if topK > 0 {
		r.topK = topK
	}
	if minSimilarity > 0 {
		r.minSimilarity = minSimilarity
	}
	return r
}

// Resolve returns the edges to attach to a new memory. The new memory is
// not yet persisted; newMemoryID is its pre-generated identifier.
//
// For each of the owner's top-K active candidates at or above the
// similarity floor, the classifier judges contradiction. A contradiction
// becomes a "contradicts" edge whose strength is the classifier's
// confidence; otherwise the edge is "extends" (provider-reported
// refinement) or "related_to", with strength equal to the cosine
// similarity. Candidates are never mutated or archived: conflict is
// recorded, not resolved.
func (r *Resolver) Resolve(ctx context.Context, userID, newMemoryID, content string, embedding []float32) ([]*store.Relationship, error) {
	matches, err := r.source.Nearest(ctx, userID, embedding, r.topK, r.minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("candidate query failed: %w", err)
	}

	if len(matches) == 0 {
		return nil, nil
	}

	edges := make([]*store.Relationship, 0, len(matches))
	for _, match := range matches {
		assessment, err := r.classifier.DetectConflict(ctx, match.Memory.Content, content)
		if err != nil {
			return nil, fmt.Errorf("conflict check against %s failed: %w", match.Memory.ID, err)
		}

		edge := &store.Relationship{
			UserID:         userID,
			SourceMemoryID: newMemoryID,
			TargetMemoryID: match.Memory.ID,
		}

		switch {
		case assessment.HasConflict:
			edge.Type = store.RelationContradicts
			edge.Strength = clamp01(assessment.Confidence)
		case assessment.Refines:
			edge.Type = store.RelationExtends
			edge.Strength = clamp01(match.Similarity)
		default:
			edge.Type = store.RelationRelatedTo
			edge.Strength = clamp01(match.Similarity)
		}

		edges = append(edges, edge)
	}

	return edges, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
