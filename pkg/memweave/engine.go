package memweave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/memweave/memweave/pkg/classify"
	"github.com/memweave/memweave/pkg/store"
)

// CreateOption customizes a single memory creation.
type CreateOption func(*createOptions)

type createOptions struct {
	sourceURL   string
	contentType string
}

// WithSourceURL records where the memory was captured from.
func WithSourceURL(url string) CreateOption {
	return func(o *createOptions) { o.sourceURL = url }
}

// WithContentType overrides the classifier-supplied content type.
func WithContentType(contentType string) CreateOption {
	return func(o *createOptions) { o.contentType = contentType }
}

// CreateMemory runs the full creation pipeline: validate, embed and
// categorize in parallel, clamp importance, resolve relationships against
// the owner's active memories, and persist everything atomically.
//
// Validation failures are returned before any provider call is made.
// Any provider or storage failure aborts the whole creation: no partial
// memory and no orphan edges are ever stored.
func (e *Engine) CreateMemory(ctx context.Context, userID, content string, opts ...CreateOption) (*store.Memory, error) {
	start := time.Now()
	trace := e.startTrace("create_memory")
	defer e.emitTrace(trace)

	m, err := e.createMemory(ctx, userID, content, trace, opts...)

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		e.metrics.RecordOperation(ctx, "create_memory", "error", durationMs)
		e.metrics.RecordError(ctx, "create_memory", ClassifyError(err))
		return nil, err
	}
	e.metrics.RecordOperation(ctx, "create_memory", "success", durationMs)
	return m, nil
}

func (e *Engine) createMemory(ctx context.Context, userID, content string, trace *OperationTrace, opts ...CreateOption) (*store.Memory, error) {
	var options createOptions
	for _, opt := range opts {
		opt(&options)
	}

	// Fail fast, before any provider call.
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: content is empty or whitespace-only", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(trimmed); n > MaxContentLength {
		return nil, fmt.Errorf("%w: %d characters exceeds the %d limit", ErrContentTooLarge, n, MaxContentLength)
	}

	// Embedding and categorization have no dependency on each other and
	// run in parallel, both bounded by the provider timeout.
	pctx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()

	var (
		vector []float32
		cat    *classify.Categorization
	)

	g, gctx := errgroup.WithContext(pctx)
	g.Go(func() error {
		timer := newSpanTimer("embed", trace)
		v, err := e.embedder.EmbedOne(gctx, trimmed)
		timer.finish(err == nil, err, nil)
		if err != nil {
			return e.providerError("embedding", err)
		}
		vector = v
		return nil
	})
	g.Go(func() error {
		timer := newSpanTimer("categorize", trace)
		c, err := e.classifier.Categorize(gctx, trimmed)
		timer.finish(err == nil, err, nil)
		if err != nil {
			return e.providerError("categorization", err)
		}
		cat = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	contentType := options.contentType
	if contentType == "" {
		contentType = cat.Type
	}

	m := &store.Memory{
		ID:              uuid.New().String(),
		UserID:          userID,
		Content:         trimmed,
		ContentType:     contentType,
		Embedding:       vector,
		ImportanceScore: clamp01(cat.Importance),
		Tags:            cat.Tags,
		Entities:        toStoreEntities(cat.Entities),
		SourceURL:       options.sourceURL,
		Metadata:        sanitizeMetadata(cat.Metadata),
		CreatedAt:       time.Now().UTC(),
	}

	// Optional hardening: serialize resolution and persistence per owner
	// so at most one creation at a time can race a common candidate.
	if e.cfg.SerializeOwnerWrites {
		mu := e.ownerLock(userID)
		mu.Lock()
		defer mu.Unlock()
	}

	timer := newSpanTimer("resolve", trace)
	edges, err := e.resolver.Resolve(pctx, userID, m.ID, trimmed, vector)
	timer.finish(err == nil, err, map[string]int64{"edges": int64(len(edges))})
	if err != nil {
		if ClassifyError(err) == ErrTypeStorage {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return nil, e.providerError("relationship resolution", err)
	}

	timer = newSpanTimer("persist", trace)
	err = e.store.CreateMemory(ctx, m, edges)
	timer.finish(err == nil, err, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return m, nil
}

// providerError wraps an upstream failure with the engine's taxonomy,
// distinguishing timeouts from other provider failures.
func (e *Engine) providerError(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrUpstreamTimeout, stage, err)
	}
	if errors.Is(err, ErrPersistence) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrProvider, stage, err)
}

func toStoreEntities(entities []classify.Entity) []store.Entity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]store.Entity, len(entities))
	for i, e := range entities {
		out[i] = store.Entity{Name: e.Name, Type: e.Type}
	}
	return out
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
