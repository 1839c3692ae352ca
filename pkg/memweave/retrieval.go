package memweave

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memweave/memweave/pkg/store"
)

// SearchResult pairs a memory with its similarity to the query.
type SearchResult struct {
	Memory     *store.Memory `json:"memory"`
	Similarity float64       `json:"similarity"`
}

// GraphNode is a memory decorated with read-time freshness.
type GraphNode struct {
	Memory          *store.Memory `json:"memory"`
	Freshness       float64       `json:"freshness"`
	DaysUntilExpiry float64       `json:"daysUntilExpiry"`
}

// Graph is the owner's active memory graph.
type Graph struct {
	Nodes []GraphNode           `json:"nodes"`
	Edges []*store.Relationship `json:"edges"`
}

// GetMemoryByID returns the owner's memory, or (nil, nil) when the id is
// malformed, unknown, or owned by someone else. Callers routinely pass
// client-controlled ids, so malformed input is never an error here.
// A found memory gets a best-effort access bump.
func (e *Engine) GetMemoryByID(ctx context.Context, userID, id string) (*store.Memory, error) {
	start := time.Now()

	m, err := e.getMemoryByID(ctx, userID, id)

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		e.metrics.RecordOperation(ctx, "get_memory", "error", durationMs)
		e.metrics.RecordError(ctx, "get_memory", ClassifyError(err))
		return nil, err
	}
	e.metrics.RecordOperation(ctx, "get_memory", "success", durationMs)
	return m, nil
}

func (e *Engine) getMemoryByID(ctx context.Context, userID, id string) (*store.Memory, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	m, err := e.store.GetMemory(qctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if m == nil {
		return nil, nil
	}

	e.touch(ctx, userID, []string{m.ID})
	return m, nil
}

// SearchMemories embeds the query and returns the owner's active memories
// ranked by cosine similarity, highest first, ties broken by most recent
// creation. Each returned memory gets a best-effort access bump.
func (e *Engine) SearchMemories(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	start := time.Now()
	trace := e.startTrace("search")
	defer e.emitTrace(trace)

	results, err := e.searchMemories(ctx, userID, query, limit, trace)

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		e.metrics.RecordOperation(ctx, "search", "error", durationMs)
		e.metrics.RecordError(ctx, "search", ClassifyError(err))
		return nil, err
	}
	e.metrics.RecordOperation(ctx, "search", "success", durationMs)
	return results, nil
}

func (e *Engine) searchMemories(ctx context.Context, userID, query string, limit int, trace *OperationTrace) ([]SearchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()

	timer := newSpanTimer("embed", trace)
	vector, err := e.embedder.EmbedOne(pctx, query)
	timer.finish(err == nil, err, nil)
	if err != nil {
		return nil, e.providerError("embedding", err)
	}

	results, err := e.findSimilar(ctx, userID, vector, -1, limit, trace)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	e.touch(ctx, userID, ids)

	return results, nil
}

// FindSimilarMemories ranks the owner's active memories against a
// caller-supplied query vector, excluding anything below threshold even
// when limit is not reached.
func (e *Engine) FindSimilarMemories(ctx context.Context, userID string, embedding []float32, threshold float64, limit int) ([]SearchResult, error) {
	start := time.Now()
	trace := e.startTrace("find_similar")
	defer e.emitTrace(trace)

	results, err := e.findSimilarMemories(ctx, userID, embedding, threshold, limit, trace)

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		e.metrics.RecordOperation(ctx, "find_similar", "error", durationMs)
		e.metrics.RecordError(ctx, "find_similar", ClassifyError(err))
		return nil, err
	}
	e.metrics.RecordOperation(ctx, "find_similar", "success", durationMs)
	return results, nil
}

func (e *Engine) findSimilarMemories(ctx context.Context, userID string, embedding []float32, threshold float64, limit int, trace *OperationTrace) ([]SearchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}
	return e.findSimilar(ctx, userID, embedding, threshold, limit, trace)
}

func (e *Engine) findSimilar(ctx context.Context, userID string, vector []float32, threshold float64, limit int, trace *OperationTrace) ([]SearchResult, error) {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	timer := newSpanTimer("search-vector", trace)
	matches, err := e.store.Nearest(qctx, userID, vector, limit, threshold)
	timer.finish(err == nil, err, map[string]int64{"results": int64(len(matches))})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	results := make([]SearchResult, len(matches))
	for i, match := range matches {
		results[i] = SearchResult{Memory: match.Memory, Similarity: match.Similarity}
	}
	return results, nil
}

// GetMemoryGraph returns all active memories as nodes, with read-time
// freshness, and every edge between active memories. Archived memories and
// edges touching them never appear.
func (e *Engine) GetMemoryGraph(ctx context.Context, userID string) (*Graph, error) {
	start := time.Now()
	trace := e.startTrace("graph_view")
	defer e.emitTrace(trace)

	graph, err := e.memoryGraph(ctx, userID, trace)

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		e.metrics.RecordOperation(ctx, "graph_view", "error", durationMs)
		e.metrics.RecordError(ctx, "graph_view", ClassifyError(err))
		return nil, err
	}
	e.metrics.RecordOperation(ctx, "graph_view", "success", durationMs)
	return graph, nil
}

func (e *Engine) memoryGraph(ctx context.Context, userID string, trace *OperationTrace) (*Graph, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	retentionDays, err := e.retention.GetRetentionDays(ctx, userID)
	if err != nil {
		return nil, e.providerError("retention lookup", err)
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	timer := newSpanTimer("graph-view", trace)
	memories, edges, err := e.store.GetActiveGraph(qctx, userID)
	timer.finish(err == nil, err, map[string]int64{
		"nodes": int64(len(memories)),
		"edges": int64(len(edges)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	now := time.Now().UTC()
	nodes := make([]GraphNode, len(memories))
	for i, m := range memories {
		nodes[i] = GraphNode{
			Memory:          m,
			Freshness:       Freshness(m.CreatedAt, now, retentionDays),
			DaysUntilExpiry: DaysUntilExpiry(m.CreatedAt, now, retentionDays),
		}
	}

	if edges == nil {
		edges = []*store.Relationship{}
	}
	return &Graph{Nodes: nodes, Edges: edges}, nil
}

// GetStats returns aggregate counts for the owner.
func (e *Engine) GetStats(ctx context.Context, userID string) (store.Stats, error) {
	start := time.Now()

	stats, err := e.stats(ctx, userID)

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		e.metrics.RecordOperation(ctx, "stats", "error", durationMs)
		e.metrics.RecordError(ctx, "stats", ClassifyError(err))
		return store.Stats{}, err
	}
	e.metrics.RecordOperation(ctx, "stats", "success", durationMs)
	return stats, nil
}

func (e *Engine) stats(ctx context.Context, userID string) (store.Stats, error) {
	if userID == "" {
		return store.Stats{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	stats, err := e.store.Stats(qctx, userID)
	if err != nil {
		return store.Stats{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	e.metrics.SetStorageCount(ctx, "memories", stats.TotalMemories)
	e.metrics.SetStorageCount(ctx, "entities", stats.TotalEntities)
	e.metrics.SetStorageCount(ctx, "relationships", stats.TotalRelationships)

	return stats, nil
}

// ArchiveMemory marks a memory as archived, removing it from similarity
// queries and graph views. Malformed ids are a no-op.
func (e *Engine) ArchiveMemory(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	if err := e.store.ArchiveMemory(qctx, userID, id); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// touch bumps access tracking for the given memories. Failures are logged
// and never surface to the caller: access tracking must not block or fail
// a read response.
func (e *Engine) touch(ctx context.Context, userID string, ids []string) {
	if len(ids) == 0 {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	if err := e.store.TouchMemories(qctx, userID, ids); err != nil {
		e.logger.Warn("access tracking update failed",
			"user_id", userID,
			"memories", len(ids),
			"error", err)
	}
}
