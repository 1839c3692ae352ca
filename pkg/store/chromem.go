package store

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemIndex implements VectorIndex on top of chromem-go, a pure Go
// embedded vector database. Each owner gets their own collection for
// namespace isolation.
type ChromemIndex struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// NewChromemIndex creates an empty in-process vector index.
func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// collection returns the owner's collection, creating it on first use.
func (c *ChromemIndex) collection(userID string) (*chromem.Collection, error) {
	c.mu.RLock()
	col, ok := c.collections[userID]
	c.mu.RUnlock()
	if ok {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if col, ok := c.collections[userID]; ok {
		return col, nil
	}

	col, err := c.db.CreateCollection(fmt.Sprintf("owner_%s", userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	c.collections[userID] = col
	return col, nil
}

// Add registers an embedding under the owner's namespace.
func (c *ChromemIndex) Add(ctx context.Context, userID, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}

	col, err := c.collection(userID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID: id,
		// chromem requires non-empty content; the ID stands in since we
		// only ever read IDs and similarities back out.
		Content:   id,
		Embedding: embedding,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Remove unregisters a document from the owner's namespace.
func (c *ChromemIndex) Remove(ctx context.Context, userID, id string) error {
	c.mu.RLock()
	col, ok := c.collections[userID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Query returns up to limit hits ranked by similarity descending.
func (c *ChromemIndex) Query(ctx context.Context, userID string, vector []float32, limit int, minSimilarity float64) ([]IndexMatch, error) {
	col, err := c.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection size.
	n := limit
	if count := col.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	matches := make([]IndexMatch, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, IndexMatch{ID: r.ID, Similarity: sim})
	}
	return matches, nil
}
