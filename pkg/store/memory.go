package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore implements MemoryStore with in-process maps.
// Useful for tests and small ephemeral workloads. Safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	memories map[string]*Memory       // keyed by memory ID
	edges    map[string]*Relationship // keyed by edge ID
	entities map[string]map[string]int // userID -> entity name -> mention count
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memories: make(map[string]*Memory),
		edges:    make(map[string]*Relationship),
		entities: make(map[string]map[string]int),
	}
}

// CreateMemory stores the memory, edges and entity counts under one lock,
// so readers never observe a memory without its edges.
func (s *InMemoryStore) CreateMemory(ctx context.Context, m *Memory, edges []*Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, edge := range edges {
		if edge.UserID != "" && edge.UserID != m.UserID {
			return ErrOwnerMismatch
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	stored := copyMemory(m)
	s.memories[m.ID] = stored

	for _, edge := range edges {
		if edge.ID == "" {
			edge.ID = uuid.New().String()
		}
		if edge.CreatedAt.IsZero() {
			edge.CreatedAt = m.CreatedAt
		}
		edge.UserID = m.UserID
		e := *edge
		s.edges[edge.ID] = &e
	}

	counts := s.entities[m.UserID]
	if counts == nil {
		counts = make(map[string]int)
		s.entities[m.UserID] = counts
	}
	for _, entity := range m.Entities {
		if entity.Name == "" {
			continue
		}
		counts[entity.Name]++
	}

	return nil
}

// GetMemory returns (nil, nil) when not found or owned by someone else.
func (s *InMemoryStore) GetMemory(ctx context.Context, userID, id string) (*Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memories[id]
	if !ok || m.UserID != userID {
		return nil, nil
	}
	return copyMemory(m), nil
}

// Nearest performs a full cosine-similarity scan over active memories.
func (s *InMemoryStore) Nearest(ctx context.Context, userID string, vector []float32, limit int, minSimilarity float64) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	for _, m := range s.memories {
		if m.UserID != userID || m.IsArchived || len(m.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(vector, m.Embedding)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, Match{Memory: copyMemory(m), Similarity: sim})
	}

	return rankMatches(matches, limit), nil
}

// GetActiveGraph returns active memories and edges between them.
func (s *InMemoryStore) GetActiveGraph(ctx context.Context, userID string) ([]*Memory, []*Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make(map[string]bool)
	var memories []*Memory
	for _, m := range s.memories {
		if m.UserID != userID || m.IsArchived {
			continue
		}
		active[m.ID] = true
		memories = append(memories, copyMemory(m))
	}

	var edges []*Relationship
	for _, edge := range s.edges {
		if edge.UserID != userID {
			continue
		}
		if !active[edge.SourceMemoryID] || !active[edge.TargetMemoryID] {
			continue
		}
		e := *edge
		edges = append(edges, &e)
	}

	return memories, edges, nil
}

// TouchMemories increments access counters for the given memories.
func (s *InMemoryStore) TouchMemories(ctx context.Context, userID string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range ids {
		m, ok := s.memories[id]
		if !ok || m.UserID != userID {
			continue
		}
		m.AccessCount++
		t := now
		m.LastAccessedAt = &t
	}
	return nil
}

// ArchiveMemory marks a memory as archived.
func (s *InMemoryStore) ArchiveMemory(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.memories[id]; ok && m.UserID == userID {
		m.IsArchived = true
	}
	return nil
}

// Stats returns aggregate counts for the owner.
func (s *InMemoryStore) Stats(ctx context.Context, userID string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	var importanceSum float64
	for _, m := range s.memories {
		if m.UserID != userID || m.IsArchived {
			continue
		}
		stats.TotalMemories++
		importanceSum += m.ImportanceScore
	}
	if stats.TotalMemories > 0 {
		stats.AverageImportance = importanceSum / float64(stats.TotalMemories)
	}

	stats.TotalEntities = int64(len(s.entities[userID]))

	for _, edge := range s.edges {
		if edge.UserID == userID {
			stats.TotalRelationships++
		}
	}

	return stats, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// copyMemory returns a shallow-safe copy so callers cannot mutate stored
// state through returned pointers. The embedding slice is shared because
// embeddings are immutable after creation.
func copyMemory(m *Memory) *Memory {
	c := *m
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.Entities != nil {
		c.Entities = append([]Entity(nil), m.Entities...)
	}
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		c.LastAccessedAt = &t
	}
	return &c
}
