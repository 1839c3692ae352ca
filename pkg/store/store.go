// Package store provides storage implementations for memweave's memory graph.
package store

import (
	"context"
	"errors"
	"time"
)

// RelationType classifies a directed edge between two memories.
type RelationType string

const (
	RelationContradicts RelationType = "contradicts"
	RelationExtends     RelationType = "extends"
	RelationRelatedTo   RelationType = "related_to"
	RelationInferred    RelationType = "inferred"
	RelationTemporal    RelationType = "temporal"
	RelationCausal      RelationType = "causal"
)

// Entity is a named thing mentioned by a memory (person, project, concept...).
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Memory is a single captured fact, preference or note with its embedding.
type Memory struct {
	ID              string                 // Unique identifier (UUID), immutable
	UserID          string                 // Owner; every operation is scoped to one owner
	Content         string                 // Raw text, 1..50000 chars after trimming
	ContentType     string                 // Classification tag ("fact", "preference", ...)
	Embedding       []float32              // Dense vector, never mutated after creation
	ImportanceScore float64                // Clamped to [0,1]
	Tags            []string               // Attached at creation
	Entities        []Entity               // Attached at creation
	SourceURL       string                 // Optional capture origin
	Metadata        map[string]interface{} // Opaque structured payload
	CreatedAt       time.Time
	LastAccessedAt  *time.Time
	AccessCount     int
	IsArchived      bool
}

// Relationship is a directed, typed, weighted edge between two memories
// of the same owner. Edges are append-only byproducts of memory creation.
type Relationship struct {
	ID             string
	UserID         string
	SourceMemoryID string
	TargetMemoryID string
	Type           RelationType
	Strength       float64 // [0,1]: conflict confidence or cosine similarity
	CreatedAt      time.Time
}

// Match is a similarity-query result.
type Match struct {
	Memory     *Memory
	Similarity float64
}

// Stats aggregates per-owner storage counts.
type Stats struct {
	TotalMemories      int64   `json:"totalMemories"`
	TotalEntities      int64   `json:"totalEntities"`
	TotalRelationships int64   `json:"totalRelationships"`
	AverageImportance  float64 `json:"averageImportance"`
}

// ErrOwnerMismatch indicates an edge that would connect memories of
// different owners. Such writes are always rejected.
var ErrOwnerMismatch = errors.New("relationship endpoints belong to different owners")

// MemoryStore defines the interface for memory and relationship storage.
// Implementations must persist a memory together with its edges and entity
// mention counters as one atomic unit.
type MemoryStore interface {
	// CreateMemory persists a memory, its edges and its entity mention
	// updates in a single transaction. If any write fails, none of the
	// new state is visible to subsequent reads.
	// Generates Memory.ID and edge IDs when empty.
	CreateMemory(ctx context.Context, m *Memory, edges []*Relationship) error

	// GetMemory retrieves a memory by ID, scoped to the owner.
	// Returns (nil, nil) when the memory does not exist or belongs to
	// another owner.
	GetMemory(ctx context.Context, userID, id string) (*Memory, error)

	// Nearest returns the owner's active memories ranked by cosine
	// similarity to the query vector, descending, ties broken by most
	// recent CreatedAt. Memories below minSimilarity are excluded even
	// when limit is not reached.
	Nearest(ctx context.Context, userID string, vector []float32, limit int, minSimilarity float64) ([]Match, error)

	// GetActiveGraph returns all active memories of the owner and every
	// edge whose both endpoints are active.
	GetActiveGraph(ctx context.Context, userID string) ([]*Memory, []*Relationship, error)

	// TouchMemories increments access counters and stamps
	// last_accessed_at for the given memories. Callers treat failures
	// as non-fatal.
	TouchMemories(ctx context.Context, userID string, ids []string) error

	// ArchiveMemory marks a memory as archived. Archived memories are
	// excluded from similarity queries and graph views but never
	// physically deleted.
	ArchiveMemory(ctx context.Context, userID, id string) error

	// Stats returns aggregate counts for the owner.
	Stats(ctx context.Context, userID string) (Stats, error)

	// Close releases any resources held by the store.
	Close() error
}

// IndexMatch is a vector-index hit before row hydration.
type IndexMatch struct {
	ID         string
	Similarity float64
}

// VectorIndex accelerates nearest-neighbor queries. An index is an
// optimization only: stores must produce correct results without one.
type VectorIndex interface {
	// Add registers a vector under the owner's namespace.
	Add(ctx context.Context, userID, id string, embedding []float32) error

	// Remove unregisters a vector. Removing an unknown id is a no-op.
	Remove(ctx context.Context, userID, id string) error

	// Query returns up to limit IDs ranked by similarity descending,
	// excluding hits below minSimilarity.
	Query(ctx context.Context, userID string, vector []float32, limit int, minSimilarity float64) ([]IndexMatch, error)
}
