package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedMemory(t *testing.T, s MemoryStore, userID, content string, embedding []float32, createdAt time.Time) *Memory {
	t.Helper()
	m := &Memory{
		UserID:    userID,
		Content:   content,
		Embedding: embedding,
		CreatedAt: createdAt,
	}
	if err := s.CreateMemory(context.Background(), m, nil); err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}
	return m
}

// TestSQLiteStore_CreateAndGet verifies round-trip of all memory fields.
func TestSQLiteStore_CreateAndGet(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &Memory{
		UserID:          "u1",
		Content:         "prefers dark mode 🌙 with\ttabs",
		ContentType:     "preference",
		Embedding:       []float32{0.1, 0.2, 0.3},
		ImportanceScore: 0.7,
		Tags:            []string{"ui", "editor"},
		Entities:        []Entity{{Name: "dark mode", Type: "concept"}},
		SourceURL:       "https://example.com/settings",
		Metadata:        map[string]interface{}{"source": "extension"},
		CreatedAt:       created,
	}

	if err := s.CreateMemory(ctx, m, nil); err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}
	if m.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := s.GetMemory(ctx, "u1", m.ID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected memory, got nil")
	}

	if got.Content != m.Content {
		t.Errorf("content mismatch: got %q, want %q", got.Content, m.Content)
	}
	if got.ContentType != "preference" {
		t.Errorf("content type mismatch: got %q", got.ContentType)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.2 {
		t.Errorf("embedding mismatch: got %v", got.Embedding)
	}
	if got.ImportanceScore != 0.7 {
		t.Errorf("importance mismatch: got %f", got.ImportanceScore)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "ui" {
		t.Errorf("tags mismatch: got %v", got.Tags)
	}
	if len(got.Entities) != 1 || got.Entities[0].Name != "dark mode" {
		t.Errorf("entities mismatch: got %v", got.Entities)
	}
	if got.SourceURL != m.SourceURL {
		t.Errorf("source url mismatch: got %q", got.SourceURL)
	}
	if got.Metadata["source"] != "extension" {
		t.Errorf("metadata mismatch: got %v", got.Metadata)
	}
	if got.IsArchived {
		t.Error("new memory must not be archived")
	}
	if got.AccessCount != 0 {
		t.Errorf("access count should start at 0, got %d", got.AccessCount)
	}
}

// TestSQLiteStore_GetMemory_OwnerScoping verifies lookups never cross owners.
func TestSQLiteStore_GetMemory_OwnerScoping(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	m := seedMemory(t, s, "u1", "fact one", []float32{1, 0}, time.Now())

	got, err := s.GetMemory(ctx, "u2", m.ID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for another owner's memory")
	}

	got, err = s.GetMemory(ctx, "u1", "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for unknown id")
	}
}

// TestSQLiteStore_CreateMemory_WithEdges verifies the memory and its edges
// land together and edge owner scoping is enforced.
func TestSQLiteStore_CreateMemory_WithEdges(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	prior := seedMemory(t, s, "u1", "likes coffee", []float32{1, 0}, time.Now().Add(-time.Hour))

	m := &Memory{
		UserID:    "u1",
		Content:   "hates coffee",
		Embedding: []float32{1, 0},
	}
	edges := []*Relationship{{
		SourceMemoryID: "", // filled below
		TargetMemoryID: prior.ID,
		Type:           RelationContradicts,
		Strength:       0.9,
	}}
	m.ID = "11111111-1111-1111-1111-111111111111"
	edges[0].SourceMemoryID = m.ID

	if err := s.CreateMemory(ctx, m, edges); err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}

	_, got, err := s.GetActiveGraph(ctx, "u1")
	if err != nil {
		t.Fatalf("GetActiveGraph failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(got))
	}
	if got[0].Type != RelationContradicts || got[0].Strength != 0.9 {
		t.Errorf("edge mismatch: %+v", got[0])
	}
	if got[0].UserID != "u1" {
		t.Errorf("edge owner mismatch: %q", got[0].UserID)
	}
}

// TestSQLiteStore_CreateMemory_OwnerMismatch verifies cross-owner edges are
// rejected before anything is written.
func TestSQLiteStore_CreateMemory_OwnerMismatch(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	m := &Memory{
		ID:        "22222222-2222-2222-2222-222222222222",
		UserID:    "u1",
		Content:   "text",
		Embedding: []float32{1},
	}
	edges := []*Relationship{{
		UserID:         "u2",
		SourceMemoryID: m.ID,
		TargetMemoryID: "33333333-3333-3333-3333-333333333333",
		Type:           RelationRelatedTo,
	}}

	if err := s.CreateMemory(ctx, m, edges); err != ErrOwnerMismatch {
		t.Fatalf("expected ErrOwnerMismatch, got %v", err)
	}

	got, err := s.GetMemory(ctx, "u1", m.ID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if got != nil {
		t.Error("rejected creation must not leave a memory row behind")
	}
}

// TestSQLiteStore_EntityMentions verifies per-entity mention counters
// increment across creations.
func TestSQLiteStore_EntityMentions(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m := &Memory{
			UserID:    "u1",
			Content:   "mentions Alice",
			Embedding: []float32{1},
			Entities:  []Entity{{Name: "Alice", Type: "person"}},
		}
		if err := s.CreateMemory(ctx, m, nil); err != nil {
			t.Fatalf("CreateMemory failed: %v", err)
		}
	}

	var count int
	err := s.DB().QueryRow(
		`SELECT mention_count FROM entities WHERE user_id = ? AND name = ?`, "u1", "Alice").Scan(&count)
	if err != nil {
		t.Fatalf("entity query failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 mentions, got %d", count)
	}

	stats, err := s.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEntities != 1 {
		t.Errorf("expected 1 distinct entity, got %d", stats.TotalEntities)
	}
}

// TestSQLiteStore_Nearest verifies ranking, threshold and archived exclusion.
func TestSQLiteStore_Nearest(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	close1 := seedMemory(t, s, "u1", "very close", []float32{1, 0.05}, time.Now())
	mid := seedMemory(t, s, "u1", "somewhat close", []float32{1, 1}, time.Now())
	seedMemory(t, s, "u1", "orthogonal", []float32{0, 1}, time.Now())
	other := seedMemory(t, s, "u2", "other owner", []float32{1, 0}, time.Now())
	archived := seedMemory(t, s, "u1", "archived twin", []float32{1, 0}, time.Now())
	if err := s.ArchiveMemory(ctx, "u1", archived.ID); err != nil {
		t.Fatalf("ArchiveMemory failed: %v", err)
	}

	matches, err := s.Nearest(ctx, "u1", []float32{1, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("Nearest failed: %v", err)
	}

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Memory.ID != close1.ID {
		t.Errorf("expected %s first, got %s", close1.ID, matches[0].Memory.ID)
	}
	if matches[1].Memory.ID != mid.ID {
		t.Errorf("expected %s second, got %s", mid.ID, matches[1].Memory.ID)
	}
	for _, match := range matches {
		if match.Memory.ID == other.ID || match.Memory.ID == archived.ID {
			t.Errorf("unexpected match %s", match.Memory.ID)
		}
	}
}

// TestSQLiteStore_Nearest_WithChromemIndex verifies the accelerated path
// produces the same results as the full scan.
func TestSQLiteStore_Nearest_WithChromemIndex(t *testing.T) {
	s := newTestSQLiteStore(t).WithIndex(NewChromemIndex())
	ctx := context.Background()

	a := seedMemory(t, s, "u1", "aligned", []float32{1, 0}, time.Now())
	seedMemory(t, s, "u1", "orthogonal", []float32{0, 1}, time.Now())
	archived := seedMemory(t, s, "u1", "archived", []float32{1, 0}, time.Now())
	if err := s.ArchiveMemory(ctx, "u1", archived.ID); err != nil {
		t.Fatalf("ArchiveMemory failed: %v", err)
	}

	matches, err := s.Nearest(ctx, "u1", []float32{1, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("Nearest failed: %v", err)
	}

	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Memory.ID != a.ID {
		t.Errorf("expected %s, got %s", a.ID, matches[0].Memory.ID)
	}
}

// TestSQLiteStore_Nearest_ArchivedTopHitsDoNotStarveActive verifies that
// archiving the most similar memories never pushes qualifying active
// memories out of a small result window on the indexed path.
func TestSQLiteStore_Nearest_ArchivedTopHitsDoNotStarveActive(t *testing.T) {
	s := newTestSQLiteStore(t).WithIndex(NewChromemIndex())
	ctx := context.Background()

	first := seedMemory(t, s, "u1", "first", []float32{1, 0}, time.Now())
	second := seedMemory(t, s, "u1", "second", []float32{1, 0.01}, time.Now())
	third := seedMemory(t, s, "u1", "third", []float32{1, 0.1}, time.Now())

	if err := s.ArchiveMemory(ctx, "u1", first.ID); err != nil {
		t.Fatalf("ArchiveMemory failed: %v", err)
	}
	if err := s.ArchiveMemory(ctx, "u1", second.ID); err != nil {
		t.Fatalf("ArchiveMemory failed: %v", err)
	}

	matches, err := s.Nearest(ctx, "u1", []float32{1, 0}, 2, 0.5)
	if err != nil {
		t.Fatalf("Nearest failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Memory.ID != third.ID {
		t.Errorf("want %s, got %s", third.ID, matches[0].Memory.ID)
	}
}

// TestSQLiteStore_Nearest_StaleIndexHitFallsBackToScan verifies that a hit
// the index still holds for a row archived behind its back does not produce
// an incomplete result: the store answers from the full scan instead.
func TestSQLiteStore_Nearest_StaleIndexHitFallsBackToScan(t *testing.T) {
	s := newTestSQLiteStore(t).WithIndex(NewChromemIndex())
	ctx := context.Background()

	stale := seedMemory(t, s, "u1", "stale", []float32{1, 0}, time.Now())
	active := seedMemory(t, s, "u1", "active", []float32{1, 0.1}, time.Now())

	// Archive via raw SQL so the index keeps its entry.
	if _, err := s.DB().Exec(
		`UPDATE memories SET archived = 1 WHERE id = ?`, stale.ID); err != nil {
		t.Fatalf("archive update failed: %v", err)
	}

	matches, err := s.Nearest(ctx, "u1", []float32{1, 0}, 1, 0.5)
	if err != nil {
		t.Fatalf("Nearest failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Memory.ID != active.ID {
		t.Errorf("want %s, got %s", active.ID, matches[0].Memory.ID)
	}
}

// brokenIndex fails every query.
type brokenIndex struct{}

func (brokenIndex) Add(ctx context.Context, userID, id string, embedding []float32) error {
	return nil
}

func (brokenIndex) Remove(ctx context.Context, userID, id string) error {
	return nil
}

func (brokenIndex) Query(ctx context.Context, userID string, vector []float32, limit int, minSimilarity float64) ([]IndexMatch, error) {
	return nil, context.DeadlineExceeded
}

// TestSQLiteStore_Nearest_ConcurrentIndexFailure verifies that concurrent
// queries racing the index-detach path still return correct scan results.
func TestSQLiteStore_Nearest_ConcurrentIndexFailure(t *testing.T) {
	s := newTestSQLiteStore(t).WithIndex(brokenIndex{})
	ctx := context.Background()

	m := seedMemory(t, s, "u1", "survivor", []float32{1, 0}, time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			matches, err := s.Nearest(ctx, "u1", []float32{1, 0}, 5, 0.5)
			if err != nil {
				t.Errorf("Nearest failed: %v", err)
				return
			}
			if len(matches) != 1 || matches[0].Memory.ID != m.ID {
				t.Errorf("unexpected matches: %v", matches)
			}
		}()
	}
	wg.Wait()

	if s.vectorIndex() != nil {
		t.Error("broken index should be detached")
	}
}

// TestSQLiteStore_GetActiveGraph_ExcludesArchived verifies archived nodes
// and their incident edges never appear in the graph view.
func TestSQLiteStore_GetActiveGraph_ExcludesArchived(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	a := seedMemory(t, s, "u1", "a", []float32{1, 0}, time.Now())
	b := seedMemory(t, s, "u1", "b", []float32{1, 0}, time.Now())

	c := &Memory{
		ID:        "44444444-4444-4444-4444-444444444444",
		UserID:    "u1",
		Content:   "c",
		Embedding: []float32{1, 0},
	}
	edges := []*Relationship{
		{SourceMemoryID: c.ID, TargetMemoryID: a.ID, Type: RelationRelatedTo, Strength: 0.8},
		{SourceMemoryID: c.ID, TargetMemoryID: b.ID, Type: RelationRelatedTo, Strength: 0.8},
	}
	if err := s.CreateMemory(ctx, c, edges); err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}

	if err := s.ArchiveMemory(ctx, "u1", b.ID); err != nil {
		t.Fatalf("ArchiveMemory failed: %v", err)
	}

	nodes, graphEdges, err := s.GetActiveGraph(ctx, "u1")
	if err != nil {
		t.Fatalf("GetActiveGraph failed: %v", err)
	}

	if len(nodes) != 2 {
		t.Errorf("expected 2 active nodes, got %d", len(nodes))
	}
	for _, n := range nodes {
		if n.ID == b.ID {
			t.Error("archived node included in graph")
		}
	}

	if len(graphEdges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(graphEdges))
	}
	if graphEdges[0].TargetMemoryID != a.ID {
		t.Errorf("expected surviving edge to target %s, got %s", a.ID, graphEdges[0].TargetMemoryID)
	}
}

// TestSQLiteStore_TouchMemories verifies access tracking updates.
func TestSQLiteStore_TouchMemories(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	m := seedMemory(t, s, "u1", "touched", []float32{1}, time.Now())

	if err := s.TouchMemories(ctx, "u1", []string{m.ID}); err != nil {
		t.Fatalf("TouchMemories failed: %v", err)
	}
	if err := s.TouchMemories(ctx, "u1", []string{m.ID}); err != nil {
		t.Fatalf("TouchMemories failed: %v", err)
	}
	// Other-owner touch must not count.
	if err := s.TouchMemories(ctx, "u2", []string{m.ID}); err != nil {
		t.Fatalf("TouchMemories failed: %v", err)
	}

	got, err := s.GetMemory(ctx, "u1", m.ID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if got.AccessCount != 2 {
		t.Errorf("expected access count 2, got %d", got.AccessCount)
	}
	if got.LastAccessedAt == nil {
		t.Error("expected last accessed timestamp")
	}
}

// TestSQLiteStore_Stats covers counts and average importance.
func TestSQLiteStore_Stats(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	m1 := &Memory{UserID: "u1", Content: "a", Embedding: []float32{1}, ImportanceScore: 0.2}
	m2 := &Memory{ID: "55555555-5555-5555-5555-555555555555",
		UserID: "u1", Content: "b", Embedding: []float32{1}, ImportanceScore: 0.8}
	if err := s.CreateMemory(ctx, m1, nil); err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}
	if err := s.CreateMemory(ctx, m2, []*Relationship{{
		SourceMemoryID: m2.ID, TargetMemoryID: m1.ID, Type: RelationRelatedTo, Strength: 0.6,
	}}); err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}

	stats, err := s.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalMemories != 2 {
		t.Errorf("expected 2 memories, got %d", stats.TotalMemories)
	}
	if stats.TotalRelationships != 1 {
		t.Errorf("expected 1 relationship, got %d", stats.TotalRelationships)
	}
	if avg := stats.AverageImportance; avg < 0.49 || avg > 0.51 {
		t.Errorf("expected average importance ~0.5, got %f", avg)
	}

	empty, err := s.Stats(ctx, "nobody")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if empty.TotalMemories != 0 || empty.AverageImportance != 0 {
		t.Errorf("expected zero stats, got %+v", empty)
	}
}
