package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements MemoryStore using SQLite as the backend.
type SQLiteStore struct {
	db *sql.DB

	indexMu sync.RWMutex
	index   VectorIndex // nil when absent or detached after a failure
}

// NewSQLiteStore creates a new SQLite-backed memory store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// WithIndex attaches a vector index used to accelerate Nearest queries.
// The index is advisory: on any index failure the store falls back to a
// full similarity scan and stops consulting the index.
func (s *SQLiteStore) WithIndex(index VectorIndex) *SQLiteStore {
	s.indexMu.Lock()
	s.index = index
	s.indexMu.Unlock()
	return s
}

// vectorIndex returns the attached index; concurrent Nearest calls read it
// while failure paths detach it.
func (s *SQLiteStore) vectorIndex() VectorIndex {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return s.index
}

// dropIndex detaches a broken index so every later query takes the scan.
func (s *SQLiteStore) dropIndex() {
	s.indexMu.Lock()
	s.index = nil
	s.indexMu.Unlock()
}

// DB returns the underlying database connection for advanced operations.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		content_type TEXT,
		embedding BLOB,
		importance REAL DEFAULT 0,
		tags TEXT,
		entities TEXT,
		source_url TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_accessed_at DATETIME,
		access_count INTEGER DEFAULT 0,
		archived INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(user_id, archived);

	CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		relation TEXT NOT NULL,
		strength REAL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (source_id) REFERENCES memories(id),
		FOREIGN KEY (target_id) REFERENCES memories(id)
	);

	CREATE INDEX IF NOT EXISTS idx_relationships_owner ON relationships(user_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);

	CREATE TABLE IF NOT EXISTS entities (
		user_id TEXT NOT NULL,
		name TEXT NOT NULL COLLATE NOCASE,
		type TEXT,
		mention_count INTEGER DEFAULT 0,
		first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_seen DATETIME,
		PRIMARY KEY (user_id, name)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// encodeEmbedding serializes a float32 vector to a little-endian BLOB.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding deserializes a little-endian BLOB to a float32 vector.
func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	embedding := make([]float32, len(buf)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return embedding
}

// CreateMemory persists a memory, its edges and its entity mention updates
// in a single transaction.
func (s *SQLiteStore) CreateMemory(ctx context.Context, m *Memory, edges []*Relationship) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	for _, edge := range edges {
		if edge.UserID != "" && edge.UserID != m.UserID {
			return ErrOwnerMismatch
		}
	}

	tagsJSON, err := marshalJSONColumn(m.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	entitiesJSON, err := marshalJSONColumn(m.Entities)
	if err != nil {
		return fmt.Errorf("failed to marshal entities: %w", err)
	}
	metadataJSON, err := marshalJSONColumn(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, content, content_type, embedding, importance,
			tags, entities, source_url, metadata, created_at, access_count, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
	`,
		m.ID,
		m.UserID,
		m.Content,
		m.ContentType,
		encodeEmbedding(m.Embedding),
		m.ImportanceScore,
		tagsJSON,
		entitiesJSON,
		m.SourceURL,
		metadataJSON,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}

	for _, edge := range edges {
		if edge.ID == "" {
			edge.ID = uuid.New().String()
		}
		if edge.CreatedAt.IsZero() {
			edge.CreatedAt = m.CreatedAt
		}
		edge.UserID = m.UserID

		_, err = tx.ExecContext(ctx, `
			INSERT INTO relationships (id, user_id, source_id, target_id, relation, strength, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			edge.ID,
			edge.UserID,
			edge.SourceMemoryID,
			edge.TargetMemoryID,
			string(edge.Type),
			edge.Strength,
			edge.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert relationship: %w", err)
		}
	}

	now := time.Now().UTC()
	for _, entity := range m.Entities {
		if entity.Name == "" {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (user_id, name, type, mention_count, first_seen, last_seen)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(user_id, name) DO UPDATE SET
				mention_count = mention_count + 1,
				last_seen = excluded.last_seen
		`, m.UserID, entity.Name, entity.Type, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert entity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit memory: %w", err)
	}

	// Index registration happens after commit; a failed index is dropped
	// and Nearest falls back to full scans.
	if idx := s.vectorIndex(); idx != nil {
		if err := idx.Add(ctx, m.UserID, m.ID, m.Embedding); err != nil {
			s.dropIndex()
		}
	}

	return nil
}

// marshalJSONColumn marshals a value for a nullable JSON TEXT column.
func marshalJSONColumn(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case []string:
		if val == nil {
			return nil, nil
		}
	case []Entity:
		if val == nil {
			return nil, nil
		}
	case map[string]interface{}:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

const memoryColumns = `id, user_id, content, content_type, embedding, importance,
	tags, entities, source_url, metadata, created_at, last_accessed_at, access_count, archived`

// scanMemory reads one memory row from a *sql.Row or *sql.Rows scanner.
func scanMemory(scan func(dest ...interface{}) error) (*Memory, error) {
	var m Memory
	var embeddingBytes, tagsJSON, entitiesJSON, metadataJSON []byte
	var contentType, sourceURL sql.NullString
	var lastAccessed sql.NullTime
	var archived int

	err := scan(
		&m.ID,
		&m.UserID,
		&m.Content,
		&contentType,
		&embeddingBytes,
		&m.ImportanceScore,
		&tagsJSON,
		&entitiesJSON,
		&sourceURL,
		&metadataJSON,
		&m.CreatedAt,
		&lastAccessed,
		&m.AccessCount,
		&archived,
	)
	if err != nil {
		return nil, err
	}

	m.ContentType = contentType.String
	m.SourceURL = sourceURL.String
	m.Embedding = decodeEmbedding(embeddingBytes)
	m.IsArchived = archived != 0
	if lastAccessed.Valid {
		t := lastAccessed.Time
		m.LastAccessedAt = &t
	}

	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &m.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if len(entitiesJSON) > 0 {
		if err := json.Unmarshal(entitiesJSON, &m.Entities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &m, nil
}

// GetMemory retrieves a memory by ID scoped to the owner.
// Returns (nil, nil) when not found or owned by someone else.
func (s *SQLiteStore) GetMemory(ctx context.Context, userID, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ? AND user_id = ?`, id, userID)

	m, err := scanMemory(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

// activeMemories loads all non-archived memories of an owner.
func (s *SQLiteStore) activeMemories(ctx context.Context, userID string) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id = ? AND archived = 0 ORDER BY created_at, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}
	return memories, nil
}

// Nearest ranks the owner's active memories by cosine similarity to the
// query vector. Uses the attached vector index when available; otherwise
// performs a full scan in the application.
func (s *SQLiteStore) Nearest(ctx context.Context, userID string, vector []float32, limit int, minSimilarity float64) ([]Match, error) {
	if idx := s.vectorIndex(); idx != nil {
		matches, complete, err := s.nearestViaIndex(ctx, idx, userID, vector, limit, minSimilarity)
		if err != nil {
			// Broken index: stop consulting it and take the scan.
			s.dropIndex()
		} else if complete {
			return matches, nil
		}
		// Stale hits were dropped at hydration; the scan is authoritative.
	}

	memories, err := s.activeMemories(ctx, userID)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, m := range memories {
		if len(m.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(vector, m.Embedding)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, Match{Memory: m, Similarity: sim})
	}

	return rankMatches(matches, limit), nil
}

// nearestViaIndex hydrates index hits into full memory rows. A hit whose
// row is archived or gone means the index is stale for this query: the hit
// occupied a top-limit slot that an active memory may have deserved, so the
// result is reported incomplete and the caller falls back to the scan.
func (s *SQLiteStore) nearestViaIndex(ctx context.Context, idx VectorIndex, userID string, vector []float32, limit int, minSimilarity float64) ([]Match, bool, error) {
	hits, err := idx.Query(ctx, userID, vector, limit, minSimilarity)
	if err != nil {
		return nil, false, err
	}

	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		m, err := s.GetMemory(ctx, userID, hit.ID)
		if err != nil {
			return nil, false, err
		}
		if m == nil || m.IsArchived {
			return nil, false, nil
		}
		matches = append(matches, Match{Memory: m, Similarity: hit.Similarity})
	}

	return rankMatches(matches, limit), true, nil
}

// GetActiveGraph returns all active memories and every edge whose both
// endpoints are active.
func (s *SQLiteStore) GetActiveGraph(ctx context.Context, userID string) ([]*Memory, []*Relationship, error) {
	memories, err := s.activeMemories(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.user_id, r.source_id, r.target_id, r.relation, r.strength, r.created_at
		FROM relationships r
		JOIN memories src ON r.source_id = src.id
		JOIN memories dst ON r.target_id = dst.id
		WHERE r.user_id = ? AND src.archived = 0 AND dst.archived = 0
		ORDER BY r.created_at, r.id
	`, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var edges []*Relationship
	for rows.Next() {
		var edge Relationship
		var relation string
		err := rows.Scan(
			&edge.ID,
			&edge.UserID,
			&edge.SourceMemoryID,
			&edge.TargetMemoryID,
			&relation,
			&edge.Strength,
			&edge.CreatedAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		edge.Type = RelationType(relation)
		edges = append(edges, &edge)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating relationships: %w", err)
	}

	return memories, edges, nil
}

// TouchMemories increments access counters for a batch of memories.
func (s *SQLiteStore) TouchMemories(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, time.Now().UTC(), userID)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE user_id = ? AND id IN (%s)
	`, strings.Join(placeholders, ","))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update access tracking: %w", err)
	}
	return nil
}

// ArchiveMemory marks a memory as archived and removes it from the vector
// index so stale hits cannot crowd active memories out of Nearest results.
func (s *SQLiteStore) ArchiveMemory(ctx context.Context, userID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET archived = 1 WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to archive memory: %w", err)
	}

	if idx := s.vectorIndex(); idx != nil {
		if err := idx.Remove(ctx, userID, id); err != nil {
			s.dropIndex()
		}
	}
	return nil
}

// Stats returns aggregate counts for the owner. Memory counts and average
// importance cover active memories only.
func (s *SQLiteStore) Stats(ctx context.Context, userID string) (Stats, error) {
	var stats Stats

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(importance), 0)
		FROM memories WHERE user_id = ? AND archived = 0
	`, userID).Scan(&stats.TotalMemories, &stats.AverageImportance)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count memories: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE user_id = ?`, userID).Scan(&stats.TotalEntities)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count entities: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relationships WHERE user_id = ?`, userID).Scan(&stats.TotalRelationships)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count relationships: %w", err)
	}

	return stats, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
