// Package memweave provides the memory graph engine: it turns raw text
// into stored memories, discovers their semantic neighbors, records
// contradictions against prior memories, and serves similarity-ranked
// retrieval over a decaying-freshness graph.
package memweave

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/memweave/memweave/pkg/cache"
	"github.com/memweave/memweave/pkg/classify"
	"github.com/memweave/memweave/pkg/embeddings"
	"github.com/memweave/memweave/pkg/metrics"
	"github.com/memweave/memweave/pkg/resolver"
	"github.com/memweave/memweave/pkg/store"
)

// Config holds configuration for the engine.
type Config struct {
	// OpenAI API key for the default embedding and classifier clients
	OpenAIKey string

	// Embedding model (default: "text-embedding-3-small")
	EmbeddingModel string

	// Classifier model for categorization and conflict detection
	// (default: "gpt-4o-mini")
	ClassifierModel string

	// DBPath is the SQLite database path; ":memory:" for ephemeral use
	DBPath string

	// UseVectorIndex attaches an in-process chromem index to accelerate
	// similarity queries
	UseVectorIndex bool

	// EmbeddingCacheBytes bounds the embedding-result cache; 0 disables it
	EmbeddingCacheBytes int64

	// ProviderTimeout bounds each external provider call (default: 30s)
	ProviderTimeout time.Duration

	// QueryTimeout bounds read-path store queries (default: 10s)
	QueryTimeout time.Duration

	// TopK is how many similar candidates get a conflict check (default: 10)
	TopK int

	// MinSimilarity is the relatedness floor for edge creation (default: 0.5)
	MinSimilarity float64

	// RetentionDays is the fallback retention window when no
	// RetentionProvider is supplied (default: 90)
	RetentionDays int

	// SerializeOwnerWrites holds a per-owner lock across relationship
	// resolution and persistence. Off by default: concurrent submissions
	// that contradict a common prior memory then each record their own
	// contradicts edge.
	SerializeOwnerWrites bool

	// Logger receives best-effort failure reports; nil discards them
	Logger *slog.Logger

	// Metrics receives operation metrics; nil means no collection
	Metrics metrics.Collector

	// TraceSink receives a timing trace after each operation; nil disables
	// tracing
	TraceSink func(*OperationTrace)
}

func (cfg *Config) applyDefaults() {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.TopK <= 0 {
		cfg.TopK = resolver.DefaultTopK
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = resolver.DefaultMinSimilarity
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
}

// Engine is the memory graph engine.
type Engine struct {
	cfg        Config
	store      store.MemoryStore
	embedder   embeddings.Client
	embedCache *cache.Embedder // set when Config.EmbeddingCacheBytes > 0
	classifier classify.Classifier
	resolver   *resolver.Resolver
	retention  RetentionProvider
	logger     *slog.Logger
	metrics    metrics.Collector
	traceSink  func(*OperationTrace)

	ownerLocks sync.Map // userID -> *sync.Mutex, only when SerializeOwnerWrites
}

// New creates an engine with OpenAI provider clients and a SQLite store.
func New(cfg Config) (*Engine, error) {
	cfg.applyDefaults()

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("%w: DBPath is required", ErrInvalidInput)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.UseVectorIndex {
		st.WithIndex(store.NewChromemIndex())
	}

	embClient := embeddings.NewOpenAIClient(cfg.OpenAIKey)
	if cfg.EmbeddingModel != "" {
		embClient.Model = cfg.EmbeddingModel
	}

	classifier := classify.NewOpenAIClassifier(cfg.OpenAIKey)
	if cfg.ClassifierModel != "" {
		classifier.Model = cfg.ClassifierModel
	}

	return NewWithClients(cfg, st, embClient, classifier, nil)
}

// NewWithClients creates an engine with injected collaborators, enabling
// substitution with fakes in tests. A nil retention provider falls back to
// a static Config.RetentionDays window.
func NewWithClients(cfg Config, st store.MemoryStore, embedder embeddings.Client, classifier classify.Classifier, retention RetentionProvider) (*Engine, error) {
	cfg.applyDefaults()

	if st == nil || embedder == nil || classifier == nil {
		return nil, fmt.Errorf("%w: store, embedder and classifier are required", ErrInvalidInput)
	}

	var embedCache *cache.Embedder
	if cfg.EmbeddingCacheBytes > 0 {
		cached, err := cache.NewEmbedder(embedder, cfg.EmbeddingCacheBytes)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		embedder = cached
		embedCache = cached
	}

	if retention == nil {
		retention = StaticRetention(cfg.RetentionDays)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	return &Engine{
		cfg:        cfg,
		store:      st,
		embedder:   embedder,
		embedCache: embedCache,
		classifier: classifier,
		resolver:   resolver.New(st, classifier).WithTuning(cfg.TopK, cfg.MinSimilarity),
		retention:  retention,
		logger:     logger,
		metrics:    collector,
		traceSink:  cfg.TraceSink,
	}, nil
}

// Close releases the underlying store's resources and, when an embedding
// cache was configured, its background goroutines.
func (e *Engine) Close() error {
	if e.embedCache != nil {
		e.embedCache.Close()
	}
	return e.store.Close()
}

// Store returns the configured memory store.
func (e *Engine) Store() store.MemoryStore {
	return e.store
}

// ownerLock returns the per-owner mutex, creating it on first use.
func (e *Engine) ownerLock(userID string) *sync.Mutex {
	mu, _ := e.ownerLocks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// emitTrace hands a completed trace to the configured sink.
func (e *Engine) emitTrace(trace *OperationTrace) {
	if e.traceSink != nil && trace != nil {
		e.traceSink(trace)
	}
}

// startTrace returns a trace when a sink is configured, nil otherwise.
func (e *Engine) startTrace(operation string) *OperationTrace {
	if e.traceSink == nil {
		return nil
	}
	return newTrace(operation)
}
