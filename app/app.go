// Package app wires configuration into the ingestion and retrieval services.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"geocompliance-backend/chunker"
	"geocompliance-backend/config"
	"geocompliance-backend/extractor"
	"geocompliance-backend/llm"
	"geocompliance-backend/repository"
	"geocompliance-backend/service"
	"geocompliance-backend/session"
	"geocompliance-backend/storage"
	"geocompliance-backend/telemetry"
	"geocompliance-backend/vectorindex"
)

// App holds the long-lived dependencies shared by the commands
type App struct {
	Config      *config.Config
	DB          *sql.DB
	Records     *repository.RecordRepository
	Storage     *storage.Router
	Index       vectorindex.Index
	Ingestion   *service.IngestionService
	Matcher     *service.MatchingService
	Coordinator *service.Coordinator

	closers []func() error
	logger  *slog.Logger
}

// New connects every backend named by cfg. Close releases them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, logger: slog.Default().With("component", "app")}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	db, dialect, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	a.Records = repository.NewRecordRepository(db, dialect)

	a.Storage, err = storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	completer, docEmbedder, queryEmbedder, err := a.initLLM(ctx)
	if err != nil {
		return err
	}

	a.Index, err = a.initIndex(ctx, docEmbedder.Dimension())
	if err != nil {
		return err
	}

	ext, err := extractor.New(completer, extractor.WithTimeout(cfg.ExtractionTimeout()))
	if err != nil {
		return err
	}

	a.Ingestion = service.NewIngestionService(
		service.IngestWithStorage(a.Storage),
		service.IngestWithChunker(chunker.New(chunker.Config{
			Size:    cfg.Chunker.Size,
			Overlap: cfg.Chunker.Overlap,
			MinSize: cfg.Chunker.MinSize,
		})),
		service.IngestWithExtractor(ext),
		service.IngestWithRecordStore(a.Records),
		service.IngestWithEmbedder(docEmbedder),
		service.IngestWithIndex(a.Index),
		service.IngestWithConcurrency(cfg.Ingestion.Concurrency),
		service.IngestWithEmbeddingTimeout(cfg.EmbeddingTimeout()),
	)

	a.Matcher = service.NewMatchingService(
		service.MatchWithEmbedder(queryEmbedder),
		service.MatchWithIndex(a.Index),
		service.MatchWithConfig(cfg.Matching),
		service.MatchWithJurisdictions(service.NewJurisdictionCatalog(cfg.Jurisdictions)),
	)

	store, err := a.initSessions(ctx)
	if err != nil {
		return err
	}
	a.Coordinator = service.NewCoordinator(a.Matcher,
		service.CoordWithStore(store),
		service.CoordWithTTL(cfg.SessionTTL()),
	)
	return nil
}

// initLLM returns the completion client and the embedders used for
// documents and for feature queries
func (a *App) initLLM(ctx context.Context) (llm.Completer, llm.Embedder, llm.Embedder, error) {
	cfg := a.Config.LLM
	completions, embeddings := newThrottles(a.Config)

	var (
		gemini *llm.GeminiClient
		ollama *llm.OllamaClient
	)
	needs := func(name string) bool { return cfg.Provider == name || cfg.EmbeddingProvider == name }

	if needs("gemini") {
		if cfg.GeminiAPIKey == "" {
			return nil, nil, nil, errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
		c, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey,
			llm.GeminiWithModel(cfg.GeminiModel),
			llm.GeminiWithEmbeddingModel(cfg.GeminiEmbedModel, cfg.Dimension),
			llm.GeminiWithThrottle(embeddings),
			llm.GeminiWithCompletionThrottle(completions),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize Gemini: %w", err)
		}
		gemini = c
		a.closers = append(a.closers, c.Close)
		a.logger.Info("gemini client initialized", "model", cfg.GeminiModel)
	}
	if needs("ollama") {
		c, err := llm.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaEmbedModel, cfg.Dimension, completions, embeddings)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize Ollama: %w", err)
		}
		ollama = c
		a.logger.Info("ollama client initialized", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
	}

	var completer llm.Completer
	switch cfg.Provider {
	case "gemini":
		completer = gemini
	case "ollama":
		completer = ollama
	default:
		return nil, nil, nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}

	switch cfg.EmbeddingProvider {
	case "gemini":
		return completer, gemini.DocumentEmbedder(), gemini.QueryEmbedder(), nil
	case "ollama":
		return completer, ollama, ollama, nil
	case "hashing":
		h := llm.NewHashingEmbedder(cfg.Dimension)
		return completer, h, h, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown embedding provider: %s", cfg.EmbeddingProvider)
	}
}

// newThrottles returns the completion and embedding throttles of one provider.
// They share a rate limit; each kind of call has its own deadline.
func newThrottles(cfg *config.Config) (completions, embeddings *llm.Throttle) {
	embeddings = llm.NewThrottle(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst, cfg.EmbeddingTimeout())
	return embeddings.WithTimeout(cfg.ExtractionTimeout()), embeddings
}

func (a *App) initIndex(ctx context.Context, dim int) (vectorindex.Index, error) {
	cfg := a.Config.VectorIndex
	switch cfg.Type {
	case "", "memory":
		a.logger.Warn("using in-memory vector index; embeddings are lost on restart")
		return vectorindex.NewMemoryIndex(dim), nil
	case "pgvector":
		pool, err := pgxpool.New(ctx, a.Config.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to pgvector database: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		idx := vectorindex.NewPgVectorIndex(pool, dim)
		if err := idx.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return idx, nil
	case "qdrant":
		idx, err := vectorindex.NewQdrantIndex(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantAPIKey, cfg.QdrantCollection, dim)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		if err := idx.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown vector index type: %s", cfg.Type)
	}
}

func (a *App) initSessions(ctx context.Context) (session.Store, error) {
	cfg := a.Config.Session
	switch cfg.Type {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return session.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unknown session store: %s", cfg.Type)
	}
}

// Close releases every backend in reverse order of creation
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
