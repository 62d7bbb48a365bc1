package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"github.com/ecobiomax/normaIA/internal/access"
	"github.com/ecobiomax/normaIA/internal/blob"
	"github.com/ecobiomax/normaIA/internal/cache"
	"github.com/ecobiomax/normaIA/internal/chunker"
	"github.com/ecobiomax/normaIA/internal/config"
	"github.com/ecobiomax/normaIA/internal/embeddings"
	"github.com/ecobiomax/normaIA/internal/extract"
	"github.com/ecobiomax/normaIA/internal/httputil"
	"github.com/ecobiomax/normaIA/internal/llm"
	"github.com/ecobiomax/normaIA/internal/logger"
	"github.com/ecobiomax/normaIA/internal/queue"
	"github.com/ecobiomax/normaIA/internal/rag"
	"github.com/ecobiomax/normaIA/internal/store"
	"github.com/ecobiomax/normaIA/internal/vectorindex"
)

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Store    store.Store
	Index    vectorindex.Index
	Blobs    blob.Store
	Cache    cache.Cache
	Queue    queue.Queue // nil when QUEUE_PROVIDER=none
	Embedder embeddings.Embedder
	LLM      llm.Completer
	Gate     access.Gate
	Ingestor *rag.Ingestor
	Asker    *rag.Asker

	checks  []httputil.Check
	closers []func() error
}

// Build loads env, config, and shared components for the named service.
func Build(service string) (Deps, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return Deps{}, err
	}
	return New(cfg, logger.New(service, cfg.LogLevel, cfg.LogFormat))
}

// LoadConfig reads an optional .env file and then the environment.
func LoadConfig() (config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return config.Load(), nil
}

// New builds every component selected by cfg and wires the ingestion and
// question pipelines on top of them.
func New(cfg config.Config, log *slog.Logger) (d Deps, err error) {
	d = Deps{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	if err = d.buildStore(); err != nil {
		return d, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err = d.buildIndex(); err != nil {
		return d, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if d.Blobs, err = blob.NewFS(cfg.BlobDir); err != nil {
		return d, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	d.buildCache()
	if err = d.buildQueue(); err != nil {
		return d, fmt.Errorf("failed to initialize queue: %w", err)
	}
	if d.LLM, err = buildLLM(cfg, log); err != nil {
		return d, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	if d.Embedder, err = buildEmbedder(cfg, log); err != nil {
		return d, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if d.Gate, err = buildGate(cfg, d.Store, log); err != nil {
		return d, fmt.Errorf("failed to initialize access gate: %w", err)
	}

	timeouts := rag.Timeouts{
		Extract:    cfg.ExtractTimeout,
		Embed:      cfg.EmbedTimeout,
		Index:      cfg.IndexTimeout,
		Completion: cfg.CompletionTimeout,
	}
	segment := chunker.DefaultOptions()
	segment.ChunkSize = cfg.ChunkSize
	segment.Overlap = cfg.ChunkOverlap

	d.Ingestor = rag.NewIngestor(rag.IngestorDeps{
		Log:        log,
		Store:      d.Store,
		Blobs:      d.Blobs,
		Extractors: extract.NewRegistry(),
		Embedder:   d.Embedder,
		Index:      d.Index,
		Cache:      d.Cache,
		Queue:      d.Queue,
		Gate:       d.Gate,
	}, rag.IngestorConfig{
		Segment:          segment,
		EmbedConcurrency: cfg.EmbedConcurrency,
		Timeouts:         timeouts,
	})

	retriever := rag.NewRetriever(log, d.Embedder, d.Index, d.Cache, rag.RetrieverConfig{
		MinScore: cfg.MinScore,
		CacheTTL: time.Duration(cfg.CacheTTL) * time.Second,
		Timeouts: timeouts,
	})
	composer := rag.NewComposer(log, d.LLM, d.Store, cfg.AnswerLanguage, cfg.CompletionTimeout)
	d.Asker = rag.NewAsker(log, d.Gate, retriever, composer, d.Store, cfg.TopK)

	return d, nil
}

// Checks returns the health checks of connection-backed components.
func (d Deps) Checks() []httputil.Check {
	return d.checks
}

// Close releases connections in reverse order of creation.
func (d Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && d.Log != nil {
			d.Log.Warn("close failed", "err", err)
		}
	}
}

func (d *Deps) buildStore() error {
	switch d.Config.StoreProvider {
	case "postgres":
		if d.Config.DBURL == "" {
			return fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(d.Config.DBURL)
		if err != nil {
			return fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		d.Store = db
		d.closers = append(d.closers, db.Close)
		d.checks = append(d.checks, func(ctx context.Context) error { return db.DB().PingContext(ctx) })
		d.Log.Info("using Postgres store")
	case "memory":
		d.Store = store.NewMemory()
		d.Log.Info("using in-memory store")
	default:
		return fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: postgres, memory)", d.Config.StoreProvider)
	}
	return nil
}

func (d *Deps) buildIndex() error {
	cfg := d.Config
	switch cfg.IndexProvider {
	case "qdrant":
		q, err := vectorindex.NewQdrant(vectorindex.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.IndexCollection,
			Dimension:  cfg.IndexDimension,
			Timeout:    cfg.IndexTimeout,
		})
		if err != nil {
			return err
		}
		d.Index = q
	case "pgvector":
		pg, ok := d.Store.(*store.PostgresStore)
		if !ok {
			return fmt.Errorf("INDEX_PROVIDER=pgvector requires STORE_PROVIDER=postgres")
		}
		idx, err := vectorindex.NewPGVector(pg.DB(), cfg.IndexCollection, cfg.IndexDimension)
		if err != nil {
			return err
		}
		d.Index = idx
	case "sqlite":
		idx, err := vectorindex.OpenSQLite(cfg.SQLitePath, cfg.IndexCollection, cfg.IndexDimension)
		if err != nil {
			return err
		}
		d.Index = idx
		d.closers = append(d.closers, idx.Close)
	default:
		return fmt.Errorf("invalid INDEX_PROVIDER: %s (valid options: qdrant, pgvector, sqlite)", cfg.IndexProvider)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.Index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensuring collection %q: %w", cfg.IndexCollection, err)
	}
	d.Log.Info("using vector index", "provider", cfg.IndexProvider, "collection", cfg.IndexCollection, "dimension", cfg.IndexDimension)
	return nil
}

func (d *Deps) buildCache() {
	if d.Config.CacheProvider != "redis" {
		d.Cache = cache.NewNoOpCache()
		return
	}
	rc, err := cache.NewRedisCache(cache.RedisConfig{
		Addr:     d.Config.RedisAddr,
		Password: d.Config.RedisPassword,
		DB:       d.Config.RedisDB,
	})
	if err != nil {
		d.Log.Warn("redis unavailable; retrieval cache disabled", "err", err)
		d.Cache = cache.NewNoOpCache()
		return
	}
	d.Cache = rc
	d.closers = append(d.closers, rc.Close)
	d.Log.Info("using Redis retrieval cache", "addr", d.Config.RedisAddr)
}

func (d *Deps) buildQueue() error {
	switch d.Config.QueueProvider {
	case "nats":
		if d.Config.QueueURL == "" {
			return fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(d.Config.QueueURL)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		d.Queue = queue.NewNATS(d.Log, nc)
		d.closers = append(d.closers, func() error { nc.Close(); return nil })
		d.checks = append(d.checks, func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})
		d.Log.Info("using NATS queue")
	case "none":
		d.Log.Info("queue disabled; failed documents are not re-ingested in the background")
	default:
		return fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: nats, none)", d.Config.QueueProvider)
	}
	return nil
}

func buildLLM(cfg config.Config, log *slog.Logger) (llm.Completer, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
		client, err := llm.NewOpenAIClient(cfg.OpenAIKey, openai.ChatModel(cfg.LLMModel), cfg.CompletionTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
		}
		log.Info("using OpenAI LLM client", "model", cfg.LLMModel)
		return client, nil
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid option: openai)", cfg.LLMProvider)
	}
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
		embedder, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(cfg.EmbeddingModel), cfg.IndexDimension, cfg.EmbedTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel)
		if cfg.EmbedRatePerSec > 0 {
			burst := max(cfg.EmbedConcurrency, 1)
			log.Info("embedding rate limited", "per_sec", cfg.EmbedRatePerSec, "burst", burst)
			return embeddings.NewRateLimited(embedder, cfg.EmbedRatePerSec, burst), nil
		}
		return embedder, nil
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid option: openai)", cfg.LLMProvider)
	}
}

func buildGate(cfg config.Config, st store.Store, log *slog.Logger) (access.Gate, error) {
	switch cfg.AccessProvider {
	case "subscription":
		return access.NewSubscriptionGate(st, log), nil
	case "static":
		log.Info("using static access list", "users", len(cfg.AccessAllow))
		return access.NewStaticGate(cfg.AccessAllow), nil
	default:
		return nil, fmt.Errorf("invalid ACCESS_PROVIDER: %s (valid options: subscription, static)", cfg.AccessProvider)
	}
}
