// Package app wires configuration into the components shared by the
// assistant API and the ingest worker.
package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"doc-assistant/internal/config"
	"doc-assistant/internal/extract"
	"doc-assistant/internal/llm"
	"doc-assistant/internal/logger"
	"doc-assistant/internal/pipeline"
	"doc-assistant/internal/queue"
	"doc-assistant/internal/session"
)

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Sessions session.Store
	// Queue is nil when ingestion runs synchronously in the API process.
	Queue    queue.Queue
	LLM      llm.Factory
	Pipeline *pipeline.Pipeline
	Ingestor *pipeline.Ingestor
}

// Build loads env, config, and shared components. A missing .env file is
// not an error.
func Build() (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	sessions, err := buildSessionStore(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize session store: %w", err)
	}
	q, err := buildQueue(cfg, log)
	if err != nil {
		_ = sessions.Close()
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}
	return New(cfg, log, sessions, q, llm.NewFactory()), nil
}

// New assembles Deps from already constructed backends.
func New(cfg config.Config, log *slog.Logger, sessions session.Store, q queue.Queue, factory llm.Factory) Deps {
	fetcher := extract.NewFetcher(log, cfg.FetchTimeout, cfg.ArticleMaxChars)
	return Deps{
		Config:   cfg,
		Log:      log,
		Sessions: sessions,
		Queue:    q,
		LLM:      factory,
		Pipeline: pipeline.New(log, factory, pipeline.WithChunkSize(cfg.ChunkSize)),
		Ingestor: pipeline.NewIngestor(log, factory, fetcher, cfg.ChunkSize),
	}
}

func buildSessionStore(cfg config.Config, log *slog.Logger) (session.Store, error) {
	switch cfg.SessionProvider {
	case "", "memory":
		log.Info("using in-memory session store", "ttl", cfg.SessionTTL)
		return session.NewMemoryStore(cfg.SessionTTL), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required when SESSION_PROVIDER=redis")
		}
		st, err := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		log.Info("using Redis session store", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL)
		return st, nil
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when SESSION_PROVIDER=postgres")
		}
		st, err := session.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres session store")
		return st, nil
	default:
		return nil, fmt.Errorf("invalid SESSION_PROVIDER: %s (valid options: memory, redis, postgres)", cfg.SessionProvider)
	}
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, error) {
	switch cfg.QueueProvider {
	case "", "none":
		log.Info("no queue configured, ingesting synchronously")
		return nil, nil
	case "nats":
		if cfg.QueueURL == "" {
			return nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL, nats.Name("doc-assistant"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), nil
	default:
		return nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: none, nats)", cfg.QueueProvider)
	}
}
