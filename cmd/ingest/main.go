package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"doc-assistant/internal/app"
	"doc-assistant/internal/httputil"
	"doc-assistant/internal/queue"
	"doc-assistant/internal/session"
)

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Sessions.Close()
	if deps.Queue == nil {
		deps.Log.Error("ingest worker needs a queue (set QUEUE_PROVIDER=nats)")
		os.Exit(1)
	}
	deps.Log.Info("ingest worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, deps); err != nil {
		deps.Log.Error("ingest worker stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, deps app.Deps) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeRegisterLink, registerLinkHandler(deps))
	})
	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeIngestFile, ingestFileHandler(deps))
	})
	g.Go(func() error {
		return httputil.ServeHealth(ctx, deps.Log, fmt.Sprintf(":%d", deps.Config.HealthPort))
	})

	return g.Wait()
}

func registerLinkHandler(deps app.Deps) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		var payload queue.RegisterLinkPayload
		if err := task.Decode(&payload); err != nil {
			return err
		}
		log := deps.Log.With("task_id", task.ID, "session_id", payload.SessionID, "url", payload.URL)

		err := deps.Ingestor.RegisterLink(ctx, deps.Sessions, payload.SessionID, payload.URL)
		if errors.Is(err, session.ErrDuplicateLink) {
			log.Info("link already registered, skipping")
			return nil
		}
		if err != nil {
			return fmt.Errorf("register link %s: %w", payload.URL, err)
		}
		log.Info("link registered")
		return nil
	}
}

func ingestFileHandler(deps app.Deps) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		var payload queue.IngestFilePayload
		if err := task.Decode(&payload); err != nil {
			return err
		}
		log := deps.Log.With("task_id", task.ID, "session_id", payload.SessionID, "file", payload.FileName)

		if err := deps.Ingestor.IngestFile(ctx, deps.Sessions, payload.SessionID, payload.FileName, payload.Path); err != nil {
			return fmt.Errorf("ingest file %s: %w", payload.FileName, err)
		}
		log.Info("file preprocessed")
		return nil
	}
}
