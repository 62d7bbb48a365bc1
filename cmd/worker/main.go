package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ecobiomax/normaIA/internal/app"
	"github.com/ecobiomax/normaIA/internal/httputil"
	"github.com/ecobiomax/normaIA/internal/queue"
	"github.com/ecobiomax/normaIA/internal/rag"
)

func main() {
	deps, err := app.Build("worker")
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	if deps.Queue == nil {
		deps.Log.Error("reingest worker requires a queue (QUEUE_PROVIDER=nats)")
		os.Exit(1)
	}
	deps.Log.Info("reingest worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeReingest, func(ctx context.Context, task queue.Task) error {
			return handleReingest(ctx, deps, task)
		})
	})

	g.Go(func() error {
		return httputil.ServeHealth(ctx, deps.Log, deps.Config.HealthPort, deps.Checks()...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		deps.Log.Error("reingest worker stopped", "err", err)
	}
}

// handleReingest reprocesses one document. Only retryable failures are
// returned so the queue re-enqueues them; the rest are logged and dropped,
// the document already carries its failure.
func handleReingest(ctx context.Context, deps app.Deps, task queue.Task) error {
	payload, err := queue.DecodeReingest(task)
	if err != nil {
		deps.Log.Error("dropping malformed reingest task", "task_id", task.ID, "err", err)
		return nil
	}
	log := deps.Log.With("document_id", payload.DocumentID, "attempt", task.Attempts+1)
	log.Info("reprocessing document", "reason", payload.Reason)

	if err := deps.Ingestor.Reprocess(ctx, payload.DocumentID); err != nil {
		if rag.IsRetryable(err) {
			log.Warn("reprocess failed, will retry", "err", err)
			return err
		}
		log.Error("reprocess failed permanently", "err", err)
	}
	return nil
}
