package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/reposage/reposage/internal/core/worker"
)

// WorkerAction consumes ingestion jobs until interrupted.
func WorkerAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	q, err := appCtx.newQueue(ctx)
	if err != nil {
		return err
	}

	_, embedder, err := appCtx.newOpenAI()
	if err != nil {
		return err
	}
	ingester, err := appCtx.newIngester(ctx, embedder)
	if err != nil {
		return err
	}

	w := worker.NewWorker(q, gitCloner{client: appCtx.newGitClient()}, ingester,
		worker.WithWorkerLogger(appCtx.Logger),
		worker.WithJournalDir(appCtx.Config.Ingest.JournalDir))
	return w.Run(ctx)
}
