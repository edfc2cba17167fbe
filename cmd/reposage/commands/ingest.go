package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/reposage/reposage/internal/core/ingest"
	"github.com/reposage/reposage/internal/infra/git"
)

// IngestAction fully indexes one repository and activates the result
// when every file processed.
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	url := cmd.String("url")
	repository, err := git.RepositoryFromURL(url)
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

	co, err := appCtx.newGitClient().Clone(ctx, url, cmd.String("ref"))
	if err != nil {
		return fmt.Errorf("failed to clone %s: %w", repository, err)
	}
	defer co.Close()

	result, err := ingester.IngestRepository(ctx, ingest.Params{
		Repository:  repository,
		Ref:         co.Head(),
		Dir:         co.Dir(),
		JournalPath: cmd.String("journal"),
	})
	if err != nil {
		return err
	}

	if !result.Clean() {
		appCtx.Logger.Warn("ingestion finished with failures, not activating",
			slog.Int("failed_files", result.FailedFiles))
		return fmt.Errorf("%d files failed, fix or retry before activating", result.FailedFiles)
	}

	if err := ingester.Activate(ctx, repository, co.Head()); err != nil {
		return err
	}

	fmt.Printf("indexed %s at %s: %d files, %d chunks\n",
		repository, co.Head(), result.ProcessedFiles, result.TotalChunks)
	return nil
}
