package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/reposage/reposage/internal/core/ingest"
	"github.com/reposage/reposage/internal/infra/git"
)

// SyncAction applies an incremental commit range, or replays journaled
// failures with --retry-errors.
func SyncAction(ctx context.Context, cmd *cli.Command) error {
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

	co, err := appCtx.newGitClient().Clone(ctx, url, cmd.String("to"))
	if err != nil {
		return fmt.Errorf("failed to clone %s: %w", repository, err)
	}
	defer co.Close()

	params := ingest.Params{
		Repository:  repository,
		Ref:         co.Head(),
		Dir:         co.Dir(),
		JournalPath: cmd.String("journal"),
		Live:        true,
	}

	var result *ingest.Result
	if cmd.Bool("retry-errors") {
		result, err = ingester.RetryErrors(ctx, params)
	} else {
		from := cmd.String("from")
		if from == "" {
			return fmt.Errorf("--from is required unless --retry-errors is set")
		}
		var changes []ingest.Change
		changes, err = co.DiffRange(ctx, from, co.Head())
		if err != nil {
			return fmt.Errorf("failed to diff %s..%s: %w", from, co.Head(), err)
		}
		result, err = ingester.Sync(ctx, params, changes)
	}
	if err != nil {
		return err
	}

	if !result.Clean() {
		return fmt.Errorf("%d files failed, re-run with --retry-errors", result.FailedFiles)
	}

	fmt.Printf("synced %s to %s: %d files updated, %d paths deleted\n",
		repository, co.Head(), result.ProcessedFiles, result.DeletedPaths)
	return nil
}
