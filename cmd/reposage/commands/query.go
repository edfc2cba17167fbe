package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/reposage/reposage/internal/core/query"
)

// QueryAction answers one question from the command line.
func QueryAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	llm, embedder, err := appCtx.newOpenAI()
	if err != nil {
		return err
	}

	service := query.NewService(appCtx.Store, embedder, llm,
		query.WithServiceLogger(appCtx.Logger))

	answer, err := service.Answer(ctx, cmd.String("query"), query.Options{
		Repositories: cmd.StringSlice("repository"),
		TopK:         int(cmd.Int("top-k")),
		MinScore:     cmd.Float("min-score"),
	})
	if err != nil {
		return err
	}

	fmt.Println(answer)
	return nil
}
