package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/reposage/reposage/cmd/reposage/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "path to the .env file",
		Value: ".env",
	}

	app := &cli.Command{
		Name:  "reposage",
		Usage: "code-aware retrieval backend for multi-repository source code",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the webhook and query HTTP server",
				Flags:  []cli.Flag{envFlag},
				Action: commands.ServeAction,
			},
			{
				Name:   "worker",
				Usage:  "consume ingestion jobs from the queue",
				Flags:  []cli.Flag{envFlag},
				Action: commands.WorkerAction,
			},
			{
				Name:  "ingest",
				Usage: "fully index a repository",
				Flags: []cli.Flag{
					envFlag,
					&cli.StringFlag{
						Name:     "url",
						Usage:    "git repository URL",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "ref",
						Usage: "branch, tag, or commit to index",
						Value: "HEAD",
					},
					&cli.StringFlag{
						Name:  "journal",
						Usage: "path for the per-file outcome journal",
					},
				},
				Action: commands.IngestAction,
			},
			{
				Name:  "sync",
				Usage: "apply an incremental commit range to the index",
				Flags: []cli.Flag{
					envFlag,
					&cli.StringFlag{
						Name:     "url",
						Usage:    "git repository URL",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "from",
						Usage: "commit the index currently reflects",
					},
					&cli.StringFlag{
						Name:  "to",
						Usage: "commit to sync to",
						Value: "HEAD",
					},
					&cli.StringFlag{
						Name:  "journal",
						Usage: "path for the per-file outcome journal",
					},
					&cli.BoolFlag{
						Name:  "retry-errors",
						Usage: "re-run only the paths whose last journal entry failed",
					},
				},
				Action: commands.SyncAction,
			},
			{
				Name:  "query",
				Usage: "answer a question over the indexed repositories",
				Flags: []cli.Flag{
					envFlag,
					&cli.StringFlag{
						Name:     "query",
						Usage:    "the question to answer",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "repository",
						Usage: "restrict the search to these repositories",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "number of results to use",
					},
					&cli.FloatFlag{
						Name:  "min-score",
						Usage: "drop results scoring below this",
					},
				},
				Action: commands.QueryAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
