// Package worker consumes ingestion jobs from the queue and drives
// them through clone, ingest or sync, and activation.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/reposage/reposage/internal/core/ingest"
	"github.com/reposage/reposage/internal/core/queue"
	"github.com/reposage/reposage/internal/core/vector"
)

const (
	defaultPollWait    = 20 * time.Second
	defaultMaxMessages = 5
	pollErrorBackoff   = 5 * time.Second
)

// Checkout is a pinned working copy of one repository.
type Checkout interface {
	Dir() string
	Head() string
	DiffRange(ctx context.Context, fromRev, toRev string) ([]ingest.Change, error)
	Close() error
}

// Cloner materializes checkouts from clone URLs.
type Cloner interface {
	Clone(ctx context.Context, url, ref string) (Checkout, error)
}

// Ingester is the slice of the ingestion pipeline the worker drives.
type Ingester interface {
	IngestRepository(ctx context.Context, params ingest.Params) (*ingest.Result, error)
	Sync(ctx context.Context, params ingest.Params, changes []ingest.Change) (*ingest.Result, error)
	Activate(ctx context.Context, repository, ref string) error
}

// Worker long-polls the queue and processes jobs one at a time.
// Failed messages are not deleted; redelivery and the DLQ handle them.
type Worker struct {
	queue       queue.Queue
	cloner      Cloner
	ingester    Ingester
	pollWait    time.Duration
	maxMessages int32
	journalDir  string
	logger      *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithPollWait sets the long-poll wait per receive.
func WithPollWait(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.pollWait = d
	}
}

// WithJournalDir enables per-namespace ingestion journals under dir.
func WithJournalDir(dir string) WorkerOption {
	return func(w *Worker) {
		w.journalDir = dir
	}
}

// NewWorker creates a Worker.
func NewWorker(q queue.Queue, cloner Cloner, ingester Ingester, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:       q,
		cloner:      cloner,
		ingester:    ingester,
		pollWait:    defaultPollWait,
		maxMessages: defaultMaxMessages,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is canceled. Cancellation is a clean stop, not
// an error.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "worker started")
	for {
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "worker stopping")
			return nil
		}

		messages, err := w.queue.Receive(ctx, w.maxMessages, w.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.InfoContext(ctx, "worker stopping")
				return nil
			}
			w.logger.ErrorContext(ctx, "receive failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(pollErrorBackoff):
			}
			continue
		}

		for _, msg := range messages {
			if err := w.process(ctx, msg.Job); err != nil {
				w.logger.ErrorContext(ctx, "job failed, leaving for redelivery",
					slog.String("repository", msg.Job.Repository),
					slog.String("commit_sha", msg.Job.CommitSHA),
					slog.String("error", err.Error()))
				continue
			}
			if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
				w.logger.WarnContext(ctx, "failed to delete message",
					slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, job queue.Job) error {
	if job.Repository == "" || job.CloneURL == "" {
		// Malformed jobs never succeed on retry; drop them.
		w.logger.WarnContext(ctx, "dropping malformed job",
			slog.String("repository", job.Repository),
			slog.String("clone_url", job.CloneURL))
		return nil
	}

	co, err := w.cloner.Clone(ctx, job.CloneURL, cloneRef(job))
	if err != nil {
		return fmt.Errorf("failed to clone %s: %w", job.Repository, err)
	}
	defer co.Close()

	params := ingest.Params{
		Repository:  job.Repository,
		Ref:         co.Head(),
		Dir:         co.Dir(),
		JournalPath: w.journalPath(job.Repository),
	}

	if job.FromRev != "" {
		changes, err := co.DiffRange(ctx, job.FromRev, co.Head())
		if err == nil {
			return w.runSync(ctx, params, changes)
		}
		w.logger.WarnContext(ctx, "diff failed, falling back to full ingestion",
			slog.String("repository", job.Repository),
			slog.String("from_rev", job.FromRev),
			slog.String("error", err.Error()))
	}

	return w.runFullIngest(ctx, job, params)
}

// runFullIngest stages a fresh generation dark and flips it live only
// when every file processed.
func (w *Worker) runFullIngest(ctx context.Context, job queue.Job, params ingest.Params) error {
	result, err := w.ingester.IngestRepository(ctx, params)
	if err != nil {
		return err
	}
	if !result.Clean() {
		return fmt.Errorf("ingestion left %d failed files, not activating", result.FailedFiles)
	}
	return w.ingester.Activate(ctx, job.Repository, params.Ref)
}

// runSync replaces changed files in place. Records go live directly;
// there is no generation to flip.
func (w *Worker) runSync(ctx context.Context, params ingest.Params, changes []ingest.Change) error {
	params.Live = true
	result, err := w.ingester.Sync(ctx, params, changes)
	if err != nil {
		return err
	}
	if !result.Clean() {
		return fmt.Errorf("sync left %d failed files", result.FailedFiles)
	}
	return nil
}

// cloneRef picks what to pin the checkout at: the pushed commit when
// known, otherwise the branch.
func cloneRef(job queue.Job) string {
	if job.CommitSHA != "" {
		return job.CommitSHA
	}
	if ref := strings.TrimPrefix(job.Ref, "refs/heads/"); ref != "" {
		return ref
	}
	return "HEAD"
}

func (w *Worker) journalPath(repository string) string {
	if w.journalDir == "" {
		return ""
	}
	return filepath.Join(w.journalDir, vector.NamespaceForRepository(repository)+".jsonl")
}
