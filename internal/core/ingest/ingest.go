// Package ingest turns repository checkouts into staged vector
// generations: full ingestion, incremental sync, and journal-driven
// retries.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reposage/reposage/internal/core/chunk"
	"github.com/reposage/reposage/internal/core/vector"
)

// defaultWorkers bounds concurrent per-file pipelines.
const defaultWorkers = 4

// Embedder converts chunk text into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedHybrid(ctx context.Context, content, summary, fileContext string) ([]float32, error)
	MaxBatchSize() int
}

// Archiver persists the full record set of an indexed commit.
type Archiver interface {
	Store(ctx context.Context, repository, ref string, records []*chunk.Record) error
}

// Params identifies one ingestion run over an existing checkout.
type Params struct {
	Repository string
	Ref        string
	Dir        string

	// JournalPath, when set, receives a JSONL line per file outcome.
	JournalPath string

	// Live upserts records as immediately visible instead of staging
	// them dark. Full ingestion stages dark and activates afterwards;
	// incremental sync replaces single files in place and goes live
	// directly, since a generation flip would darken untouched files
	// still carrying the previous ref.
	Live bool
}

// Result summarizes a run.
type Result struct {
	Namespace      string
	ProcessedFiles int
	TotalChunks    int
	FailedFiles    int
	DeletedPaths   int
	Duration       time.Duration
}

// Clean reports whether every file processed without error, which is
// the precondition for activating the staged generation.
func (r *Result) Clean() bool {
	return r.FailedFiles == 0
}

// Ingester drives the chunk, embed, and upsert pipeline.
type Ingester struct {
	store     vector.Store
	embedder  Embedder
	chunker   *chunk.Chunker
	assembler *chunk.Assembler
	archiver  Archiver
	workers   int
	hybrid    bool
	logger    *slog.Logger
}

type ingesterOptions struct {
	archiver Archiver
	workers  int
	overlap  int
	hybrid   bool
	logger   *slog.Logger
}

// IngesterOption configures an Ingester.
type IngesterOption func(*ingesterOptions)

// WithIngestLogger sets the logger.
func WithIngestLogger(logger *slog.Logger) IngesterOption {
	return func(o *ingesterOptions) {
		o.logger = logger
	}
}

// WithArchiver enables commit archiving.
func WithArchiver(archiver Archiver) IngesterOption {
	return func(o *ingesterOptions) {
		o.archiver = archiver
	}
}

// WithWorkers sets the per-file concurrency bound.
func WithWorkers(n int) IngesterOption {
	return func(o *ingesterOptions) {
		o.workers = n
	}
}

// WithOverlapTokens carries trailing context between adjacent chunks.
func WithOverlapTokens(n int) IngesterOption {
	return func(o *ingesterOptions) {
		o.overlap = n
	}
}

// WithHybridEmbedding embeds each chunk as a weighted blend of its
// content, a one-line summary, and a file-level context line.
func WithHybridEmbedding() IngesterOption {
	return func(o *ingesterOptions) {
		o.hybrid = true
	}
}

// NewIngester creates an Ingester. The tokenizer is shared between the
// chunker and the assembler so token counts agree everywhere.
func NewIngester(store vector.Store, embedder Embedder, tokenizer chunk.TokenCounter, opts ...IngesterOption) *Ingester {
	options := ingesterOptions{
		workers: defaultWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.workers <= 0 {
		options.workers = defaultWorkers
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Ingester{
		store:     store,
		embedder:  embedder,
		chunker:   chunk.NewChunker(tokenizer, chunk.Config{OverlapTokens: options.overlap}),
		assembler: chunk.NewAssembler(tokenizer),
		archiver:  options.archiver,
		workers:   options.workers,
		hybrid:    options.hybrid,
		logger:    options.logger,
	}
}

// IngestRepository walks the checkout and stages every file as a new
// vector generation. Per-file failures are journaled and isolated; the
// caller decides whether a non-clean result still activates.
func (s *Ingester) IngestRepository(ctx context.Context, params Params) (*Result, error) {
	start := time.Now()
	namespace := vector.NamespaceForRepository(params.Repository)

	s.logger.InfoContext(ctx, "starting ingestion",
		slog.String("repository", params.Repository),
		slog.String("ref", params.Ref),
		slog.String("namespace", namespace))

	files, err := listFiles(params.Dir)
	if err != nil {
		return nil, err
	}

	journal, err := s.openJournal(params)
	if err != nil {
		return nil, err
	}
	defer journal.close()

	result := &Result{Namespace: namespace}
	var (
		mu       sync.Mutex
		archived []*chunk.Record
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, rel := range files {
		g.Go(func() error {
			records, err := s.ingestFile(gctx, namespace, params, rel)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result.FailedFiles++
				s.logger.WarnContext(gctx, "file failed",
					slog.String("file_path", rel), slog.String("error", err.Error()))
				return journal.append(JournalEntry{
					FilePath: rel, Operation: JournalOpProcess,
					Message: err.Error(), Status: JournalStatusError,
				})
			}

			result.ProcessedFiles++
			result.TotalChunks += len(records)
			if s.archiver != nil {
				archived = append(archived, records...)
			}
			return journal.append(JournalEntry{
				FilePath: rel, Operation: JournalOpProcess, Status: JournalStatusOK,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if s.archiver != nil && len(archived) > 0 {
		if err := s.archiver.Store(ctx, params.Repository, params.Ref, archived); err != nil {
			// The vectors are already staged; a missing archive only
			// loses the audit copy.
			s.logger.WarnContext(ctx, "archive failed", slog.String("error", err.Error()))
		}
	}

	result.Duration = time.Since(start)
	s.logger.InfoContext(ctx, "ingestion finished",
		slog.String("namespace", namespace),
		slog.Int("processed_files", result.ProcessedFiles),
		slog.Int("total_chunks", result.TotalChunks),
		slog.Int("failed_files", result.FailedFiles),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// Sync applies an incremental change plan against the checkout.
// Deletes run first, then adds and modifies go through the same
// pipeline as full ingestion.
func (s *Ingester) Sync(ctx context.Context, params Params, changes []Change) (*Result, error) {
	start := time.Now()
	namespace := vector.NamespaceForRepository(params.Repository)

	journal, err := s.openJournal(params)
	if err != nil {
		return nil, err
	}
	defer journal.close()

	result := &Result{Namespace: namespace}

	var updates []string
	for _, ch := range changes {
		switch ch.Op {
		case OpDelete:
			filter := vector.Filter{FilePath: ch.Path}
			if ch.PathIsPrefix {
				filter = vector.Filter{PathPrefix: strings.TrimSuffix(ch.Path, "/") + "/"}
			}
			if err := s.store.DeleteByFilter(ctx, namespace, filter); err != nil {
				result.FailedFiles++
				if jerr := journal.append(JournalEntry{
					FilePath: ch.Path, Operation: JournalOpDelete,
					Message: err.Error(), Status: JournalStatusError,
				}); jerr != nil {
					return nil, jerr
				}
				continue
			}
			result.DeletedPaths++
			if err := journal.append(JournalEntry{
				FilePath: ch.Path, Operation: JournalOpDelete, Status: JournalStatusOK,
			}); err != nil {
				return nil, err
			}
		case OpAdd, OpModify:
			updates = append(updates, ch.Path)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, rel := range updates {
		g.Go(func() error {
			records, err := s.ingestFile(gctx, namespace, params, rel)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result.FailedFiles++
				return journal.append(JournalEntry{
					FilePath: rel, Operation: JournalOpProcess,
					Message: err.Error(), Status: JournalStatusError,
				})
			}
			result.ProcessedFiles++
			result.TotalChunks += len(records)
			return journal.append(JournalEntry{
				FilePath: rel, Operation: JournalOpProcess, Status: JournalStatusOK,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	s.logger.InfoContext(ctx, "sync finished",
		slog.String("namespace", namespace),
		slog.Int("processed_files", result.ProcessedFiles),
		slog.Int("deleted_paths", result.DeletedPaths),
		slog.Int("failed_files", result.FailedFiles),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// RetryErrors re-runs only the paths whose latest journal entry failed.
// Paths that no longer exist in the checkout are deleted instead.
func (s *Ingester) RetryErrors(ctx context.Context, params Params) (*Result, error) {
	if params.JournalPath == "" {
		return nil, fmt.Errorf("retry requires a journal path")
	}

	failed, err := ReadFailedPaths(params.JournalPath)
	if err != nil {
		return nil, err
	}

	changes := make([]Change, 0, len(failed))
	for _, rel := range failed {
		if _, err := os.Stat(filepath.Join(params.Dir, filepath.FromSlash(rel))); err != nil {
			changes = append(changes, Change{Op: OpDelete, Path: rel})
			continue
		}
		changes = append(changes, Change{Op: OpModify, Path: rel})
	}

	return s.Sync(ctx, params, changes)
}

// Activate flips the namespace to the ingested ref.
func (s *Ingester) Activate(ctx context.Context, repository, ref string) error {
	return s.store.Activate(ctx, vector.NamespaceForRepository(repository), ref)
}

// ingestFile runs one file through chunk, assemble, embed, pre-delete,
// and upsert. The pre-delete makes replays idempotent at file
// granularity.
func (s *Ingester) ingestFile(ctx context.Context, namespace string, params Params, rel string) ([]*chunk.Record, error) {
	content, err := os.ReadFile(filepath.Join(params.Dir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	strategy, fragments := s.chunker.Chunk(rel, content)

	text := chunk.NormalizeLineEndings(string(content))
	profile := strategy.EffectiveProfile(chunk.EstimateComplexity(text, strategy))

	fc := chunk.FileContext{
		Repository: params.Repository,
		Ref:        params.Ref,
		FilePath:   rel,
		FileLines:  strings.Count(text, "\n") + 1,
	}
	records := s.assembler.Assemble(fc, strategy, profile, fragments)
	if params.Live {
		for _, rec := range records {
			rec.Live = true
		}
	}
	if len(records) == 0 {
		// Empty files stage nothing, but stale vectors must still go.
		if err := s.store.DeleteByFilter(ctx, namespace, vector.Filter{FilePath: rel}); err != nil {
			return nil, fmt.Errorf("failed to delete stale vectors: %w", err)
		}
		return nil, nil
	}

	vectors, err := s.embedRecords(ctx, rel, strategy, records)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteByFilter(ctx, namespace, vector.Filter{FilePath: rel}); err != nil {
		return nil, fmt.Errorf("failed to delete stale vectors: %w", err)
	}
	if err := s.store.Upsert(ctx, namespace, vectors); err != nil {
		return nil, fmt.Errorf("failed to upsert vectors: %w", err)
	}

	return records, nil
}

// embedRecords turns assembled records into vectors, batched through
// the embedder, or chunk by chunk when hybrid embedding is on.
func (s *Ingester) embedRecords(ctx context.Context, rel string, strategy *chunk.Strategy, records []*chunk.Record) ([]vector.Vector, error) {
	vectors := make([]vector.Vector, 0, len(records))

	if s.hybrid {
		fileCtx := fileContextText(rel, strategy.Language, records)
		for _, rec := range records {
			embedding, err := s.embedder.EmbedHybrid(ctx, rec.EmbeddingText(), rec.SummaryLine(), fileCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to embed chunks: %w", err)
			}
			vectors = append(vectors, vector.Vector{
				ID:       rec.ChunkID,
				Values:   embedding,
				Metadata: rec,
			})
		}
		return vectors, nil
	}

	batch := s.embedder.MaxBatchSize()
	for start := 0; start < len(records); start += batch {
		end := min(start+batch, len(records))

		texts := make([]string, 0, end-start)
		for _, rec := range records[start:end] {
			texts = append(texts, rec.EmbeddingText())
		}

		embeddings, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks: %w", err)
		}
		for i, rec := range records[start:end] {
			vectors = append(vectors, vector.Vector{
				ID:       rec.ChunkID,
				Values:   embeddings[i],
				Metadata: rec,
			})
		}
	}
	return vectors, nil
}

// fileContextText is the file-level view shared by every chunk of a
// file during hybrid embedding: path, language, and the first few
// distinct symbols defined in it.
func fileContextText(rel, language string, records []*chunk.Record) string {
	var sb strings.Builder
	sb.WriteString("File context: ")
	sb.WriteString(rel)
	if language != "" {
		fmt.Fprintf(&sb, " (%s)", language)
	}

	seen := make(map[string]struct{})
	var symbols []string
	for _, rec := range records {
		if rec.SymbolName == "" {
			continue
		}
		if _, ok := seen[rec.SymbolName]; ok {
			continue
		}
		seen[rec.SymbolName] = struct{}{}
		symbols = append(symbols, rec.SymbolName)
		if len(symbols) == 3 {
			break
		}
	}
	if len(symbols) > 0 {
		fmt.Fprintf(&sb, ". Key symbols: %s", strings.Join(symbols, ", "))
	}
	return sb.String()
}

// runJournal makes journaling optional without nil checks at every
// call site.
type runJournal struct {
	j *Journal
}

func (s *Ingester) openJournal(params Params) (*runJournal, error) {
	if params.JournalPath == "" {
		return &runJournal{}, nil
	}
	j, err := OpenJournal(params.JournalPath)
	if err != nil {
		return nil, err
	}
	return &runJournal{j: j}, nil
}

func (r *runJournal) append(entry JournalEntry) error {
	if r.j == nil {
		return nil
	}
	return r.j.Append(entry)
}

func (r *runJournal) close() {
	if r.j != nil {
		_ = r.j.Close()
	}
}
