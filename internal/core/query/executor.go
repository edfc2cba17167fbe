package query

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/reposage/reposage/internal/core/chunk"
	"github.com/reposage/reposage/internal/core/vector"
)

// Default and bound values for retrieval options.
const (
	DefaultTopK          = 10
	MaxTopK              = 50
	DefaultPerNamespaceK = 5
	MaxPerNamespaceK     = 20
)

// Boost factors applied during reranking.
const (
	boostDirectEntity  = 1.5
	boostFileStructure = 1.4
	boostDocsPath      = 1.3
	boostDocstring     = 1.1
)

// Searcher is the slice of the vector store the executor needs.
type Searcher interface {
	Query(ctx context.Context, namespace string, values []float32, topK int, filter *vector.Filter) ([]vector.Match, error)
	Namespaces(ctx context.Context) ([]string, error)
}

// Embedder embeds strategy queries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options bound one retrieval run. Zero fields take defaults.
type Options struct {
	Repositories  []string
	TopK          int
	PerNamespaceK int
	MinScore      float64
}

func (o Options) normalized() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	o.TopK = min(o.TopK, MaxTopK)
	if o.PerNamespaceK <= 0 {
		o.PerNamespaceK = DefaultPerNamespaceK
	}
	o.PerNamespaceK = min(o.PerNamespaceK, MaxPerNamespaceK)
	return o
}

// Hit is one fused result.
type Hit struct {
	Record   *chunk.Record
	Score    float64
	Strategy string
}

// Executor fans strategies out across namespaces and fuses the results.
type Executor struct {
	store    Searcher
	embedder Embedder
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an Executor.
func NewExecutor(store Searcher, embedder Embedder, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:    store,
		embedder: embedder,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every strategy against every selected namespace. A
// failing (namespace, strategy) pair is logged and skipped; only when
// every pair fails does the executor fall back to a plain vector
// search before giving up.
func (e *Executor) Execute(ctx context.Context, a *Analysis, strategies []Strategy, opts Options) ([]Hit, error) {
	opts = opts.normalized()

	namespaces, err := e.selectNamespaces(ctx, opts.Repositories)
	if err != nil {
		return nil, err
	}
	if len(namespaces) == 0 {
		return nil, nil
	}

	embeddings, err := e.embedQueries(ctx, strategies)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		raw      []Hit
		failures int
	)
	attempts := len(namespaces) * len(strategies)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(namespaces))
	for _, ns := range namespaces {
		for _, strat := range strategies {
			g.Go(func() error {
				filter := strat.Filter
				matches, err := e.store.Query(gctx, ns, embeddings[strat.Query], opts.PerNamespaceK, &filter)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures++
					e.logger.WarnContext(gctx, "strategy failed",
						slog.String("namespace", ns),
						slog.String("strategy", strat.Name),
						slog.String("error", err.Error()))
					return nil
				}
				for _, m := range matches {
					raw = append(raw, Hit{Record: m.Metadata, Score: m.Score * strat.Confidence, Strategy: strat.Name})
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if failures == attempts {
		raw, err = e.fallbackSearch(ctx, a.Query, namespaces, opts)
		if err != nil {
			return nil, fmt.Errorf("all strategies failed: %w", err)
		}
	}

	return fuse(a, raw, opts), nil
}

func (e *Executor) selectNamespaces(ctx context.Context, repositories []string) ([]string, error) {
	if len(repositories) > 0 {
		namespaces := make([]string, 0, len(repositories))
		for _, repo := range repositories {
			namespaces = append(namespaces, vector.NamespaceForRepository(repo))
		}
		return namespaces, nil
	}
	return e.store.Namespaces(ctx)
}

// embedQueries embeds each distinct strategy query once.
func (e *Executor) embedQueries(ctx context.Context, strategies []Strategy) (map[string][]float32, error) {
	embeddings := make(map[string][]float32, len(strategies))
	for _, strat := range strategies {
		if _, ok := embeddings[strat.Query]; ok {
			continue
		}
		vec, err := e.embedder.Embed(ctx, strat.Query)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		embeddings[strat.Query] = vec
	}
	return embeddings, nil
}

// fallbackSearch is the last resort: an unfiltered similarity search
// per namespace at full confidence.
func (e *Executor) fallbackSearch(ctx context.Context, queryText string, namespaces []string, opts Options) ([]Hit, error) {
	vec, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for _, ns := range namespaces {
		matches, err := e.store.Query(ctx, ns, vec, opts.PerNamespaceK, nil)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			hits = append(hits, Hit{Record: m.Metadata, Score: m.Score, Strategy: StrategySemantic})
		}
	}
	return hits, nil
}

// fuse deduplicates by (file_path, line_start), applies boosts, caps
// scores at 1.0, and returns the topK above the score floor.
func fuse(a *Analysis, raw []Hit, opts Options) []Hit {
	type key struct {
		filePath  string
		lineStart int
	}

	best := make(map[key]Hit)
	for _, h := range raw {
		if h.Record == nil {
			continue
		}
		h.Score = min(h.Score*boostFor(a, h), 1.0)
		k := key{h.Record.FilePath, h.Record.LineStart}
		if prev, ok := best[k]; !ok || h.Score > prev.Score {
			best[k] = h
		}
	}

	hits := make([]Hit, 0, len(best))
	for _, h := range best {
		if h.Score >= opts.MinScore {
			hits = append(hits, h)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.FilePath < hits[j].Record.FilePath
	})

	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits
}

func boostFor(a *Analysis, h Hit) float64 {
	boost := 1.0
	if h.Strategy == StrategyDirectEntity {
		boost *= boostDirectEntity
	}
	if h.Strategy == StrategyFileStructure && a.Type == QueryTypeFileSearch {
		boost *= boostFileStructure
	}
	if isDocsPath(h.Record) {
		boost *= boostDocsPath
	}
	if h.Record.HasDocstring {
		boost *= boostDocstring
	}
	return boost
}

func isDocsPath(rec *chunk.Record) bool {
	if rec.FileType == chunk.FileTypeDocs {
		return true
	}
	lower := strings.ToLower(rec.FilePath)
	if strings.Contains(path.Base(lower), "readme") {
		return true
	}
	return strings.HasPrefix(lower, "docs/") || strings.Contains(lower, "/docs/")
}
