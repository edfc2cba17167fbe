package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposage/reposage/internal/core/chunk"
	"github.com/reposage/reposage/internal/core/vector"
)

// stubSearcher serves canned matches per namespace, optionally failing
// whole namespaces.
type stubSearcher struct {
	namespaces []string
	matches    map[string][]vector.Match
	failAll    bool
	failCount  int
}

func (s *stubSearcher) Query(ctx context.Context, namespace string, values []float32, topK int, filter *vector.Filter) ([]vector.Match, error) {
	if s.failAll {
		s.failCount++
		return nil, fmt.Errorf("store down")
	}
	return s.matches[namespace], nil
}

func (s *stubSearcher) Namespaces(ctx context.Context) ([]string, error) {
	return s.namespaces, nil
}

type stubQueryEmbedder struct{}

func (stubQueryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func match(repo, filePath string, lineStart int, score float64) vector.Match {
	return vector.Match{
		ID:    fmt.Sprintf("%s-%s-%d", repo, filePath, lineStart),
		Score: score,
		Metadata: &chunk.Record{
			Repository: repo,
			FilePath:   filePath,
			LineStart:  lineStart,
			Content:    "content of " + filePath,
			FileType:   chunk.FileTypeCode,
		},
	}
}

func TestExecuteFusesAcrossNamespaces(t *testing.T) {
	store := &stubSearcher{
		namespaces: []string{"acme--alpha", "acme--beta"},
		matches: map[string][]vector.Match{
			"acme--alpha": {match("acme/alpha", "src/chunker.py", 1, 0.9)},
			"acme--beta":  {match("acme/beta", "src/unrelated.py", 1, 0.5)},
		},
	}
	executor := NewExecutor(store, stubQueryEmbedder{})
	planner := NewPlanner()

	a, strategies := planner.Plan("where is the chunker?")
	require.Equal(t, QueryTypeFileSearch, a.Type)

	hits, err := executor.Execute(t.Context(), a, strategies, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	assert.Equal(t, "src/chunker.py", hits[0].Record.FilePath)
	assert.Equal(t, "acme/alpha", hits[0].Record.Repository)
	assert.Greater(t, hits[0].Score, hits[len(hits)-1].Score)
}

func TestExecuteDeduplicatesByLocation(t *testing.T) {
	// Both strategies return the same chunk; only the best-scoring copy
	// survives.
	store := &stubSearcher{
		namespaces: []string{"acme--alpha"},
		matches: map[string][]vector.Match{
			"acme--alpha": {match("acme/alpha", "a.py", 10, 0.8)},
		},
	}
	executor := NewExecutor(store, stubQueryEmbedder{})

	a := &Analysis{Query: "q", Type: QueryTypeCodeSearch}
	strategies := []Strategy{
		{Name: StrategySemantic, Confidence: 0.7, Query: "q"},
		{Name: StrategyContextual, Confidence: 0.8, Query: "q expanded"},
	}

	hits, err := executor.Execute(t.Context(), a, strategies, Options{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.8*0.8, hits[0].Score, 0.001)
}

func TestExecuteScoreCapAndBoosts(t *testing.T) {
	store := &stubSearcher{
		namespaces: []string{"acme--alpha"},
		matches: map[string][]vector.Match{
			"acme--alpha": {match("acme/alpha", "README.md", 1, 0.95)},
		},
	}
	executor := NewExecutor(store, stubQueryEmbedder{})

	a := &Analysis{Query: "q", Type: QueryTypeConceptual}
	strategies := []Strategy{{Name: StrategyDirectEntity, Confidence: 0.9, Query: "q"}}

	hits, err := executor.Execute(t.Context(), a, strategies, Options{})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// 0.95 × 0.9 × 1.5 × 1.3 would exceed 1.0; the cap holds.
	assert.Equal(t, 1.0, hits[0].Score)
}

func TestExecuteMinScoreAndTopK(t *testing.T) {
	var matches []vector.Match
	for i := range 30 {
		matches = append(matches, match("acme/alpha", fmt.Sprintf("f%02d.py", i), 1, 1.0-float64(i)*0.03))
	}
	store := &stubSearcher{
		namespaces: []string{"acme--alpha"},
		matches:    map[string][]vector.Match{"acme--alpha": matches},
	}
	executor := NewExecutor(store, stubQueryEmbedder{})

	a := &Analysis{Query: "q", Type: QueryTypeCodeSearch}
	strategies := []Strategy{{Name: StrategySemantic, Confidence: 1.0, Query: "q"}}

	hits, err := executor.Execute(t.Context(), a, strategies, Options{TopK: 5, PerNamespaceK: 30})
	require.NoError(t, err)
	assert.Len(t, hits, 5)

	hits, err = executor.Execute(t.Context(), a, strategies, Options{TopK: 50, PerNamespaceK: 30, MinScore: 0.9})
	require.NoError(t, err)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.9)
	}
}

func TestExecuteScopesToRequestedRepositories(t *testing.T) {
	store := &stubSearcher{
		namespaces: []string{"acme--alpha", "acme--beta"},
		matches: map[string][]vector.Match{
			"acme--alpha": {match("acme/alpha", "a.py", 1, 0.9)},
			"acme--beta":  {match("acme/beta", "b.py", 1, 0.9)},
		},
	}
	executor := NewExecutor(store, stubQueryEmbedder{})

	a := &Analysis{Query: "q", Type: QueryTypeCodeSearch}
	strategies := []Strategy{{Name: StrategySemantic, Confidence: 0.7, Query: "q"}}

	hits, err := executor.Execute(t.Context(), a, strategies, Options{
		Repositories: []string{"acme/beta"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b.py", hits[0].Record.FilePath)
}

func TestExecuteAllStrategiesFailFallsBack(t *testing.T) {
	store := &stubSearcher{
		namespaces: []string{"acme--alpha"},
		failAll:    true,
	}
	executor := NewExecutor(store, stubQueryEmbedder{})

	a := &Analysis{Query: "q", Type: QueryTypeCodeSearch}
	strategies := []Strategy{{Name: StrategySemantic, Confidence: 0.7, Query: "q"}}

	_, err := executor.Execute(t.Context(), a, strategies, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all strategies failed")

	// The fallback issued its own query attempt per namespace.
	assert.Greater(t, store.failCount, 1)
}

func TestIsDocsPath(t *testing.T) {
	assert.True(t, isDocsPath(&chunk.Record{FilePath: "README.md", FileType: chunk.FileTypeDocs}))
	assert.True(t, isDocsPath(&chunk.Record{FilePath: "pkg/Readme.txt", FileType: chunk.FileTypeCode}))
	assert.True(t, isDocsPath(&chunk.Record{FilePath: "docs/guide.html", FileType: chunk.FileTypeMarkup}))
	assert.False(t, isDocsPath(&chunk.Record{FilePath: "src/main.py", FileType: chunk.FileTypeCode}))
}
