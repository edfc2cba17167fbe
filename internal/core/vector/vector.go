// Package vector defines the types shared between the ingestion and
// retrieval sides of the vector store.
package vector

import (
	"context"
	"strings"

	"github.com/reposage/reposage/internal/core/chunk"
)

// Vector is one embedded chunk ready for the store.
type Vector struct {
	ID       string
	Values   []float32
	Metadata *chunk.Record
}

// Match is a query hit: the stored record plus its similarity score.
type Match struct {
	ID       string
	Score    float64
	Metadata *chunk.Record
}

// Filter narrows deletes and queries. Zero fields are ignored. String
// matching is substring-based where named so; FilePath is exact.
type Filter struct {
	FilePath        string
	PathPrefix      string
	PathContains    string
	ContentContains string
	FileType        string

	// IncludeStaged widens queries to non-live vectors. Retrieval always
	// leaves this false.
	IncludeStaged bool
}

// IsZero reports whether the filter constrains anything.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Store is the namespaced vector database. Upserts are idempotent by ID;
// a missing namespace is a no-op for Delete and an empty result for Query.
type Store interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	DeleteByFilter(ctx context.Context, namespace string, filter Filter) error
	Query(ctx context.Context, namespace string, values []float32, topK int, filter *Filter) ([]Match, error)
	Namespaces(ctx context.Context) ([]string, error)

	// Activate atomically makes ref the live commit of the namespace:
	// its vectors become live, everything else goes dark.
	Activate(ctx context.Context, namespace string, ref string) error
}

// NamespaceForRepository maps a repository full name onto a store-safe
// namespace. One namespace per repository.
func NamespaceForRepository(repository string) string {
	return strings.ReplaceAll(repository, "/", "--")
}

// RepositoryForNamespace is the inverse mapping.
func RepositoryForNamespace(namespace string) string {
	return strings.ReplaceAll(namespace, "--", "/")
}
