package query

import (
	"context"
	"log/slog"
)

// Service ties planning, retrieval, and composition into one
// question-answering entry point.
type Service struct {
	planner  *Planner
	executor *Executor
	composer *Composer
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger on the service and its parts.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a Service.
func NewService(store Searcher, embedder Embedder, llm LLM, opts ...ServiceOption) *Service {
	s := &Service{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.planner = NewPlanner(WithPlannerLogger(s.logger))
	s.executor = NewExecutor(store, embedder, WithExecutorLogger(s.logger))
	s.composer = NewComposer(llm, WithComposerLogger(s.logger))
	return s
}

// Answer plans, retrieves, and composes one answer.
func (s *Service) Answer(ctx context.Context, queryText string, opts Options) (string, error) {
	analysis, strategies := s.planner.Plan(queryText)

	hits, err := s.executor.Execute(ctx, analysis, strategies, opts)
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "query executed",
		slog.String("type", string(analysis.Type)),
		slog.Int("hits", len(hits)))
	return s.composer.Compose(ctx, queryText, hits)
}
