// Package httpapi exposes the webhook and query endpoints over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reposage/reposage/internal/core/query"
	"github.com/reposage/reposage/internal/core/vector"
	"github.com/reposage/reposage/internal/core/webhook"
)

// maxWebhookBody bounds how much of a delivery we buffer.
const maxWebhookBody = 5 << 20

// Answerer answers one question over the indexed repositories.
type Answerer interface {
	Answer(ctx context.Context, queryText string, opts query.Options) (string, error)
}

// NamespaceLister lists the indexed namespaces.
type NamespaceLister interface {
	Namespaces(ctx context.Context) ([]string, error)
}

// Server wires the HTTP surface.
type Server struct {
	engine   *gin.Engine
	receiver *webhook.Receiver
	answerer Answerer
	store    NamespaceLister
	logger   *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a Server and registers its routes.
func NewServer(receiver *webhook.Receiver, answerer Answerer, store NamespaceLister, opts ...ServerOption) *Server {
	s := &Server{
		receiver: receiver,
		answerer: answerer,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), corsMiddleware())

	engine.GET("/health", s.handleHealth)
	engine.POST("/webhook/github", s.handleWebhook)
	engine.POST("/query", s.handleQuery)
	engine.GET("/repositories", s.handleRepositories)

	s.engine = engine
	return s
}

// Handler returns the http.Handler for serving and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	outcome, err := s.receiver.HandlePush(c.Request.Context(),
		c.GetHeader("X-GitHub-Event"),
		c.GetHeader("X-GitHub-Delivery"),
		c.GetHeader("X-Hub-Signature-256"),
		body)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrInvalidSignature):
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		case errors.Is(err, webhook.ErrInvalidPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		default:
			s.logger.ErrorContext(c.Request.Context(), "webhook failed",
				slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process delivery"})
		}
		return
	}

	switch outcome {
	case webhook.OutcomeDuplicate:
		c.JSON(http.StatusAccepted, gin.H{"status": string(outcome)})
	default:
		c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
	}
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Query         string   `json:"query" binding:"required"`
	Repositories  []string `json:"repositories"`
	TopK          int      `json:"top_k"`
	PerNamespaceK int      `json:"per_namespace_k"`
	MinScore      float64  `json:"min_score"`
}

// QueryResponse is the answer to one query.
type QueryResponse struct {
	Content string `json:"content"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	content, err := s.answerer.Answer(c.Request.Context(), req.Query, query.Options{
		Repositories:  req.Repositories,
		TopK:          req.TopK,
		PerNamespaceK: req.PerNamespaceK,
		MinScore:      req.MinScore,
	})
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "query failed",
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to answer query"})
		return
	}

	c.JSON(http.StatusOK, QueryResponse{Content: content})
}

// RepositoriesResponse lists the indexed repositories.
type RepositoriesResponse struct {
	Repositories []string `json:"repositories"`
}

func (s *Server) handleRepositories(c *gin.Context) {
	namespaces, err := s.store.Namespaces(c.Request.Context())
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "failed to list namespaces",
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list repositories"})
		return
	}

	repos := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		repos = append(repos, vector.RepositoryForNamespace(ns))
	}
	c.JSON(http.StatusOK, RepositoriesResponse{Repositories: repos})
}
