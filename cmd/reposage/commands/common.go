// Package commands holds the CLI actions and their shared wiring.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/reposage/reposage/internal/core/chunk"
	"github.com/reposage/reposage/internal/core/ingest"
	"github.com/reposage/reposage/internal/core/worker"
	"github.com/reposage/reposage/internal/infra/awsarchive"
	"github.com/reposage/reposage/internal/infra/awsqueue"
	"github.com/reposage/reposage/internal/infra/git"
	"github.com/reposage/reposage/internal/infra/openai"
	"github.com/reposage/reposage/internal/infra/postgres"
	"github.com/reposage/reposage/internal/platform/logger"
	"github.com/reposage/reposage/pkg/config"
	"github.com/reposage/reposage/pkg/db"
)

// AppContext holds the wiring every command needs.
type AppContext struct {
	Config   *config.Config
	Logger   *slog.Logger
	Database *db.DB
	Store    *postgres.Store
}

// NewAppContext loads configuration, connects to the database, and
// runs migrations.
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	database, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := postgres.NewStore(database.Pool,
		postgres.WithDimension(cfg.OpenAI.EmbeddingDimension),
		postgres.WithStoreLogger(appLogger))
	if err := store.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate vector store: %w", err)
	}

	return &AppContext{
		Config:   cfg,
		Logger:   appLogger,
		Database: database,
		Store:    store,
	}, nil
}

// Close releases the database pool.
func (ac *AppContext) Close() {
	if ac.Database != nil {
		ac.Database.Close()
	}
}

// newOpenAI builds the chat client and the embedder. The two sides
// share one client unless their API keys differ.
func (ac *AppContext) newOpenAI() (*openai.Client, *openai.Embedder, error) {
	chat, err := openai.NewClient(ac.Config.OpenAI.LLMAPIKey,
		openai.WithChatModel(ac.Config.OpenAI.LLMModel))
	if err != nil {
		return nil, nil, err
	}

	embedClient := chat
	if ac.Config.OpenAI.EmbeddingAPIKey != ac.Config.OpenAI.LLMAPIKey {
		embedClient, err = openai.NewClient(ac.Config.OpenAI.EmbeddingAPIKey)
		if err != nil {
			return nil, nil, err
		}
	}

	embedder, err := openai.NewEmbedder(embedClient,
		openai.WithEmbeddingModel(ac.Config.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(ac.Config.OpenAI.EmbeddingDimension))
	if err != nil {
		return nil, nil, err
	}
	return chat, embedder, nil
}

// newIngester assembles the ingestion pipeline, with S3 archiving when
// a bucket is configured.
func (ac *AppContext) newIngester(ctx context.Context, embedder ingest.Embedder) (*ingest.Ingester, error) {
	tokenizer, err := chunk.NewTokenizer()
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer: %w", err)
	}

	opts := []ingest.IngesterOption{
		ingest.WithIngestLogger(ac.Logger),
		ingest.WithWorkers(ac.Config.Ingest.Workers),
		ingest.WithOverlapTokens(ac.Config.Ingest.OverlapTokens),
	}
	if ac.Config.OpenAI.HybridEmbedding {
		opts = append(opts, ingest.WithHybridEmbedding())
	}

	if ac.Config.Archive.Bucket != "" {
		awsCfg, err := ac.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		archiver := awsarchive.NewArchiver(s3.NewFromConfig(awsCfg), ac.Config.Archive.Bucket,
			awsarchive.WithArchiverLogger(ac.Logger))
		opts = append(opts, ingest.WithArchiver(archiver))
	}

	return ingest.NewIngester(ac.Store, embedder, tokenizer, opts...), nil
}

// newQueue connects to the configured SQS queue.
func (ac *AppContext) newQueue(ctx context.Context) (*awsqueue.Queue, error) {
	if ac.Config.Queue.URL == "" {
		return nil, fmt.Errorf("QUEUE_URL is not configured")
	}
	awsCfg, err := ac.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return awsqueue.NewQueue(sqs.NewFromConfig(awsCfg), ac.Config.Queue.URL,
		awsqueue.WithQueueLogger(ac.Logger)), nil
}

func (ac *AppContext) awsConfig(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if ac.Config.Queue.Region != "" {
		opts = append(opts, awsconfig.WithRegion(ac.Config.Queue.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return cfg, nil
}

// newGitClient builds the clone client with optional SSH auth.
func (ac *AppContext) newGitClient() *git.Client {
	return git.NewClient(ac.Config.Git.SSHKeyPath, ac.Config.Git.SSHPassword)
}

// gitCloner adapts the git client to the worker's Cloner interface.
type gitCloner struct {
	client *git.Client
}

func (g gitCloner) Clone(ctx context.Context, url, ref string) (worker.Checkout, error) {
	co, err := g.client.Clone(ctx, url, ref)
	if err != nil {
		return nil, err
	}
	return co, nil
}
