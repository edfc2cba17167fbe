package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/reposage/reposage/internal/core/query"
	"github.com/reposage/reposage/internal/core/webhook"
	"github.com/reposage/reposage/internal/infra/postgres"
	"github.com/reposage/reposage/internal/interface/httpapi"
)

const shutdownTimeout = 10 * time.Second

// ServeAction runs the webhook and query HTTP server.
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if appCtx.Config.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is not configured")
	}

	ledger := postgres.NewDeliveryLedger(appCtx.Database.Pool)
	if err := ledger.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate delivery ledger: %w", err)
	}

	q, err := appCtx.newQueue(ctx)
	if err != nil {
		return err
	}

	receiver := webhook.NewReceiver(appCtx.Config.Webhook.Secret, ledger, q,
		webhook.WithBranch(appCtx.Config.Webhook.Branch),
		webhook.WithReceiverLogger(appCtx.Logger))

	llm, embedder, err := appCtx.newOpenAI()
	if err != nil {
		return err
	}
	answerer := query.NewService(appCtx.Store, embedder, llm,
		query.WithServiceLogger(appCtx.Logger))

	server := httpapi.NewServer(receiver, answerer, appCtx.Store,
		httpapi.WithServerLogger(appCtx.Logger))

	httpServer := &http.Server{
		Addr:    appCtx.Config.Server.Addr,
		Handler: server.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appCtx.Logger.Error("shutdown failed", slog.String("error", err.Error()))
		}
	}()

	appCtx.Logger.Info("server listening", slog.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
