package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"coingate/internal/adapter/api"
	"coingate/internal/adapter/auth"
	"coingate/internal/adapter/client"
	"coingate/internal/config"
	"coingate/internal/domain/entity"
	"coingate/internal/domain/repository"
	"coingate/internal/usecase"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(config.Load())
	},
}

func serve(cfg config.Config) error {
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledgerStore, rdb, err := openLedgerStore(cfg)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	ledger := usecase.NewLedger(ledgerStore, logger, usecase.LedgerOptions{
		SignupBonus:       cfg.Coins.SignupBonus,
		IdempotencyWindow: cfg.Coins.IdempotencyWindow,
	})

	providers, gc := buildProviders(ctx, cfg.Providers, logger)
	if len(providers) == 0 {
		logger.Warn("no providers configured, every AI request will fail")
	}
	orchestrator := usecase.NewFallbackOrchestrator(logger, providers...)

	var cache *usecase.SemanticCache
	if gc != nil {
		if vs := newVectorStore(ctx, cfg, logger); vs != nil {
			cache = usecase.NewSemanticCache(vs, client.NewEmbedderFromClient(gc, cfg.EmbeddingModel, embeddingDim), 0, logger)
		}
	}

	var verifier repository.IdentityVerifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.JWTSecret)
	} else {
		logger.Warn("JWT_SECRET not set, resume feedback and coin endpoints will reject every request")
	}

	sanitizer := usecase.NewSanitizer(usecase.SanitizerLimits{
		MaxMessages:     cfg.Limits.MaxMessages,
		MaxMessageChars: cfg.Limits.MaxMessageChars,
	})
	guard := usecase.NewTrafficGuard(newLimiter(cfg, rdb), 0, logger)

	discover := usecase.NewDiscoverService(sanitizer, guard, orchestrator, ledger, usecase.DiscoverConfig{
		Cost:           cfg.Coins.DiscoverCost,
		MaxTokens:      cfg.Providers.MaxTokens,
		AttemptTimeout: cfg.Providers.AttemptTimeout,
	}, logger)
	resume := usecase.NewResumeService(sanitizer, guard, orchestrator, ledger, verifier, cache, usecase.ResumeConfig{
		Cost:           cfg.Coins.ResumeCost,
		MaxTokens:      cfg.Providers.MaxTokens,
		AttemptTimeout: cfg.Providers.AttemptTimeout,
	}, logger)

	app := fiber.New(fiber.Config{
		AppName:               "coingate",
		DisableStartupMessage: true,
		BodyLimit:             8 * 1024 * 1024,
	})
	api.SetupRouter(app, api.NewHandler(api.HandlerDeps{
		Discover:     discover,
		Resume:       resume,
		Ledger:       ledger,
		Identity:     verifier,
		Orchestrator: orchestrator,
		Production:   cfg.Production(),
		Logger:       logger,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gateway listening", "port", cfg.Port, "providers", orchestrator.Providers(), "ledger", cfg.LedgerBackend, "mode", cfg.Deployment)
		if err := app.Listen(":" + cfg.Port); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(5 * time.Second)
	})
	g.Go(func() error {
		warmUp(gctx, orchestrator, logger)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// warmUp wakes the primary provider so the first real request is not cold.
func warmUp(ctx context.Context, o *usecase.FallbackOrchestrator, logger *slog.Logger) {
	if len(o.Providers()) == 0 {
		return
	}
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	c, err := o.Execute(warmCtx, entity.ProviderRequest{
		Messages:  []entity.ConversationMessage{{Role: entity.RoleUser, Content: "."}},
		MaxTokens: 8,
		Timeout:   20 * time.Second,
	})
	if err != nil {
		logger.Warn("warm-up failed", "error", err)
		return
	}
	logger.Info("warm-up complete", "provider", c.ProviderID, "latency", c.Latency)
}
