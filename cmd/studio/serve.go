package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/digkill/msai-studio/internal/alert"
	"github.com/digkill/msai-studio/internal/auth"
	"github.com/digkill/msai-studio/internal/fal"
	"github.com/digkill/msai-studio/internal/httpapi"
	"github.com/digkill/msai-studio/internal/jobs"
	"github.com/digkill/msai-studio/internal/repository"
	"github.com/digkill/msai-studio/internal/service"
	"github.com/digkill/msai-studio/internal/storage"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the archive worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, ctx)
		},
	}
}

func serve(ctx context.Context, cc *commandContext) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	logr := cc.log

	db, err := cc.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	var alerts alert.Notifier = alert.NewLogNotifier(logr)
	if cfg.TelegramAlertBotToken != "" {
		alerts = alert.NewTelegramNotifier(cfg.TelegramAlertBotToken, cfg.TelegramAlertChatID, logr)
	}

	store, err := storage.NewStore(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	falClient := fal.NewClient(fal.Config{
		APIKey:       cfg.FalKey,
		QueueURL:     cfg.FalQueueURL,
		PollInterval: cfg.FalPollInterval,
		MaxPolls:     cfg.FalMaxPolls,
		Timeout:      cfg.RequestTimeout,
		AllowedHosts: cfg.PollAllowedHosts,
	}, logr)

	userRepo := repository.NewUserRepository(db)
	planRepo := repository.NewPlanRepository(db)

	planService := service.NewPlanService(cfg.PaymentCurrency, planRepo)
	if err := planService.EnsureDefaultPlans(ctx); err != nil {
		return fmt.Errorf("ensure default plans: %w", err)
	}

	ledger := service.NewLedgerService(db, userRepo)
	archive := service.NewArchiveService(service.ArchiveConfig{
		MaxAttempts: cfg.ArchiveMaxAttempts,
		Workers:     cfg.ArchiveWorkers,
	}, repository.NewArchiveRepository(db), store, alerts, logr)

	payments := service.NewPaymentService(service.PaymentConfig{
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.StripeSuccessURL,
		CancelURL:     cfg.StripeCancelURL,
	}, db, repository.NewPurchaseRepository(db), userRepo, planRepo, service.NewStripeCheckout(cfg.StripeSecretKey), alerts, logr)

	generations := service.NewGenerationService(logr, ledger, repository.NewGenerationRepository(db), falClient, archive, alerts, cfg.GenerationTimeout)

	scheduler, err := jobs.NewScheduler(cfg.ArchiveSweepSchedule, archive, logr)
	if err != nil {
		return err
	}
	archive.Start(ctx)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := httpapi.NewServer(httpapi.Config{
		Addr:              cfg.HTTPListenAddr,
		WriteTimeout:      cfg.GenerationTimeout + cfg.RequestTimeout,
		UploadMaxBytes:    cfg.UploadMaxBytes,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		TrustProxy:        cfg.TrustProxy,
	}, logr, httpapi.Services{
		Tokens:      auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Users:       service.NewUserService(userRepo, cfg.StartingCredits),
		Ledger:      ledger,
		Plans:       planService,
		Payments:    payments,
		Generations: generations,
		Archive:     archive,
		Promos:      service.NewPromoService(db, repository.NewPromoRepository(db), userRepo, cfg.PromoBonusCredits),
		Relay:       falClient,
		Files:       store,
	})

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
