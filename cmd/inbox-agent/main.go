package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/vipul43/inbox-agent/internal/config"
	"github.com/vipul43/inbox-agent/internal/credential"
	"github.com/vipul43/inbox-agent/internal/database"
	"github.com/vipul43/inbox-agent/internal/gmail"
	"github.com/vipul43/inbox-agent/internal/googletasks"
	"github.com/vipul43/inbox-agent/internal/httpapi"
	"github.com/vipul43/inbox-agent/internal/openrouter"
	"github.com/vipul43/inbox-agent/internal/repository"
	"github.com/vipul43/inbox-agent/internal/retry"
	"github.com/vipul43/inbox-agent/internal/scheduler"
	"github.com/vipul43/inbox-agent/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Fatal("Application error", "error", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           cfg.LogLevel,
		ReportTimestamp: true,
	})

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("Database connected", "driver", db.Driver)

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		return err
	}
	if version, _, err := database.SchemaVersion(db); err == nil {
		logger.Info("Migrations completed", "version", version)
	}

	// Initialize repositories
	messageRepo := repository.NewMessageRepository(db.Gorm)
	taskRepo := repository.NewTaskRepository(db.Gorm)
	summaryRepo := repository.NewSummaryRepository(db.Gorm)
	logRepo := repository.NewProcessingLogRepository(db.X)

	// Credentials shared by both Google clients
	store, err := openCredentialStore(cfg, logger)
	if err != nil {
		return err
	}
	baseCtx := context.Background()
	if _, err := store.Current(baseCtx); err != nil {
		logger.Warn("No usable credential, run inbox-auth to grant access", "error", err)
	}

	gmailClient, err := gmail.NewClient(baseCtx, store.TokenSource(baseCtx, credential.APIMail), logger)
	if err != nil {
		return err
	}
	tasksClient, err := googletasks.NewClient(baseCtx, store.TokenSource(baseCtx, credential.APITasks), cfg.DefaultTaskListName, logger)
	if err != nil {
		return err
	}

	aiClient := openrouter.NewClient(cfg.OpenRouterAPIKey)
	aiClient.SetModel(cfg.OpenRouterModel)
	if !cfg.HasAI() {
		logger.Warn("OPENROUTER_API_KEY not set, analysis will use fallback values")
	}

	// Initialize services
	policy := retry.Policy{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay}
	fetcher := service.NewMailFetcher(gmailClient, messageRepo, service.FetchSettings{
		UnreadOnly: cfg.ProcessUnreadOnly,
		Starred:    cfg.ProcessStarred,
	}, store, policy, logger)
	pipeline := service.NewAnalysisPipeline(aiClient, rate.NewLimiter(rate.Every(cfg.AICallInterval), 1), cfg.AICostPerToken, logger)
	syncEngine := service.NewTaskSyncEngine(tasksClient, taskRepo, logRepo, store, policy, logger)

	var notifier service.Notifier = service.NewLogNotifier(logger)
	if cfg.NotifyEmail != "" {
		notifier = service.NewMailNotifier(gmailClient, cfg.NotifyEmail, store, policy)
	}

	now := func() time.Time { return time.Now().In(cfg.Location) }
	workflow := service.NewDailyWorkflowCoordinator(service.WorkflowDeps{
		Fetcher:   fetcher,
		Pipeline:  pipeline,
		Sync:      syncEngine,
		Messages:  messageRepo,
		Tasks:     taskRepo,
		Summaries: summaryRepo,
		Logs:      logRepo,
		Mail:      gmailClient,
		Notifier:  notifier,
	}, service.WorkflowSettings{
		MaxEmails:  cfg.GmailMaxEmails,
		HoursBack:  cfg.FetchHoursBack,
		Workers:    cfg.WorkerCount,
		MarkAsRead: cfg.MarkAsRead,
	}, now, logger)
	health := service.NewHealthChecker(db, aiClient, tasksClient, gmailClient, logRepo, logger)
	cleaner := service.NewCleaner(messageRepo, logRepo, cfg.EmailRetentionDays, cfg.LogRetentionDays, logger)

	// Initialize scheduler
	sched := scheduler.New(cfg.Location, logRepo, cfg.ManualTriggerDelay, logger)
	err = sched.RegisterAll(scheduler.Builtins(scheduler.Jobs{
		Workflow: workflow,
		Sync:     syncEngine,
		Health:   health,
		Cleaner:  cleaner,
	}, cfg.EmailProcessingSchedule, cfg.SummarySchedule))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.New(httpapi.Deps{
			Jobs:      sched,
			Health:    health,
			Logs:      logRepo,
			Summaries: summaryRepo,
			Tasks:     taskRepo,
			TaskSync:  syncEngine,
		}, now, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sched.Start(ctx)

	// Start HTTP server in goroutine
	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		errChan <- srv.ListenAndServe()
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
		cancel()

		// Wait for graceful shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(baseCtx, time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", "error", err)
		}
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("Shutdown timeout exceeded", "error", err)
		}

		logger.Info("Application stopped")
		return nil

	case err := <-errChan:
		_ = sched.Stop(baseCtx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func openCredentialStore(cfg *config.Config, logger *log.Logger) (*credential.Store, error) {
	oauthCfg, err := credential.ConfigFromFile(cfg.GoogleCredentialsFile)
	if err != nil {
		return nil, err
	}

	var persister credential.Persister = credential.NewFileStore(cfg.GoogleTokenFile)
	if cfg.CredentialBackend == config.CredentialBackendKeyring {
		ks, err := credential.NewKeyringStore(cfg.KeyringDir, cfg.KeyringPassword)
		if err != nil {
			return nil, err
		}
		persister = ks
	}
	return credential.NewStore(oauthCfg, persister, logger), nil
}
