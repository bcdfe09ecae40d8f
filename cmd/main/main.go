package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/channel"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/config"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/httpapi"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/ingest"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/jetstream"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/observer"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/reply"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/storage"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/usecase"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Workspace.DefaultRegion != "" {
		utils.DefaultPhoneRegion = cfg.Workspace.DefaultRegion
	}

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting messaging pipeline",
		zap.String("environment", cfg.Environment),
		zap.String("workspace_id", cfg.Workspace.ID),
		zap.String("nats_url", cfg.NATS.URL),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Initialize JetStream client
	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// Repository adapters for the services
	contactRepo := storage.NewContactRepoAdapter(postgresRepo)
	leadRepo := storage.NewLeadRepoAdapter(postgresRepo)
	conversationRepo := storage.NewConversationRepoAdapter(postgresRepo)
	messageRepo := storage.NewMessageRepoAdapter(postgresRepo)
	jobRepo := storage.NewJobRepoAdapter(postgresRepo)
	outboundLogRepo := storage.NewOutboundLogRepoAdapter(postgresRepo)
	taskRepo := storage.NewTaskRepoAdapter(postgresRepo)

	// Provider clients for the enabled channels
	senders, err := buildSenders(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize channel clients", zap.Error(err))
	}

	// Reply generator
	generator, err := reply.NewHTTPGenerator(cfg.Reply.URL, cfg.Reply.Token, cfg.Reply.Timeout)
	if err != nil {
		logger.Log.Fatal("Failed to initialize reply generator", zap.Error(err))
	}

	// Core services
	inboundService := usecase.NewInboundService(contactRepo, leadRepo, conversationRepo, messageRepo, jobRepo, cfg.Runner.MaxAttempts)
	outboundSender := usecase.NewOutboundSender(outboundLogRepo, senders)
	runner, err := usecase.NewJobRunner(jobRepo, conversationRepo, messageRepo, contactRepo, leadRepo, taskRepo,
		generator, outboundSender, cfg, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize job runner", zap.Error(err))
	}

	// Webhook consumer: route every ingest subject to the admission handler
	router := ingest.NewRouter()
	webhookHandler := ingest.NewWebhookHandler(inboundService, messageRepo)
	router.Register(model.V1WebhookWhatsApp, webhookHandler.Handle)
	router.Register(model.V1WebhookInstagram, webhookHandler.Handle)
	router.Register(model.V1WebhookFacebook, webhookHandler.Handle)
	router.Register(model.V1WebhookLeadAds, webhookHandler.Handle)

	consumer := ingest.NewWebhookConsumer(jsClient, router, cfg.NATS.Webhook, cfg.Workspace.ID)
	if err := consumer.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up webhook consumer", zap.Error(err))
	}

	// HTTP server: webhook edge, admin surface, health and metrics
	server := httpapi.NewServer(cfg, jsClient, runner, jobRepo, taskRepo, contactRepo, logger.Log)
	server.RegisterReadyCheck("postgres", postgresRepo.Ping)
	server.RegisterReadyCheck("nats", func(ctx context.Context) error {
		if !jsClient.NatsConn().IsConnected() {
			return fmt.Errorf("nats connection is down")
		}
		return nil
	})
	if cfg.Metrics.Enabled {
		server.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	}

	if err := consumer.Start(); err != nil {
		logger.Log.Fatal("Failed to start webhook consumer", zap.Error(err))
	}

	serverErrChan := make(chan error, 1)
	utils.SafeGo(func() {
		serverErrChan <- server.Start()
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("Panic in HTTP server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
	})

	logger.Log.Info("HTTP endpoints available",
		zap.String("webhooks", fmt.Sprintf("http://localhost:%d/webhooks/{channel}", cfg.Server.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	// Wait for termination signal or server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))
	case err := <-serverErrChan:
		if err != nil {
			logger.Log.Error("HTTP server stopped unexpectedly, initiating shutdown", zap.Error(err))
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(3)

	// Stop the webhook consumer and the runner pool
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping webhook consumer")
		start := time.Now()
		consumer.Stop()
		runner.Stop()
		logger.Log.Info("[shutdown] Webhook consumer and runner stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping consumer",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Stop the HTTP server
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping HTTP server")
		start := time.Now()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping HTTP server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] HTTP server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping HTTP server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Close database and broker connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsStart := time.Now()
		jsClient.Close()
		logger.Log.Info("[shutdown] JetStream connection closed",
			zap.Duration("duration", time.Since(jsStart)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Messaging pipeline shutdown complete")
}

// buildSenders creates one provider client per enabled channel.
func buildSenders(cfg *config.Config) (channel.Senders, error) {
	senders := channel.Senders{}

	if cfg.Channels.WhatsApp.Enabled {
		client, err := channel.NewWhatsAppClient(cfg.Channels.WhatsApp, cfg.Runner.SendTimeout)
		if err != nil {
			return nil, fmt.Errorf("whatsapp client: %w", err)
		}
		senders[model.ChannelWhatsApp] = client
	}
	if cfg.Channels.Instagram.Enabled {
		client, err := channel.NewMessengerClient("instagram", cfg.Channels.Instagram, cfg.Runner.SendTimeout)
		if err != nil {
			return nil, fmt.Errorf("instagram client: %w", err)
		}
		senders[model.ChannelInstagram] = client
	}
	if cfg.Channels.Facebook.Enabled {
		client, err := channel.NewMessengerClient("facebook", cfg.Channels.Facebook, cfg.Runner.SendTimeout)
		if err != nil {
			return nil, fmt.Errorf("facebook client: %w", err)
		}
		senders[model.ChannelFacebook] = client
	}

	return senders, nil
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initJetStreamClient connects to NATS; stream and consumer setup is handled
// by the webhook consumer's Setup.
func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	return client, nil
}
