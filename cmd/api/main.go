package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gymbook/internal/api"
	"gymbook/internal/config"
	"gymbook/internal/database"
	"gymbook/internal/domain"
	"gymbook/internal/eligibility"
	"gymbook/internal/events"
	"gymbook/internal/google"
	"gymbook/internal/logging"
	"gymbook/internal/metrics"
	"gymbook/internal/notify"
	"gymbook/internal/repository"
	"gymbook/internal/schedule"
	"gymbook/internal/service"
	"gymbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	loc, err := cfg.Schedule.Location()
	if err != nil {
		return fmt.Errorf("schedule timezone: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	eventBus := events.NewEventBus(logging.Component(logger, "events"))
	startAuditMirror(ctx, cfg, redisClient, eventBus, logger)
	startNotifier(ctx, cfg, eventBus, logger)

	engine := eligibility.NewEngine(eligibility.RulesFromConfig(cfg.Rules), loc)
	bookings := service.NewBookingService(db, engine, eventBus, logging.Component(logger, "booking"))
	audit := service.NewAuditService(db, eventBus, logging.Component(logger, "audit"))

	generator := schedule.NewGenerator(db, cfg.Schedule, loc, logging.Component(logger, "schedule"))
	go generator.Run(ctx)

	backup := database.NewBackupService(db, cfg.Backup, logger)
	go backup.Start(ctx)

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Bookings:  bookings,
		Audit:     audit,
		Generator: generator,
		Reader:    db,
		Guard:     initGuard(redisClient, logger),
		GuardCfg:  cfg.Guard,
		Location:  loc,
	}, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, &logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initGuard prefers Redis and falls back to process memory when it is down
// or not configured.
func initGuard(redisClient *redis.Client, logger *zerolog.Logger) domain.RequestGuard {
	memory := repository.NewMemoryGuard()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverGuard(repository.NewRedisGuard(redisClient), memory, logging.Component(logger, "guard"))
}

func startAuditMirror(ctx context.Context, cfg *config.Config, redisClient *redis.Client, bus *events.EventBus, logger *zerolog.Logger) {
	if !cfg.Google.Enabled {
		return
	}

	sheet, err := google.NewAuditSheet(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.AuditSpreadSheetID, cfg.Google.AuditSheetName)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without audit mirror")
		return
	}
	if err := sheet.EnsureHeader(ctx); err != nil {
		if email, emailErr := google.ServiceAccountEmail(cfg.Google.GoogleCredentialsFile); emailErr == nil {
			logger.Warn().Err(err).Str("service_account", email).Msg("audit sheet is not writable; share it with the service account")
		} else {
			logger.Warn().Err(err).Msg("audit sheet is not writable")
		}
		return
	}

	w := worker.NewAuditSyncWorker(sheet, redisClient, worker.RetryPolicy{MaxRetries: cfg.Google.MaxRetries}, logger)
	bus.Subscribe(events.EventAuditRecorded, w.HandleEvent)
	go w.Start(ctx)

	logger.Info().Str("sheet", cfg.Google.AuditSheetName).Msg("audit mirror started")
}

func startNotifier(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	if !cfg.Telegram.Enabled {
		return
	}

	bot, err := notify.NewBotAPI(cfg.Telegram)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return
	}

	n := notify.NewNotifier(bot, cfg.Telegram.AdminChatID, logger)
	n.Subscribe(bus)
	go n.Start(ctx)
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier started")
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().
		Bool("grpc", grpcServer != nil).
		Int("grpc_port", cfg.API.GRPC.Port).
		Bool("http", cfg.API.HTTP.Enabled).
		Int("http_port", cfg.API.HTTP.Port).
		Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
