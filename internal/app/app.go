// Package app wires configuration, storage and services into runnable processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hitoshi/authcore/internal/auth"
	"github.com/hitoshi/authcore/internal/config"
	"github.com/hitoshi/authcore/internal/database"
	"github.com/hitoshi/authcore/internal/handler"
	"github.com/hitoshi/authcore/internal/logger"
	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/middleware"
	"github.com/hitoshi/authcore/internal/notify"
	"github.com/hitoshi/authcore/internal/repository"
	"github.com/hitoshi/authcore/internal/security"
	"github.com/hitoshi/authcore/internal/worker/cleanup"
)

// Init loads .env when present, reads the Config and builds the logger,
// which also becomes zap's global logger. Logs go to w.
func Init(w io.Writer) (*config.Config, *zap.Logger, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.SetupDefault(w, logger.Config{Level: cfg.LogLevel, Dev: cfg.LogDev})
	return cfg, log, nil
}

// Run is the process entry point. args is os.Args[1:].
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck skips full initialization
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer log.Sync()

	log.Info("starting application",
		zap.String("command", string(cmd)),
		zap.String("port", cfg.ServerPort),
		zap.String("notifier", cfg.Notifier),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(cfg, log)
	}
}

func openDatabase(cfg *config.Config, log *zap.Logger) (*sqlx.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("database connection established")
	return db, nil
}

// newNotifier returns the configured code delivery backend.
func newNotifier(cfg *config.Config, log *zap.Logger) auth.Notifier {
	if cfg.Notifier == config.NotifierLog {
		log.Warn("verification codes are written to the log; do not use in production")
		return notify.NewLogNotifier(log)
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUser,
		Password:  cfg.SMTPPass,
		FromEmail: cfg.SMTPFromEmail,
		FromName:  cfg.SMTPFromName,
		SiteName:  cfg.SiteName,
	}, log)
}

// newEdgeLimiter returns a Redis limiter when REDIS_URL is set, otherwise an
// in-process one. The returned stop func releases its resources.
func newEdgeLimiter(cfg *config.Config, log *zap.Logger) (middleware.Limiter, func(), error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		log.Info("edge rate limit backed by redis", zap.String("addr", opts.Addr))
		limit := cfg.EdgeRatePerMin
		if limit <= 0 {
			limit = 20
		}
		return middleware.NewRedisLimiter(rdb, limit, time.Minute), func() { rdb.Close() }, nil
	}

	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.EdgeRatePerMin > 0 {
		rlCfg.Rate = rate.Limit(float64(cfg.EdgeRatePerMin) / 60)
	}
	if cfg.EdgeBurst > 0 {
		rlCfg.Burst = cfg.EdgeBurst
	}
	ml := middleware.NewMemoryLimiter(rlCfg)
	return ml, ml.Stop, nil
}

// buildAuthService wires repositories and auth services.
func buildAuthService(db *sqlx.DB, cfg *config.Config, rec auth.Recorder, log *zap.Logger) *auth.Service {
	users := repository.NewPostgresUserRepo(db)
	codes := repository.NewPostgresCodeRepo(db)
	tokens := repository.NewPostgresTokenRepo(db)

	codeService := auth.NewCodeService(
		users, codes, auth.RandomCodeGenerator{}, newNotifier(cfg, log), log,
		auth.CodeConfig{
			TTL:         cfg.CodeTTL,
			MaxAttempts: cfg.CodeMaxAttempts,
			RateLimit:   cfg.CodeRateLimit,
			RateWindow:  cfg.CodeRateWindow,
		},
	)
	tokenService := auth.NewTokenService(tokens, users, log, cfg.TokenTTL)

	return auth.NewService(
		users, codeService, tokenService,
		auth.BcryptHasher{Cost: cfg.BcryptCost},
		security.NewLabelSanitizer(),
		rec, log,
	)
}

// runServe starts the HTTP API and shuts it down gracefully on SIGINT or SIGTERM.
func runServe(cfg *config.Config, log *zap.Logger) error {
	db, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	authService := buildAuthService(db, cfg, collector, log)

	limiter, stopLimiter, err := newEdgeLimiter(cfg, log)
	if err != nil {
		return err
	}
	defer stopLimiter()

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:     db,
		Authenticator:     authService,
		AuthService:       handler.NewAuthServiceAdapter(authService),
		Limiter:           limiter,
		RateLimitRecorder: collector,
		Metrics:           collector,
		Gatherer:          reg,
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RequestTimeout:    cfg.RequestTimeout,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	log.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// newMetricsServer serves the worker's registry at /metrics.
func newMetricsServer(port string, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      metrics.SetupMetricsRoute(gatherer),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// runWorker runs the verification code cleanup until SIGINT or SIGTERM.
// Its metrics are served on METRICS_PORT.
func runWorker(cfg *config.Config, log *zap.Logger) error {
	db, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	job := cleanup.NewCleanupJob(db, collector, log)
	job.RateWindow = cfg.CodeRateWindow

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsServer := newMetricsServer(cfg.MetricsPort, reg)
	go func() {
		log.Info("worker metrics listener starting", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker metrics listener failed", zap.Error(err))
		}
	}()

	log.Info("worker starting", zap.Duration("cleanup_interval", cfg.CleanupInterval))

	job.RunEvery(ctx, cfg.CleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("worker metrics listener shutdown failed", zap.Error(err))
	}

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate applies every pending migration.
func runMigrate(cfg *config.Config, log *zap.Logger) error {
	log.Info("running database migrations",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck requests /health on the local server.
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL hides the password in a database URL.
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
