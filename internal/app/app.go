// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tombolo/tombolo/internal/config"
	"github.com/tombolo/tombolo/internal/domain"
	"github.com/tombolo/tombolo/internal/jobs"
	"github.com/tombolo/tombolo/internal/jobs/export"
	"github.com/tombolo/tombolo/internal/jobs/mailer"
	"github.com/tombolo/tombolo/internal/jobs/webhook"
	"github.com/tombolo/tombolo/internal/kv"
	"github.com/tombolo/tombolo/internal/payments"
	"github.com/tombolo/tombolo/internal/pkg/ctxlog"
	"github.com/tombolo/tombolo/internal/pkg/httputil"
	"github.com/tombolo/tombolo/internal/pkg/metrics"
	"github.com/tombolo/tombolo/internal/pkg/postgres"
	"github.com/tombolo/tombolo/internal/raffles"
	rafflespostgres "github.com/tombolo/tombolo/internal/raffles/postgres"
	"github.com/tombolo/tombolo/internal/ratelimit"
	ratelimitpostgres "github.com/tombolo/tombolo/internal/ratelimit/postgres"
	"github.com/tombolo/tombolo/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	store         *kv.Client
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	jobWorker     *jobs.Worker
	queue         *jobs.Queue
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	store := kv.New(kv.Config{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		OpTimeout: cfg.Redis.OpTimeout,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		store:         store,
		metricsCancel: workerCancel,
	}

	go app.collectDBMetrics(workerCtx)

	router, jobWorker, queue, err := app.setupRouter(workerCtx)
	if err != nil {
		db.Close()
		_ = store.Close()
		workerCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.jobWorker = jobWorker
	app.queue = queue

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop job worker first so an in-flight run can drain
	if a.jobWorker != nil {
		a.jobWorker.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store client: %w", err))
	}

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// JobWorker returns the background job worker instance.
// Used in tests to access worker state.
func (a *App) JobWorker() *jobs.Worker {
	return a.jobWorker
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, *jobs.Worker, *jobs.Queue, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	grace := ratelimit.NewGraceTracker(a.config.RateLimit.GraceAllowance, a.config.RateLimit.GraceMaxEntries)
	limiter := ratelimit.New(a.store, ratelimitpostgres.NewFallback(a.db), grace)

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(limiter, ratelimit.HealthProbes))
		r.Get("/healthz", a.healthzHandler)
		r.Get("/readyz", a.readyzHandler)
	})
	r.Get("/version", a.versionHandler)

	queue := jobs.NewQueue(a.store, jobs.QueueConfig{
		PendingTTL:         a.config.Queue.PendingTTL,
		CompletedTTL:       a.config.Queue.CompletedTTL,
		DLQRetention:       a.config.Queue.DLQRetention,
		DefaultMaxAttempts: a.config.Queue.DefaultMaxAttempts,
	})

	rafflesRepo := rafflespostgres.NewRepository(a.db)

	webhookProcessor, err := webhook.NewProcessor(webhook.Config{
		FulfillmentURL: a.config.Fulfillment.URL,
		RequestTimeout: a.config.Fulfillment.RequestTimeout,
		RateLimit:      a.config.Fulfillment.RateLimit,
		Burst:          a.config.Fulfillment.Burst,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create webhook processor: %w", err)
	}

	mailSender, err := mailer.NewSender(mailer.Config{
		Enabled:      a.config.Mailer.Enabled,
		SMTPHost:     a.config.Mailer.SMTPHost,
		SMTPPort:     a.config.Mailer.SMTPPort,
		SMTPUser:     a.config.Mailer.SMTPUser,
		SMTPPassword: a.config.Mailer.SMTPPassword,
		FromAddress:  a.config.Mailer.FromAddress,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create mail sender: %w", err)
	}

	if !a.config.Mailer.Enabled {
		slog.Warn("mailer is disabled: receipt and winner emails will not be sent")
	}

	runner := jobs.NewRunner(queue, jobs.RunnerConfig{
		MaxJobsPerRun: a.config.Queue.MaxJobsPerRun,
		MaxRunTime:    a.config.Queue.MaxRunTime,
	})
	runner.Register(domain.JobTypePaymentWebhook, webhookProcessor)
	runner.Register(domain.JobTypeNotifyEmail, mailSender)
	runner.Register(domain.JobTypeExportSales, export.NewGenerator(rafflesRepo))

	// The worker refreshes the queue depth gauges after every poll
	// tick, so no separate metrics loop is needed here.
	jobWorker := jobs.NewWorker(jobs.WorkerConfig{PollInterval: a.config.Queue.PollInterval}, runner, queue)
	jobWorker.Start(ctx)

	rafflesHandler := raffles.NewHandler(raffles.NewService(rafflesRepo))
	jobsHandler := jobs.NewHandler(queue)

	paymentsHandler, err := payments.NewHandler(payments.Config{
		SigningSecret: a.config.Webhooks.SigningSecret,
	}, queue)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create payments handler: %w", err)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(ratelimit.Middleware(limiter, ratelimit.ReservationAttempts))
			rafflesHandler.RegisterRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(ratelimit.Middleware(limiter, ratelimit.WebhookIngestion))
			paymentsHandler.RegisterRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(ratelimit.Middleware(limiter, ratelimit.GeneralAPI))
			jobsHandler.RegisterRoutes(r)
		})
	})

	return r, jobWorker, queue, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	if err := a.store.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Shared store unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
