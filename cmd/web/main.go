package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cbtquiz/internal/app"
	"cbtquiz/internal/app/observability"
	"cbtquiz/internal/auth"
	"cbtquiz/internal/backend"
	"cbtquiz/internal/db"
	"cbtquiz/internal/exam"
	"cbtquiz/internal/journal"
	"cbtquiz/internal/media"
	"cbtquiz/internal/report"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cbtquiz: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}

	log, err := observability.NewLogger(observability.LoggerConfig{
		Production: cfg.IsProduction(),
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store  journal.Store = journal.NewMemoryStore()
		dbConn *sql.DB
	)
	if cfg.DBDSN != "" {
		dbConn, err = db.OpenPostgres(ctx, cfg.DBDSN, db.PostgresConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
		})
		if err != nil {
			return err
		}
		defer dbConn.Close()

		pg := journal.NewPostgresStore(dbConn)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
		log.Info("submission journal on postgres")
	} else {
		log.Warn("DB_DSN not set, submission journal kept in memory")
	}

	client, err := backend.New(backend.Config{BaseURL: cfg.BackendBaseURL, Timeout: cfg.BackendTimeout})
	if err != nil {
		return err
	}

	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(dbConn)
	sessions := exam.NewService(client, exam.Options{
		AutoFinalizeDelay: cfg.AutoFinalizeDelay,
		SubmitTimeout:     cfg.SubmitTimeout,
		IdleTTL:           cfg.SessionIdleTTL,
		Journal:           store,
		Metrics:           metrics,
		Logger:            log.Named("session"),
	})
	defer sessions.Close()

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, bearer tokens are not verified locally")
	}
	limiter := app.NewIPRateLimiter(cfg.RateLimitPerMin, time.Minute)

	r := app.NewRouter(cfg, app.Deps{
		Logger:   log.Named("http"),
		Metrics:  metrics,
		Limiter:  limiter,
		Auth:     auth.NewHandler(auth.NewService(auth.ServiceConfig{Secret: cfg.JWTSecret, Leeway: 30 * time.Second})),
		Sessions: exam.NewHandler(sessions),
		Reviews:  report.NewHandler(report.NewService(client, resolver, log.Named("review"))),
	})

	go reap(ctx, cfg.ReapInterval, sessions, limiter, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("cbtquiz listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.AppEnv))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newResolver(cfg app.Config) (media.Resolver, error) {
	if cfg.MinioEndpoint == "" {
		return media.URLResolver{BaseURL: cfg.MediaBaseURL}, nil
	}
	return media.NewMinioResolver(media.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		Region:    cfg.MinioRegion,
		UseSSL:    cfg.MinioUseSSL,
		URLTTL:    cfg.MediaURLTTL,
	})
}

func reap(ctx context.Context, every time.Duration, sessions *exam.Service, limiter *app.IPRateLimiter, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := sessions.Reap(now); n > 0 {
				log.Debug("reaped sessions", zap.Int("count", n), zap.Int("live", sessions.Len()))
			}
			limiter.Sweep(now)
		}
	}
}
