package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/blood-matching/internal/config"
	"github.com/example/blood-matching/internal/dispatch"
	"github.com/example/blood-matching/internal/geo"
	"github.com/example/blood-matching/internal/hospitals"
	httpapi "github.com/example/blood-matching/internal/http"
	"github.com/example/blood-matching/internal/ingest"
	"github.com/example/blood-matching/internal/lifecycle"
	"github.com/example/blood-matching/internal/logging"
	"github.com/example/blood-matching/internal/matcher"
	"github.com/example/blood-matching/internal/payments"
	"github.com/example/blood-matching/internal/requests"
	"github.com/example/blood-matching/internal/storage"
)

type hospitalGeo interface {
	matcher.Geo
	hospitals.Geo
}

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store storage.RequestStore
		dir   storage.Directory
	)
	if cfg.PGDSN != "" {
		db, err := storage.OpenPostgres(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := migrate(ctx, db); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migration applied", "file", "001_create_requests.sql")
		}
		store = storage.NewPostgresStore(db)
		dir = storage.NewPostgresDirectory(db)
	} else {
		store = storage.NewMemoryStore()
		dir = storage.NewMemoryDirectory()
		logger.Warn("PG_DSN not set, using in-memory storage")
	}

	var hgeo hospitalGeo = geo.NewIndex()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		hgeo = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
	}

	if cfg.SeedFile != "" {
		if err := seed(ctx, cfg, dir, hgeo); err != nil {
			logger.Error("seed failed", "file", cfg.SeedFile, "error", err)
			os.Exit(1)
		}
	}

	notifier := dispatch.NewLogNotifier(logger)
	match := &matcher.Service{Directory: dir, Geo: hgeo, RadiusM: cfg.MatchRadiusMeters}
	reqSvc := &requests.Service{Store: store, Directory: dir, Matcher: match, Notifier: notifier, Logger: logger}
	mgr := &lifecycle.Manager{Store: store, Directory: dir, Notifier: notifier, Logger: logger}
	hospSvc := &hospitals.Service{Directory: dir, Geo: hgeo, Logger: logger}
	if cfg.RedisAddr == "" {
		if _, err := hospSvc.RebuildIndex(ctx); err != nil {
			logger.Error("hospital index rebuild failed", "error", err)
			os.Exit(1)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic, cfg.KafkaLocationTopic)
		defer kp.Close()
		reqSvc.Publisher = kp
		mgr.Publisher = kp
		hospSvc.Publisher = kp
	}
	if cfg.StripeAPIKey != "" && cfg.ProcessingFeePerUnit > 0 {
		mgr.Charger = payments.NewStripeClient(cfg.StripeAPIKey, cfg.ProcessingFeePerUnit, cfg.ProcessingFeeCurrency)
	}

	api := httpapi.NewServer(httpapi.Deps{
		Requests:       reqSvc,
		Lifecycle:      mgr,
		Matcher:        match,
		Hospitals:      hospSvc,
		Logger:         logger,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("blood-matching listening", "addr", cfg.HTTPAddr, "postgres", cfg.PGDSN != "",
			"redis", cfg.RedisAddr != "", "kafka", len(cfg.KafkaBrokers) > 0)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
		logger.Info("shutdown complete")
	}
}

func migrate(ctx context.Context, db *sql.DB) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_requests.sql"))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(b))
	return err
}

// seed loads the directory snapshot and puts located hospitals on the map.
func seed(ctx context.Context, cfg config.ServerConfig, dir storage.Directory, g hospitals.Geo) error {
	f, err := os.Open(cfg.SeedFile)
	if err != nil {
		return err
	}
	defer f.Close()
	s, err := storage.DecodeSeed(f, cfg.LocationUpdateLimit)
	if err != nil {
		return err
	}
	if err := s.Apply(ctx, dir); err != nil {
		return err
	}
	for _, h := range s.Hospitals {
		if h.Location == nil {
			continue
		}
		if err := g.Upsert(ctx, h.ID, *h.Location); err != nil {
			return err
		}
	}
	slog.InfoContext(ctx, "seed loaded", "patients", len(s.Patients), "donors", len(s.Donors), "hospitals", len(s.Hospitals))
	return nil
}
