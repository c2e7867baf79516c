package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"civicmap/core-go/internal/aggregate"
	"civicmap/core-go/internal/cache"
	"civicmap/core-go/internal/config"
	"civicmap/core-go/internal/db"
	"civicmap/core-go/internal/httpapi"
	"civicmap/core-go/internal/metrics"
	"civicmap/core-go/internal/refresh"
	"civicmap/core-go/internal/sources"
	"civicmap/core-go/internal/viewport"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(envOr("CONFIG_PATH", "civicmap.yaml"))
	if err != nil {
		l := httpapi.NewLogger("info")
		l.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.HTTPAddr = envOr("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = envOr("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = envOr("REDIS_ADDR", cfg.RedisAddr)

	logger := httpapi.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *db.Pool
	if cfg.DatabaseURL != "" {
		p, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
	}

	var store *cache.Cache
	if cfg.RedisAddr != "" {
		c, err := cache.Open(ctx, cfg.RedisAddr, cfg.CacheTTL.Std())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer c.Close()
		store = c
	}

	m := metrics.New()

	var adapters []sources.Adapter
	if u := cfg.Sources.PlanReg.BaseURL; u != "" {
		adapters = append(adapters, sources.NewPlanReg(logger, httpClient(cfg.Sources.PlanReg), u))
	}
	if u := cfg.Sources.Issues.BaseURL; u != "" {
		adapters = append(adapters, sources.NewIssues(logger, httpClient(cfg.Sources.Issues), u))
	}
	if u := cfg.Sources.Photomap.BaseURL; u != "" {
		adapters = append(adapters, sources.NewPhotomap(logger, httpClient(cfg.Sources.Photomap), u))
	}
	if pool != nil {
		adapters = append(adapters, sources.NewAreas(logger, pool.Queries(), ""))
	}
	if len(adapters) == 0 {
		logger.Warn().Msg("no sources configured; all queries will fail")
	}

	agg := aggregate.New(logger, adapters, store, m)

	if pool != nil && store != nil {
		worker := refresh.New(logger, pool.Queries(), agg, refresh.Options{})
		go worker.Run(ctx)
	}

	h := httpapi.NewHandler(logger, agg, pool, store, m, httpapi.Options{
		MinZoom: cfg.MinZoom,
		DefaultCenter: viewport.Location{
			Zoom: cfg.DefaultZoom,
			Lat:  cfg.DefaultLat,
			Lon:  cfg.DefaultLon,
		},
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("civicmap listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func httpClient(s config.Source) *http.Client {
	return &http.Client{Timeout: s.Timeout.Std()}
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
