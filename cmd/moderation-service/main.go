package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/comments-moderation/internal/auth"
	"github.com/pribylovaa/comments-moderation/internal/config"
	"github.com/pribylovaa/comments-moderation/internal/content"
	"github.com/pribylovaa/comments-moderation/internal/metrics"
	"github.com/pribylovaa/comments-moderation/internal/netguard"
	"github.com/pribylovaa/comments-moderation/internal/preview"
	"github.com/pribylovaa/comments-moderation/internal/service"
	"github.com/pribylovaa/comments-moderation/internal/storage"
	csmongo "github.com/pribylovaa/comments-moderation/internal/storage/mongo"
	"github.com/pribylovaa/comments-moderation/internal/storage/postgres"
	resthttp "github.com/pribylovaa/comments-moderation/internal/transport/http"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// store - хранилище с проверкой готовности.
type store interface {
	storage.Storage
	Ping(ctx context.Context) error
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (overrides CONFIG_PATH env)")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting moderation-service", "env", cfg.Env, "db_driver", cfg.DB.Driver)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dbCtx, dbCancel := context.WithTimeout(rootCtx, 10*time.Second)
	st, err := openStorage(dbCtx, cfg.DB)
	dbCancel()
	if err != nil {
		log.Error("storage_connect_failed", slog.String("driver", cfg.DB.Driver), slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer st.Close()
	log.Info("storage_connected", slog.String("driver", cfg.DB.Driver))

	guard := netguard.New()
	opts := []service.Option{service.WithMetrics(m)}

	var rdb *redis.Client
	if !cfg.Preview.Disabled {
		var src preview.Source = preview.NewFetcher(guard, preview.Options{
			Timeout:      cfg.Preview.Timeout,
			MaxRedirects: cfg.Preview.MaxRedirects,
			MaxBodyBytes: cfg.Preview.MaxBodyBytes,
			UserAgent:    cfg.Preview.UserAgent,
		}, m)

		if cfg.Redis.Addr != "" {
			rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
			rdb.AddHook(m.RedisHook())
			defer func() { _ = rdb.Close() }()

			pingCtx, pingCancel := context.WithTimeout(rootCtx, 3*time.Second)
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				// Кэш необязателен: без Redis превью просто загружаются каждый раз.
				log.Warn("redis_ping_failed", slog.String("err", err.Error()))
			}
			pingCancel()

			src = preview.NewCached(src, rdb, cfg.Redis.PreviewTTL, m)
			log.Info("preview_cache_enabled", slog.String("addr", cfg.Redis.Addr))
		}

		opts = append(opts, service.WithPreviews(src))
	}

	svc := service.New(st, content.NewSanitizer(guard), *cfg, opts...)
	log.Info("service_initialized")

	var ready int32 // 0 - not ready; 1 - ready

	root := chi.NewRouter()
	root.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	root.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&ready) != 1 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	api := resthttp.NewRouter(svc, resthttp.Options{
		Logger:     log,
		Timeout:    cfg.Timeouts.Service,
		TrustProxy: cfg.Env != envLocal,
		Verifier:   auth.NewVerifier(cfg.Auth),
		Metrics:    m,
	})
	root.Mount(basePath(cfg.HTTP.BasePath), api)

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Timeouts.Service + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	atomic.StoreInt32(&ready, 1)

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	atomic.StoreInt32(&ready, 0)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_force_stop", slog.String("err", err.Error()))
		_ = httpSrv.Close()
	}

	log.Info("service_stopped")
}

// openStorage выбирает реализацию по db.driver.
func openStorage(ctx context.Context, cfg config.DBConfig) (store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		return csmongo.New(ctx, cfg.URL)
	default:
		return postgres.New(ctx, cfg.URL)
	}
}

// basePath - путь монтирования REST API; пустой путь означает корень.
func basePath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
