package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/offline-asset-cache/internal/config"
	"github.com/Sternrassler/offline-asset-cache/pkg/cache"
	"github.com/Sternrassler/offline-asset-cache/pkg/client"
	"github.com/Sternrassler/offline-asset-cache/pkg/lifecycle"
	"github.com/Sternrassler/offline-asset-cache/pkg/logging"
	"github.com/Sternrassler/offline-asset-cache/pkg/metrics"
	"github.com/Sternrassler/offline-asset-cache/pkg/proxy"
	"github.com/Sternrassler/offline-asset-cache/pkg/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Asset cache proxy failed")
	}
}

func run() error {
	// Configuration from environment
	cfg, err := config.ParseEnv(nil)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging())
	defer logging.Close()
	logger := logging.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, store, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	a, err := newApp(cfg, storage, store, nil)
	if err != nil {
		return err
	}

	// A failed first install leaves the proxy in passthrough mode; the
	// update endpoint retries it.
	if err := a.registration.Register(ctx, a.ctrl); err != nil {
		logger.Error().Err(err).Msg("Initial registration failed - serving passthrough")
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("origin", cfg.Origin).
			Str("version", cfg.Version).
			Str("store", string(cfg.Store)).
			Msg("Starting asset cache proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Graceful shutdown failed")
	}
	a.handler.Wait()
	return nil
}

// openStorage selects the partition backend and the matching state store.
func openStorage(ctx context.Context, cfg config.Config, logger zerolog.Logger) (cache.Storage, lifecycle.StateStore, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
		}
		logger.Info().Str("addr", cfg.RedisURL).Msg("Connected to Redis")
		return cache.NewRedisStorage(redisClient, ""),
			lifecycle.NewRedisStateStore(redisClient, ""),
			func() { redisClient.Close() },
			nil

	case config.StoreSQLite:
		storage, err := cache.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		store, err := lifecycle.NewSQLiteStateStore(storage.DB())
		if err != nil {
			storage.Close()
			return nil, nil, nil, fmt.Errorf("open sqlite state store: %w", err)
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("Opened SQLite store")
		return storage, store, func() { storage.Close() }, nil

	default:
		return cache.NewMemoryStorage(), lifecycle.NewMemoryStateStore(), func() {}, nil
	}
}

// app wires one controller version into a registration and an HTTP surface.
type app struct {
	cfg          config.Config
	storage      cache.Storage
	fetcher      client.Fetcher
	ctrl         *worker.Controller
	registration *lifecycle.Registration
	handler      *proxy.Handler
	logger       zerolog.Logger
}

// newApp builds the application. A nil transport uses the default one.
func newApp(cfg config.Config, storage cache.Storage, store lifecycle.StateStore, transport http.RoundTripper) (*app, error) {
	wcfg, err := cfg.Worker()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ccfg := client.DefaultConfig(wcfg.Scope)
	ccfg.Timeout = cfg.FetchTimeout
	ccfg.Transport = transport
	fetcher, err := client.New(ccfg)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	ctrl, err := worker.NewController(wcfg, storage, fetcher)
	if err != nil {
		return nil, err
	}

	reg := lifecycle.NewRegistration(storage, store, logging.NewLogger("registration"))
	handler, err := proxy.New(proxy.Config{Origin: wcfg.Scope, Transport: transport}, reg, logging.NewLogger("proxy"))
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:          cfg,
		storage:      storage,
		fetcher:      fetcher,
		ctrl:         ctrl,
		registration: reg,
		handler:      handler,
		logger:       logging.NewLogger("admin"),
	}, nil
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Handler())
	r.Route("/_worker", func(r chi.Router) {
		r.Get("/state", a.stateHandler)
		r.Post("/update", a.updateHandler)
		r.Post("/activate", a.activateHandler)
	})
	r.Handle("/*", a.handler)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

type stateResponse struct {
	*lifecycle.RegistrationState
	ConfiguredVersion string   `json:"configured_version"`
	Partitions        []string `json:"partitions"`
}

func (a *app) stateHandler(w http.ResponseWriter, r *http.Request) {
	state, err := a.registration.State(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	partitions, err := a.storage.Keys(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stateResponse{
		RegistrationState: state,
		ConfiguredVersion: a.ctrl.Version(),
		Partitions:        partitions,
	})
}

func (a *app) updateHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	if r.URL.Query().Get("force") == "1" {
		err = a.registration.Update(r.Context(), a.ctrl)
	} else {
		err = a.registration.Register(r.Context(), a.ctrl)
	}
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	a.stateHandler(w, r)
}

func (a *app) activateHandler(w http.ResponseWriter, r *http.Request) {
	err := a.registration.ActivateWaiting(r.Context())
	if errors.Is(err, lifecycle.ErrNoWaiting) {
		a.writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.stateHandler(w, r)
}

func (a *app) writeError(w http.ResponseWriter, status int, err error) {
	a.logger.Warn().Err(err).Int("status_code", status).Msg("Admin request failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
