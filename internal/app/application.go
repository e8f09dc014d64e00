// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"sensorhub/internal/api"
	"sensorhub/internal/config"
	"sensorhub/internal/ingest"
	"sensorhub/internal/metrics"
	"sensorhub/internal/registry"
	"sensorhub/internal/router"
	"sensorhub/internal/storage"
	"sensorhub/internal/websocket"
)

// Application coordinates all components. Initialization order follows the
// dependency chain: storage, metrics, registry, router, ingest, transport,
// HTTP.
type Application struct {
	config     *config.Config
	log        *zap.Logger
	store      *storage.Store
	metrics    *metrics.Metrics
	registry   *registry.Registry
	router     *router.Router
	dispatcher *ingest.Dispatcher
	apiServer  *api.Server
	httpServer *http.Server
}

// New builds the application from a validated configuration.
func New(cfg *config.Config, log *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.New(storage.Config{
		Path:            cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		WriteBuffer:     cfg.Database.WriteBuffer,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	reg := registry.New(log, m)
	rt := router.New(reg, store, cfg.Stream.NumReadings, log, m)
	dispatcher := ingest.New(store, reg, cfg.Stream.IngestBuffer, log, m)
	apiServer := api.NewServer(store, reg, dispatcher, log)

	wsHandler := websocket.NewHandler(rt, websocket.Options{
		DeviationTolerance: cfg.Stream.DeviationTolerance,
		WriteTimeout:       cfg.WebSocket.WriteTimeout,
		WriteBuffer:        cfg.WebSocket.BufferSize,
	}, log, m)

	mux := apiServer.Router()
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log,
		store:      store,
		metrics:    m,
		registry:   reg,
		router:     rt,
		dispatcher: dispatcher,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the ingest pipeline and the HTTP server, returning once the
// server is accepting connections.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info("starting", zap.String("addr", app.httpServer.Addr))

	app.dispatcher.Start()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.dispatcher.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info("started")
		return nil
	case <-ctx.Done():
		app.dispatcher.Stop()
		return ctx.Err()
	}
}

// Stop shuts the components down in reverse dependency order: HTTP, ingest,
// storage.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn("HTTP server shutdown error", zap.Error(err))
	}
	app.dispatcher.Stop()
	if err := app.store.Close(); err != nil {
		app.log.Warn("storage shutdown error", zap.Error(err))
	}

	app.log.Info("shutdown complete")
	return nil
}

// Addr returns the listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
