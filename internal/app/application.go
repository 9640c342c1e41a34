package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"examroom/internal/api"
	"examroom/internal/clock"
	"examroom/internal/config"
	"examroom/internal/directory"
	"examroom/internal/gateway"
	"examroom/internal/registry"
)

// Application wires all components together. Initialization follows strict
// dependency order: Directory -> Subscriptions -> Registry -> Dispatcher ->
// Gateway handler -> API -> HTTP.
type Application struct {
	config     *config.Config
	directory  *directory.Store
	subs       *gateway.Subscriptions
	registry   *registry.Registry
	dispatcher *gateway.Dispatcher
	wsHandler  *gateway.Handler
	apiServer  *api.Server
	httpServer *http.Server
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := directory.NewStore(cfg.Directory.Path, cfg.Directory.MaxConnections, cfg.Directory.ConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize directory store: %w", err)
	}

	subs := gateway.NewSubscriptions()

	// The registry broadcasts room events through the subscription index, and
	// room deletion tears down the room's subscriptions.
	reg := registry.NewRegistry(store, clock.NewSystem(), subs.Broadcast, registry.Config{
		QueueSize:        cfg.Room.QueueSize,
		AutoForceSubmit:  cfg.Room.AutoForceSubmit,
		WatchdogInterval: cfg.Room.WatchdogInterval,
	})
	reg.SetOnDelete(subs.DropRoom)

	dispatcher := gateway.NewDispatcher(reg, subs)
	wsHandler := gateway.NewHandler(subs, dispatcher, cfg.WebSocket.PingInterval, cfg.WebSocket.ReadTimeout)

	apiServer := api.NewServer(reg, store, subs)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/metrics", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		directory:  store,
		subs:       subs,
		registry:   reg,
		dispatcher: dispatcher,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start brings the HTTP server up and verifies it is accepting connections
// before returning.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting exam room coordinator on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Exam room coordinator started successfully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order:
// HTTP -> rooms -> directory.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down exam room coordinator")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stops every room actor. Live rooms are not persisted; clients recreate
	// them after a restart.
	app.registry.Close()

	if err := app.directory.Close(); err != nil {
		log.Printf("Directory shutdown error: %v", err)
	}

	log.Printf("Exam room coordinator shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
