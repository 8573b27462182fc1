package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/compose-network/rollback-manager/metrics"
	"github.com/compose-network/rollback-manager/rollback-app/config"
	apisrv "github.com/compose-network/rollback-manager/server/api"
	apimw "github.com/compose-network/rollback-manager/server/api/middleware"
	"github.com/compose-network/rollback-manager/x/backend"
	"github.com/compose-network/rollback-manager/x/backend/contracts"
	"github.com/compose-network/rollback-manager/x/rollback"
	rollbackhttp "github.com/compose-network/rollback-manager/x/rollback/http"
)

// App represents the rollback manager application
type App struct {
	cfg     *config.Config
	manager rollback.Manager
	backend rollback.Backend
	log     zerolog.Logger

	// API server (HTTP)
	apiServer *apisrv.Server

	// Shutdown management
	shutdownFns []func() error

	cancel context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg:         cfg,
		log:         log.With().Str("component", "app").Logger(),
		shutdownFns: make([]func() error, 0),
	}

	if err := app.initialize(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

// initialize sets up the application components
func (a *App) initialize(ctx context.Context, log zerolog.Logger) error {
	be, err := a.initializeBackend(ctx, log)
	if err != nil {
		return err
	}
	a.backend = be

	if err := a.initializeManager(be, log); err != nil {
		return err
	}

	return a.initializeAPIServer(log)
}

// initializeBackend builds the execution backend selected by configuration.
func (a *App) initializeBackend(ctx context.Context, log zerolog.Logger) (rollback.Backend, error) {
	admin := common.HexToAddress(a.cfg.Roles.Admin)

	switch a.cfg.Backend.Mode {
	case config.ModeMemory:
		switch a.cfg.Backend.Strategy {
		case config.StrategySequential:
			exec := backend.NewMemoryExecutor(a.cfg.Backend.Memory.Delay, time.Now)
			return backend.NewSequential(exec)
		case config.StrategyAtomic:
			tl := backend.NewMemoryTimelock(a.cfg.Backend.Memory.Delay, time.Now)
			return backend.NewAtomic(tl, admin)
		}

	case config.ModeEth:
		sender, err := backend.NewRPCSender(ctx, a.cfg.Backend.Eth.RPCEndpoint, a.cfg.Backend.Eth.PrivateKey, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create rpc sender: %w", err)
		}
		a.shutdownFns = append(a.shutdownFns, func() error {
			sender.Close()
			return nil
		})

		switch a.cfg.Backend.Strategy {
		case config.StrategySequential:
			binding, err := contracts.NewExecutorBinding(a.cfg.Backend.Eth.ExecutorContract)
			if err != nil {
				return nil, fmt.Errorf("failed to bind executor contract: %w", err)
			}
			exec, err := backend.NewEthExecutor(sender, binding)
			if err != nil {
				return nil, err
			}
			return backend.NewSequential(exec)
		case config.StrategyAtomic:
			binding, err := contracts.NewTimelockBinding(a.cfg.Backend.Eth.TimelockContract)
			if err != nil {
				return nil, fmt.Errorf("failed to bind timelock contract: %w", err)
			}
			tl, err := backend.NewEthTimelock(sender, binding)
			if err != nil {
				return nil, err
			}
			return backend.NewAtomic(tl, sender.From())
		}
	}

	return nil, fmt.Errorf("unsupported backend %s/%s", a.cfg.Backend.Mode, a.cfg.Backend.Strategy)
}

// initializeManager wires the rollback state machine around the backend.
func (a *App) initializeManager(be rollback.Backend, log zerolog.Logger) error {
	var mtr *rollback.Metrics
	if a.cfg.Metrics.Enabled {
		mtr = rollback.NewMetrics()
	}

	mgr, err := rollback.New(rollback.Config{
		Logger:               log,
		Backend:              be,
		Sink:                 rollback.NewLogSink(log),
		Metrics:              mtr,
		Admin:                common.HexToAddress(a.cfg.Roles.Admin),
		Guardian:             common.HexToAddress(a.cfg.Roles.Guardian),
		QueueableDuration:    a.cfg.Policy.QueueableDuration,
		MinQueueableDuration: a.cfg.Policy.MinQueueableDuration,
	})
	if err != nil {
		return fmt.Errorf("failed to create rollback manager: %w", err)
	}
	a.manager = mgr
	return nil
}

// initializeAPIServer sets up the HTTP API server with all endpoints
func (a *App) initializeAPIServer(log zerolog.Logger) error {
	apiCfg := apisrv.Config{
		ListenAddr:        a.cfg.API.ListenAddr,
		ReadHeaderTimeout: a.cfg.API.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.API.ReadTimeout,
		WriteTimeout:      a.cfg.API.WriteTimeout,
		IdleTimeout:       a.cfg.API.IdleTimeout,
		MaxHeaderBytes:    a.cfg.API.MaxHeaderBytes,
	}
	s := apisrv.NewServer(apiCfg, log)
	s.Use(apimw.Recover(log))
	s.Use(apimw.RequestID())
	s.Use(apimw.Logger(log))

	// Health/readiness/stats
	s.Router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	s.Router.HandleFunc("/ready", a.handleReady).Methods(http.MethodGet)
	s.Router.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)

	// Metrics
	if a.cfg.Metrics.Enabled {
		s.Router.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	// Rollback API
	handler := rollbackhttp.NewHandler(a.manager, log)
	handler.RegisterMux(s.Router)

	a.apiServer = s
	return nil
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go func() {
		if err := a.apiServer.Start(runCtx); err != nil {
			a.log.Error().Err(err).Msg("API server error")
		}
	}()

	return a.runWithGracefulShutdown(runCtx)
}

// runWithGracefulShutdown handles shutdown signals.
func (a *App) runWithGracefulShutdown(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a.log.Info().Msg("Rollback manager started successfully")

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	if a.cancel != nil {
		a.cancel()
	}

	return a.shutdown()
}

// shutdown gracefully shuts down the application.
func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")

	for _, fn := range a.shutdownFns {
		if err := fn(); err != nil {
			a.log.Error().Err(err).Msg("Shutdown function error")
		}
	}

	a.log.Info().Msg("Graceful shutdown complete")
	return nil
}

// handleHealth responds to health check requests.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	// Readiness is gated on the backend answering a delay query.
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	code := http.StatusOK
	if _, err := a.backend.Delay(ctx); err != nil {
		status = "backend_unreachable"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status":"%s"}`, status)
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	ids, err := a.manager.Identifiers(r.Context())
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	stats := map[string]any{
		"app_version":            Version,
		"app_build_time":         BuildTime,
		"app_git_commit":         GitCommit,
		"rollbacks_total":        len(ids),
		"admin":                  a.manager.Admin().Hex(),
		"guardian":               a.manager.Guardian().Hex(),
		"queueable_duration":     a.manager.QueueableDuration().String(),
		"min_queueable_duration": a.manager.MinQueueableDuration().String(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
