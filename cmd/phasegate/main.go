package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/phasegate/internal/adapter/agenthttp"
	pghttp "github.com/Strob0t/phasegate/internal/adapter/http"
	pgmcp "github.com/Strob0t/phasegate/internal/adapter/mcp"
	pgnats "github.com/Strob0t/phasegate/internal/adapter/nats"
	"github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/adapter/ws"
	"github.com/Strob0t/phasegate/internal/config"
	"github.com/Strob0t/phasegate/internal/logger"
	"github.com/Strob0t/phasegate/internal/middleware"
	"github.com/Strob0t/phasegate/internal/port/messagequeue"
	"github.com/Strob0t/phasegate/internal/resilience"
	"github.com/Strob0t/phasegate/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logOut := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logOut.Close()

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"counter_backend", cfg.Counter.Backend,
		"policy_file", cfg.Policy.File,
		"reviewers", len(cfg.Reviewers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := otel.Setup(ctx, cfg.OTEL, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}
	if err := metrics.ObserveLogDrops(logOut.Dropped); err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	store, auditStore, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	var queue *pgnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = pgnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
	}

	counters, closeCounters, err := openCounter(ctx, cfg, queue)
	if err != nil {
		return err
	}
	defer closeCounters()

	phaseCache, closeCache, err := openPhaseCache(ctx, cfg, queue)
	if err != nil {
		return err
	}
	defer closeCache()

	// --- Services ---

	hub := ws.NewHub(cfg.Server.WSOrigins)
	defer hub.Close()
	var mq messagequeue.Queue
	if queue != nil {
		mq = queue
	}
	notifier := service.NewNotifier(hub, mq)

	auditSvc := service.NewAuditService(auditStore)
	auditSvc.SetMetrics(metrics)
	reviewers := service.NewReviewerService(cfg.Reviewers)
	if reviewers.Count() == 0 {
		slog.Warn("no reviewers configured: overrides and approvals are impossible")
	}
	phases := service.NewPhaseService(store, phaseCache, cfg.Cache.PhaseTTL)

	policySvc := service.NewPolicyService(cfg.Policy.File, phases, reviewers, auditSvc)
	policySvc.SetNotifier(notifier)
	policySvc.SetMetrics(metrics)
	if err := policySvc.Table().Err(); err != nil {
		slog.Error("policy unavailable, all actions will be denied", "source", cfg.Policy.File, "error", err)
	}

	counterSvc := service.NewCounterService(store, counters, cfg.HITL.DefaultLimit, auditSvc)
	counterSvc.SetNotifier(notifier)
	counterSvc.SetMetrics(metrics)

	hitlSvc := service.NewHITLService(store, counterSvc, auditSvc, cfg.HITL.DefaultTTL)
	hitlSvc.SetNotifier(notifier)
	hitlSvc.SetMetrics(metrics)
	hitlSvc.SetSweepBatch(cfg.HITL.SweepBatch)

	gateSvc := service.NewGateService(store, auditSvc)
	gateSvc.SetNotifier(notifier)
	gateSvc.SetMetrics(metrics)

	executor := agenthttp.NewClient(cfg.Executor.URL, cfg.Executor.Timeout)
	executor.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	coord := service.NewCoordinator(policySvc, hitlSvc, gateSvc, phases, executor, auditSvc, cfg.HITL.ReleaseParallelism)
	coord.SetNotifier(notifier)
	coord.SetMetrics(metrics)

	// --- Background workers ---

	go service.NewExpirySweeper(hitlSvc, cfg.HITL.SweepInterval).Run(ctx)
	if cfg.Policy.Watch && cfg.Policy.File != "" {
		go func() {
			if err := policySvc.Watch(ctx); err != nil {
				slog.Error("policy watch stopped", "error", err)
			}
		}()
	}

	// --- MCP ---

	if cfg.MCP.Enabled {
		mcpSrv := pgmcp.NewServer(pgmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "phasegate",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, pgmcp.ServerDeps{
			Policy:    policySvc,
			Requests:  hitlSvc,
			Responder: coord,
			Audit:     auditSvc,
			Counters:  counterSvc,
			Reviewers: reviewers,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mcpSrv.Stop(sctx); err != nil {
				slog.Warn("mcp shutdown", "error", err)
			}
		}()
	}

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	handlers := &pghttp.Handlers{
		Policy:      policySvc,
		HITL:        hitlSvc,
		Counter:     counterSvc,
		Gates:       gateSvc,
		Coordinator: coord,
		Audit:       auditSvc,
		Reviewers:   reviewers,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(pghttp.SecurityHeaders)
	r.Use(pghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(pghttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/health", healthHandler(store, queue, hub, policySvc))
	r.Get("/ws", hub.HandleWS)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		pghttp.MountRoutes(r, handlers)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler reports dependency status. It answers 503 when the store is
// unreachable or the policy table failed to load.
func healthHandler(store any, queue *pgnats.Queue, hub *ws.Hub, pol *service.PolicyService) http.HandlerFunc {
	type healthStatus struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		Store       string `json:"store"`
		NATS        string `json:"nats"`
		Policy      string `json:"policy"`
		WSClients   int    `json:"ws_clients"`
		PolicyError string `json:"policy_error,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		st := healthStatus{Status: "ok", Version: version, Store: "ok", NATS: "disabled", WSClients: hub.ConnectionCount()}
		code := http.StatusOK

		if p, ok := store.(pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				st.Status, st.Store, code = "degraded", "unreachable", http.StatusServiceUnavailable
			}
		}
		if queue != nil {
			st.NATS = "connected"
			if !queue.IsConnected() {
				st.NATS = "disconnected"
			}
		}
		t := pol.Table()
		st.Policy = t.Source()
		if err := t.Err(); err != nil {
			st.Status, st.PolicyError, code = "degraded", err.Error(), http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}
