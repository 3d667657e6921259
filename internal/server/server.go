package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/handler"
	"github.com/meshwarden/warden/internal/metrics"
	"github.com/meshwarden/warden/internal/model"
	"github.com/meshwarden/warden/internal/openapi"
	"github.com/meshwarden/warden/internal/resolve"
	"github.com/meshwarden/warden/internal/server/middleware"
	"github.com/meshwarden/warden/internal/service"
	"github.com/meshwarden/warden/internal/topology"
	"github.com/meshwarden/warden/internal/ui"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RateLimit       int // requests per minute per IP, 0 disables
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		RateLimit:       600,
	}
}

// Server is the top-level HTTP server. It owns the Chi router, the
// configuration store, the resolver, and the services behind the API.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	authSvc    *service.AuthService
	provSvc    *service.ProvisioningService
	credSvc    *service.CredentialService
	resolver   *resolve.Resolver
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger

	specOnce sync.Once
	specJSON []byte
	specErr  error
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, store *config.Store, authSvc *service.AuthService, provSvc *service.ProvisioningService, credSvc *service.CredentialService, resolver *resolve.Resolver, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		authSvc:  authSvc,
		provSvc:  provSvc,
		credSvc:  credSvc,
		resolver: resolver,
		metrics:  m,
		logger:   logger,
	}
	m.RegisterNodeCounts(s.onlineNodeCounts)
	s.setupRouter()
	return s
}

// onlineNodeCounts derives the online hub and spoke counts for the
// /metrics scrape. Errors degrade to zero; a scrape must not fail
// because the store hiccupped.
func (s *Server) onlineNodeCounts() (int, int) {
	ctx := context.Background()
	now := time.Now().UTC()

	var onlineHubs, onlineSpokes int
	hubs, err := s.store.ListHubs(ctx)
	if err != nil {
		s.logger.Warn("node count scrape failed", "error", err)
		return 0, 0
	}
	for i := range hubs {
		if topology.HubStatus(&hubs[i], now) == model.StatusOnline {
			onlineHubs++
		}
	}
	spokes, err := s.store.ListAllSpokes(ctx)
	if err != nil {
		s.logger.Warn("node count scrape failed", "error", err)
		return onlineHubs, 0
	}
	for i := range spokes {
		if topology.SpokeStatus(&spokes[i], now) == model.StatusOnline {
			onlineSpokes++
		}
	}
	return onlineHubs, onlineSpokes
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Agent-Token", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(s.cfg.RateLimit))
	}

	// --- Health checks and metrics (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	ruleHandler := handler.NewRuleHandler(s.store)
	topoHandler := handler.NewTopologyHandler(s.store, s.provSvc, s.resolver)
	resolveHandler := handler.NewResolveHandler(s.resolver, s.metrics)
	agentHandler := handler.NewAgentHandler(s.store, s.provSvc, s.metrics)
	sysHandler := handler.NewSystemHandler(s.store, s.authSvc, s.credSvc)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {

		r.Route("/agent", func(r chi.Router) {
			// Hub and spoke agents authenticate with enrollment
			// tokens and are rate-limited per token: agents behind
			// one NAT address must not share an IP bucket.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByHeader("X-Agent-Token", 120))
				r.Post("/hub/heartbeat", agentHandler.HubHeartbeat)
				r.Post("/spoke/heartbeat", agentHandler.SpokeHeartbeat)
			})
			// Gateways carry no enrollment token and use an API key
			// like any other principal.
			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(s.authSvc))
				r.Post("/gateway/{gatewayId}/heartbeat", agentHandler.GatewayHeartbeat)
			})
		})

		// Session config download is authenticated by the signed
		// token in the URL itself.
		r.Get("/session-configs/download", sysHandler.DownloadSessionConfig)

		// Admin login is unauthenticated by definition.
		r.Post("/system/admin/session", sysHandler.Login)
		r.Delete("/system/admin/session", sysHandler.Logout)

		// Resolution endpoints: any authenticated principal.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.authSvc))

			r.Get("/resolve/rules", resolveHandler.EffectiveRules)
			r.Post("/resolve/check", resolveHandler.Check)
			r.Get("/resolve/routes/{hubId}", resolveHandler.Routes)

			r.Post("/session-configs", sysHandler.CreateSessionConfig)
		})

		// Management endpoints: admin only.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.authSvc))
			r.Use(middleware.RequireAdmin())

			// Access rules and assignments
			r.Get("/rules", ruleHandler.ListRules)
			r.Post("/rules", ruleHandler.CreateRule)
			r.Get("/rules/{ruleId}", ruleHandler.GetRule)
			r.Put("/rules/{ruleId}", ruleHandler.UpdateRule)
			r.Delete("/rules/{ruleId}", ruleHandler.DeleteRule)
			r.Get("/rules/{ruleId}/assignments", ruleHandler.ListAssignments)
			r.Post("/rules/{ruleId}/assignments", ruleHandler.CreateAssignment)
			r.Delete("/rules/{ruleId}/assignments/{assignmentId}", ruleHandler.DeleteAssignment)

			// Networks
			r.Get("/networks", topoHandler.ListNetworks)
			r.Post("/networks", topoHandler.CreateNetwork)
			r.Get("/networks/{networkId}", topoHandler.GetNetwork)
			r.Put("/networks/{networkId}", topoHandler.UpdateNetwork)
			r.Delete("/networks/{networkId}", topoHandler.DeleteNetwork)

			// Gateways
			r.Get("/gateways", topoHandler.ListGateways)
			r.Post("/gateways", topoHandler.CreateGateway)
			r.Delete("/gateways/{gatewayId}", topoHandler.DeleteGateway)

			// Hubs, spokes, network exposure, provisioning
			r.Get("/hubs", topoHandler.ListHubs)
			r.Post("/hubs", topoHandler.CreateHub)
			r.Get("/hubs/{hubId}", topoHandler.GetHub)
			r.Put("/hubs/{hubId}", topoHandler.UpdateHub)
			r.Delete("/hubs/{hubId}", topoHandler.DeleteHub)
			r.Post("/hubs/{hubId}/provision", topoHandler.ProvisionHub)
			r.Get("/hubs/{hubId}/topology", topoHandler.Topology)
			r.Get("/hubs/{hubId}/spokes", topoHandler.ListSpokes)
			r.Post("/hubs/{hubId}/spokes", topoHandler.CreateSpoke)
			r.Delete("/hubs/{hubId}/spokes/{spokeId}", topoHandler.DeleteSpoke)
			r.Get("/hubs/{hubId}/networks", topoHandler.ListHubNetworks)
			r.Post("/hubs/{hubId}/networks/{networkId}", topoHandler.AssignNetwork)
			r.Delete("/hubs/{hubId}/networks/{networkId}", topoHandler.UnassignNetwork)

			// System administration
			r.Get("/system/admin", sysHandler.ListAdmins)
			r.Post("/system/admin", sysHandler.CreateAdmin)
			r.Get("/system/api-key", sysHandler.ListAPIKeys)
			r.Post("/system/api-key", sysHandler.CreateAPIKey)
			r.Delete("/system/api-key/{keyId}", sysHandler.RevokeAPIKey)
			r.Get("/system/bundle", sysHandler.ExportBundle)
			r.Post("/system/bundle", sysHandler.ImportBundle)
			r.Get("/system/status", sysHandler.Status)
		})
	})

	// --- Embedded landing page ---
	if distFS, err := fs.Sub(ui.Dist, "dist"); err == nil {
		fileServer := http.FileServer(http.FS(distFS))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			fileServer.ServeHTTP(w, r)
		})
		r.Get("/assets/*", func(w http.ResponseWriter, r *http.Request) {
			fileServer.ServeHTTP(w, r)
		})
	}

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the config store
// is reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK

	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded: " + err.Error()
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{"status": status})
}

// handleOpenAPI serves the generated OpenAPI document. The document is
// built once on first request and cached for the lifetime of the server.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	s.specOnce.Do(func() {
		baseURL := fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port)
		doc := openapi.Generate(baseURL, "1.0.0")
		s.specJSON, s.specErr = json.Marshal(doc)
	})
	if s.specErr != nil {
		s.logger.Error("openapi document marshal failed", "error", s.specErr)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.specJSON)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing store", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
