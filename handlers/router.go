package handlers

// router.go constructs the chi routers for both listeners and wires all
// routes to their handlers. it is the single source of truth for the HTTP
// surface area: adding an endpoint means adding one line here.

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sasta-kro/tmpool/config"
	"github.com/sasta-kro/tmpool/models"
)

// EventLister is the read side of the event journal, consumed by the
// admin API.
type EventLister interface {
	ListEvents(limit int) ([]models.PoolEvent, error)
}

// RouterDependencies groups everything the routers and their handlers
// need. passing a single struct instead of N arguments keeps the
// constructor signatures stable as handlers are added.
type RouterDependencies struct {
	Logger *slog.Logger
	Config *config.AppConfig
	Pool   ContainerPool

	// Events may be nil when the journal is disabled; the admin endpoint
	// then reports an empty list
	Events EventLister

	// Registry is the prometheus registry the pool's instruments live in
	Registry *prometheus.Registry

	// StaticDir serves extracted static assets when non-empty
	StaticDir string
}

// CreatePublicRouter builds the user-facing router: spawn flow, API spawn,
// health, static assets, and the loading page as the catch-all. it returns
// a plain http.Handler so main has no chi awareness.
func CreatePublicRouter(dependencies RouterDependencies) http.Handler {
	router := chi.NewRouter()

	// middleware runs on every request before the handler is reached.
	// Recoverer turns a handler panic into a 500 instead of a dead
	// process; the CORS headers come straight from configuration.
	router.Use(middleware.Logger) // TODO replace with a custom slog middleware
	router.Use(middleware.Recoverer)
	router.Use(CORSMiddleware(dependencies.Config))

	healthHandler := NewHealthHandler(dependencies.Logger)
	spawnHandler := NewSpawnHandler(
		dependencies.Pool,
		dependencies.Logger,
		dependencies.Config.RedirectURI,
		dependencies.Config.CullPeriod,
	)
	apiSpawnHandler := NewAPISpawnHandler(dependencies.Pool, dependencies.Logger, dependencies.Config.APIToken)
	loadingHandler := NewLoadingHandler(dependencies.Logger)

	router.Get("/health", healthHandler.Health)

	router.Get("/spawn", spawnHandler.Spawn)
	router.Get("/spawn/*", spawnHandler.Spawn)

	router.Post("/api/spawn", apiSpawnHandler.Spawn)

	if dependencies.StaticDir != "" {
		if _, err := os.Stat(dependencies.StaticDir); err == nil {
			fileServer := http.StripPrefix("/static/", http.FileServer(http.Dir(dependencies.StaticDir)))
			router.Get("/static/*", fileServer.ServeHTTP)
		} else {
			dependencies.Logger.Warn("static directory not found, not serving /static",
				"path", dependencies.StaticDir, "error", err)
		}
	}

	// everything else is a user waiting for an upstream that is not
	// routed yet (or not routed any more): show the loading page.
	router.Get("/", loadingHandler.Loading)
	router.NotFound(loadingHandler.Loading)

	return router
}

// CreateAdminRouter builds the operator-facing router, bound to its own
// listener so metrics and the event journal are never reachable from the
// user-facing address.
func CreateAdminRouter(dependencies RouterDependencies) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/health", NewHealthHandler(dependencies.Logger).Health)

	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		dependencies.Registry,
		promhttp.HandlerOpts{},
	))

	adminHandler := NewAdminHandler(dependencies.Pool, dependencies.Events, dependencies.Logger)
	router.Get("/api/pool", adminHandler.PoolStats)
	router.Get("/api/events", adminHandler.Events)

	return router
}
