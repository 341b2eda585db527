package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/adminboard/pkg/audit"
	"github.com/platinummonkey/adminboard/pkg/calendar"
	"github.com/platinummonkey/adminboard/pkg/claims"
	"github.com/platinummonkey/adminboard/pkg/docstore"
	"github.com/platinummonkey/adminboard/pkg/httputil"
	"github.com/platinummonkey/adminboard/pkg/kanban"
	"github.com/platinummonkey/adminboard/pkg/middleware"
	"github.com/platinummonkey/adminboard/pkg/observability"
	"github.com/platinummonkey/adminboard/pkg/proxy"
	"github.com/platinummonkey/adminboard/pkg/rbac"
	"github.com/platinummonkey/adminboard/pkg/realtime"
	"github.com/platinummonkey/adminboard/pkg/users"
)

// Deps are the components the server mounts. Resolver, Store and Admin are
// required; a nil component leaves its routes unmounted.
type Deps struct {
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Health   *observability.HealthChecker
	Resolver middleware.SessionResolver
	Audit    audit.Logger
	// AuditSearch backs /api/audit/events
	AuditSearch audit.Searcher

	Store    docstore.Store
	Hub      *realtime.Hub
	Admin    *rbac.Admin
	Users    *users.Service
	Board    *kanban.Service
	Calendar *calendar.Service
	Claims   *claims.Function
	Proxy    *proxy.Proxy

	MutationLimiter middleware.Limiter
	FunctionLimiter middleware.Limiter

	AllowedOrigins []string
	// Tracing wraps the handler in otelhttp
	Tracing bool
}

// Server is the adminboard HTTP handler
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer creates the router and middleware chain
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	auditLogger := d.Audit
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}

	s := &Server{router: mux.NewRouter(), logger: logger}
	s.setupRoutes(d)

	var handler http.Handler = s.router
	handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(d.AllowedOrigins),
		audit.Middleware(auditLogger),
		middleware.Authenticate(d.Resolver),
	)(handler)
	if d.Tracing {
		handler = otelhttp.NewHandler(handler, "adminboard")
	}
	s.handler = handler
	return s
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes(d Deps) {
	if d.Metrics != nil {
		s.router.Use(mux.MiddlewareFunc(observability.HTTPMetricsMiddleware(d.Metrics)))
	}
	if d.Health != nil {
		observability.RegisterHealthRoutes(s.router, d.Health)
	}
	if d.Gatherer != nil {
		observability.RegisterMetricsEndpoint(s.router, d.Gatherer)
	}
	if d.Proxy != nil {
		d.Proxy.RegisterRoutes(s.router)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	if d.MutationLimiter != nil {
		api.Use(onlyMutations(middleware.RateLimit(d.MutationLimiter)))
	}
	if d.FunctionLimiter != nil {
		api.Use(underPrefix("/api/functions/", middleware.RateLimit(d.FunctionLimiter)))
	}
	api.Use(underPrefix("/api/board", middleware.RequirePermission(rbac.PermManageBoard)))
	api.Use(underPrefix("/api/calendar/", middleware.RequireAuthenticated))
	api.Use(underPrefix("/api/users", middleware.RequireAuthenticated))
	api.Use(underPrefix("/api/me", middleware.RequireAuthenticated))
	api.Use(underPrefix("/api/audit/", middleware.RequirePermission(rbac.PermManageUsers)))

	docstore.NewHandlers(d.Store, d.Hub, docstore.DefaultAccess()).RegisterRoutes(api)
	rbac.NewHandlers(d.Admin).RegisterRoutes(api)
	if d.Users != nil {
		users.NewHandlers(d.Users).RegisterRoutes(api)
	}
	if d.Board != nil {
		kanban.NewHandlers(d.Board).RegisterRoutes(api)
	}
	if d.Calendar != nil {
		calendar.NewHandlers(d.Calendar).RegisterRoutes(api)
	}
	if d.Claims != nil {
		claims.NewHandlers(d.Claims).RegisterRoutes(api)
	}
	if d.AuditSearch != nil {
		audit.NewHandlers(d.AuditSearch).RegisterRoutes(api)
	}
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// underPrefix applies mw to requests whose path is prefix or below it
func underPrefix(prefix string, mw func(http.Handler) http.Handler) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(r.URL.Path, prefix) {
				wrapped.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// onlyMutations applies mw to requests that can change state
func onlyMutations(mw func(http.Handler) http.Handler) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				wrapped.ServeHTTP(w, r)
			}
		})
	}
}
