// Package router assembles the gin engine of the ledger API.
package router

import (
	"fmt"

	"github.com/erp/ledger/internal/infrastructure/logger"
	"github.com/erp/ledger/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	basePath   string
	root       []RouteRegistrar
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithBasePath sets the path below the version prefix, "ledger" by default
func WithBasePath(path string) RouterOption {
	return func(r *Router) {
		r.basePath = path
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
		basePath:   "ledger",
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a RouteRegistrar mounted under /api/{version}/{base}
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// RegisterRoot adds a RouteRegistrar mounted at the root, for health checks
func (r *Router) RegisterRoot(registrar RouteRegistrar) *Router {
	r.root = append(r.root, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	for _, registrar := range r.root {
		registrar.RegisterRoutes(&r.engine.RouterGroup)
	}

	prefix := "/api/" + r.apiVersion
	if r.basePath != "" {
		prefix += "/" + r.basePath
	}
	api := r.engine.Group(prefix)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// Config holds what the engine middleware needs
type Config struct {
	ServiceName    string
	Logger         *zap.Logger
	Meter          metric.Meter
	TracingEnabled bool
	CORS           middleware.CORSConfig
	Security       middleware.SecurityConfig
	Team           middleware.TeamConfig
	MaxBodySize    int64
	TrustedProxies []string
}

// NewEngine builds a gin engine with the middleware chain of the API.
// CORS runs before the team check so preflight requests need no team, and
// the team is resolved before the span and log middleware read it.
func NewEngine(cfg Config) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		middleware.CORSWithConfig(cfg.CORS),
		middleware.Tracing(middleware.TracingConfig{ServiceName: cfg.ServiceName, Enabled: cfg.TracingEnabled}),
		middleware.Team(cfg.Team),
		middleware.SpanAttributes(),
		logger.GinMiddleware(log),
		middleware.HTTPMetrics(cfg.Meter),
		middleware.Secure(cfg.Security),
		middleware.BodyLimit(cfg.MaxBodySize),
	)
	return engine, nil
}
