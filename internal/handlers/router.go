package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gymhub/api/internal/platform/httpx"
)

// RouteRegistrar adds a feature's routes to r.
type RouteRegistrar func(r chi.Router)

// API groups in mount order. A group without a registrar answers 501.
var groupPaths = []string{"/orders", "/local-sales", "/transfers", "/movements", "/webhooks", "/internal"}

type routeGroup struct {
	register RouteRegistrar
	use      []func(http.Handler) http.Handler
}

type routerConfig struct {
	prefix     string
	global     []func(http.Handler) http.Handler
	health     *HealthHandlers
	groups     map[string]*routeGroup
	additional []RouteRegistrar
}

func (c *routerConfig) group(path string) *routeGroup {
	g, ok := c.groups[path]
	if !ok {
		g = &routeGroup{}
		c.groups[path] = g
	}
	return g
}

type Option func(*routerConfig)

// NewRouter builds the HTTP surface: probes at the root and feature groups
// under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		prefix: "/api/v1",
		global: []func(http.Handler) http.Handler{middleware.RequestID, middleware.RealIP, middleware.Timeout(time.Minute)},
		groups: make(map[string]*routeGroup),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})
	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.prefix, func(api chi.Router) {
		for _, reg := range cfg.additional {
			if reg != nil {
				reg(api)
			}
		}
		for _, path := range groupPaths {
			g := cfg.group(path)
			api.Route(path, func(sub chi.Router) {
				for _, mw := range g.use {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.register == nil {
					notImplemented(sub, path)
					return
				}
				g.register(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends global middleware after the chi defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(c *routerConfig) { c.global = append(c.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(c *routerConfig) { c.health = h }
}

// WithAdditionalRoutes registers on the API root, for collection custom
// methods such as /orders:advance.
func WithAdditionalRoutes(reg RouteRegistrar) Option {
	return func(c *routerConfig) { c.additional = append(c.additional, reg) }
}

func withGroup(path string, reg RouteRegistrar) Option {
	return func(c *routerConfig) { c.group(path).register = reg }
}

func withGroupMiddlewares(path string, mw []func(http.Handler) http.Handler) Option {
	return func(c *routerConfig) {
		g := c.group(path)
		g.use = append(g.use, mw...)
	}
}

func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup("/orders", reg) }
func WithLocalSaleRoutes(reg RouteRegistrar) Option { return withGroup("/local-sales", reg) }
func WithTransferRoutes(reg RouteRegistrar) Option { return withGroup("/transfers", reg) }
func WithMovementRoutes(reg RouteRegistrar) Option { return withGroup("/movements", reg) }
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroup("/webhooks", reg) }
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroup("/internal", reg) }

// WithWebhookMiddlewares guards /webhooks, typically with HMAC verification.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares("/webhooks", mw)
}

// WithInternalMiddlewares guards /internal, typically with OIDC verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares("/internal", mw)
}

func notImplemented(r chi.Router, path string) {
	h := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", path+" is not available", http.StatusNotImplemented))
	}
	r.HandleFunc("/", h)
	r.HandleFunc("/*", h)
	r.NotFound(h)
	r.MethodNotAllowed(h)
}
