// Package router assembles the procurement HTTP API: the global middleware
// chain, the versioned route groups and the per-group authentication.
package router

import (
	"net/http"

	"github.com/erp/procurement/internal/infrastructure/auth"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/infrastructure/portal"
	"github.com/erp/procurement/internal/interfaces/http/handler"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DefaultPortalBodyLimit caps inbound supplier messages
const DefaultPortalBodyLimit int64 = 1 << 20

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
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

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, apiVersion: "v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes under /api/<version>
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup is a named set of routes sharing a prefix and middleware
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	subgroups  []*DomainGroup
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, path, handlers)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, path, handlers)
}

// PUT registers a PUT route
func (dg *DomainGroup) PUT(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPut, path, handlers)
}

// DELETE registers a DELETE route
func (dg *DomainGroup) DELETE(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodDelete, path, handlers)
}

func (dg *DomainGroup) handle(method, path string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

// Group creates a sub-group within this domain
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	subgroup := NewDomainGroup(name, prefix)
	dg.subgroups = append(dg.subgroups, subgroup)
	return subgroup
}

// RegisterRoutes implements RouteRegistrar interface
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
	for _, subgroup := range dg.subgroups {
		subgroup.RegisterRoutes(group)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}

// Handlers are the endpoint handlers mounted by New
type Handlers struct {
	Orders    *handler.OrderHandler
	Approvals *handler.ApprovalHandler
	Dispatch  *handler.DispatchHandler
	Portal    *handler.PortalWebhookHandler
	Health    *handler.HealthHandler
	// Outbox mounts the admin dead-letter routes when set
	Outbox *handler.OutboxHandler
}

// Config controls the middleware chain built by New
type Config struct {
	ServiceName string
	Logger      *zap.Logger
	Tokens      middleware.TokenValidator
	// Meter enables HTTP metrics when set
	Meter          metric.Meter
	TracingOptions []otelgin.Option
	// PortalBodyLimit defaults to DefaultPortalBodyLimit
	PortalBodyLimit int64
	// PortalLimiter throttles inbound messages per supplier when set
	PortalLimiter *middleware.RateLimiter
	// Profiling adds per-route profiling labels
	Profiling bool
}

// New builds the engine serving the procurement API
func New(cfg Config, h Handlers) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		middleware.Tracing(cfg.ServiceName, cfg.TracingOptions...),
		middleware.SpanEnricher(),
		logger.GinMiddleware(log),
		middleware.Secure(),
	)
	if cfg.Meter != nil {
		engine.Use(middleware.HTTPMetrics(cfg.Meter))
	}
	if cfg.Profiling {
		engine.Use(middleware.Profiling("/api/v1/health"))
	}

	r := NewRouter(engine)
	r.Register(orderRoutes(cfg, log, h))
	r.Register(approvalRoutes(cfg, log, h))
	r.Register(portalRoutes(cfg, h))
	if h.Outbox != nil {
		r.Register(adminRoutes(cfg, log, h))
	}
	r.Register(NewDomainGroup("system", "").GET("/health", h.Health.Health))
	r.Setup()
	return engine
}

func orderRoutes(cfg Config, log *zap.Logger, h Handlers) *DomainGroup {
	buyer := middleware.RequireRole(auth.RoleBuyer)
	orders := NewDomainGroup("orders", "/orders").Use(middleware.JWTAuth(cfg.Tokens, log))

	orders.POST("", buyer, h.Orders.Create).
		GET("", h.Orders.List).
		GET("/:id", h.Orders.Get).
		PUT("/:id/items", buyer, h.Orders.UpdateItems).
		POST("/:id/submit", buyer, h.Orders.Submit).
		POST("/:id/cancel", buyer, h.Orders.Cancel).
		POST("/:id/accept-changes", buyer, h.Orders.AcceptChanges).
		POST("/:id/finalize", buyer, h.Orders.Finalize).
		POST("/:id/dispatch", buyer, h.Dispatch.Dispatch).
		POST("/:id/resend", buyer, h.Dispatch.Resend).
		DELETE("/:id", buyer, h.Orders.Archive).
		GET("/:id/audit", h.Orders.AuditTrail).
		GET("/:id/attempts", h.Orders.Attempts).
		GET("/:id/approval-steps", h.Orders.ApprovalSteps)
	return orders
}

func approvalRoutes(cfg Config, log *zap.Logger, h Handlers) *DomainGroup {
	return NewDomainGroup("approvals", "/approval-steps").
		Use(middleware.JWTAuth(cfg.Tokens, log), middleware.RequireRole(auth.RoleApprover)).
		POST("/:id/decision", h.Approvals.Decide)
}

func adminRoutes(cfg Config, log *zap.Logger, h Handlers) *DomainGroup {
	admin := NewDomainGroup("admin", "/admin").
		Use(middleware.JWTAuth(cfg.Tokens, log), middleware.RequireRole(auth.RoleAdmin))
	admin.Group("outbox", "/outbox").
		GET("/stats", h.Outbox.Stats).
		GET("/dead-letters", h.Outbox.DeadLetters).
		POST("/dead-letters/retry", h.Outbox.RetryAll).
		POST("/dead-letters/:id/retry", h.Outbox.Retry)
	return admin
}

// portalRoutes authenticate by message signature, so no JWT is required
func portalRoutes(cfg Config, h Handlers) *DomainGroup {
	limit := cfg.PortalBodyLimit
	if limit <= 0 {
		limit = DefaultPortalBodyLimit
	}
	group := NewDomainGroup("portal", "/portal").Use(middleware.BodyLimit(limit))
	if cfg.PortalLimiter != nil {
		group.Use(middleware.RateLimitByKey(cfg.PortalLimiter, middleware.SupplierKey(portal.HeaderSupplier)))
	}
	return group.POST("/messages", h.Portal.Receive)
}
