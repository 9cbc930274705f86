package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/infrastructure/auth"
	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/erp/procurement/internal/infrastructure/portal"
	"github.com/erp/procurement/internal/interfaces/http/handler"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithAPIVersion("v2"))

	group := NewDomainGroup("test", "/test")
	group.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	group.Group("nested", "/nested").Use(func(c *gin.Context) {
		c.Header("X-Nested", "yes")
	}).DELETE("/:id", func(c *gin.Context) {
		c.String(http.StatusOK, c.Param("id"))
	})
	r.Register(group).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/test/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v2/test/nested/42", nil))
	assert.Equal(t, "42", w.Body.String())
	assert.Equal(t, "yes", w.Header().Get("X-Nested"))

	assert.Equal(t, "test", group.Name())
	assert.Equal(t, "/test", group.Prefix())
}

type stubReceiver struct{ calls int }

func (s *stubReceiver) Receive(context.Context, appprocurement.InboundMessage) (*appprocurement.ReceiveResult, error) {
	s.calls++
	return &appprocurement.ReceiveResult{Body: []byte(`{"status":"accepted"}`)}, nil
}

func newTestEngine(t *testing.T, limiter *middleware.RateLimiter) (*gin.Engine, *auth.JWTService, *stubReceiver) {
	t.Helper()
	tokens := auth.NewJWTService(config.JWTConfig{Secret: "router-test-secret-at-least-32-chars", Issuer: "procurement"})
	receiver := &stubReceiver{}
	engine := New(Config{
		ServiceName:     "procurement-test",
		Tokens:          tokens,
		PortalBodyLimit: 64,
		PortalLimiter:   limiter,
	}, Handlers{
		Orders:    handler.NewOrderHandler(nil),
		Approvals: handler.NewApprovalHandler(nil),
		Dispatch:  handler.NewDispatchHandler(nil),
		Portal:    handler.NewPortalWebhookHandler(receiver),
		Health:    handler.NewHealthHandler("test", nil),
		Outbox:    handler.NewOutboxHandler(nil),
	})
	return engine, tokens, receiver
}

func bearer(t *testing.T, tokens *auth.JWTService, roles ...string) string {
	t.Helper()
	token, _, err := tokens.GenerateToken(auth.GenerateTokenInput{Actor: "alice", Roles: roles})
	require.NoError(t, err)
	return "Bearer " + token
}

func serve(engine *gin.Engine, method, path, authz, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	req.Header.Set(portal.HeaderSupplier, "SUP-1")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestNew_Authentication(t *testing.T) {
	engine, tokens, _ := newTestEngine(t, nil)

	t.Run("health is public", func(t *testing.T) {
		w := serve(engine, http.MethodGet, "/api/v1/health", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	})

	t.Run("orders need a token", func(t *testing.T) {
		w := serve(engine, http.MethodGet, "/api/v1/orders/not-a-uuid", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("any authenticated actor may read", func(t *testing.T) {
		w := serve(engine, http.MethodGet, "/api/v1/orders/not-a-uuid", bearer(t, tokens, auth.RoleApprover), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("writes need the buyer role", func(t *testing.T) {
		w := serve(engine, http.MethodPost, "/api/v1/orders/not-a-uuid/submit", bearer(t, tokens, auth.RoleApprover), "{}")
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = serve(engine, http.MethodPost, "/api/v1/orders/not-a-uuid/dispatch", bearer(t, tokens, auth.RoleBuyer), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("decisions need the approver role", func(t *testing.T) {
		w := serve(engine, http.MethodPost, "/api/v1/approval-steps/not-a-uuid/decision", bearer(t, tokens, auth.RoleBuyer), "{}")
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = serve(engine, http.MethodPost, "/api/v1/approval-steps/not-a-uuid/decision", bearer(t, tokens, auth.RoleAdmin), "{}")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("outbox admin needs the admin role", func(t *testing.T) {
		w := serve(engine, http.MethodPost, "/api/v1/admin/outbox/dead-letters/not-a-uuid/retry", bearer(t, tokens, auth.RoleBuyer), "")
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = serve(engine, http.MethodPost, "/api/v1/admin/outbox/dead-letters/not-a-uuid/retry", bearer(t, tokens, auth.RoleAdmin), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("security headers are set", func(t *testing.T) {
		w := serve(engine, http.MethodGet, "/api/v1/health", "", "")
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	})
}

func TestNew_PortalRoutes(t *testing.T) {
	t.Run("portal messages skip JWT", func(t *testing.T) {
		engine, _, receiver := newTestEngine(t, nil)

		w := serve(engine, http.MethodPost, "/api/v1/portal/messages", "", `{"type":"viewed"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"accepted"}`, w.Body.String())
		assert.Equal(t, 1, receiver.calls)
	})

	t.Run("oversized body is rejected", func(t *testing.T) {
		engine, _, receiver := newTestEngine(t, nil)

		w := serve(engine, http.MethodPost, "/api/v1/portal/messages", "", strings.Repeat("x", 65))

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Zero(t, receiver.calls)
	})

	t.Run("per-supplier rate limit", func(t *testing.T) {
		engine, _, receiver := newTestEngine(t, middleware.NewRateLimiter(1, time.Minute))

		assert.Equal(t, http.StatusOK, serve(engine, http.MethodPost, "/api/v1/portal/messages", "", "{}").Code)
		assert.Equal(t, http.StatusTooManyRequests, serve(engine, http.MethodPost, "/api/v1/portal/messages", "", "{}").Code)
		assert.Equal(t, 1, receiver.calls)
	})
}
