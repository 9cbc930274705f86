//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	appprocurement "github.com/erp/procurement/internal/application/procurement"
	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/auth"
	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/erp/procurement/internal/infrastructure/event"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/erp/procurement/internal/infrastructure/portal"
	"github.com/erp/procurement/internal/interfaces/http/dto"
	"github.com/erp/procurement/internal/interfaces/http/handler"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/erp/procurement/internal/interfaces/http/router"
	"github.com/erp/procurement/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSupplier     = "SUP-001"
	testMasterSecret = "integration-master-secret"
)

// app is the HTTP API wired to a real database and a fake supplier portal
type app struct {
	t        *testing.T
	db       *TestDB
	engine   *gin.Engine
	tokens   *auth.JWTService
	keys     *portal.Keyring
	events   *testutil.RecordingHandler
	portal   *httptest.Server
	failures atomic.Int32 // portal answers 503 while positive
	received atomic.Int32
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()

	a := &app{t: t, db: NewTestDB(t)}
	a.portal = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.received.Add(1)
		if a.failures.Load() > 0 {
			a.failures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reference":"PORTAL-` + strconv.Itoa(int(a.received.Load())) + `"}`))
	}))
	t.Cleanup(a.portal.Close)

	log := zap.NewNop()
	clock := shared.NewSystemClock()
	db := a.db.DB

	serializer := event.NewEventSerializer()
	event.RegisterProcurementEvents(serializer)
	store := appprocurement.Store{
		Orders:     persistence.NewGormOrderRepository(db),
		Steps:      persistence.NewGormApprovalStepRepository(db),
		Attempts:   persistence.NewGormIntegrationAttemptRepository(db),
		Responses:  persistence.NewGormSupplierResponseRepository(db),
		Ledger:     persistence.NewGormAuditLedger(db),
		UnitOfWork: persistence.NewGormUnitOfWork(db, event.NewOutboxPublisher(serializer, 3)),
	}

	// relay committed outbox entries to a recorder
	a.events = testutil.NewRecordingHandler()
	bus := event.NewInMemoryEventBus(log)
	bus.Subscribe(a.events)
	require.NoError(t, bus.Start(context.Background()))
	relay := event.NewOutboxProcessor(event.NewGormOutboxRepository(db), bus, serializer, event.OutboxProcessorConfig{
		BatchSize:    50,
		PollInterval: 50 * time.Millisecond,
	}, clock, log)
	require.NoError(t, relay.Start(context.Background()))
	t.Cleanup(func() { _ = relay.Stop(context.Background()) })

	a.keys = portal.NewKeyring(testMasterSecret, nil)
	gateway, err := portal.NewHTTPGateway(config.PortalConfig{
		BaseURL:        a.portal.URL,
		RequestTimeout: 5 * time.Second,
	}, a.keys, log)
	require.NoError(t, err)

	approvals := appprocurement.NewApprovalService(store, &appprocurement.StaticPolicyProvider{}, clock, log)
	orders := appprocurement.NewOrderService(store, approvals, clock, log)
	dispatcher := appprocurement.NewDispatchService(store, gateway, procurement.RetryPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 2,
	}, clock, log)
	receiver := appprocurement.NewReceiverService(store, portal.NewVerifier(a.keys), clock, log)

	a.tokens = auth.NewJWTService(config.JWTConfig{Secret: "integration-secret-at-least-32-chars", Issuer: "procurement"})
	a.engine = router.New(router.Config{ServiceName: "procurement-it", Logger: log, Tokens: a.tokens}, router.Handlers{
		Orders:    handler.NewOrderHandler(orders),
		Approvals: handler.NewApprovalHandler(approvals),
		Dispatch:  handler.NewDispatchHandler(dispatcher),
		Portal:    handler.NewPortalWebhookHandler(receiver),
		Health:    handler.NewHealthHandler("it", map[string]handler.HealthCheck{"database": a.db.SqlDB.PingContext}),
	})
	return a
}

func (a *app) token(actor string, roles ...string) string {
	a.t.Helper()
	token, _, err := a.tokens.GenerateToken(auth.GenerateTokenInput{Actor: actor, Roles: roles})
	require.NoError(a.t, err)
	return token
}

// call performs an authenticated JSON request and decodes the envelope
func (a *app) call(token, method, path string, body any) (int, dto.Response) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var resp dto.Response
	if w.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

// deliver posts a signed supplier message and returns the raw answer
func (a *app) deliver(correlationID, messageID, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	key, err := a.keys.Key(testSupplier)
	require.NoError(a.t, err)
	return a.serveRaw(signedRequest(key, correlationID, messageID, body, body))
}

func (a *app) serveRaw(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

// signedRequest signs the signed body but sends the sent one
func signedRequest(key []byte, correlationID, messageID, signed, sent string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/portal/messages", bytes.NewBufferString(sent))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(portal.HeaderSupplier, testSupplier)
	req.Header.Set(portal.HeaderTimestamp, ts)
	req.Header.Set(portal.HeaderSignature, portal.Sign(key, ts, []byte(signed)))
	req.Header.Set(portal.HeaderCorrelationID, correlationID)
	req.Header.Set(portal.HeaderMessageID, messageID)
	return req
}

func field(t *testing.T, resp dto.Response, path ...string) any {
	t.Helper()
	var cur any = resp.Data
	for _, p := range path {
		m, ok := cur.(map[string]any)
		require.True(t, ok, "expected object at %q", p)
		cur = m[p]
	}
	return cur
}

func createOrderBody() map[string]any {
	return map[string]any{
		"supplier_ref": testSupplier,
		"type":         "material",
		"currency":     "EUR",
		"cost_center":  "OPS",
		"items": []map[string]any{
			{"description": "Steel bolts M8", "quantity": "100", "unit": "pcs", "unit_price": "0.25"},
			{"description": "Washers", "quantity": "100", "unit": "pcs", "unit_price": "0.05"},
		},
	}
}

func singleApproverPolicy(approver string) map[string]any {
	return map[string]any{"levels": []map[string]any{
		{"level": 1, "mode": "individual", "approvers": []string{approver}},
	}}
}
