package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/AuditVault/internal/anchor"
	"github.com/jmerrifield20/AuditVault/internal/canonical"
	"github.com/jmerrifield20/AuditVault/internal/fabric"
	"github.com/jmerrifield20/AuditVault/internal/handler"
	"github.com/jmerrifield20/AuditVault/internal/model"
	"github.com/jmerrifield20/AuditVault/internal/store"
	"github.com/jmerrifield20/AuditVault/internal/trustledger"
)

const loginBody = `{"event":{"user":"alice","action":"login","ts":1690000000}}`

// ── Stubs ────────────────────────────────────────────────────────────────

type stubLedger struct {
	mu  sync.Mutex
	n   int
	err error
}

func (l *stubLedger) Submit(_ context.Context, _ canonical.ContentHash) (fabric.Reference, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	l.n++
	return fabric.Reference(fmt.Sprintf("tx-%d", l.n)), nil
}

type brokenStore struct{ *store.Memory }

func (brokenStore) Insert(context.Context, *model.Record) (*model.Record, error) {
	return nil, errors.New("disk full")
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newRouter(ledger fabric.Client, st anchor.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := anchor.New(canonical.NewHasher(), ledger, st, anchor.Config{}, zap.NewNop())
	r := gin.New()
	r.Use(handler.RequestID())
	handler.NewHealthHandler(zap.NewNop()).Register(r)
	audit := handler.NewAuditHandler(svc, zap.NewNop())
	audit.RegisterCompat(r)
	audit.Register(r.Group("/api/v1"))
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCreateAuditEvent_created(t *testing.T) {
	r := newRouter(&stubLedger{}, store.NewMemory())

	w := do(r, http.MethodPost, "/api/v1/audit-events", loginBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["hash"] != "d171f4834444358b1cba27ad2559e8eca3011c7a752f99241a9cd2673d03ad35" {
		t.Errorf("unexpected hash %v", body["hash"])
	}
	if body["fabric_tx_id"] != "tx-1" || body["anchored"] != true || body["event_id"] != float64(1) {
		t.Errorf("unexpected body %v", body)
	}
}

func TestCreateAuditEvent_compatRoute(t *testing.T) {
	r := newRouter(&stubLedger{}, store.NewMemory())

	w := do(r, http.MethodPost, "/audit-event", loginBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["hash"] != "d171f4834444358b1cba27ad2559e8eca3011c7a752f99241a9cd2673d03ad35" || body["anchored"] != true {
		t.Errorf("unexpected body %v", body)
	}

	// Errors map the same way on both routes.
	if w := do(r, http.MethodPost, "/audit-event", `{"event":[1]}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCreateAuditEvent_badInput(t *testing.T) {
	ledger := &stubLedger{}
	r := newRouter(ledger, store.NewMemory())

	for _, body := range []string{
		`not json`,
		`{"event":[1,2]}`,
		`{"event":"login"}`,
		`{}`,
		`{"event":{"n":9007199254740993}}`,
		`{"event":{"a":1,"a":2}}`,
		`{"event":{"a":"\ud800"}}`,
	} {
		w := do(r, http.MethodPost, "/api/v1/audit-events", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
	if ledger.n != 0 {
		t.Errorf("ledger called %d times for invalid input", ledger.n)
	}
}

func TestCreateAuditEvent_ledgerFailures(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: 502", fabric.ErrUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: 403", fabric.ErrRejected), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		st := store.NewMemory()
		r := newRouter(&stubLedger{err: tc.err}, st)

		w := do(r, http.MethodPost, "/api/v1/audit-events", loginBody)
		if w.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
		if tc.want == http.StatusServiceUnavailable && w.Header().Get("Retry-After") == "" {
			t.Error("expected Retry-After on 503")
		}
		if n, _ := st.Count(context.Background()); n != 0 {
			t.Errorf("%v: %d records stored", tc.err, n)
		}
	}
}

func TestCreateAuditEvent_persistenceFailure(t *testing.T) {
	r := newRouter(&stubLedger{}, brokenStore{store.NewMemory()})

	w := do(r, http.MethodPost, "/api/v1/audit-events", loginBody)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := decode(t, w)
	if body["fabric_tx_id"] != "tx-1" {
		t.Errorf("fabric_tx_id: got %v", body["fabric_tx_id"])
	}
	if body["hash"] != "d171f4834444358b1cba27ad2559e8eca3011c7a752f99241a9cd2673d03ad35" {
		t.Errorf("hash: got %v", body["hash"])
	}
}

func TestGetAndListAuditEvents(t *testing.T) {
	r := newRouter(&stubLedger{}, store.NewMemory())
	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"event":{"seq":%d,"amount":1.50}}`, i)
		if w := do(r, http.MethodPost, "/api/v1/audit-events", body); w.Code != http.StatusCreated {
			t.Fatalf("seed: %d", w.Code)
		}
	}

	w := do(r, http.MethodGet, "/api/v1/audit-events/2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	// The stored event is returned as received, number literals included.
	if !bytes.Contains(w.Body.Bytes(), []byte(`"event":{"seq":1,"amount":1.50}`)) {
		t.Errorf("raw event not preserved: %s", w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/v1/audit-events?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	if got := decode(t, w)["count"]; got != float64(2) {
		t.Errorf("count: got %v", got)
	}

	if w := do(r, http.MethodGet, "/api/v1/audit-events/99", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing: expected 404, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/audit-events/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", w.Code)
	}
}

func TestVerifyAuditEvent(t *testing.T) {
	r := newRouter(fabric.NewLocal(trustledger.New(), "auditvault"), store.NewMemory())
	if w := do(r, http.MethodPost, "/api/v1/audit-events", loginBody); w.Code != http.StatusCreated {
		t.Fatalf("seed: %d", w.Code)
	}

	w := do(r, http.MethodGet, "/api/v1/audit-events/1/verify", "")
	if w.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["valid"] != true || body["ledger_matches"] != true {
		t.Errorf("expected valid verification: %v", body)
	}

	if w := do(r, http.MethodGet, "/api/v1/audit-events/5/verify", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := handler.NewHealthHandler(zap.NewNop())
	h.AddCheck("store", stubPinger{})
	r := gin.New()
	h.Register(r)

	w := do(r, http.MethodGet, "/", "")
	if decode(t, w)["status"] != "Audit Vault Running" {
		t.Errorf("root: %s", w.Body.String())
	}
	w = do(r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || decode(t, w)["status"] != "ok" {
		t.Errorf("healthz: %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Errorf("readyz: %d", w.Code)
	}

	h.AddCheck("queue", stubPinger{err: errors.New("redis down")})
	if w := do(r, http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with failing check: %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.RateLimiter(t.Context(), 1, 1))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	if w := do(r, http.MethodGet, "/x", ""); w.Code != http.StatusNoContent {
		t.Fatalf("first request: %d", w.Code)
	}
	w := do(r, http.MethodGet, "/x", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Error("expected Retry-After header")
	}
}

func TestRequestID(t *testing.T) {
	r := newRouter(&stubLedger{}, store.NewMemory())

	w := do(r, http.MethodGet, "/healthz", "")
	if _, err := uuid.Parse(w.Header().Get(handler.RequestIDHeader)); err != nil {
		t.Errorf("expected generated request ID, got %q", w.Header().Get(handler.RequestIDHeader))
	}

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(handler.RequestIDHeader, id)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(handler.RequestIDHeader); got != id {
		t.Errorf("inbound request ID not reused: got %q", got)
	}
}

func TestMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.PrometheusMiddleware())
	r.GET("/metrics", handler.MetricsHandler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	handler.RecordAnchor(anchor.OutcomeAnchored, 0)
	handler.RecordReconcile("persisted")
	handler.RecordWebhookDelivery(false)

	do(r, http.MethodGet, "/ping", "")
	w := do(r, http.MethodGet, "/metrics", "")
	for _, name := range []string{"auditvault_requests_total", "auditvault_anchors_total", "auditvault_reconcile_total", "auditvault_webhook_deliveries_total"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
