package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/AuditVault/internal/anchor"
	"github.com/jmerrifield20/AuditVault/internal/canonical"
	"github.com/jmerrifield20/AuditVault/internal/fabric"
	"github.com/jmerrifield20/AuditVault/internal/handler"
	"github.com/jmerrifield20/AuditVault/internal/store"
	"github.com/jmerrifield20/AuditVault/internal/trustledger"
	"github.com/jmerrifield20/AuditVault/pkg/client"
)

// ── Servers ──────────────────────────────────────────────────────────────

// vaultServer runs the real HTTP API over an in-memory store and ledger.
func vaultServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	ledger := fabric.NewLocal(trustledger.New(), "auditvault")
	svc := anchor.New(canonical.NewHasher(), ledger, store.NewMemory(), anchor.Config{}, logger)

	r := gin.New()
	handler.NewHealthHandler(logger).Register(r)
	handler.NewAuditHandler(svc, logger).Register(r.Group("/api/v1"))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// statusServer answers every request with the given status and body.
func statusServer(t *testing.T, status int, header http.Header, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		for k, v := range header {
			w.Header()[k] = v
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestAnchorRoundTrip(t *testing.T) {
	c := client.MustNew(vaultServer(t).URL)
	ctx := context.Background()

	res, err := c.Anchor(ctx, map[string]any{"user": "alice", "action": "login", "ts": 1690000000})
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	if res.Hash != "d171f4834444358b1cba27ad2559e8eca3011c7a752f99241a9cd2673d03ad35" {
		t.Errorf("hash: got %s", res.Hash)
	}
	if !res.Anchored || res.FabricTxID == "" || res.EventID != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	rec, err := c.Get(ctx, res.EventID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.FabricTxID != res.FabricTxID || rec.Hash != res.Hash {
		t.Errorf("record mismatch: %+v", rec)
	}

	v, err := c.Verify(ctx, res.EventID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.Valid || !v.LedgerMatches {
		t.Errorf("expected valid verification: %+v", v)
	}

	if err := c.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestAnchorJSON_preservesLiterals(t *testing.T) {
	c := client.MustNew(vaultServer(t).URL)
	ctx := context.Background()

	res, err := c.AnchorJSON(ctx, json.RawMessage(`{"amount":1.50,"currency":"EUR"}`))
	if err != nil {
		t.Fatal(err)
	}
	rec, err := c.Get(ctx, res.EventID)
	if err != nil {
		t.Fatal(err)
	}
	if string(rec.Event) != `{"amount":1.50,"currency":"EUR"}` {
		t.Errorf("stored event: got %s", rec.Event)
	}

	if _, err := c.AnchorJSON(ctx, json.RawMessage(`{bad`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestList(t *testing.T) {
	c := client.MustNew(vaultServer(t).URL)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.Anchor(ctx, map[string]int{"seq": i}); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := c.List(ctx, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].EventID != 3 {
		t.Errorf("unexpected page %+v", recs)
	}
}

func TestErrors(t *testing.T) {
	ctx := context.Background()

	c := client.MustNew(vaultServer(t).URL)
	if _, err := c.Anchor(ctx, []int{1, 2}); !errors.Is(err, client.ErrInvalidEvent) {
		t.Errorf("non-object event: expected ErrInvalidEvent, got %v", err)
	}
	if _, err := c.Get(ctx, 42); !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	unavailable := statusServer(t, http.StatusServiceUnavailable,
		http.Header{"Retry-After": {"5"}}, `{"error":"ledger unavailable"}`)
	_, err := client.MustNew(unavailable.URL).Anchor(ctx, map[string]string{"a": "b"})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || !errors.Is(err, client.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if apiErr.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter: got %s", apiErr.RetryAfter)
	}

	notStored := statusServer(t, http.StatusInternalServerError, nil,
		`{"error":"event anchored but not stored","hash":"abc","fabric_tx_id":"tx-9"}`)
	_, err = client.MustNew(notStored.URL).Anchor(ctx, map[string]string{"a": "b"})
	if !errors.Is(err, client.ErrNotPersisted) || !errors.As(err, &apiErr) || apiErr.FabricTxID != "tx-9" {
		t.Errorf("expected ErrNotPersisted carrying tx-9, got %v", err)
	}

	rejected := statusServer(t, http.StatusUnprocessableEntity, nil, `{"error":"ledger rejected submission"}`)
	if _, err := client.MustNew(rejected.URL).Anchor(ctx, map[string]string{"a": "b"}); !errors.Is(err, client.ErrLedgerRejected) {
		t.Errorf("expected ErrLedgerRejected, got %v", err)
	}
}

func TestCacheTTL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"event_id": 1, "event": map[string]any{}, "hash": "h", "fabric_tx_id": "tx-1"})
	}))
	t.Cleanup(srv.Close)

	c := client.MustNew(srv.URL, client.WithCacheTTL(time.Minute))
	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), 1); err != nil {
			t.Fatal(err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 server hit, got %d", hits.Load())
	}
}

func TestBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := client.MustNew(srv.URL, client.WithBearerToken("secret-token"))
	if err := c.Health(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer secret-token" {
		t.Errorf("Authorization: got %q", got)
	}
}

func TestNew_invalidURL(t *testing.T) {
	if _, err := client.New("not a url"); err == nil {
		t.Error("expected error for invalid base URL")
	}
	if _, err := client.New("http://localhost", client.WithRootCA("garbage")); err == nil {
		t.Error("expected error for invalid CA PEM")
	}
}
