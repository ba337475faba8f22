package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sentinel errors matched by *APIError via errors.Is.
var (
	ErrInvalidEvent      = errors.New("event rejected as invalid")
	ErrNotFound          = errors.New("audit event not found")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrLedgerRejected    = errors.New("ledger rejected submission")
	ErrNotPersisted      = errors.New("event anchored but not stored")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// APIError is a non-2xx response from the vault.
type APIError struct {
	StatusCode int
	Message    string
	// Hash and FabricTxID are set when the ledger accepted the event but the
	// vault failed to store it.
	Hash       string
	FabricTxID string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.FabricTxID != "" {
		return fmt.Sprintf("auditvault: HTTP %d: %s (hash %s, fabric_tx_id %s)", e.StatusCode, e.Message, e.Hash, e.FabricTxID)
	}
	return fmt.Sprintf("auditvault: HTTP %d: %s", e.StatusCode, e.Message)
}

// Is maps the status code onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrInvalidEvent:
		return e.StatusCode == http.StatusBadRequest
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrLedgerUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	case ErrLedgerRejected:
		return e.StatusCode == http.StatusUnprocessableEntity
	case ErrNotPersisted:
		return e.StatusCode == http.StatusInternalServerError && e.FabricTxID != ""
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// AnchorResult is returned by Anchor.
type AnchorResult struct {
	EventID    int64  `json:"event_id"`
	Hash       string `json:"hash"`
	FabricTxID string `json:"fabric_tx_id"`
	Anchored   bool   `json:"anchored"`
}

// Record is a stored audit event. Event holds the raw JSON as submitted.
type Record struct {
	EventID    int64           `json:"event_id"`
	Event      json.RawMessage `json:"event"`
	Hash       string          `json:"hash"`
	FabricTxID string          `json:"fabric_tx_id"`
	Anchored   bool            `json:"anchored"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Verification is returned by Verify.
type Verification struct {
	EventID       int64  `json:"event_id"`
	StoredHash    string `json:"stored_hash"`
	ComputedHash  string `json:"computed_hash"`
	FabricTxID    string `json:"fabric_tx_id"`
	LedgerHash    string `json:"ledger_hash,omitempty"`
	HashMatches   bool   `json:"hash_matches"`
	LedgerChecked bool   `json:"ledger_checked"`
	LedgerMatches bool   `json:"ledger_matches"`
	Valid         bool   `json:"valid"`
}

// Client talks to an AuditVault server.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	cache       *recordCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithBearerToken attaches a token to every request, for vaults deployed
// behind an authenticating proxy.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithRootCA trusts the given PEM-encoded CA certificate for TLS.
func WithRootCA(caPEM string) Option {
	return func(c *Client) error {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(caPEM)) {
			return fmt.Errorf("failed to parse CA certificate PEM")
		}
		c.httpClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{
				RootCAs:    pool,
				MinVersion: tls.VersionTLS12,
			}},
			Timeout: c.httpClient.Timeout,
		}
		return nil
	}
}

// WithCacheTTL caches Get results for ttl. Records are immutable, so this
// only saves round trips.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newRecordCache(ttl)
		return nil
	}
}

// New creates a Client for the vault at base.
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Anchor JSON-encodes event and submits it. event must encode to a JSON
// object.
func (c *Client) Anchor(ctx context.Context, event any) (*AnchorResult, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return c.AnchorJSON(ctx, raw)
}

// AnchorJSON submits an already-encoded event object.
func (c *Client) AnchorJSON(ctx context.Context, event json.RawMessage) (*AnchorResult, error) {
	if !json.Valid(event) {
		return nil, fmt.Errorf("event is not valid JSON")
	}
	payload, err := json.Marshal(struct {
		Event json.RawMessage `json:"event"`
	}{event})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var res AnchorResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/audit-events", payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Get fetches a stored record by ID.
func (c *Client) Get(ctx context.Context, id int64) (*Record, error) {
	if c.cache != nil {
		if r, ok := c.cache.get(id); ok {
			return r, nil
		}
	}
	var rec Record
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit-events/"+strconv.FormatInt(id, 10), nil, &rec); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(id, &rec)
	}
	return &rec, nil
}

// List returns stored records, newest first.
func (c *Client) List(ctx context.Context, limit, offset int) ([]Record, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var wrapper struct {
		Events []Record `json:"events"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit-events?"+q.Encode(), nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Events, nil
}

// Verify asks the vault to recompute the record's hash and check it against
// the ledger.
func (c *Client) Verify(ctx context.Context, id int64) (*Verification, error) {
	var v Verification
	path := "/api/v1/audit-events/" + strconv.FormatInt(id, 10) + "/verify"
	if err := c.call(ctx, http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Health calls GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/healthz", nil, nil)
}

// call executes a request and decodes a 2xx JSON body into out.
func (c *Client) call(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return newAPIError(resp, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}
	var payload struct {
		Error      string `json:"error"`
		Hash       string `json:"hash"`
		FabricTxID string `json:"fabric_tx_id"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		e.Message = payload.Error
		e.Hash = payload.Hash
		e.FabricTxID = payload.FabricTxID
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}

// --- simple in-memory record cache ---

type cacheEntry struct {
	record    *Record
	expiresAt time.Time
}

type recordCache struct {
	mu      sync.RWMutex
	entries map[int64]*cacheEntry
	ttl     time.Duration
}

func newRecordCache(ttl time.Duration) *recordCache {
	return &recordCache{entries: make(map[int64]*cacheEntry), ttl: ttl}
}

func (rc *recordCache) get(id int64) (*Record, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	e, ok := rc.entries[id]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	cp := *e.record
	return &cp, true
}

func (rc *recordCache) set(id int64, r *Record) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	cp := *r
	rc.entries[id] = &cacheEntry{record: &cp, expiresAt: time.Now().Add(rc.ttl)}
}
