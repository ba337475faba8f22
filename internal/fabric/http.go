package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmerrifield20/AuditVault/internal/canonical"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// SubmitRequest is the body of POST /api/v1/transactions.
type SubmitRequest struct {
	ContentHash string `json:"content_hash"`
}

// SubmitResponse is returned by POST /api/v1/transactions.
type SubmitResponse struct {
	TxID  string `json:"tx_id"`
	Index int    `json:"index"`
}

// TransactionResponse is returned by GET /api/v1/transactions/:tx_id.
type TransactionResponse struct {
	TxID        string    `json:"tx_id"`
	Index       int       `json:"index"`
	ContentHash string    `json:"content_hash"`
	Submitter   string    `json:"submitter"`
	Timestamp   time.Time `json:"timestamp"`
}

// HTTPClient talks to a fabric gateway over its REST API.
type HTTPClient struct {
	baseURL  string
	http     *http.Client
	signer   *Signer
	clientID string
	oauth    *clientcredentials.Config
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient) error

// WithHTTPClient sets the underlying http.Client. With WithOAuth2 it also
// carries the token requests, whatever the option order.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) error {
		c.http = hc
		return nil
	}
}

// WithClientAssertion signs every request with a short-lived HS256 token
// identifying clientID.
func WithClientAssertion(signer *Signer, clientID string) HTTPOption {
	return func(c *HTTPClient) error {
		if signer == nil {
			return errors.New("client assertion requires a signer")
		}
		c.signer = signer
		c.clientID = clientID
		return nil
	}
}

// WithOAuth2 authenticates with the OAuth2 client-credentials grant. Tokens
// are fetched from tokenURL and cached until they expire.
func WithOAuth2(tokenURL, clientID, clientSecret string, scopes ...string) HTTPOption {
	return func(c *HTTPClient) error {
		if tokenURL == "" || clientID == "" {
			return errors.New("oauth2 requires a token URL and client ID")
		}
		c.oauth = &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		}
		return nil
	}
}

// NewHTTPClient creates an HTTPClient targeting baseURL. timeout bounds each
// request and defaults to 10s.
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...HTTPOption) (*HTTPClient, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid fabric URL %q: %w", baseURL, err)
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if c.oauth != nil {
		// Wrap last so the base client is final.
		base := c.http
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		hc := c.oauth.Client(ctx)
		hc.Timeout = base.Timeout
		c.http = hc
	}
	return c, nil
}

// Submit implements Client.
func (c *HTTPClient) Submit(ctx context.Context, hash canonical.ContentHash) (Reference, error) {
	if err := checkHash(hash); err != nil {
		return "", err
	}

	body, err := json.Marshal(SubmitRequest{ContentHash: hash.String()})
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}

	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", body, &out); err != nil {
		return "", err
	}
	if out.TxID == "" {
		return "", unavailable("gateway returned an empty tx_id")
	}
	return Reference(out.TxID), nil
}

// Lookup implements Lookup.
func (c *HTTPClient) Lookup(ctx context.Context, ref Reference) (canonical.ContentHash, error) {
	var out TransactionResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/transactions/"+url.PathEscape(ref.String()), nil, &out)
	if err != nil {
		return "", err
	}
	return canonical.ContentHash(out.ContentHash), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build fabric request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		tok, err := c.signer.Sign(c.clientID)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyTransport(ctx, err)
	}

	if err := classifyStatus(resp.StatusCode, data); err != nil {
		if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
			return fmt.Errorf("%w: %s", ErrUnknownReference, path)
		}
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return unavailable("decode gateway response: %v", err)
	}
	return nil
}

// classifyTransport maps a failed round trip to ErrUnavailable. OAuth2 token
// endpoint refusals are permanent.
func classifyTransport(ctx context.Context, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
		return rejected("token endpoint: %v", re)
	}
	if err := classifyContext(ctx, err); errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// classifyStatus maps an HTTP status to nil, ErrUnavailable or ErrRejected.
func classifyStatus(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return unavailable("gateway returned %d: %s", code, errorMessage(body))
	default:
		return rejected("gateway returned %d: %s", code, errorMessage(body))
	}
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return strings.TrimSpace(string(body))
}
