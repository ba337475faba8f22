package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/AuditVault/internal/model"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-AuditVault-Signature"

// DeliveryRecorder is an optional callback for recording delivery outcomes.
type DeliveryRecorder func(success bool)

// WebhookConfig configures a WebhookPublisher.
type WebhookConfig struct {
	URLs    []string
	Secret  string // empty = unsigned
	Timeout time.Duration
	// Backoff lists the waits before each retry; len(Backoff)+1 attempts are made.
	Backoff []time.Duration
}

// DefaultWebhookConfig returns the delivery schedule used in production:
// three attempts, 1s then 5s apart.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Timeout: 10 * time.Second,
		Backoff: []time.Duration{1 * time.Second, 5 * time.Second},
	}
}

// WebhookPublisher POSTs every anchored record to a fixed set of URLs.
// Deliveries run in the background so a slow subscriber never delays the
// anchoring response.
type WebhookPublisher struct {
	cfg        WebhookConfig
	httpClient *http.Client
	onDelivery DeliveryRecorder
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewWebhookPublisher creates a WebhookPublisher.
func NewWebhookPublisher(cfg WebhookConfig, logger *zap.Logger) (*WebhookPublisher, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("webhook: at least one URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookPublisher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// SetDeliveryRecorder configures the metrics callback.
func (p *WebhookPublisher) SetDeliveryRecorder(fn DeliveryRecorder) {
	p.onDelivery = fn
}

// PublishAnchored schedules delivery of rec to every configured URL.
// Only encoding errors are returned; delivery failures are logged.
func (p *WebhookPublisher) PublishAnchored(ctx context.Context, rec *model.Record) error {
	body, err := encode(rec)
	if err != nil {
		return err
	}
	// Deliveries outlive the request that triggered them.
	ctx = context.WithoutCancel(ctx)
	sig := p.sign(body)
	for _, url := range p.cfg.URLs {
		p.wg.Add(1)
		go func(url string) {
			defer p.wg.Done()
			p.deliver(ctx, url, body, sig, rec.ID)
		}(url)
	}
	return nil
}

// Wait blocks until all in-flight deliveries have finished.
func (p *WebhookPublisher) Wait() {
	p.wg.Wait()
}

func (p *WebhookPublisher) deliver(ctx context.Context, url string, body []byte, sig string, eventID int64) {
	attempts := len(p.cfg.Backoff) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(p.cfg.Backoff[attempt-2])
		}

		err := p.post(ctx, url, body, sig)
		if p.onDelivery != nil {
			p.onDelivery(err == nil)
		}
		if err == nil {
			return
		}

		p.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.Int64("event_id", eventID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	p.logger.Error("webhook: giving up", zap.String("url", url), zap.Int64("event_id", eventID))
}

func (p *WebhookPublisher) post(ctx context.Context, url string, body []byte, sig string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func (p *WebhookPublisher) sign(body []byte) string {
	if p.cfg.Secret == "" {
		return ""
	}
	return Sign(body, p.cfg.Secret)
}

// Sign computes the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is the signature of body under secret.
func VerifySignature(body []byte, secret, sig string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(sig))
}
