package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

const defaultWebhookTimeout = 10 * time.Second

const (
	HeaderTopic     = "X-Timeline-Topic"
	HeaderEventType = "X-Timeline-Event-Type"
	HeaderTenant    = "X-Timeline-Tenant"
	HeaderRecordID  = "X-Timeline-Record-Id"
	HeaderSignature = "X-Hub-Signature-256"
)

// WebhookPublisher POSTs stored timeline records to an HTTP endpoint. Bodies
// are signed with HMAC-SHA256 so the receiver can verify them.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookPublisher falls back to a 10s timeout when timeout is not positive.
func NewWebhookPublisher(url, secret string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.TimelineEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal timeline record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTopic, topic)
	req.Header.Set(HeaderEventType, string(event.EventType))
	req.Header.Set(HeaderTenant, event.Tenant)
	req.Header.Set(HeaderRecordID, strconv.FormatInt(event.ID, 10))
	req.Header.Set(HeaderSignature, "sha256="+Sign(p.secret, payload))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
