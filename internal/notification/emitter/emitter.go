package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/notification/domain"
	"github.com/smallbiznis/greenledger/internal/observability/tracing"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// New returns a webhook emitter when a URL is configured and a no-op
// emitter otherwise.
func New(cfg config.Config, log *zap.Logger) domain.Emitter {
	url := strings.TrimSpace(cfg.Notify.WebhookURL)
	if url == "" {
		return NoOp{log: log.Named("notification.emitter")}
	}
	return NewWebhook(url, cfg.Notify.Timeout)
}

// NoOp drops messages after logging them at debug level.
type NoOp struct {
	log *zap.Logger
}

func (n NoOp) Emit(_ context.Context, msg domain.Message) error {
	if n.log != nil {
		n.log.Debug("notification dropped",
			zap.String("notification_id", msg.ID.String()),
			zap.String("kind", string(msg.Kind)),
		)
	}
	return nil
}

// Webhook POSTs each message as JSON.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{
		url:    url,
		client: tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
	}
}

func (w *Webhook) Emit(ctx context.Context, msg domain.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-Kind", string(msg.Kind))
	req.Header.Set("X-Notification-Id", msg.ID.String())

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
