package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
)

var ErrMissingURL = errors.New("webhook notification has no url")

// WebhookSender POSTs the payload JSON to the "url" of each notification
// config, adding any string "headers". Non-2xx responses are errors.
type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender(client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{}
	}

	return &WebhookSender{client: client}
}

func (w *WebhookSender) Channel() models.NotificationChannel {
	return models.NotificationChannelWebhook
}

func (w *WebhookSender) Send(ctx context.Context, config map[string]any, message Message) error {
	url, _ := config["url"].(string)
	if url == "" {
		return ErrMissingURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(message.Body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "aflow-notifier/1.0")

	if headers, ok := config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
