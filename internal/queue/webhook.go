package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SecretHeader authenticates calls to the internal processing endpoint.
const SecretHeader = "X-Newsletter-Secret"

// WebhookTrigger asks a processing endpoint to run a send. It posts with
// async=1 so the endpoint acknowledges with 202 instead of waiting for the
// fan-out.
type WebhookTrigger struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewWebhookTrigger(url, secret string) *WebhookTrigger {
	return &WebhookTrigger{URL: url, Secret: secret, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *WebhookTrigger) TriggerSend(ctx context.Context, sendID string) error {
	body, err := json.Marshal(map[string]string{"sendId": sendID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL+"?async=1", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, t.Secret)

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("call process endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("process endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
