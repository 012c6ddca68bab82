package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPProvider talks to a Resend-style API: POST {base}/emails with a bearer
// key, body {from, to, subject, html}, response {id}.
type HTTPProvider struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewHTTPProvider(apiKey, baseURL string) *HTTPProvider {
	return &HTTPProvider{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{},
	}
}

func (p *HTTPProvider) Name() string { return "resend" }

type httpSendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type httpSendResponse struct {
	ID string `json:"id"`
}

func (p *HTTPProvider) Send(ctx context.Context, msg Message) (*Result, error) {
	if p.APIKey == "" {
		return nil, &DispatchError{Provider: p.Name(), Message: "email API key not configured"}
	}

	payload, err := json.Marshal(httpSendRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DispatchError{
			Provider:   p.Name(),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	var out httpSendResponse
	if len(body) > 0 {
		// A 2xx with an unparseable body still counts as accepted.
		_ = json.Unmarshal(body, &out)
	}
	return &Result{MessageID: out.ID}, nil
}

var _ Provider = (*HTTPProvider)(nil)
