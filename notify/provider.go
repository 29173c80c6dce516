package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Sender is the transactional-email transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	ToEmail string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// ProviderClient talks to a SendGrid-compatible transactional mail API.
type ProviderClient struct {
	apiBase   string
	apiKey    string
	fromEmail string
	fromName  string
	client    *http.Client
}

func NewProviderClient(apiBase, apiKey, fromEmail, fromName string, client *http.Client) *ProviderClient {
	return &ProviderClient{
		apiBase:   apiBase,
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
		client:    client,
	}
}

func (p *ProviderClient) Send(ctx context.Context, msg Message) error {
	if p.apiKey == "" {
		return fmt.Errorf("EMAIL_API_KEY not set")
	}

	payload := map[string]any{
		"personalizations": []map[string]any{{
			"to": []map[string]string{{"email": msg.ToEmail, "name": msg.ToName}},
		}},
		"from":    map[string]string{"email": p.fromEmail, "name": p.fromName},
		"subject": msg.Subject,
		"content": []map[string]string{
			{"type": "text/plain", "value": msg.Text},
			{"type": "text/html", "value": msg.HTML},
		},
	}

	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/mail/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("email send failed %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
