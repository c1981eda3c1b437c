package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"cobranzas/internal/ports"
)

// WebhookSender hands messages to an external delivery gateway over HTTP.
// Any non-2xx answer is a failed send.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{URL: url, Client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	Canal     string `json:"canal"`
	Destino   string `json:"destino"`
	Mensaje   string `json:"mensaje"`
	FacturaID string `json:"factura_id"`
	Plantilla string `json:"plantilla"`
}

func (w *WebhookSender) Send(ctx context.Context, msg ports.Message) error {
	body, err := json.Marshal(webhookPayload{
		Canal:     string(msg.Channel),
		Destino:   msg.Destination,
		Mensaje:   msg.Text,
		FacturaID: msg.FacturaID,
		Plantilla: msg.Template,
	})
	if err != nil {
		return eris.Wrap(err, "encode webhook payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "webhook send")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return eris.Errorf("webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
