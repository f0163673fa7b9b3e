// Package notify delivers out-of-band escalations through an SMS gateway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
)

// SMSGateway posts reminder texts to an external SMS provider. It
// implements messaging.Notifier. Any non-2xx response or transport failure
// is a NOTIFIER_ERROR; retry policy belongs to the caller.
type SMSGateway struct {
	url   string
	token string
	http  *http.Client
}

// NewSMSGateway creates a gateway client. url is the provider's send
// endpoint.
func NewSMSGateway(url, token string) *SMSGateway {
	return &SMSGateway{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

type smsRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Notify sends one text to the handle. A blank gateway URL disables
// escalation silently (useful in development).
func (g *SMSGateway) Notify(ctx context.Context, handle, text string) error {
	if g.url == "" {
		return nil
	}
	if handle == "" {
		return models.NewNotifierError(fmt.Errorf("empty recipient handle"))
	}

	payload, err := json.Marshal(smsRequest{To: handle, Body: text})
	if err != nil {
		return models.NewNotifierError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return models.NewNotifierError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return models.NewNotifierError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.NewNotifierError(fmt.Errorf("sms gateway returned %d", resp.StatusCode))
	}
	return nil
}
