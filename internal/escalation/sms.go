package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/reliability"
)

// SMSBridge posts alerts to a text/SMS gateway webhook.
type SMSBridge struct {
	url    string
	allow  AllowList
	client *http.Client
}

func NewSMSBridge(url string, allow AllowList) *SMSBridge {
	return &SMSBridge{
		url:    strings.TrimSpace(url),
		allow:  allow,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *SMSBridge) ID() string { return "sms" }

func (b *SMSBridge) EnabledFor(userID string) bool { return b.allow.Allows(userID) }

type smsPayload struct {
	AlertID  string `json:"alert_id"`
	UserID   string `json:"user_id"`
	Severity string `json:"severity"`
	Type     string `json:"alert_type"`
	Text     string `json:"text"`
}

// Deliver returns a permanent error for non-retryable HTTP statuses so the
// dispatcher does not keep hammering a misconfigured gateway.
func (b *SMSBridge) Deliver(ctx context.Context, alert memory.CrisisAlert) (DeliveryResult, error) {
	body, err := json.Marshal(smsPayload{
		AlertID:  alert.ID,
		UserID:   alert.UserID,
		Severity: string(alert.Severity),
		Type:     alert.AlertType,
		Text:     alertText(alert),
	})
	if err != nil {
		return DeliveryResult{}, reliability.Permanent(fmt.Errorf("marshal sms payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{}, reliability.Permanent(fmt.Errorf("build sms request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("post sms bridge: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return DeliveryResult{Detail: fmt.Sprintf("http %d", resp.StatusCode)}, nil
	}
	err = fmt.Errorf("sms bridge status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
		return DeliveryResult{}, err
	}
	return DeliveryResult{}, reliability.Permanent(err)
}
