package escalation

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/ent0n29/solace/internal/memory"
)

type EmailConfig struct {
	Addr     string
	From     string
	To       []string
	Username string
	Password string
	Allow    AllowList
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends alerts to an on-call mailbox over SMTP.
type EmailChannel struct {
	cfg  EmailConfig
	send sendMailFunc
}

func NewEmailChannel(cfg EmailConfig) (*EmailChannel, error) {
	if strings.TrimSpace(cfg.Addr) == "" || strings.TrimSpace(cfg.From) == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("email channel requires SMTP_ADDR, SMTP_FROM and SMTP_TO")
	}
	return &EmailChannel{cfg: cfg, send: smtp.SendMail}, nil
}

func (e *EmailChannel) ID() string { return "email" }

func (e *EmailChannel) EnabledFor(userID string) bool { return e.cfg.Allow.Allows(userID) }

func (e *EmailChannel) Deliver(ctx context.Context, alert memory.CrisisAlert) (DeliveryResult, error) {
	var auth smtp.Auth
	if e.cfg.Username != "" {
		host, _, err := net.SplitHostPort(e.cfg.Addr)
		if err != nil {
			host = e.cfg.Addr
		}
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, host)
	}
	msg := e.message(alert)

	// net/smtp has no context support; the send keeps running after ctx ends
	// but the dispatcher stops waiting for it.
	done := make(chan error, 1)
	go func() {
		done <- e.send(e.cfg.Addr, auth, e.cfg.From, e.cfg.To, msg)
	}()
	select {
	case <-ctx.Done():
		return DeliveryResult{}, fmt.Errorf("send alert email: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return DeliveryResult{}, fmt.Errorf("send alert email: %w", err)
		}
	}
	return DeliveryResult{Detail: fmt.Sprintf("mailed %d recipient(s)", len(e.cfg.To))}, nil
}

func (e *EmailChannel) message(alert memory.CrisisAlert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [%s] crisis alert %s\r\n", strings.ToUpper(string(alert.Severity)), alert.ID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(alertText(alert), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
