package escalation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ent0n29/solace/internal/memory"
)

// ErrNoChannels means an alert's tier has no usable channel. It is a
// configuration error and is never swallowed.
var ErrNoChannels = errors.New("no escalation channels configured for tier")

// Channel delivers a crisis alert to one destination.
type Channel interface {
	ID() string
	EnabledFor(userID string) bool
	Deliver(ctx context.Context, alert memory.CrisisAlert) (DeliveryResult, error)
}

// DeliveryResult is what a channel reports on success.
type DeliveryResult struct {
	Detail string
}

// DeliveryError is one channel's final failure after its attempts ran out.
type DeliveryError struct {
	ChannelID string
	Attempts  int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver alert via %s after %d attempt(s): %v", e.ChannelID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// AllowList restricts an external channel to specific users. "*" admits
// everyone; an empty list admits no one.
type AllowList struct {
	all   bool
	users map[string]struct{}
}

// ParseAllowList reads a comma separated user list.
func ParseAllowList(raw string) AllowList {
	out := AllowList{users: make(map[string]struct{})}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
		case "*":
			out.all = true
		default:
			out.users[part] = struct{}{}
		}
	}
	return out
}

func (a AllowList) Allows(userID string) bool {
	if a.all {
		return true
	}
	_, ok := a.users[userID]
	return ok
}

// alertText renders the operator-facing summary sent over text channels. It
// carries identifiers and scores only, never conversation content.
func alertText(alert memory.CrisisAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s alert %s for user %s (confidence %.2f)",
		strings.ToUpper(string(alert.Severity)), alert.AlertType, alert.ID, alert.UserID, alert.Confidence)
	if len(alert.TriggerData) > 0 {
		keys := make([]string, 0, len(alert.TriggerData))
		for k := range alert.TriggerData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+alert.TriggerData[k])
		}
		b.WriteString("\ntrigger: ")
		b.WriteString(strings.Join(parts, ", "))
	}
	return b.String()
}
