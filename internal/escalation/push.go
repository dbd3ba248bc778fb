package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/protocol"
)

// ErrNoSubscribers means no responder console took the push notice.
var ErrNoSubscribers = errors.New("no push subscriber accepted the alert")

const pushBacklog = 32

// PushHub is the local push channel. Responder consoles subscribe over the
// alerts websocket; a delivery succeeds when at least one of them queued it.
type PushHub struct {
	mu   sync.RWMutex
	subs map[chan protocol.AlertNotice]struct{}
}

func NewPushHub() *PushHub {
	return &PushHub{subs: make(map[chan protocol.AlertNotice]struct{})}
}

func (h *PushHub) ID() string { return "push" }

func (h *PushHub) EnabledFor(string) bool { return true }

// Subscribe registers a responder. The returned func unsubscribes and closes
// the channel; calling it more than once is safe.
func (h *PushHub) Subscribe() (<-chan protocol.AlertNotice, func()) {
	ch := make(chan protocol.AlertNotice, pushBacklog)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
}

func (h *PushHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *PushHub) Deliver(ctx context.Context, alert memory.CrisisAlert) (DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return DeliveryResult{}, err
	}
	notice := NoticeFor(alert)

	h.mu.RLock()
	accepted := 0
	for ch := range h.subs {
		select {
		case ch <- notice:
			accepted++
		default:
		}
	}
	total := len(h.subs)
	h.mu.RUnlock()

	if accepted == 0 {
		return DeliveryResult{}, fmt.Errorf("%w (%d connected)", ErrNoSubscribers, total)
	}
	return DeliveryResult{Detail: fmt.Sprintf("queued for %d of %d subscriber(s)", accepted, total)}, nil
}

// NoticeFor converts an alert to its websocket form.
func NoticeFor(alert memory.CrisisAlert) protocol.AlertNotice {
	return protocol.AlertNotice{
		Type:       protocol.TypeAlertNotice,
		AlertID:    alert.ID,
		UserID:     alert.UserID,
		AlertType:  alert.AlertType,
		Severity:   string(alert.Severity),
		Confidence: alert.Confidence,
		Trigger:    alert.TriggerData,
		CreatedAt:  alert.CreatedAt,
	}
}
