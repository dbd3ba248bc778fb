package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl MessageType = "client_control"
	TypeAlertNotice   MessageType = "alert_notice"
	TypeEngineEvent   MessageType = "engine_event"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Client control actions.
const (
	ActionPing   = "ping"
	ActionAck    = "ack"
	ActionReplay = "replay"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl is the only inbound message on the alert and event streams.
type ClientControl struct {
	Type    MessageType `json:"type"`
	Action  string      `json:"action"`
	AlertID string      `json:"alert_id,omitempty"`
	Limit   int         `json:"limit,omitempty"`
}

// AlertNotice is pushed to crisis responders when an alert is dispatched.
type AlertNotice struct {
	Type       MessageType       `json:"type"`
	AlertID    string            `json:"alert_id"`
	UserID     string            `json:"user_id"`
	AlertType  string            `json:"alert_type"`
	Severity   string            `json:"severity"`
	Confidence float64           `json:"confidence"`
	Trigger    map[string]string `json:"trigger,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// EngineEvent mirrors an events.Event for UI and analytics subscribers.
type EngineEvent struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	UserID    string      `json:"user_id,omitempty"`
	SubjectID string      `json:"subject_id,omitempty"`
	Payload   any         `json:"payload,omitempty"`
	At        time.Time   `json:"at"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		switch msg.Action {
		case ActionPing:
		case ActionAck:
			if strings.TrimSpace(msg.AlertID) == "" {
				return nil, errors.New("invalid client_control: ack requires alert_id")
			}
		case ActionReplay:
			if msg.Limit < 0 {
				return nil, errors.New("invalid client_control: negative limit")
			}
		default:
			return nil, fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf returns the type tag of a known outbound or inbound message.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientControl:
		return m.Type, true
	case AlertNotice:
		return m.Type, true
	case EngineEvent:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
