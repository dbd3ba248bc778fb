package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsBadJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want envelope error")
	}
}

func TestParseClientMessageAck(t *testing.T) {
	raw := []byte(`{"type":"client_control","action":" ACK ","alert_id":"a1"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionAck || control.AlertID != "a1" {
		t.Fatalf("unexpected client control: %+v", control)
	}
}

func TestParseClientMessageAckRequiresAlertID(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"ack"}`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want ack validation error")
	}
}

func TestParseClientMessageReplay(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","action":"replay","limit":20}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if got := msg.(ClientControl).Limit; got != 20 {
		t.Fatalf("Limit = %d, want 20", got)
	}
	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"replay","limit":-1}`)); err == nil {
		t.Fatalf("negative limit accepted")
	}
}

func TestParseClientMessageUnknownAction(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"dance"}`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want unknown action error")
	}
}

func TestTypeOf(t *testing.T) {
	got, ok := TypeOf(AlertNotice{Type: TypeAlertNotice})
	if !ok || got != TypeAlertNotice {
		t.Fatalf("TypeOf(AlertNotice) = %q, %v", got, ok)
	}
	if _, ok := TypeOf("nope"); ok {
		t.Fatalf("TypeOf(string) reported a known type")
	}
}
