package escalation

import (
	"context"
	"fmt"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/ent0n29/solace/internal/memory"
)

type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
	Allow       AllowList
}

// MatrixChannel posts alerts into a responder room through a chat bridge.
type MatrixChannel struct {
	client *mautrix.Client
	room   id.RoomID
	allow  AllowList
}

func NewMatrixChannel(cfg MatrixConfig) (*MatrixChannel, error) {
	if strings.TrimSpace(cfg.RoomID) == "" {
		return nil, fmt.Errorf("matrix channel requires a room id")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	return &MatrixChannel{client: client, room: id.RoomID(cfg.RoomID), allow: cfg.Allow}, nil
}

func (m *MatrixChannel) ID() string { return "matrix" }

func (m *MatrixChannel) EnabledFor(userID string) bool { return m.allow.Allows(userID) }

func (m *MatrixChannel) Deliver(ctx context.Context, alert memory.CrisisAlert) (DeliveryResult, error) {
	resp, err := m.client.SendText(ctx, m.room, alertText(alert))
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("send matrix text: %w", err)
	}
	return DeliveryResult{Detail: "event " + string(resp.EventID)}, nil
}
