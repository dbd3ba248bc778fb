package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/escalation"
)

type channelSetup struct {
	push     *escalation.PushHub
	external []escalation.Channel
	detail   string
}

// resolveChannels builds the push hub plus every external channel that has
// enough configuration to run.
func resolveChannels(cfg config.Config) (channelSetup, error) {
	setup := channelSetup{push: escalation.NewPushHub()}
	names := []string{setup.push.ID()}

	if strings.TrimSpace(cfg.SMSBridgeURL) != "" {
		sms := escalation.NewSMSBridge(cfg.SMSBridgeURL, escalation.ParseAllowList(cfg.SMSBridgeUsers))
		setup.external = append(setup.external, sms)
		names = append(names, sms.ID())
	}

	if strings.TrimSpace(cfg.MatrixHomeserver) != "" {
		mx, err := escalation.NewMatrixChannel(escalation.MatrixConfig{
			Homeserver:  cfg.MatrixHomeserver,
			UserID:      cfg.MatrixUserID,
			AccessToken: cfg.MatrixAccessToken,
			RoomID:      cfg.MatrixRoomID,
			Allow:       escalation.ParseAllowList(cfg.MatrixUsers),
		})
		if err != nil {
			return channelSetup{}, fmt.Errorf("matrix channel init failed: %w", err)
		}
		setup.external = append(setup.external, mx)
		names = append(names, mx.ID())
	}

	if strings.TrimSpace(cfg.SMTPAddr) != "" {
		mail, err := escalation.NewEmailChannel(escalation.EmailConfig{
			Addr:     cfg.SMTPAddr,
			From:     cfg.SMTPFrom,
			To:       cfg.SMTPTo,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Allow:    escalation.ParseAllowList(cfg.EmailUsers),
		})
		if err != nil {
			return channelSetup{}, fmt.Errorf("email channel init failed: %w", err)
		}
		setup.external = append(setup.external, mail)
		names = append(names, mail.ID())
	}

	setup.detail = strings.Join(names, ",")
	return setup, nil
}
