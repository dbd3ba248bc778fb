package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/ent0n29/solace/internal/memory"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	StoreDriver      string              `json:"store_driver"`
	GenerationMode   string              `json:"generation_mode"`
	Personas         []string            `json:"personas"`
	EscalationTiers  map[string][]string `json:"escalation_tiers"`
	PushSubscribers  int                 `json:"push_subscribers"`
	EventSubscribers int                 `json:"event_subscribers"`
	EventsDropped    uint64              `json:"events_dropped"`
	Checks           []statusCheck       `json:"checks"`
}

// handleStatus summarizes how the engine is wired and flags setups that
// run but would lose data or miss responders.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	tiers := map[string][]string{}
	for sev, ids := range s.alerts.ChannelIDs() {
		tiers[string(sev)] = ids
	}
	resp := statusResponse{
		StoreDriver:     orDefault(s.cfg.StoreDriver, "auto"),
		GenerationMode:  orDefault(s.cfg.GenerationMode, "auto"),
		Personas:        s.personas.IDs(),
		EscalationTiers: tiers,
	}
	if s.push != nil {
		resp.PushSubscribers = s.push.SubscriberCount()
	}
	if s.bus != nil {
		resp.EventSubscribers = s.bus.SubscriberCount()
		resp.EventsDropped = s.bus.Dropped()
	}
	resp.Checks = s.statusChecks(resp)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) statusChecks(resp statusResponse) []statusCheck {
	checks := make([]statusCheck, 0, 4)

	switch {
	case resp.StoreDriver == "memory", resp.StoreDriver == "auto" && s.cfg.DatabaseURL == "":
		checks = append(checks, statusCheck{
			ID:     "store",
			Status: "warn",
			Label:  "Persistence",
			Detail: "in-memory only",
			Fix:    "Set STORE_DRIVER=sqlite or DATABASE_URL to keep memories across restarts.",
		})
	default:
		checks = append(checks, statusCheck{ID: "store", Status: "ok", Label: "Persistence", Detail: resp.StoreDriver})
	}

	if resp.GenerationMode == "mock" || (resp.GenerationMode == "auto" && s.cfg.AnthropicAPIKey == "" && s.cfg.GenerationHTTPURL == "") {
		checks = append(checks, statusCheck{
			ID:     "generation",
			Status: "warn",
			Label:  "Reply generation",
			Detail: "mock replies",
			Fix:    "Set ANTHROPIC_API_KEY or GENERATION_HTTP_URL.",
		})
	} else {
		checks = append(checks, statusCheck{ID: "generation", Status: "ok", Label: "Reply generation", Detail: resp.GenerationMode})
	}

	high := resp.EscalationTiers[string(memory.SeverityHigh)]
	sort.Strings(high)
	switch {
	case len(high) == 0:
		checks = append(checks, statusCheck{
			ID:     "escalation",
			Status: "error",
			Label:  "Crisis escalation",
			Detail: "no channel for high-severity alerts",
		})
	case len(high) == 1:
		checks = append(checks, statusCheck{
			ID:     "escalation",
			Status: "warn",
			Label:  "Crisis escalation",
			Detail: "push only",
			Fix:    "Configure SMS_BRIDGE_URL, MATRIX_HOMESERVER or SMTP_ADDR for out-of-band escalation.",
		})
	default:
		checks = append(checks, statusCheck{ID: "escalation", Status: "ok", Label: "Crisis escalation", Detail: strings.Join(high, ",")})
	}

	if resp.PushSubscribers == 0 {
		checks = append(checks, statusCheck{
			ID:     "responders",
			Status: "warn",
			Label:  "Connected responders",
			Detail: "none",
			Fix:    "Open /v1/alerts/ws from the responder console.",
		})
	} else {
		checks = append(checks, statusCheck{ID: "responders", Status: "ok", Label: "Connected responders", Detail: fmt.Sprintf("%d", resp.PushSubscribers)})
	}
	return checks
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
