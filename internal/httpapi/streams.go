package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/solace/internal/escalation"
	"github.com/ent0n29/solace/internal/events"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/protocol"
)

const (
	streamAlerts = "alerts"
	streamEvents = "events"

	wsWriteWait    = 10 * time.Second
	wsReadWait     = 120 * time.Second
	wsPingInterval = 30 * time.Second
	replayDefault  = 20
)

// handleAlertsWS subscribes a responder to the push escalation channel.
func (s *Server) handleAlertsWS(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "push channel not configured")
		return
	}
	s.serveStream(w, r, streamAlerts, func(ctx context.Context, out chan<- any) func() {
		notices, unsubscribe := s.push.Subscribe()
		go forward(ctx, notices, out, s.dropper(streamAlerts))
		return unsubscribe
	}, s.alertControl)
}

// handleEventsWS streams engine events for UI and analytics consumers.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "event bus not configured")
		return
	}
	s.serveStream(w, r, streamEvents, func(ctx context.Context, out chan<- any) func() {
		feed, unsubscribe := s.bus.Subscribe()
		engine := make(chan protocol.EngineEvent, cap(feed))
		go func() {
			defer close(engine)
			for e := range feed {
				select {
				case engine <- engineEvent(e):
				case <-ctx.Done():
					return
				}
			}
		}()
		go forward(ctx, engine, out, s.dropper(streamEvents))
		return unsubscribe
	}, s.eventControl)
}

func (s *Server) alertControl(ctx context.Context, msg protocol.ClientControl) []any {
	switch msg.Action {
	case protocol.ActionAck:
		log.Info().Str("alert_id", msg.AlertID).Msg("responder acknowledged alert")
		return []any{protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "ack_received", Detail: msg.AlertID}}
	case protocol.ActionReplay:
		limit := msg.Limit
		if limit == 0 {
			limit = replayDefault
		}
		open, err := s.repo.ListAlerts(ctx, memory.AlertFilter{OpenOnly: true, Limit: limit})
		if err != nil {
			return []any{protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "replay_failed", Source: "store", Retryable: true, Detail: err.Error()}}
		}
		// ListAlerts is newest first; replay oldest first.
		out := make([]any, 0, len(open))
		for i := len(open) - 1; i >= 0; i-- {
			out = append(out, escalation.NoticeFor(open[i]))
		}
		return out
	default:
		return []any{pong()}
	}
}

func (s *Server) eventControl(_ context.Context, msg protocol.ClientControl) []any {
	switch msg.Action {
	case protocol.ActionReplay:
		limit := msg.Limit
		if limit == 0 {
			limit = replayDefault
		}
		recent := s.bus.Recent(limit)
		out := make([]any, 0, len(recent))
		for _, e := range recent {
			out = append(out, engineEvent(e))
		}
		return out
	case protocol.ActionAck:
		return []any{protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "ack_ignored", Detail: "acks apply to the alert stream"}}
	default:
		return []any{pong()}
	}
}

func pong() protocol.SystemEvent {
	return protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "pong"}
}

func engineEvent(e events.Event) protocol.EngineEvent {
	return protocol.EngineEvent{
		Type:      protocol.TypeEngineEvent,
		ID:        e.ID,
		Event:     string(e.Type),
		UserID:    e.UserID,
		SubjectID: e.SubjectID,
		Payload:   e.Payload,
		At:        e.At,
	}
}

func (s *Server) dropper(stream string) func() {
	return func() { s.metrics.WSMessage(stream, "drop_full") }
}

// forward copies feed into out until either side is done. A full out queue
// drops the message rather than stalling the publisher.
func forward[T any](ctx context.Context, feed <-chan T, out chan<- any, onDrop func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-feed:
			if !ok {
				return
			}
			select {
			case out <- msg:
			default:
				onDrop()
			}
		}
	}
}

// serveStream runs one websocket connection: subscribe wires the feed into
// the outbound queue, and each inbound client_control is answered by control.
// Writes stay on a single goroutine.
func (s *Server) serveStream(
	w http.ResponseWriter,
	r *http.Request,
	stream string,
	subscribe func(ctx context.Context, out chan<- any) (unsubscribe func()),
	control func(ctx context.Context, msg protocol.ClientControl) []any,
) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.WSMessage(stream, "connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	unsubscribe := subscribe(ctx, outbound)
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.WSMessage(stream, "write_error")
					cancel()
					return
				}
				if t, ok := protocol.TypeOf(msg); ok {
					s.metrics.WSMessage(stream, "outbound_"+string(t))
				}
			}
		}
	}()

	queue := func(msg any) {
		select {
		case outbound <- msg:
		default:
			s.metrics.WSMessage(stream, "drop_full")
		}
	}

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			queue(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		msg, ok := parsed.(protocol.ClientControl)
		if !ok {
			continue
		}
		s.metrics.WSMessage(stream, "inbound_"+msg.Action)
		for _, reply := range control(ctx, msg) {
			queue(reply)
		}
	}

	cancel()
	wg.Wait()
	s.metrics.WSMessage(stream, "disconnected")
}
