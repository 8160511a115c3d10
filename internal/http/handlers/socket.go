package handlers

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/loan-sales-assistant/internal/conversation"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
)

// InboundFrame is what a chat client sends.
type InboundFrame struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundFrame is what the server pushes to the client.
type OutboundFrame struct {
	Type             string           `json:"type"` // "session", "history", "typing", "message", "error", "pong"
	Text             string           `json:"text,omitempty"`
	Role             string           `json:"role,omitempty"`
	SessionID        string           `json:"session_id,omitempty"`
	Stage            string           `json:"conversation_stage,omitempty"`
	Decision         string           `json:"decision,omitempty"`
	SanctionLetterID string           `json:"sanction_letter_id,omitempty"`
	Messages         []HistoryMessage `json:"messages,omitempty"`
}

type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Socket serves a websocket chat for one session. Frames are handled one
// at a time, so a connection never has two turns in flight.
func (h *SessionHandler) Socket(w http.ResponseWriter, r *http.Request) {
	d, ok := h.driver(w, r)
	if !ok {
		return
	}
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveSocket(conn, r, d)
	}).ServeHTTP(w, r)
}

func (h *SessionHandler) serveSocket(conn *websocket.Conn, r *http.Request, d *conversation.Driver) {
	ctx := r.Context()
	sessionID := d.SessionID()

	s, err := d.Snapshot(ctx)
	if err != nil {
		h.logger.Warn("socket snapshot used cached state", "session_id", sessionID, "error", err)
	}
	_ = websocket.JSON.Send(conn, OutboundFrame{
		Type:      "session",
		SessionID: sessionID,
		Stage:     string(s.Stage),
		Decision:  string(s.Decision),
	})
	if history := visibleHistory(s.RecentMessages(stateHistorySize)); len(history) > 0 {
		_ = websocket.JSON.Send(conn, OutboundFrame{Type: "history", Messages: history})
	}

	h.logger.Info("chat socket opened", "session_id", sessionID)
	for {
		var in InboundFrame
		if err := websocket.JSON.Receive(conn, &in); err != nil {
			h.logger.Debug("chat socket closed", "session_id", sessionID, "error", err)
			return
		}

		switch in.Type {
		case "ping":
			_ = websocket.JSON.Send(conn, OutboundFrame{Type: "pong"})
			continue
		case "message":
		default:
			_ = websocket.JSON.Send(conn, OutboundFrame{Type: "error", Text: "unsupported frame type"})
			continue
		}
		if err := conversation.Validate(in.Text); err != nil {
			_ = websocket.JSON.Send(conn, OutboundFrame{Type: "error", Text: "message is required"})
			continue
		}

		_ = websocket.JSON.Send(conn, OutboundFrame{Type: "typing"})
		res, err := d.ProcessMessage(ctx, strings.TrimSpace(in.Text))
		if err != nil {
			h.logger.Warn("socket turn failed", "session_id", sessionID, "error", err)
		}
		out := OutboundFrame{
			Type:      "message",
			Role:      string(loan.RoleAssistant),
			Text:      res.Response,
			SessionID: sessionID,
			Stage:     string(res.Stage),
			Decision:  string(res.Decision),
		}
		if res.State != nil {
			out.SanctionLetterID = res.State.SanctionLetterID
		}
		if err := websocket.JSON.Send(conn, out); err != nil {
			h.logger.Debug("chat socket send failed", "session_id", sessionID, "error", err)
			return
		}
	}
}

func visibleHistory(msgs []loan.Message) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == loan.RoleSystem {
			continue
		}
		out = append(out, HistoryMessage{
			Role:      string(m.Role),
			Text:      m.Content,
			Timestamp: m.Timestamp.Format(time.RFC3339),
		})
	}
	return out
}
