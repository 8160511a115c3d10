package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/loan-sales-assistant/internal/conversation"
	"github.com/wolfman30/loan-sales-assistant/internal/http/handlers"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
)

const remoteTimeout = 2 * time.Minute

// remoteTurner chats with a running API server over its session websocket
// instead of driving a local state file.
type remoteTurner struct {
	base      *url.URL
	sessionID string
	http      *http.Client
	dialer    *websocket.Dialer
	conn      *websocket.Conn
}

func newRemoteTurner(server, sessionID string) (*remoteTurner, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(server), "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", server)
	}
	return &remoteTurner{
		base:      base,
		sessionID: strings.TrimSpace(sessionID),
		http:      &http.Client{Timeout: remoteTimeout},
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (t *remoteTurner) Start(ctx context.Context) (conversation.Result, error) {
	var greeting conversation.Result
	if t.sessionID == "" {
		created, err := t.createSession(ctx)
		if err != nil {
			return conversation.Result{}, err
		}
		t.sessionID = created.SessionID
		greeting = conversation.Result{
			Response: created.Response,
			Stage:    loan.Stage(created.Stage),
			Decision: loan.Decision(created.Decision),
		}
	}

	wsURL := *t.base
	wsURL.Scheme = "ws"
	if t.base.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path += "/api/sessions/" + url.PathEscape(t.sessionID) + "/ws"
	conn, resp, err := t.dialer.DialContext(ctx, wsURL.String(), http.Header{"Origin": {t.base.String()}})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return conversation.Result{}, fmt.Errorf("connect to %s: %w", wsURL.String(), err)
	}
	t.conn = conn

	var session handlers.OutboundFrame
	if err := t.read(&session); err != nil {
		return conversation.Result{}, err
	}
	var history handlers.OutboundFrame
	if err := t.read(&history); err != nil {
		return conversation.Result{}, err
	}
	if greeting.Response != "" {
		return greeting, nil
	}
	res := conversation.Result{
		Response: "Welcome back.",
		Stage:    loan.Stage(session.Stage),
		Decision: loan.Decision(session.Decision),
	}
	for i := len(history.Messages) - 1; i >= 0; i-- {
		if history.Messages[i].Role == string(loan.RoleAssistant) {
			res.Response = history.Messages[i].Text
			break
		}
	}
	return res, nil
}

func (t *remoteTurner) ProcessMessage(_ context.Context, text string) (conversation.Result, error) {
	if t.conn == nil {
		return conversation.Result{}, fmt.Errorf("not connected")
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := t.conn.WriteJSON(handlers.InboundFrame{Type: "message", Text: text}); err != nil {
		return conversation.Result{}, fmt.Errorf("send message: %w", err)
	}
	for {
		var frame handlers.OutboundFrame
		if err := t.read(&frame); err != nil {
			return conversation.Result{}, err
		}
		switch frame.Type {
		case "message":
			return conversation.Result{
				Response: frame.Text,
				Stage:    loan.Stage(frame.Stage),
				Decision: loan.Decision(frame.Decision),
				State:    &loan.State{SanctionLetterID: frame.SanctionLetterID},
			}, nil
		case "error":
			return conversation.Result{}, fmt.Errorf("server: %s", frame.Text)
		}
	}
}

func (t *remoteTurner) Close() error {
	if t.conn == nil {
		return nil
	}
	_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	return t.conn.Close()
}

func (t *remoteTurner) read(frame *handlers.OutboundFrame) error {
	_ = t.conn.SetReadDeadline(time.Now().Add(remoteTimeout))
	if err := t.conn.ReadJSON(frame); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	return nil
}

func (t *remoteTurner) createSession(ctx context.Context) (handlers.TurnResponse, error) {
	var out handlers.TurnResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base.String()+"/api/sessions", nil)
	if err != nil {
		return out, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return out, fmt.Errorf("create session: server returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode session: %w", err)
	}
	return out, nil
}
