package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/loan-sales-assistant/internal/http/handlers"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
)

// fakeAPI speaks the session endpoints of the API server.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(handlers.TurnResponse{
			SessionID: "s-remote",
			Response:  "Hello! Welcome to the loan desk.",
			Stage:     string(loan.StageGreeting),
			Decision:  string(loan.DecisionPending),
		})
	})
	mux.HandleFunc("/api/sessions/s-remote/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(handlers.OutboundFrame{Type: "session", SessionID: "s-remote", Stage: string(loan.StageIntentCapture)})
		_ = conn.WriteJSON(handlers.OutboundFrame{Type: "history", Messages: []handlers.HistoryMessage{
			{Role: "user", Text: "Hello"},
			{Role: "assistant", Text: "How much would you like to borrow?"},
		}})
		for {
			var in handlers.InboundFrame
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			_ = conn.WriteJSON(handlers.OutboundFrame{Type: "typing"})
			if in.Text == "bad" {
				_ = conn.WriteJSON(handlers.OutboundFrame{Type: "error", Text: "message is required"})
				continue
			}
			_ = conn.WriteJSON(handlers.OutboundFrame{
				Type:             "message",
				Text:             "echo: " + in.Text,
				Stage:            string(loan.StageClosure),
				Decision:         string(loan.DecisionApproved),
				SanctionLetterID: "SL-9",
			})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteTurnerNewSession(t *testing.T) {
	srv := fakeAPI(t)
	remote, err := newRemoteTurner(srv.URL+"/", "")
	require.NoError(t, err)
	defer remote.Close()

	res, err := remote.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s-remote", remote.sessionID)
	assert.Equal(t, "Hello! Welcome to the loan desk.", res.Response)
	assert.Equal(t, loan.StageGreeting, res.Stage)

	res, err = remote.ProcessMessage(context.Background(), "5 lakh for 36 months")
	require.NoError(t, err)
	assert.Equal(t, "echo: 5 lakh for 36 months", res.Response)
	assert.Equal(t, loan.DecisionApproved, res.Decision)
	assert.Equal(t, "SL-9", res.State.SanctionLetterID)

	_, err = remote.ProcessMessage(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message is required")
}

func TestRemoteTurnerResumesSession(t *testing.T) {
	srv := fakeAPI(t)
	remote, err := newRemoteTurner(srv.URL, "s-remote")
	require.NoError(t, err)
	defer remote.Close()

	res, err := remote.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "How much would you like to borrow?", res.Response)
	assert.Equal(t, loan.StageIntentCapture, res.Stage)
}

func TestRemoteTurnerInREPL(t *testing.T) {
	srv := fakeAPI(t)
	remote, err := newRemoteTurner(srv.URL, "")
	require.NoError(t, err)
	defer remote.Close()

	var out bytes.Buffer
	require.NoError(t, repl(context.Background(), remote, strings.NewReader("hi\nquit\n"), &out))
	assert.Contains(t, out.String(), "echo: hi")
	assert.Contains(t, out.String(), "sanction letter: SL-9")
}

func TestNewRemoteTurnerRejectsBadURL(t *testing.T) {
	_, err := newRemoteTurner("not a url", "")
	assert.Error(t, err)

	remote, err := newRemoteTurner("http://127.0.0.1:1", "s1")
	require.NoError(t, err)
	_, err = remote.Start(context.Background())
	assert.Error(t, err)
}
