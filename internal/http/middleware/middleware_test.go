package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/loan-sales-assistant/internal/auth"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

type stubParser map[string]string

func (p stubParser) Parse(token string) (*auth.Claims, error) {
	id, ok := p[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: id}}, nil
}

func TestRequireUser(t *testing.T) {
	parser := stubParser{"good": "user-1"}
	var seen string
	h := RequireUser(parser)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := UserFromContext(r.Context())
		require.True(t, ok)
		seen = claims.UserID()
	}))

	tests := []struct {
		name   string
		header string
		target string
		status int
	}{
		{"missing", "", "/api/auth/me", http.StatusUnauthorized},
		{"invalid", "Bearer bad", "/api/auth/me", http.StatusUnauthorized},
		{"not bearer", "Basic good", "/api/auth/me", http.StatusUnauthorized},
		{"header", "Bearer good", "/api/auth/me", http.StatusOK},
		{"query param", "", "/api/protected/sessions/s/ws?token=good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "user-1", seen)
			}
		})
	}
}

func TestRequireUserWithoutParser(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	RequireUser(nil)(okHandler(nil)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	h := RateLimit(limiter)(okHandler(nil))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1111"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:2222"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:3333"), "same host, different port")
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1111"))
}

func TestRateLimitKeysByUser(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1)
	h := RateLimit(limiter)(okHandler(nil))

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1111"
		claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: user}}
		req = req.WithContext(WithUser(req.Context(), claims))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusOK, do("b"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
}

func TestRequestLoggerEchoesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("info", &buf)
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/x/state", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "request failed", line["msg"])
	assert.EqualValues(t, 500, line["status"])
	assert.Equal(t, "req-42", line["request_id"])
}
