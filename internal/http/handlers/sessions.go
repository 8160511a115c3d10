package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/loan-sales-assistant/internal/conversation"
	"github.com/wolfman30/loan-sales-assistant/internal/http/middleware"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/internal/sessions"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

const (
	maxUploadBytes   = 10 << 20
	stateHistorySize = 10
)

// Sessions is the part of the session registry the handlers use.
type Sessions interface {
	Create(ctx context.Context, owner string) (*conversation.Driver, conversation.Result, error)
	Get(ctx context.Context, sessionID string) (*conversation.Driver, error)
	Owns(ctx context.Context, owner, sessionID string) (bool, error)
	Sessions(ctx context.Context, owner string) ([]string, error)
}

type SessionHandler struct {
	sessions  Sessions
	uploadDir string
	logger    *logging.Logger
}

func NewSessionHandler(s Sessions, uploadDir string, logger *logging.Logger) *SessionHandler {
	if s == nil {
		panic("handlers: sessions cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	return &SessionHandler{sessions: s, uploadDir: uploadDir, logger: logger}
}

// TurnResponse is returned for every processed message.
type TurnResponse struct {
	SessionID        string `json:"session_id"`
	Response         string `json:"response"`
	Stage            string `json:"conversation_stage"`
	Decision         string `json:"decision"`
	NextAgent        string `json:"next_agent,omitempty"`
	SanctionLetterID string `json:"sanction_letter_id,omitempty"`
}

func turnResponse(sessionID string, res conversation.Result) TurnResponse {
	out := TurnResponse{
		SessionID: sessionID,
		Response:  res.Response,
		Stage:     string(res.Stage),
		Decision:  string(res.Decision),
		NextAgent: string(res.NextAgent),
	}
	if res.State != nil {
		out.SanctionLetterID = res.State.SanctionLetterID
	}
	return out
}

type messageRequest struct {
	Message string `json:"message"`
}

func owner(r *http.Request) string {
	if claims, ok := middleware.UserFromContext(r.Context()); ok {
		return claims.UserID()
	}
	return ""
}

// Create starts a session and returns the greeting.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	d, res, err := h.sessions.Create(r.Context(), owner(r))
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, turnResponse(d.SessionID(), res))
}

// List returns the signed-in user's session ids.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.sessions.Sessions(r.Context(), owner(r))
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

// RequireOwner only lets the user who created a session reach it.
func (h *SessionHandler) RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := owner(r)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ok, err := h.sessions.Owns(r.Context(), user, chi.URLParam(r, "sessionID"))
		if err != nil {
			h.logger.Error("ownership check failed", "error", err)
			writeError(w, http.StatusInternalServerError, "ownership check failed")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *SessionHandler) driver(w http.ResponseWriter, r *http.Request) (*conversation.Driver, bool) {
	id := chi.URLParam(r, "sessionID")
	d, err := h.sessions.Get(r.Context(), id)
	switch {
	case err == nil:
		return d, true
	case errors.Is(err, sessions.ErrInvalidID), errors.Is(err, sessions.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	default:
		h.logger.Error("failed to open session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open session")
	}
	return nil, false
}

// Message runs one conversation turn.
func (h *SessionHandler) Message(w http.ResponseWriter, r *http.Request) {
	d, ok := h.driver(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := conversation.Validate(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := d.ProcessMessage(r.Context(), req.Message)
	if err != nil {
		// The driver already rolled back and answered with an apology.
		h.logger.Warn("turn failed", "session_id", d.SessionID(), "error", err)
	}
	writeJSON(w, http.StatusOK, turnResponse(d.SessionID(), res))
}

// StateResponse is the customer-facing view of a session.
type StateResponse struct {
	SessionID          string                         `json:"session_id"`
	Stage              string                         `json:"conversation_stage"`
	Decision           string                         `json:"decision"`
	CustomerDetails    loan.Details                   `json:"customer_details"`
	LoanDetails        loan.LoanDetails               `json:"loan_details"`
	VerificationStatus loan.VerificationStatus        `json:"verification_status"`
	Underwriting       loan.UnderwritingResult        `json:"underwriting_result"`
	DocumentUploads    map[string]loan.DocumentUpload `json:"document_uploads"`
	PendingDocuments   []string                       `json:"pending_documents"`
	SanctionLetterID   string                         `json:"sanction_letter_id,omitempty"`
	Messages           []loan.Message                 `json:"messages"`
	ErrorCount         int                            `json:"error_count"`
	LastUpdated        time.Time                      `json:"last_updated"`
}

func stateResponse(s *loan.State) StateResponse {
	pending := s.PendingDocuments()
	if pending == nil {
		pending = []string{}
	}
	return StateResponse{
		SessionID:          s.SessionID,
		Stage:              string(s.Stage),
		Decision:           string(s.Decision),
		CustomerDetails:    s.CustomerDetails,
		LoanDetails:        s.LoanDetails,
		VerificationStatus: s.VerificationStatus,
		Underwriting:       s.UnderwritingResult,
		DocumentUploads:    s.DocumentUploads,
		PendingDocuments:   pending,
		SanctionLetterID:   s.SanctionLetterID,
		Messages:           s.RecentMessages(stateHistorySize),
		ErrorCount:         len(s.Errors),
		LastUpdated:        s.LastUpdated,
	}
}

// State returns the session with worker progress folded in.
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	d, ok := h.driver(w, r)
	if !ok {
		return
	}
	s, err := d.Snapshot(r.Context())
	if err != nil {
		h.logger.Warn("snapshot used cached state", "session_id", d.SessionID(), "error", err)
	}
	writeJSON(w, http.StatusOK, stateResponse(s))
}

// Reset starts the conversation over.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	d, ok := h.driver(w, r)
	if !ok {
		return
	}
	if err := d.Reset(r.Context()); err != nil {
		h.logger.Error("failed to reset session", "session_id", d.SessionID(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	res, err := d.Start(r.Context())
	if err != nil {
		h.logger.Warn("greeting after reset failed", "session_id", d.SessionID(), "error", err)
	}
	writeJSON(w, http.StatusOK, turnResponse(d.SessionID(), res))
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Upload accepts a multipart income document and records it for the
// document verifier.
func (h *SessionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	d, ok := h.driver(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	docType := strings.ToLower(strings.TrimSpace(r.FormValue("document_type")))
	if !loan.KnownDocumentType(docType) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown document_type %q", docType))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	filename := unsafeFilename.ReplaceAllString(filepath.Base(header.Filename), "_")
	if filename == "" || filename == "." || filename == "_" {
		filename = docType
	}
	if err := h.save(d.SessionID(), filename, file); err != nil {
		h.logger.Error("failed to store upload", "session_id", d.SessionID(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	id, err := d.RecordUpload(r.Context(), docType, filename)
	if err != nil {
		if errors.Is(err, loan.ErrUnknownDocumentType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to record upload", "session_id", d.SessionID(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record upload")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"doc_id":        id,
		"document_type": docType,
		"filename":      filename,
		"status":        loan.DocumentUploaded,
	})
}

func (h *SessionHandler) save(sessionID, filename string, src io.Reader) error {
	dir := filepath.Join(h.uploadDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
