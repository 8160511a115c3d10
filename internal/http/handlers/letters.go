package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/loan-sales-assistant/internal/archive"
	"github.com/wolfman30/loan-sales-assistant/internal/sanction"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

type LetterHandler struct {
	store  sanction.Store
	logger *logging.Logger
}

func NewLetterHandler(store sanction.Store, logger *logging.Logger) *LetterHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &LetterHandler{store: store, logger: logger}
}

// Get returns an issued sanction letter as JSON, or its rendered text with
// ?format=text.
func (h *LetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "letterID")
	doc, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sanction.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sanction letter not found")
			return
		}
		h.logger.Error("failed to load sanction letter", "sanction_letter_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load sanction letter")
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `inline; filename="`+doc.ID+`.txt"`)
		_, _ = w.Write([]byte(doc.Body))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ArchiveLister is implemented by *archive.PostgresLog.
type ArchiveLister interface {
	Recent(ctx context.Context, limit int) ([]archive.Summary, error)
}

type ArchiveHandler struct {
	log    ArchiveLister
	logger *logging.Logger
}

func NewArchiveHandler(log ArchiveLister, logger *logging.Logger) *ArchiveHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ArchiveHandler{log: log, logger: logger}
}

// Recent lists recently archived conversations.
func (h *ArchiveHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.log.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list archive", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	if items == nil {
		items = []archive.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
