// internal/handler/send_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

// SendReader is the read side of service.SendService.
type SendReader interface {
	ListSends(ctx context.Context, page, pageSize int, newsletterID, status string) ([]*model.Send, map[string]int, error)
	GetSendDetails(ctx context.Context, sendID string, failureLimit int) (*service.SendDetails, error)
}

// SendHandler holds the dependencies for the admin send views
type SendHandler struct {
	Service SendReader
}

func NewSendHandler(svc SendReader) *SendHandler {
	return &SendHandler{Service: svc}
}

// ListSendsHandler returns a paginated list of sends
func (h *SendHandler) ListSendsHandler(w http.ResponseWriter, r *http.Request) {
	pageStr := r.URL.Query().Get("page")
	pageSizeStr := r.URL.Query().Get("page_size")
	page := 1
	pageSize := 20

	if pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 {
			pageSize = ps
		}
	}

	newsletterID := r.URL.Query().Get("newsletter_id")
	if newsletterID != "" {
		if _, err := uuid.Parse(newsletterID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid newsletter_id")
			return
		}
	}
	status := r.URL.Query().Get("status")
	if status != "" && !model.SendStatus(status).Valid() {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	sends, pagination, err := h.Service.ListSends(r.Context(), page, pageSize, newsletterID, status)
	if err != nil {
		log.Error().Err(err).Msg("failed to list sends")
		writeError(w, http.StatusInternalServerError, "failed to fetch sends: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       sends,
		"pagination": pagination,
	})
}

// GetSendHandler returns one send with live delivery stats and its failures
func (h *SendHandler) GetSendHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid send id")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("failures"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	details, err := h.Service.GetSendDetails(r.Context(), id, limit)
	if err != nil {
		if appErrors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Error().Err(err).Str("send_id", id).Msg("failed to fetch send")
		writeError(w, http.StatusInternalServerError, "failed to fetch send: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, details)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
