package handler

import (
	"net/http"

	"github.com/chatline/internal/delivery"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/repository"
	"github.com/go-chi/chi/v5"
)

type MessageHandler struct {
	pipeline *delivery.Pipeline
	msgRepo  *repository.MessageRepository
}

func NewMessageHandler(pipeline *delivery.Pipeline, msgRepo *repository.MessageRepository) *MessageHandler {
	return &MessageHandler{pipeline: pipeline, msgRepo: msgRepo}
}

type sendMessageRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// Send creates a 1:1 message for the peer in the URL. The response carries
// the persisted message whatever the peer's presence; live delivery happens
// inside the pipeline.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peerID := chi.URLParam(r, "userId")

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	m, err := h.pipeline.SendDirect(r.Context(), userID, peerID, req.Text, req.Image)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// History pages the conversation with the peer backwards. Query params:
// cursor (message id) and limit.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peerID := chi.URLParam(r, "userId")
	cursor := r.URL.Query().Get("cursor")
	limit := queryInt(r, "limit", delivery.DefaultPageSize)

	page, err := h.pipeline.History(r.Context(), userID, peerID, cursor, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// MarkSeen is the HTTP twin of the mark_as_seen socket event, for clients
// that fall back to polling.
func (h *MessageHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peerID := chi.URLParam(r, "userId")

	if err := h.pipeline.MarkSeen(r.Context(), userID, peerID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Partners returns the 1:1 conversation sidebar.
func (h *MessageHandler) Partners(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	partners, err := h.msgRepo.ListPartners(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if partners == nil {
		partners = []repository.PartnerSummary{}
	}
	writeJSON(w, http.StatusOK, partners)
}
