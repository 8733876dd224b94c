package handler

import (
	"net/http"

	"github.com/chatline/internal/delivery"
	"github.com/chatline/internal/middleware"
	"github.com/go-chi/chi/v5"
)

type GroupHandler struct {
	pipeline *delivery.Pipeline
}

func NewGroupHandler(pipeline *delivery.Pipeline) *GroupHandler {
	return &GroupHandler{pipeline: pipeline}
}

type createGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Avatar      string   `json:"avatar"`
	Members     []string `json:"members"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	conv, err := h.pipeline.CreateGroup(r.Context(), userID, req.Name, req.Description, req.Avatar, req.Members)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convs, err := h.pipeline.ListGroups(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupId")
	conv, err := h.pipeline.GetGroup(r.Context(), userID, groupID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type updateGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Avatar      string `json:"avatar"`
}

func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupId")
	var req updateGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	conv, err := h.pipeline.UpdateGroup(r.Context(), userID, groupID, req.Name, req.Description, req.Avatar)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type membersRequest struct {
	Members []string `json:"members"`
}

func (h *GroupHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupId")
	var req membersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	conv, err := h.pipeline.AddParticipants(r.Context(), userID, groupID, req.Members)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupId")
	targetID := chi.URLParam(r, "userId")
	if err := h.pipeline.RemoveParticipant(r.Context(), userID, groupID, targetID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupId")
	if err := h.pipeline.LeaveGroup(r.Context(), userID, groupID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *GroupHandler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupId")
	targetID := chi.URLParam(r, "userId")
	if err := h.pipeline.PromoteAdmin(r.Context(), userID, groupID, targetID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sendGroupMessageRequest struct {
	Text    string  `json:"text"`
	Image   string  `json:"image"`
	ReplyTo *string `json:"replyTo"`
}

func (h *GroupHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupId")
	var req sendGroupMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	m, err := h.pipeline.SendGroup(r.Context(), userID, groupID, req.Text, req.Image, req.ReplyTo)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *GroupHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupId")
	cursor := r.URL.Query().Get("cursor")
	limit := queryInt(r, "limit", delivery.DefaultPageSize)

	page, err := h.pipeline.GroupHistory(r.Context(), userID, groupID, cursor, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *GroupHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupId")
	if err := h.pipeline.MarkGroupSeen(r.Context(), userID, groupID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteMessage handles both delete modes; ?forEveryone=true attempts the
// hard delete, anything else hides the message for the caller only.
func (h *GroupHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageId")

	var err error
	if r.URL.Query().Get("forEveryone") == "true" {
		err = h.pipeline.DeleteGroupForEveryone(r.Context(), userID, messageID)
	} else {
		err = h.pipeline.DeleteGroupForMe(r.Context(), userID, messageID)
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
