package handler

import (
	"net/http"

	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/presence"
	"github.com/chatline/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepository
	presence *presence.Registry
}

func NewUserHandler(userRepo *repository.UserRepository, registry *presence.Registry) *UserHandler {
	return &UserHandler{userRepo: userRepo, presence: registry}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	u, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type userWithPresence struct {
	model.UserPublic
	IsOnline bool `json:"isOnline"`
}

// Directory lists other verified users for starting conversations, annotated
// with live presence.
func (h *UserHandler) Directory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit := queryInt(r, "limit", 100)
	if limit > 500 {
		limit = 500
	}

	var users []model.User
	var err error
	if q := r.URL.Query().Get("q"); q != "" {
		users, err = h.userRepo.SearchByName(r.Context(), q, limit)
	} else {
		users, err = h.userRepo.ListOthers(r.Context(), userID, limit)
	}
	if err != nil {
		writeAppError(w, err)
		return
	}

	out := make([]userWithPresence, 0, len(users))
	for i := range users {
		if users[i].ID == userID {
			continue
		}
		_, online := h.presence.Lookup(users[i].ID)
		out = append(out, userWithPresence{UserPublic: users[i].ToPublic(), IsOnline: online})
	}
	writeJSON(w, http.StatusOK, out)
}

type updateProfileRequest struct {
	FullName string `json:"fullName"`
	Avatar   string `json:"profilePic"`
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	cur, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	name := req.FullName
	if name == "" {
		name = cur.FullName
	}
	avatar := req.Avatar
	if avatar == "" {
		avatar = cur.AvatarURL
	}
	if err := h.userRepo.UpdateProfile(r.Context(), userID, name, avatar); err != nil {
		writeAppError(w, err)
		return
	}
	u, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Online returns the current presence snapshot; the socket pushes the same
// list as getOnlineUsers.
func (h *UserHandler) Online(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.presence.Snapshot())
}
