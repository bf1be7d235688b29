package handlers

import (
	"net/http"

	"github.com/courier-im/courier/internal/models"
)

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	JoinedAt string `json:"joined_at"`
}

// UserListResponse represents the user list response.
type UserListResponse struct {
	Users  []UserResponse `json:"users"`
	Online []string       `json:"online"` // user IDs with a live connection
}

func newUserResponse(user *models.User) UserResponse {
	return UserResponse{
		ID:       user.ID.String(),
		Username: user.Username,
		Email:    user.Email,
		JoinedAt: user.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// ListUsers handles listing all registered users together with the set of
// currently connected user IDs.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	resp := UserListResponse{
		Users:  make([]UserResponse, len(users)),
		Online: h.presence.Snapshot(),
	}
	for i := range users {
		resp.Users[i] = newUserResponse(&users[i])
	}

	h.JSON(w, http.StatusOK, resp)
}
