package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/service"
	"github.com/vedran77/chatten/internal/transport/http/middleware"
)

type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.List(r.Context())
	if err != nil {
		writeInternal(w, "list users", err)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	ids, err := h.userService.ListBlocked(r.Context(), userID)
	if err != nil {
		writeInternal(w, "list blocked users", err)
		return
	}

	writeJSON(w, http.StatusOK, ids)
}

func (h *UserHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.changeBlock(w, r, h.userService.Block)
}

func (h *UserHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.changeBlock(w, r, h.userService.Unblock)
}

func (h *UserHandler) changeBlock(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, userID, contactID uuid.UUID) error) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		ContactID string `json:"contactId"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	contactID, err := uuid.Parse(input.ContactID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid contact ID")
		return
	}

	if err := apply(r.Context(), userID, contactID); err != nil {
		switch {
		case errors.Is(err, service.ErrCannotBlockSelf):
			writeError(w, http.StatusBadRequest, "CANNOT_BLOCK_SELF", "You cannot block yourself")
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		default:
			writeInternal(w, "update block list", err)
		}
		return
	}

	blocked, err := h.userService.ListBlocked(r.Context(), userID)
	if err != nil {
		writeInternal(w, "list blocked users", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"blockedUsers": blocked})
}
