package handlers

import (
	"errors"
	"net/http"

	"github.com/vedran77/chatten/internal/service"
	"github.com/vedran77/chatten/internal/transport/http/middleware"
	"github.com/vedran77/chatten/pkg/validator"
)

type ConversationHandler struct {
	convService *service.ConversationService
}

func NewConversationHandler(convService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{convService: convService}
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	search := r.URL.Query().Get("search")
	if errs := validator.ValidateSearch(search); errs.HasErrors() {
		writeValidationErrors(w, "VALIDATION_ERROR", errs)
		return
	}

	convs, err := h.convService.List(r.Context(), userID, search)
	if err != nil {
		writeInternal(w, "list conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, convs)
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		Participants []string `json:"participants"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	ids, errs := validator.ValidateParticipants(input.Participants)
	if errs.HasErrors() {
		writeValidationErrors(w, "INVALID_PARTICIPANTS", errs)
		return
	}

	conv, err := h.convService.Create(r.Context(), userID, ids)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidParticipants):
			writeError(w, http.StatusBadRequest, "INVALID_PARTICIPANTS", "A conversation needs at least two existing users")
		case errors.Is(err, service.ErrConversationExists) && conv == nil:
			writeError(w, http.StatusConflict, "CONVERSATION_EXISTS", "Conversation already exists")
		case errors.Is(err, service.ErrConversationExists):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{
					"code":           "CONVERSATION_EXISTS",
					"message":        "Conversation already exists",
					"conversationId": conv.ID,
				},
			})
		default:
			writeInternal(w, "create conversation", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, ok := pathID(w, r, "id", "conversation")
	if !ok {
		return
	}

	conv, err := h.convService.Get(r.Context(), userID, convID)
	if err != nil {
		writeConversationError(w, "get conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, ok := pathID(w, r, "id", "conversation")
	if !ok {
		return
	}

	if err := h.convService.Delete(r.Context(), userID, convID); err != nil {
		writeConversationError(w, "delete conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": convID, "deleted": true})
}

func writeConversationError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Conversation not found")
	case errors.Is(err, service.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not a participant of this conversation")
	default:
		writeInternal(w, op, err)
	}
}
