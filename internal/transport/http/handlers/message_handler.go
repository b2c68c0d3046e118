package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/service"
	"github.com/vedran77/chatten/internal/transport/http/middleware"
	"github.com/vedran77/chatten/pkg/validator"
)

type MessageHandler struct {
	messageService *service.MessageService
}

func NewMessageHandler(messageService *service.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

// Send persists a message; fan-out to the room happens inside the service.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		ConversationID string `json:"conversationId"`
		Text           string `json:"text"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	convID, err := uuid.Parse(input.ConversationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid conversation ID")
		return
	}
	if errs := validator.ValidateMessage(input.Text); errs.HasErrors() {
		writeValidationErrors(w, "INVALID_MESSAGE", errs)
		return
	}

	msg, err := h.messageService.Send(r.Context(), userID, convID, input.Text)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMessage) {
			writeError(w, http.StatusBadRequest, "INVALID_MESSAGE", "Message text is required")
			return
		}
		writeConversationError(w, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, ok := pathID(w, r, "conversationId", "conversation")
	if !ok {
		return
	}

	var before *uuid.UUID
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		id, err := uuid.Parse(beforeStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid before cursor")
			return
		}
		before = &id
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	messages, hasMore, err := h.messageService.List(r.Context(), userID, convID, before, limit)
	if err != nil {
		writeConversationError(w, "list messages", err)
		return
	}

	w.Header().Set("X-Has-More", strconv.FormatBool(hasMore))
	writeJSON(w, http.StatusOK, messages)
}
