package ws

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
)

// HubNotifier implements service.Notifier using the WebSocket Hub.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// NotifyNewMessage publishes msg to its room. The publish is detached from
// the request so a client hanging up does not cancel the fan-out.
func (n *HubNotifier) NotifyNewMessage(ctx context.Context, msg *domain.Message) {
	n.hub.Publish(context.WithoutCancel(ctx), msg)
}

func (n *HubNotifier) NotifyConversationDeleted(conversationID uuid.UUID) {
	evt, err := NewEvent(EventTypeConversationDeleted, &conversationID, ConversationPayload{ConversationID: conversationID})
	if err != nil {
		log.Error("ws notifier: marshal error", "err", err)
		return
	}
	n.hub.BroadcastToRoom(conversationID, evt)
}
