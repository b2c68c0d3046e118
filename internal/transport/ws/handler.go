package ws

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// Handler upgrades authenticated requests to WebSocket connections.
type Handler struct {
	hub            *Hub
	ingest         Ingestor
	members        Membership
	userID         func(r *http.Request) (uuid.UUID, bool)
	originPatterns []string
	rateLimit      rate.Limit
	rateBurst      int
}

type HandlerConfig struct {
	// UserID extracts the authenticated user from the request.
	UserID         func(r *http.Request) (uuid.UUID, bool)
	OriginPatterns []string
	// RateLimit is the sustained newMessage rate per connection; zero disables it.
	RateLimit float64
	RateBurst int
}

func NewHandler(hub *Hub, ingest Ingestor, members Membership, cfg HandlerConfig) *Handler {
	return &Handler{
		hub:            hub,
		ingest:         ingest,
		members:        members,
		userID:         cfg.UserID,
		originPatterns: cfg.OriginPatterns,
		rateLimit:      rate.Limit(cfg.RateLimit),
		rateBurst:      cfg.RateBurst,
	}
}

// ServeWS upgrades the request and serves the connection until it closes.
// The auth middleware must run first; browsers cannot set headers on the
// upgrade request so the token may arrive as ?token=.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Warn("ws: accept error", "err", err)
		return
	}

	var limiter *rate.Limiter
	if h.rateLimit > 0 {
		limiter = rate.NewLimiter(h.rateLimit, h.rateBurst)
	}

	client := NewClient(h.hub, conn, userID, h.ingest, h.members, limiter)
	if err := h.hub.Register(client); err != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go client.WritePump()
	client.ReadPump()
}
