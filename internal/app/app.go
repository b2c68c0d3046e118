// Package app wires repositories, services and transports into one HTTP
// handler. It is shared by cmd/server and the end-to-end tests.
package app

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/vedran77/chatten/internal/config"
	"github.com/vedran77/chatten/internal/repository"
	"github.com/vedran77/chatten/internal/service"
	"github.com/vedran77/chatten/internal/transport/http/handlers"
	"github.com/vedran77/chatten/internal/transport/http/middleware"
	"github.com/vedran77/chatten/internal/transport/ws"
)

type Repositories struct {
	Users         repository.UserRepository
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
}

// BlockCache serves block lookups for delivery and is invalidated on changes.
type BlockCache interface {
	service.BlockChecker
	service.BlockCache
}

type Options struct {
	// BlockCache, when set, fronts the user repository for delivery checks.
	BlockCache BlockCache
	// OAuth, when set, enables /auth/google.
	OAuth service.OAuthProvider
}

type App struct {
	Auth          *service.AuthService
	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Repair        *service.RepairJob
	Hub           *ws.Hub

	router http.Handler
}

func New(cfg *config.Config, repos Repositories, opts Options) *App {
	// Services
	authService := service.NewAuthService(repos.Users, cfg.JWTSecret, cfg.SessionTTL)
	if opts.OAuth != nil {
		authService.SetProvider(opts.OAuth)
	}
	userService := service.NewUserService(repos.Users)
	convService := service.NewConversationService(repos.Conversations, repos.Users)
	messageService := service.NewMessageService(repos.Messages, repos.Conversations, repos.Users)

	var blocks service.BlockChecker = repos.Users
	if opts.BlockCache != nil {
		blocks = opts.BlockCache
		userService.SetBlockCache(opts.BlockCache)
	}

	// Real-time
	hub := ws.NewHub(messageService, service.NewBlockPolicy(blocks))
	notifier := ws.NewHubNotifier(hub)
	convService.SetNotifier(notifier)
	messageService.SetNotifier(notifier)

	a := &App{
		Auth:          authService,
		Users:         userService,
		Conversations: convService,
		Messages:      messageService,
		Repair:        service.NewRepairJob(repos.Messages, cfg.RepairInterval),
		Hub:           hub,
	}
	a.router = a.routes(cfg, messageService, convService)
	return a
}

func (a *App) routes(cfg *config.Config, ingest ws.Ingestor, members ws.Membership) http.Handler {
	authHandler := handlers.NewAuthHandler(a.Auth, cfg.ClientURL, cfg.CookieSecure)
	userHandler := handlers.NewUserHandler(a.Users)
	convHandler := handlers.NewConversationHandler(a.Conversations)
	messageHandler := handlers.NewMessageHandler(a.Messages)
	wsHandler := ws.NewHandler(a.Hub, ingest, members, ws.HandlerConfig{
		UserID:         middleware.UserIDFromRequest,
		OriginPatterns: originPatterns(cfg.AllowedOrigins),
		RateLimit:      cfg.WSRateLimit,
		RateBurst:      cfg.WSRateBurst,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	r.Get("/auth/google", authHandler.Google)
	r.Get("/auth/google/callback", authHandler.GoogleCallback)
	r.Get("/auth/logout", authHandler.Logout)
	r.With(middleware.OptionalAuth(a.Auth)).Get("/auth/check", authHandler.Check)

	// Protected
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(a.Auth))

		r.Get("/users", userHandler.List)
		r.Get("/users/blocked", userHandler.ListBlocked)
		r.Post("/users/block", userHandler.Block)
		r.Post("/users/unblock", userHandler.Unblock)

		r.Get("/conversations", convHandler.List)
		r.Post("/conversations", convHandler.Create)
		r.Get("/conversations/{id}", convHandler.Get)
		r.Delete("/conversations/{id}", convHandler.Delete)

		r.Post("/messages", messageHandler.Send)
		r.Get("/messages/{conversationId}", messageHandler.List)

		r.Get("/ws", wsHandler.ServeWS)
	})

	return r
}

func (a *App) Handler() http.Handler {
	return a.router
}

// Start runs the hub loop and the repair job until ctx is done.
func (a *App) Start(ctx context.Context) {
	go a.Hub.Run()
	go a.Repair.Run(ctx)
}

// Shutdown drops all live connections.
func (a *App) Shutdown(timeout time.Duration) error {
	return a.Hub.Shutdown(timeout)
}

// originPatterns converts allowed origins to the host patterns the websocket
// library matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}
