package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/vedran77/chatten/internal/app"
	"github.com/vedran77/chatten/internal/cache"
	"github.com/vedran77/chatten/internal/config"
	"github.com/vedran77/chatten/internal/database"
	"github.com/vedran77/chatten/internal/repository/memory"
	postgresrepo "github.com/vedran77/chatten/internal/repository/postgres"
	"github.com/vedran77/chatten/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("loading .env", "err", err)
	}
	cfg := config.Load()

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.SetReportTimestamp(true)

	if slices.Contains(cfg.AllowedOrigins, "*") {
		log.Warn("ALLOWED_ORIGINS contains *: websocket upgrades are accepted from any site, use only in development")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	var repos app.Repositories
	switch cfg.StorageDriver {
	case "memory":
		store := memory.NewStore()
		repos = app.Repositories{Users: store.Users(), Conversations: store.Conversations(), Messages: store.Messages()}
		log.Warn("using in-memory storage; data is lost on restart")

	case "postgres":
		pool, err := database.Connect(ctx, cfg)
		if err != nil {
			log.Fatal("connecting to database", "err", err)
		}
		defer pool.Close()
		log.Info("connected to database", "host", cfg.DBHost, "db", cfg.DBName)

		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatal("migrating schema", "err", err)
		}
		repos = app.Repositories{
			Users:         postgresrepo.NewUserRepo(pool),
			Conversations: postgresrepo.NewConversationRepo(pool),
			Messages:      postgresrepo.NewMessageRepo(pool),
		}

	default:
		log.Fatal("unknown storage driver", "driver", cfg.StorageDriver)
	}

	var opts app.Options

	// Block-list cache
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("connecting to redis", "err", err)
		}
		defer rdb.Close()
		opts.BlockCache = cache.NewBlockCache(rdb, repos.Users, 10*time.Minute)
		log.Info("block cache enabled")
	}

	// OAuth
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		opts.OAuth = service.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	} else {
		log.Warn("GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set; /auth/google disabled")
	}

	a := app.New(cfg, repos, opts)
	a.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by the server; close
	// them through the hub first.
	if err := a.Shutdown(5 * time.Second); err != nil {
		log.Warn("hub shutdown", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
}
