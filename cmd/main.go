package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	chatapi "github.com/sweeply/sweeply-backend/internal/api/chat"
	presenceapi "github.com/sweeply/sweeply-backend/internal/api/presence"
	"github.com/sweeply/sweeply-backend/internal/chat"
	"github.com/sweeply/sweeply-backend/internal/config"
	"github.com/sweeply/sweeply-backend/internal/middleware"
	"github.com/sweeply/sweeply-backend/internal/notify"
	"github.com/sweeply/sweeply-backend/internal/presence"
	"github.com/sweeply/sweeply-backend/internal/storage"
	"github.com/sweeply/sweeply-backend/internal/storage/memory"
	"github.com/sweeply/sweeply-backend/internal/storage/postgres"
	"github.com/sweeply/sweeply-backend/internal/storage/valkeystore"
	"github.com/sweeply/sweeply-backend/internal/ws"
)

// gateway bundles the storage interfaces a deployment provides.
type gateway struct {
	chat.Gateway
	storage.PresenceStore
	feed storage.ChangeFeed
}

func main() {
	cfg := config.Load()

	gw, cleanup := buildGateway(cfg)
	defer cleanup()

	hub := ws.NewHub()
	go hub.Run()

	chatSvc := chat.NewService(gw)
	notifier := &notify.LogNotifier{Profiles: gw}

	chatHandler := &chatapi.Handler{
		Chat:     chatSvc,
		Hub:      hub,
		Feed:     gw.feed,
		Convs:    gw,
		Presence: gw,
		Notifier: notifier,
	}

	// Shared tracker behind the REST presence endpoints. Socket sessions get
	// their own mounted tracker each.
	tracker := presence.NewTracker(gw, gw.feed)
	presenceHandler := &presenceapi.Handler{Tracker: tracker}

	r := mux.NewRouter()
	r.Use(middleware.CORS(cfg.CORSOrigin))
	r.Use(middleware.Auth(cfg.JWTSecret))
	chatapi.RegisterRoutes(r, chatHandler)
	presenceapi.RegisterRoutes(r, presenceHandler)

	server := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		log.Printf("Server started at %s", cfg.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	if err := server.Close(); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
	log.Println("Server stopped")
}

// buildGateway picks the storage backends from config: PostgreSQL plus an
// optional Valkey presence store, or all in-memory for local development.
func buildGateway(cfg config.Config) (*gateway, func()) {
	if cfg.PostgresDSN == "" {
		log.Println("POSTGRES_DSN not set, using in-memory storage")
		store := memory.NewStore()
		return &gateway{Gateway: store, PresenceStore: store, feed: store}, func() {}
	}

	store, err := postgres.NewStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to open PostgreSQL store: %v", err)
	}
	feed, err := postgres.NewFeed(cfg.PostgresDSN, store)
	if err != nil {
		log.Fatalf("Failed to open change feed: %v", err)
	}

	gw := &gateway{Gateway: store, PresenceStore: store, feed: feed}
	cleanup := func() {
		feed.Close()
		store.Close()
	}

	if cfg.ValkeyAddr != "" {
		vk, err := valkeystore.NewPresenceStore(cfg.ValkeyAddr)
		if err != nil {
			log.Fatalf("Failed to open Valkey presence store: %v", err)
		}
		gw.PresenceStore = vk
		gw.feed = combinedFeed{Feed: feed, presence: vk}
		cleanup = func() {
			vk.Close()
			feed.Close()
			store.Close()
		}
	}
	return gw, cleanup
}

// combinedFeed routes presence subscriptions to Valkey pub/sub and keeps
// message/conversation subscriptions on LISTEN/NOTIFY.
type combinedFeed struct {
	*postgres.Feed
	presence *valkeystore.PresenceStore
}

func (c combinedFeed) SubscribePresence(ch chan<- storage.PresenceEvent) (storage.FeedHandle, error) {
	return c.presence.SubscribePresence(ch)
}
