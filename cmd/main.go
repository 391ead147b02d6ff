package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"WeGo/server/internal/appMiddleware"
	"WeGo/server/internal/config"
	"WeGo/server/internal/db"
	"WeGo/server/internal/handlers"
	"WeGo/server/internal/pool"
	"WeGo/server/internal/repository"
	"WeGo/server/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg := config.Load()

	ctx := context.Background()
	if err := db.InitDB(ctx, cfg.DatabaseURL); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	userRepo := repository.NewUserRepository(db.Pool)
	chatRepo := repository.NewChatRepository(db.Pool)
	dmRepo := repository.NewDMRepository(db.Pool)
	activityRepo := repository.NewActivityRepository(db.Pool)

	userService := services.NewUserService(userRepo)
	hub := pool.NewHub(userService)
	chatService := services.NewChatService(chatRepo, userService, userService,
		activityRepo, hub, clockwork.NewRealClock(), cfg.ActivityFullPolicy)
	dmService := services.NewDMService(dmRepo, userService, userService, hub)

	auth := appMiddleware.NewAuthMiddleware(cfg.JWTSecret)
	chatHandler := handlers.NewChatHandler(chatService, dmService)
	wsHandler := handlers.NewWSHandler(hub, chatService, userService, dmService, auth)

	r := chi.NewRouter()

	r.Use(appMiddleware.CorsMiddleware)

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Route("/api/chats", chatHandler.Routes)
		r.Get("/api/messages/{userId}", chatHandler.DMHistory)
	})

	r.Get("/ws", wsHandler.Serve)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Server started on port %s\n", addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %s\n", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	log.Println("Stopping the server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown error: %s\n", err)
	}
	log.Println("Server has been successfully stopped")
}
