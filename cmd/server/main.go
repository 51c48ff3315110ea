package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cubist/cubist/backend-go/internal/asset"
	"github.com/cubist/cubist/backend-go/internal/auth"
	"github.com/cubist/cubist/backend-go/internal/collab"
	"github.com/cubist/cubist/backend-go/internal/config"
	"github.com/cubist/cubist/backend-go/internal/engine"
	"github.com/cubist/cubist/backend-go/internal/export"
	mw "github.com/cubist/cubist/backend-go/internal/middleware"
	"github.com/cubist/cubist/backend-go/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	format, err := export.ParseFormat(cfg.ExportFormat)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	locator := asset.NewLocator(cfg.AssetURLTemplate)
	decoder := asset.NewDecoder(asset.WithOrigin(cfg.AssetOrigin), asset.WithTimeout(cfg.DecodeTimeout))
	compositor, err := export.NewCompositor(cfg.Page(), decoder, export.WithConcurrency(cfg.DecodeConcurrency))
	if err != nil {
		slog.Error("create compositor", "error", err)
		os.Exit(1)
	}
	exporter := export.NewExporter(compositor, format, cfg.ExportQuality)

	authService := auth.NewService(cfg.JWTSecret, auth.DefaultTokenTTL)
	authHandler := auth.NewHandler(authService)

	engineOpts := cfg.EngineOptions()
	engineOpts.Locator = locator
	sessions := session.NewService(engineOpts, cfg.SessionTTL)
	sessionHandler := session.NewHandler(sessions, authService, exporter)

	hub := collab.NewHub(func(sessionID string) (*engine.Engine, error) {
		sess, err := sessions.Get(sessionID)
		if err != nil {
			return nil, err
		}
		return sess.Engine, nil
	})
	sessions.SetObserver(hub)
	go hub.Run(ctx)
	go sessions.Run(ctx)

	assetHandler := asset.NewHandler(locator)

	r := mux.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logger)
	r.Use(mw.CORS(cfg.Origins()))

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, sessions.Len())
	}).Methods("GET")

	// Assets (public)
	r.HandleFunc("/assets/catalog", assetHandler.Catalog).Methods("GET")
	r.HandleFunc("/assets/upload", assetHandler.Upload).Methods("POST", "OPTIONS")

	r.Handle("/auth/refresh", authService.AuthMiddleware(http.HandlerFunc(authHandler.Refresh))).Methods("POST")

	sessionHandler.Routes(r)

	// WebSocket endpoint, token in the query string
	patterns := originPatterns(cfg.Origins())
	r.Handle("/ws/sessions/{id}", authService.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(w, r, hub, sessions, patterns)
	})))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server")

		// Disconnects clients and closes every session engine.
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", addr, "page", cfg.Page())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request, hub *collab.Hub, sessions *session.Service, patterns []string) {
	sessionID := mux.Vars(r)["id"]
	if _, err := sessions.Get(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: patterns,
	})
	if err != nil {
		slog.Error("websocket accept", "error", err)
		return
	}

	client := collab.NewClient(hub, conn, sessionID, uuid.New().String())

	hub.Register(client)

	ctx := r.Context()
	go client.WritePump(ctx)
	client.ReadPump(ctx)
}

// originPatterns turns allowed origins into the host patterns the websocket
// handshake checks against.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			out = append(out, o)
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
