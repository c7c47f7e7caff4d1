package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ragfab/core"
	"github.com/ragfab/core/feedback"
	"github.com/ragfab/core/llm"
	"github.com/ragfab/core/template"
)

func main() {
	addr := envOr("RAGFAB_ADDR", ":8080")

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := ragfab.LoadConfig()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("RAGFAB_API_KEY")
	corsOrigins := os.Getenv("RAGFAB_CORS_ORIGINS")

	ctx := context.Background()
	engine, err := ragfab.New(ctx, cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	formatterChat, err := llm.NewProvider(llm.Config(cfg.Chat))
	if err != nil {
		slog.Error("creating formatter/analyzer chat provider", "error", err)
		os.Exit(1)
	}
	analyzer := feedback.New(engine.Store(), formatterChat, cfg.Chat.Model, cfg.ThumbsDownConfidenceThreshold)
	formatter := template.New(engine.Store(), formatterChat, cfg.Chat.Model)

	if cfg.ThumbsDownAutoAnalysis {
		go func() {
			if err := analyzer.Listen(ctx, engine.Store().Pool()); err != nil {
				slog.Error("feedback analyzer stopped", "error", err)
			}
		}()
	}

	h := newHandler(engine, formatter)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /conversations", h.handleCreateConversation)
	mux.HandleFunc("GET /conversations", h.handleListConversations)
	mux.HandleFunc("POST /conversations/{id}/messages", h.handleAnswer)
	mux.HandleFunc("POST /messages/{id}/ratings", h.handleCreateRating)
	mux.HandleFunc("POST /messages/{id}/format", h.handleFormatMessage)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (ingest can be long)
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// envOr reads an env var with a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
