package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ragfab/core"
	"github.com/ragfab/core/store"
	"github.com/ragfab/core/template"
)

type handler struct {
	engine    ragfab.Engine
	formatter *template.Formatter
}

func newHandler(e ragfab.Engine, f *template.Formatter) *handler {
	return &handler{engine: e, formatter: f}
}

// POST /ingest
// Accepts multipart file upload or JSON with file path.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	// Try multipart upload first
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)

			tmpDir := os.TempDir()
			tmpPath := filepath.Join(tmpDir, safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp file", "error", err)
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return
			}
			dst.Close()
			defer os.Remove(tmpPath)

			opts, err := ingestOptionsFrom(r.FormValue("universe_id"), r.FormValue("chunker_variant"))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}

			docID, err := h.engine.Ingest(ctx, tmpPath, opts...)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "ingestion failed")
				slog.Error("ingest error", "error", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]interface{}{
				"document_id": docID,
				"filename":    safeName,
			})
			return
		}
	}

	// Try JSON body with path
	var req struct {
		Path           string `json:"path"`
		UniverseID     string `json:"universe_id,omitempty"`
		ChunkerVariant string `json:"chunker_variant,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}

	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	// Validate that path is a real file (prevents directory traversal probing).
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	opts, err := ingestOptionsFrom(req.UniverseID, req.ChunkerVariant)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	docID, err := h.engine.Ingest(ctx, absPath, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		slog.Error("ingest error", "path", absPath, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": docID,
		"path":        absPath,
	})
}

func ingestOptionsFrom(universeID, chunkerVariant string) ([]ragfab.IngestOption, error) {
	var opts []ragfab.IngestOption
	if universeID != "" {
		id, err := uuid.Parse(universeID)
		if err != nil {
			return nil, fmt.Errorf("invalid universe_id")
		}
		opts = append(opts, ragfab.WithUniverse(id))
	}
	if chunkerVariant != "" {
		opts = append(opts, ragfab.WithChunkerVariant(chunkerVariant))
	}
	return opts, nil
}

// POST /conversations
func (h *handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Title  string `json:"title,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id must be a valid UUID")
		return
	}

	id, err := h.engine.Store().CreateConversation(r.Context(), store.Conversation{
		UserID: userID,
		Title:  req.Title,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "creating conversation failed")
		slog.Error("create conversation error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"conversation_id": id})
}

// GET /conversations?user_id=...
func (h *handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id query parameter must be a valid UUID")
		return
	}

	conversations, err := h.engine.Store().ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing conversations failed")
		slog.Error("list conversations error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

// POST /conversations/{id}/messages
func (h *handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Minute)
	defer cancel()

	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req struct {
		UserID          string   `json:"user_id"`
		Message         string   `json:"message"`
		ActiveUniverses []string `json:"active_universes,omitempty"`
		Hybrid          *bool    `json:"hybrid,omitempty"`
		Alpha           *float64 `json:"alpha,omitempty"`
		Reranker        *bool    `json:"reranker,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id must be a valid UUID")
		return
	}

	universes := make([]uuid.UUID, 0, len(req.ActiveUniverses))
	for _, s := range req.ActiveUniverses {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active_universes must contain valid UUIDs")
			return
		}
		universes = append(universes, id)
	}

	answer, err := h.engine.Answer(ctx, ragfab.AnswerRequest{
		ConversationID:   convID,
		UserID:           userID,
		UserMessage:      req.Message,
		ActiveUniverses:  universes,
		HybridOverride:   req.Hybrid,
		AlphaOverride:    req.Alpha,
		RerankerOverride: req.Reranker,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "answer failed")
		slog.Error("answer error", "conversation_id", convID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// POST /messages/{id}/ratings
func (h *handler) handleCreateRating(w http.ResponseWriter, r *http.Request) {
	messageID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	var req struct {
		UserID   string `json:"user_id"`
		Polarity int    `json:"polarity"`
		Feedback string `json:"feedback,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Polarity != 1 && req.Polarity != -1 {
		writeError(w, http.StatusBadRequest, "polarity must be 1 or -1")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id must be a valid UUID")
		return
	}

	id, err := h.engine.Store().CreateRating(r.Context(), store.Rating{
		MessageID: messageID,
		UserID:    userID,
		Polarity:  req.Polarity,
		Feedback:  req.Feedback,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "creating rating failed")
		slog.Error("create rating error", "message_id", messageID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rating_id": id})
}

// POST /messages/{id}/format
func (h *handler) handleFormatMessage(w http.ResponseWriter, r *http.Request) {
	messageID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	var req struct {
		TemplateName string `json:"template_name"`
		FirstName    string `json:"first_name,omitempty"`
		LastName     string `json:"last_name,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TemplateName == "" {
		writeError(w, http.StatusBadRequest, "template_name is required")
		return
	}

	msg, err := h.engine.Store().GetMessage(r.Context(), messageID)
	if err != nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	history, err := h.engine.Store().ListMessages(r.Context(), msg.ConversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading conversation failed")
		slog.Error("list messages error", "conversation_id", msg.ConversationID, "error", err)
		return
	}

	formatted, err := h.formatter.Apply(r.Context(), messageID, msg.Content, req.TemplateName, history, template.UserProfile{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "formatting failed")
		slog.Error("format message error", "message_id", messageID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, formatted)
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete error", "document_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /documents?universe_id=...
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	var universes []uuid.UUID
	if v := r.URL.Query().Get("universe_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "universe_id must be a valid UUID")
			return
		}
		universes = append(universes, id)
	}

	docs, err := h.engine.ListDocuments(r.Context(), universes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
