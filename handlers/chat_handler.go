package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Ohnim102/hust-chatbot-retriever-service/chat"
	"github.com/Ohnim102/hust-chatbot-retriever-service/llms/ollamaclient"
	"github.com/Ohnim102/hust-chatbot-retriever-service/store"
)

// ChatHandler serves the streaming chat endpoint, model listing and chat
// session CRUD.
type ChatHandler struct {
	orchestrator *chat.Orchestrator
	chats        store.ChatStore
	llm          *ollamaclient.Client
	defaultModel string
	logger       *slog.Logger
}

func NewChatHandler(orchestrator *chat.Orchestrator, chats store.ChatStore, llm *ollamaclient.Client, defaultModel string, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		orchestrator: orchestrator,
		chats:        chats,
		llm:          llm,
		defaultModel: defaultModel,
		logger:       logger.With("component", "chat_handler"),
	}
}

// Stream runs one chat turn and forwards its events as Server-Sent-Events.
// Errors are delivered in-band once the stream is open; only a successful
// stream ends with the [DONE] sentinel.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var req chat.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
		return
	}
	if req.Model == "" {
		req.Model = h.defaultModel
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// r.Context() is cancelled on client disconnect, which aborts the
	// in-flight generation request.
	for event := range h.orchestrator.Stream(r.Context(), req) {
		if event.Done {
			fmt.Fprint(w, "data: [DONE]\n\n")
		} else {
			fmt.Fprintf(w, "data: %s\n\n", event.Data)
		}
		flusher.Flush()
	}
}

// Models lists the generation models installed on the backend.
func (h *ChatHandler) Models(w http.ResponseWriter, r *http.Request) {
	models, err := h.llm.ListModels(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list models", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	size := queryInt(r, "size", 10)

	chats, err := h.chats.ListChats(r.Context(), page, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.chats.GetChat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if last := queryInt(r, "last", 0); last > 0 {
		messages, err := h.chats.LastMessages(r.Context(), chatID, last)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, messages)
		return
	}

	messages, err := h.chats.ListMessages(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.chats.DeleteChat(r.Context(), chatID); err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chat_id": chatID})
}

// Health reports reachability of the generation backend and the chat store.
func (h *ChatHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	code := http.StatusOK

	if err := h.llm.Health(r.Context()); err != nil {
		status["status"] = "degraded"
		status["ollama"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if _, err := h.chats.ListChats(r.Context(), 1, 1); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid chat id")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	if value, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return value
	}
	return fallback
}
