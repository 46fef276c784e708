// Package chat sequences one conversation turn: session resolution, context
// retrieval, prompt assembly, streamed generation and user-message
// persistence. Generation output is produced as an ordered event stream the
// transport layer forwards verbatim.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/errgroup"

	"github.com/Ohnim102/hust-chatbot-retriever-service/aggregate"
	"github.com/Ohnim102/hust-chatbot-retriever-service/llms/ollamaclient"
	"github.com/Ohnim102/hust-chatbot-retriever-service/prompts"
	"github.com/Ohnim102/hust-chatbot-retriever-service/schema"
	"github.com/Ohnim102/hust-chatbot-retriever-service/store"
	"github.com/Ohnim102/hust-chatbot-retriever-service/vectorstores"
)

const (
	// maxTitleLength bounds the auto-generated title of a new chat.
	maxTitleLength = 30

	// retrievalK is how many chunks are fetched per turn before
	// aggregation and threshold filtering.
	retrievalK = 5

	// eventBuffer decouples the generation stream from a slow consumer
	// without accumulating the whole response in memory.
	eventBuffer = 16
)

// Generation sampling options applied to every turn.
const (
	optionTopK = 64
	optionTopP = 0.95
)

// TurnMessage is one entry of the incoming conversation payload.
type TurnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRequest describes one chat turn. A zero ChatID means a new session.
type TurnRequest struct {
	ChatID   int64         `json:"chat_id,omitempty"`
	Model    string        `json:"model"`
	Messages []TurnMessage `json:"messages"`
}

// Event is one element of the turn's output stream. Data holds the JSON
// payload to forward; Done marks successful stream completion. Errors travel
// in-band as Data payloads carrying an "error" field, because by the time
// they occur the stream is already open.
type Event struct {
	Data json.RawMessage
	Done bool
}

type Orchestrator struct {
	chats   store.ChatStore
	vectors vectorstores.VectorStore
	llm     *ollamaclient.Client
	logger  *slog.Logger
}

func NewOrchestrator(chats store.ChatStore, vectors vectorstores.VectorStore, llm *ollamaclient.Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		chats:   chats,
		vectors: vectors,
		llm:     llm,
		logger:  logger.With("component", "chat_orchestrator"),
	}
}

// Stream runs one turn and returns its event stream. The channel is closed
// when the turn finishes, fails or ctx is cancelled; cancelling ctx aborts
// the in-flight generation request.
func (o *Orchestrator) Stream(ctx context.Context, req TurnRequest) <-chan Event {
	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		o.runTurn(ctx, req, events)
	}()
	return events
}

func (o *Orchestrator) runTurn(ctx context.Context, req TurnRequest, events chan<- Event) {
	start := time.Now()
	query := latestUserQuery(req.Messages)

	ok, err := o.llm.HasModel(ctx, req.Model)
	if err != nil {
		o.emitError(ctx, events, fmt.Sprintf("Không thể kiểm tra model '%s': %s", req.Model, err), 0)
		return
	}
	if !ok {
		o.emitError(ctx, events,
			fmt.Sprintf("Model '%s' không tồn tại hoặc chưa được cài đặt trong Ollama", req.Model), 0)
		return
	}

	chat, _, err := o.resolveSession(ctx, req, query)
	if err != nil {
		o.emitError(ctx, events, fmt.Sprintf("Không thể khởi tạo phiên chat: %s", err), 0)
		return
	}

	promptMessages := o.buildPrompt(ctx, query)

	// The user message is durably recorded before the first generation
	// byte is requested.
	if _, err := o.chats.AddMessage(ctx, schema.Message{
		ChatID:  chat.ID,
		Role:    schema.RoleUser,
		Content: query,
		Tokens:  len(strings.Fields(query)),
		Model:   req.Model,
	}); err != nil {
		o.emitError(ctx, events, fmt.Sprintf("Không thể lưu tin nhắn: %s", err), chat.ID)
		return
	}

	stream := true
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: promptMessages,
		Stream:   &stream,
		Options: map[string]any{
			"top_k": optionTopK,
			"top_p": optionTopP,
		},
	}

	err = o.llm.StreamChat(ctx, chatReq, func(line []byte) error {
		return o.emit(ctx, events, withChatID(line, chat.ID))
	})
	if err != nil {
		if ctx.Err() != nil {
			o.logger.InfoContext(ctx, "Chat turn cancelled by client", "chat_id", chat.ID)
			return
		}
		o.emitError(ctx, events, err.Error(), chat.ID)
		return
	}

	o.emit(ctx, events, Event{Done: true})
	o.logger.InfoContext(ctx, "Chat turn completed",
		"chat_id", chat.ID, "model", req.Model, "duration", time.Since(start))
}

// resolveSession fetches the existing chat together with its history, or
// creates a fresh one titled from the query. The two lookups for an existing
// chat are independent and run concurrently.
func (o *Orchestrator) resolveSession(ctx context.Context, req TurnRequest, query string) (schema.Chat, []schema.Message, error) {
	if req.ChatID > 0 {
		var (
			chat    schema.Chat
			history []schema.Message
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			chat, err = o.chats.GetChat(gctx, req.ChatID)
			return err
		})
		g.Go(func() error {
			var err error
			history, err = o.chats.ListMessages(gctx, req.ChatID)
			return err
		})
		if err := g.Wait(); err != nil {
			return schema.Chat{}, nil, err
		}
		return chat, history, nil
	}

	chat, err := o.chats.CreateChat(ctx, schema.Chat{
		Title: chatTitle(query),
		Model: req.Model,
	})
	if err != nil {
		return schema.Chat{}, nil, err
	}
	o.logger.InfoContext(ctx, "New chat session created", "chat_id", chat.ID, "title", chat.Title)
	return chat, []schema.Message{}, nil
}

// buildPrompt retrieves context for the query and assembles the two-message
// generation prompt. Retrieval failure degrades to an empty-context turn
// rather than failing the whole exchange.
func (o *Orchestrator) buildPrompt(ctx context.Context, query string) []api.Message {
	contextBlock := prompts.EmptyContext

	matches, err := o.vectors.SimilaritySearchWithScores(ctx, query, retrievalK)
	if err != nil {
		o.logger.WarnContext(ctx, "Context retrieval failed, generating without context", "error", err)
	} else if len(matches) > 0 {
		if rendered := aggregate.ContextString(aggregate.GroupBySource(matches), aggregate.DefaultMinScore); rendered != "" {
			contextBlock = rendered
		}
	}

	return []api.Message{
		{Role: "user", Content: prompts.AssistantInstruction.Format(map[string]string{"query": query})},
		{Role: "user", Content: prompts.DocumentContext.Format(map[string]string{"context": contextBlock})},
	}
}

func (o *Orchestrator) emit(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) emitError(ctx context.Context, events chan<- Event, message string, chatID int64) {
	o.logger.ErrorContext(ctx, "Chat turn failed", "chat_id", chatID, "error", message)

	payload := map[string]any{"error": message}
	if chatID > 0 {
		payload["chat_id"] = chatID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	o.emit(ctx, events, Event{Data: data})
}

// withChatID decodes one generation chunk, attaches the session id and
// re-encodes it. Chunks that are not valid JSON are wrapped as raw text so
// nothing from the backend is silently dropped.
func withChatID(line []byte, chatID int64) Event {
	var chunk map[string]any
	if err := json.Unmarshal(line, &chunk); err != nil {
		chunk = map[string]any{"text": string(line)}
	}
	chunk["chat_id"] = chatID

	data, err := json.Marshal(chunk)
	if err != nil {
		data = line
	}
	return Event{Data: data}
}

// latestUserQuery returns the content of the most recent user message, or an
// empty string when the payload holds none.
func latestUserQuery(messages []TurnMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == string(schema.RoleUser) {
			return messages[i].Content
		}
	}
	return ""
}

// chatTitle derives a session title from the opening query: the first 30
// characters, ellipsized when truncated.
func chatTitle(query string) string {
	runes := []rune(query)
	if len(runes) <= maxTitleLength {
		return query
	}
	return string(runes[:maxTitleLength]) + "..."
}
