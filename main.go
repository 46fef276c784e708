package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/Ohnim102/hust-chatbot-retriever-service/chat"
	"github.com/Ohnim102/hust-chatbot-retriever-service/config"
	"github.com/Ohnim102/hust-chatbot-retriever-service/embeddings"
	embedollama "github.com/Ohnim102/hust-chatbot-retriever-service/embeddings/ollama"
	"github.com/Ohnim102/hust-chatbot-retriever-service/handlers"
	"github.com/Ohnim102/hust-chatbot-retriever-service/ingest"
	"github.com/Ohnim102/hust-chatbot-retriever-service/llms/ollamaclient"
	"github.com/Ohnim102/hust-chatbot-retriever-service/logging"
	"github.com/Ohnim102/hust-chatbot-retriever-service/schema"
	"github.com/Ohnim102/hust-chatbot-retriever-service/server"
	"github.com/Ohnim102/hust-chatbot-retriever-service/store"
	"github.com/Ohnim102/hust-chatbot-retriever-service/vectorstores"
	"github.com/Ohnim102/hust-chatbot-retriever-service/vectorstores/qdrant"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Service terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	handler, err := logging.NewDailyFileHandler(cfg.LogDir, &slog.HandlerOptions{Level: slog.LevelInfo})
	if err != nil {
		return err
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	logger.Info("Starting service",
		"app", cfg.AppName,
		"embedding_model", cfg.EmbeddingModel,
		"embedding_dimension", cfg.EmbeddingDimension)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ollamaURL, err := url.Parse(cfg.OllamaURL)
	if err != nil {
		return err
	}
	llm, err := ollamaclient.NewClient(ollamaURL, &http.Client{Timeout: cfg.OllamaTimeout}, logger)
	if err != nil {
		return err
	}

	backend, err := embedollama.New(llm, cfg.EmbeddingModel, logger)
	if err != nil {
		return err
	}
	embedder, err := embeddings.NewEmbedder(backend)
	if err != nil {
		return err
	}

	stores := make(map[schema.Collection]vectorstores.VectorStore, 2)
	for _, collection := range []schema.Collection{schema.CollectionRAG, schema.CollectionSearch} {
		s, err := qdrant.New(
			qdrant.WithCollection(collection),
			qdrant.WithHostAndPort(cfg.QdrantHost, cfg.QdrantPort),
			qdrant.WithAPIKey(cfg.QdrantAPIKey),
			qdrant.WithEmbedder(embedder),
			qdrant.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		stores[collection] = s
	}
	if err := ensureCollections(ctx, stores, logger); err != nil {
		return err
	}

	chats, err := store.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer chats.Close()

	extractor := ingest.NewExtractor(ingest.NewTesseractOCR(cfg.OCRLanguage, logger), logger)
	orchestrator := chat.NewOrchestrator(chats, stores[schema.CollectionRAG], llm, logger)

	ragHandler := handlers.NewRAGHandler(stores, extractor, cfg.UploadDir, logger)
	chatHandler := handlers.NewChatHandler(orchestrator, chats, llm, cfg.DefaultChatModel, logger)

	router := server.SetupRoutes(ragHandler, chatHandler)
	if err := server.Serve(ctx, ":"+cfg.HTTPPort, router, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ensureCollections prepares every vector collection before the server
// accepts traffic. An unreachable backend is tolerated so the chat endpoints
// stay usable, but a geometry mismatch means every upsert and search against
// that collection would be wrong, so startup refuses.
func ensureCollections(ctx context.Context, stores map[schema.Collection]vectorstores.VectorStore, logger *slog.Logger) error {
	for collection, s := range stores {
		err := s.EnsureCollection(ctx)
		switch {
		case errors.Is(err, vectorstores.ErrDimensionMismatch):
			return fmt.Errorf("collection %s: %w", collection, err)
		case err != nil:
			logger.Warn("Collection preparation failed, continuing",
				"collection", collection, "error", err)
		}
	}
	return nil
}
