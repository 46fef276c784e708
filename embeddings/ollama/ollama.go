// Package ollama implements the embeddings.Embedder interface on top of the
// Ollama /api/embed endpoint.
package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ollama/ollama/api"

	"github.com/Ohnim102/hust-chatbot-retriever-service/embeddings"
	"github.com/Ohnim102/hust-chatbot-retriever-service/llms/ollamaclient"
)

// DefaultModel is the embedding model used by the retrieval pipeline.
const DefaultModel = "nomic-embed-text"

type Embedder struct {
	client *ollamaclient.Client
	model  string
	logger *slog.Logger

	// Cached dimension, probed once from the model itself.
	dimension int
	dimErr    error
	dimOnce   sync.Once
}

var _ embeddings.Embedder = (*Embedder)(nil)

func New(client *ollamaclient.Client, model string, logger *slog.Logger) (*Embedder, error) {
	if client == nil {
		return nil, fmt.Errorf("ollama embedder: client is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		client: client,
		model:  model,
		logger: logger.With("component", "ollama_embedder", "model", model),
	}, nil
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embeddings.ErrEmptyText
	}
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GetDimension embeds a probe string once and caches the vector length.
func (e *Embedder) GetDimension(ctx context.Context) (int, error) {
	e.dimOnce.Do(func() {
		vector, err := e.EmbedQuery(ctx, "dimension probe")
		if err != nil {
			e.dimErr = fmt.Errorf("failed to probe embedding dimension: %w", err)
			return
		}
		e.dimension = len(vector)
		e.logger.Debug("Embedding dimension resolved", "dimension", e.dimension)
	})
	return e.dimension, e.dimErr
}
