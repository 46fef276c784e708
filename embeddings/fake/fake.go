// Package fake provides a deterministic embedder for tests. Vectors are
// derived from token hashes, so identical texts embed identically and
// overlapping texts land near each other under cosine similarity.
package fake

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/Ohnim102/hust-chatbot-retriever-service/embeddings"
)

type Embedder struct {
	Dimension int
}

var _ embeddings.Embedder = (*Embedder)(nil)

func New(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = 16
	}
	return &Embedder{Dimension: dimension}
}

func (e *Embedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embeddings.ErrEmptyText
	}
	return e.embed(text), nil
}

func (e *Embedder) GetDimension(_ context.Context) (int, error) {
	return e.Dimension, nil
}

func (e *Embedder) embed(text string) []float32 {
	vector := make([]float32, e.Dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vector[int(h.Sum32())%e.Dimension]++
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vector
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}
	return vector
}
