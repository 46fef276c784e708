package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	embedfake "github.com/Ohnim102/hust-chatbot-retriever-service/embeddings/fake"
	"github.com/Ohnim102/hust-chatbot-retriever-service/schema"
	"github.com/Ohnim102/hust-chatbot-retriever-service/vectorstores"
	storefake "github.com/Ohnim102/hust-chatbot-retriever-service/vectorstores/fake"
)

func TestEnsureCollectionsMismatchIsFatal(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mismatched := storefake.New(embedfake.New(8), schema.CollectionRAG)
	mismatched.EnsureErr = vectorstores.ErrDimensionMismatch

	err := ensureCollections(context.Background(), map[schema.Collection]vectorstores.VectorStore{
		schema.CollectionRAG: mismatched,
	}, logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstores.ErrDimensionMismatch)
}

func TestEnsureCollectionsToleratesUnreachableBackend(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	unreachable := storefake.New(embedfake.New(8), schema.CollectionRAG)
	unreachable.EnsureErr = errors.New("connection refused")

	err := ensureCollections(context.Background(), map[schema.Collection]vectorstores.VectorStore{
		schema.CollectionRAG:    unreachable,
		schema.CollectionSearch: storefake.New(embedfake.New(8), schema.CollectionSearch),
	}, logger)
	assert.NoError(t, err)
}
