package ollamaclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	c, err := NewClient(base, srv.Client(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return c
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[
			{"model":"llama3","name":"Llama 3","size":4661224676,"modified_at":"2025-03-01T10:00:00Z"},
			{"model":"nomic-embed-text","name":"Nomic Embed","size":274302450,"modified_at":"2025-02-01T10:00:00Z"}
		]}`)
	}))
	defer srv.Close()

	client := newClientFor(t, srv)
	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3", models[0].Name)
	assert.Equal(t, "Llama 3", models[0].DisplayName)
	assert.Equal(t, int64(4661224676), models[0].Size)
	assert.Equal(t, "2025-03-01T10:00:00Z", models[0].Modified)

	ok, err := client.HasModel(context.Background(), "nomic-embed-text")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.HasModel(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListModelsBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"backend exploded"}`)
	}))
	defer srv.Close()

	client := newClientFor(t, srv)
	_, err := client.ListModels(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend exploded")

	assert.Error(t, client.Health(context.Background()))
}

func TestStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Xin"},"done":false}`)
		fmt.Fprintln(w)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" chào"},"done":true}`)
	}))
	defer srv.Close()

	client := newClientFor(t, srv)
	stream := true
	var lines []string
	err := client.StreamChat(context.Background(), &api.ChatRequest{
		Model:    "llama3",
		Messages: []api.Message{{Role: "user", Content: "chào"}},
		Stream:   &stream,
	}, func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	})
	require.NoError(t, err)
	// Blank lines are skipped; order is preserved.
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"Xin"`)
	assert.Contains(t, lines[1], `"done":true`)
}

func TestStreamChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	client := newClientFor(t, srv)
	err := client.StreamChat(context.Background(), &api.ChatRequest{Model: "ghost"}, func([]byte) error {
		t.Fatal("callback must not run on HTTP error")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestGenerateChatDecodesChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"model":"llama3","message":{"role":"assistant","content":"ok"},"done":true}`)
	}))
	defer srv.Close()

	client := newClientFor(t, srv)
	var got []api.ChatResponse
	err := client.GenerateChat(context.Background(), &api.ChatRequest{Model: "llama3"}, func(resp api.ChatResponse) error {
		got = append(got, resp)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Message.Content)
	assert.True(t, got[0].Done)
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultOllamaURL, client.BaseURL().String())
}
