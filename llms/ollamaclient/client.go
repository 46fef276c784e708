// Package ollamaclient is a thin HTTP client for the Ollama generation and
// embedding backend. Chat responses stream as newline-delimited JSON; the raw
// lines are handed to the caller so that transport layers can annotate and
// re-encode them without losing fields.
package ollamaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/Ohnim102/hust-chatbot-retriever-service/schema"
)

const (
	DefaultOllamaURL = "http://127.0.0.1:11434"
	DefaultTimeout   = 10 * time.Minute
)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

var jsonBufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// NewClient builds a client for the given base URL. A nil httpClient gets a
// pooled transport with the default timeout; a nil logger falls back to
// slog.Default.
func NewClient(baseURL *url.URL, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if baseURL == nil {
		var err error
		baseURL, err = url.Parse(DefaultOllamaURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse default ollama URL: %w", err)
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:      100,
				IdleConnTimeout:   90 * time.Second,
				MaxConnsPerHost:   100,
				ForceAttemptHTTP2: true,
			},
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.With("component", "ollama_client"),
	}, nil
}

// ListModels returns the installed models as reported by /api/tags.
func (c *Client) ListModels(ctx context.Context) ([]schema.ModelInfo, error) {
	var resp api.ListResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, fmt.Errorf("list models request failed: %w", err)
	}

	models := make([]schema.ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, schema.ModelInfo{
			Name:        m.Model,
			DisplayName: m.Name,
			Size:        m.Size,
			Modified:    m.ModifiedAt.Format(time.RFC3339),
		})
	}
	return models, nil
}

// HasModel reports whether a model with the given name is installed.
func (c *Client) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Embed requests embeddings for a batch of inputs via /api/embed.
func (c *Client) Embed(ctx context.Context, req *api.EmbedRequest) (*api.EmbedResponse, error) {
	var resp api.EmbedResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/embed", req, &resp); err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	return &resp, nil
}

// Health checks backend reachability with a single /api/tags round trip.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.ListModels(ctx); err != nil {
		return fmt.Errorf("ollama health check failed: %w", err)
	}
	return nil
}

func (c *Client) BaseURL() *url.URL {
	return c.baseURL
}

func (c *Client) doRequest(ctx context.Context, method, path string, reqData, respData any) error {
	var body io.Reader
	if reqData != nil {
		buf, ok := jsonBufferPool.Get().(*bytes.Buffer)
		if !ok {
			return errors.New("failed to get buffer from pool")
		}
		buf.Reset()
		defer jsonBufferPool.Put(buf)

		if err := json.NewEncoder(buf).Encode(reqData); err != nil {
			return fmt.Errorf("failed to encode request data: %w", err)
		}
		body = buf
	}

	requestURL := c.baseURL.JoinPath(path)
	request, err := http.NewRequestWithContext(ctx, method, requestURL.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	if err := c.checkError(response); err != nil {
		return err
	}

	if respData != nil {
		if err := json.NewDecoder(response.Body).Decode(respData); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) checkError(response *http.Response) error {
	if response.StatusCode < http.StatusBadRequest {
		return nil
	}

	var apiError struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(response.Body).Decode(&apiError); err != nil {
		return fmt.Errorf("ollama API error (status %d): %s", response.StatusCode, http.StatusText(response.StatusCode))
	}
	return fmt.Errorf("ollama API error (status %d): %s", response.StatusCode, apiError.Error)
}
