package ollamaclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ollama/ollama/api"
)

// MaxBufferSize bounds a single NDJSON line from the backend.
const MaxBufferSize = 512 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// StreamChat posts a chat request and invokes fn once per NDJSON line of the
// response, in order. The raw line is passed untouched. Cancelling ctx aborts
// the upstream connection mid-stream.
func (c *Client) StreamChat(ctx context.Context, req *api.ChatRequest, fn func(line []byte) error) error {
	return c.streamRequest(ctx, http.MethodPost, "/api/chat", req, fn)
}

// GenerateChat is a typed wrapper over StreamChat for callers that want
// decoded responses rather than wire bytes.
func (c *Client) GenerateChat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error {
	return c.StreamChat(ctx, req, func(line []byte) error {
		var resp api.ChatResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return fmt.Errorf("unmarshal streaming chat chunk: %w", err)
		}
		return fn(resp)
	})
}

func (c *Client) streamRequest(ctx context.Context, method, path string, reqData any, callback func([]byte) error) error {
	buf, ok := bufferPool.Get().(*bytes.Buffer)
	if !ok {
		return errors.New("failed to get buffer from pool")
	}
	buf.Reset()
	defer bufferPool.Put(buf)

	if reqData != nil {
		if err := json.NewEncoder(buf).Encode(reqData); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	requestURL := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, requestURL.String(), buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("Ollama API stream request failed",
			"status", resp.StatusCode,
			"method", method,
			"url", requestURL.String(),
			"response_body", string(body),
		)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, MaxBufferSize), MaxBufferSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := callback(line); err != nil {
			return fmt.Errorf("callback error: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read error: %w", err)
	}
	return nil
}
