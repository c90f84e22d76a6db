// Package openaicompat implements the provider contract against any
// OpenAI-compatible Chat Completions backend.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stapel-ai/stapel/pkg/api"
	"github.com/stapel-ai/stapel/pkg/observability"
	"github.com/stapel-ai/stapel/pkg/provider"
	"github.com/stapel-ai/stapel/pkg/stream"
)

// Client performs HTTP requests against an OpenAI-compatible backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	name       string
}

// NewClient creates a Client for the backend at baseURL. A zero timeout
// defaults to 120s; it applies to non-streaming calls only.
func NewClient(name, baseURL, apiKey string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		name:       name,
	}
}

// Name returns the configured provider name.
func (c *Client) Name() string {
	return c.name
}

// Complete performs non-streaming inference against the Chat Completions
// endpoint.
func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	chatReq := ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, ChatMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	status := "ok"
	defer func() {
		observability.ProviderRequestsTotal.WithLabelValues(c.name, req.Model, status).Inc()
		observability.ProviderLatency.WithLabelValues(c.name, req.Model).Observe(time.Since(start).Seconds())
	}()

	httpResp, err := c.post(ctx, "/v1/chat/completions", chatReq, false)
	if err != nil {
		status = "error"
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		status = "error"
		return nil, mapHTTPError(httpResp)
	}

	var chatResp ChatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		status = "error"
		return nil, api.NewInvocationError(fmt.Sprintf("failed to parse backend response: %s", err.Error()))
	}
	if len(chatResp.Choices) == 0 {
		status = "error"
		return nil, api.NewInvocationError("backend returned no choices")
	}

	choice := chatResp.Choices[0]
	return &provider.Response{
		Model:        chatResp.Model,
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: provider.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:  chatResp.Usage.TotalTokens,
		},
	}, nil
}

// StreamFeed opens a streaming completion and exposes it as a chunk feed.
// Each delta with content becomes an output chunk; in-stream error
// payloads become error chunks without ending the feed. The feed ends
// with io.EOF when the backend sends [DONE] or closes the stream.
func (c *Client) StreamFeed(ctx context.Context, req provider.Request) (stream.Feed, error) {
	chatReq := ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	for _, m := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, ChatMessage{Role: m.Role, Content: m.Content})
	}

	httpResp, err := c.post(ctx, "/v1/chat/completions", chatReq, true)
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues(c.name, req.Model, "error").Inc()
		return nil, err
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		observability.ProviderRequestsTotal.WithLabelValues(c.name, req.Model, "error").Inc()
		return nil, mapHTTPError(httpResp)
	}
	observability.ProviderRequestsTotal.WithLabelValues(c.name, req.Model, "ok").Inc()

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return stream.FeedFunc(func(ctx context.Context) (stream.Chunk, error) {
		for scanner.Scan() {
			if ctx.Err() != nil {
				httpResp.Body.Close()
				return stream.Chunk{}, ctx.Err()
			}

			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				httpResp.Body.Close()
				return stream.Chunk{}, io.EOF
			}

			var chunk ChatStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				// Unknown payloads pass through untouched.
				return stream.Chunk{Kind: stream.KindRaw, Raw: payload}, nil
			}
			if chunk.Error != nil {
				msg := chunk.Error.Message
				if msg == "" {
					msg = payload
				}
				return stream.Chunk{Kind: stream.KindError, Error: msg}, nil
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			return stream.Chunk{Kind: stream.KindOutput, Output: chunk.Choices[0].Delta.Content}, nil
		}

		httpResp.Body.Close()
		if err := scanner.Err(); err != nil {
			return stream.Chunk{}, err
		}
		return stream.Chunk{}, io.EOF
	}), nil
}

// ListModels queries the /v1/models endpoint.
func (c *Client) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	c.setHeaders(httpReq, false)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp)
	}

	var modelsResp ChatModelsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&modelsResp); err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to parse models response: %s", err.Error()))
	}

	var models []provider.ModelInfo
	for _, m := range modelsResp.Data {
		models = append(models, provider.ModelInfo{
			ID:      m.ID,
			Object:  m.Object,
			OwnedBy: m.OwnedBy,
		})
	}

	return models, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// post sends a JSON request body to path. Streaming requests bypass the
// client timeout; the context controls their lifetime instead.
func (c *Client) post(ctx context.Context, path string, body any, streaming bool) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	c.setHeaders(httpReq, streaming)

	client := c.httpClient
	if streaming {
		client = &http.Client{Transport: c.httpClient.Transport}
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	return httpResp, nil
}

func (c *Client) setHeaders(req *http.Request, streaming bool) {
	req.Header.Set("Content-Type", "application/json")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
