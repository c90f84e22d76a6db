// Package provider defines the backend LLM provider contract and the
// single-prompt Invoker used by the dispatcher.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is a single chat message sent to a backend provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call against a backend model.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the result of a completion call.
type Response struct {
	Model        string `json:"model"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// ModelInfo describes a model available from a provider.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// Provider is a backend capable of serving chat completions.
type Provider interface {
	// Name returns a short identifier used in logs and metrics.
	Name() string

	// Complete performs one completion call.
	Complete(ctx context.Context, req Request) (*Response, error)

	// ListModels returns the models this provider can serve.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Invoker turns a single rendered prompt into completion text. It is the
// narrow contract the dispatcher fans out over.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, prompt string) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// SingleTurn adapts a Provider to an Invoker by wrapping each prompt in a
// one-message user turn against a fixed model.
func SingleTurn(p Provider, model string) Invoker {
	return InvokerFunc(func(ctx context.Context, prompt string) (string, error) {
		resp, err := p.Complete(ctx, Request{
			Model:    model,
			Messages: []Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
}

// ChatTurn adapts a Provider to an Invoker whose prompt is a JSON-encoded
// message sequence, completing the whole conversation in one call. Used
// for conversational batches where a task carries a chat unit rather than
// a rendered template.
func ChatTurn(p Provider, model string) Invoker {
	return InvokerFunc(func(ctx context.Context, prompt string) (string, error) {
		var msgs []Message
		if err := json.Unmarshal([]byte(prompt), &msgs); err != nil {
			return "", fmt.Errorf("decoding chat task payload: %w", err)
		}
		resp, err := p.Complete(ctx, Request{Model: model, Messages: msgs})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
}
