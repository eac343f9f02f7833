package ai

import (
	"context"
	"fmt"
	"time"
)

// ChatMessage is one turn handed to the completion endpoint.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatClient produces text completions via an OpenAI-compatible endpoint.
type ChatClient struct {
	client
	model string
}

func NewChatClient(endpoint, model, apiKey string) *ChatClient {
	return &ChatClient{
		client: newClient(endpoint, apiKey, 120*time.Second),
		model:  model,
	}
}

// Complete sends the message history and returns the assistant reply.
func (c *ChatClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	wire := make([]wireMessage, len(messages))
	for i, m := range messages {
		wire[i] = wireMessage{Role: m.Role, Content: m.Content}
	}

	req := chatCompletionRequest{
		Model:       c.model,
		Messages:    wire,
		MaxTokens:   1024,
		Temperature: 0.3,
	}

	var resp chatCompletionResponse
	if err := c.postJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("chat complete: %w", err)
	}
	content, err := resp.content()
	if err != nil {
		return "", fmt.Errorf("chat complete: %w", err)
	}
	return content, nil
}
