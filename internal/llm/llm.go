// Package llm provides the generation interface the tutoring core talks to,
// with an OpenAI-compatible implementation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Message is a single message in the conversation history sent to the model.
type Message struct {
	Role    string `json:"role"` // "student" or "tutor"
	Content string `json:"content"`
}

// Request carries everything the tutor wants the model to see: the system
// instruction, the context block (question, revealed values, constraints),
// bounded conversation history, and the current student query.
type Request struct {
	System  string
	Context string
	Query   string
	History []Message
}

// Client generates tutoring responses.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrUnavailable indicates the model could not be reached or did not produce
// usable output. Callers degrade to a canned apology rather than failing the
// student's request.
type ErrUnavailable struct {
	Err error
}

func (e *ErrUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LLM unavailable: %v", e.Err)
	}
	return "LLM unavailable"
}

func (e *ErrUnavailable) Unwrap() error { return e.Err }

// OpenAIClient wraps an OpenAI-compatible chat completion API.
type OpenAIClient struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// New creates an OpenAI-compatible client. An empty baseURL uses the default
// OpenAI endpoint; pointing it at a local server (Ollama, vLLM) also works.
func New(baseURL, apiKey, modelName string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		api:         openai.NewClientWithConfig(config),
		model:       modelName,
		temperature: 0.7,
		maxTokens:   512,
	}
}

// Generate sends the tutoring request as a chat completion. Context deadlines
// and cancellation propagate to the HTTP call; a transport or timeout failure
// comes back as *ErrUnavailable, while cancellation stays a context error so
// callers can tell a disconnected student from a broken model.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	system := req.System
	if req.Context != "" {
		system += "\n\n" + req.Context
	}

	chatMsgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role != "student" {
			role = openai.ChatMessageRoleAssistant
		}
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}
	chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Query,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMsgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() == context.Canceled {
				return "", ctx.Err()
			}
			return "", &ErrUnavailable{Err: err}
		}
		return "", &ErrUnavailable{Err: fmt.Errorf("chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &ErrUnavailable{Err: errors.New("no choices in response")}
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &ErrUnavailable{Err: errors.New("empty completion")}
	}
	return text, nil
}

// Ping verifies the endpoint answers a trivial completion request.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	return nil
}
