package reply

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Responder turns a visitor's text into the assistant's reply.
type Responder interface {
	Reply(ctx context.Context, text string) (string, error)
}

// ResponderFunc adapts a plain function to Responder.
type ResponderFunc func(ctx context.Context, text string) (string, error)

// Reply calls f.
func (f ResponderFunc) Reply(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Canned picks one of a few fixed templates at random.
type Canned struct{}

// Reply never fails.
func (Canned) Reply(_ context.Context, text string) (string, error) {
	variants := []string{
		`You said: "` + text + `". Got it!`,
		"Echo: " + text,
		"Processing complete: " + text,
	}
	return variants[rand.IntN(len(variants))], nil
}

const defaultSystemPrompt = "You are a concise, friendly support assistant embedded in a website chat widget. Answer in at most three sentences."

// ErrEmptyReply is returned when the model produced no text.
var ErrEmptyReply = errors.New("empty reply from model")

// LLM asks an OpenAI-compatible model for the reply.
type LLM struct {
	model        llms.Model
	systemPrompt string
}

// NewLLM creates an OpenAI-backed responder. model may be empty to use the client default.
func NewLLM(apiKey, model string) (*LLM, error) {
	opts := []openai.Option{openai.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return &LLM{model: client, systemPrompt: defaultSystemPrompt}, nil
}

// Reply sends the system prompt and the visitor's text to the model.
func (l *LLM) Reply(ctx context.Context, text string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, l.systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}
	resp, err := l.model.GenerateContent(ctx, content)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	out := strings.TrimSpace(resp.Choices[0].Content)
	if out == "" {
		return "", ErrEmptyReply
	}
	return out, nil
}
