package ai

import "context"

// Chat roles understood by providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// FunctionCall is a tool invocation attached to a chat turn.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ChatMessage is one turn handed to the provider.
type ChatMessage struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
}

// ChatOptions carries per-request generation parameters. Zero values fall
// back to provider defaults.
type ChatOptions struct {
	Temperature *float64
	MaxTokens   int
}

// ChatResult is a completed (non-streaming) chat response.
type ChatResult struct {
	Content          string
	Model            string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TokensUsed       int
}

// StreamChunk is one incremental piece of a streamed response. Done is set on
// the final chunk, which also carries token usage when the provider reports it.
type StreamChunk struct {
	Delta      string
	Done       bool
	TokensUsed int
}

// Client is the LLM provider port: chat generation plus embeddings.
// All methods honor context cancellation.
type Client interface {
	ChatCompletion(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (ChatResult, error)
	ChatCompletionStream(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (<-chan StreamChunk, <-chan error)
	CreateEmbedding(ctx context.Context, model, text, taskType string) ([]float32, error)
	CreateEmbeddingsBatch(ctx context.Context, model string, texts []string, taskType string) ([][]float32, error)
	CountTokens(ctx context.Context, model, text string) (int, error)
}
