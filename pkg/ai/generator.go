package ai

import "context"

// Chat message roles on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolSpec describes a callable function advertised to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is the model's request to invoke a tool mid-answer.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one turn of a chat exchange with the model.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// Usage carries token accounting reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is one model response plus its usage.
type Result struct {
	Message Message
	Usage   Usage
}

// ChatGenerator produces a chat completion, optionally offering tools the
// model may call. An empty tools slice disables function calling.
type ChatGenerator interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (Result, error)
}

// TextGenerator is the prompt-in/text-out convenience used for summaries
// and title generation.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
