package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient calls any OpenAI-compatible API (OpenAI, vLLM, LiteLLM,
// OpenRouter, self-hosted models). It covers chat completions with
// function calling plus the embeddings endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient builds a client. baseURL should include the /v1 prefix,
// e.g. "https://api.openai.com/v1". apiKey can be empty for local models.
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithModel returns a copy of the client bound to a different model.
// The HTTP client and credentials are shared.
func (c *OpenAIClient) WithModel(model string) *OpenAIClient {
	clone := *c
	clone.model = strings.TrimSpace(model)
	return &clone
}

// Model reports the generation model name the client is bound to.
func (c *OpenAIClient) Model() string { return c.model }

// Chat implements ChatGenerator using the chat completions API.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (Result, error) {
	if c.model == "" {
		return Result{}, fmt.Errorf("openai generation model required")
	}
	if len(messages) == 0 {
		return Result{}, fmt.Errorf("chat messages required")
	}
	reqBody := oaiChatRequest{
		Model:    c.model,
		Messages: make([]oaiMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		reqBody.Messages = append(reqBody.Messages, messageToWire(msg))
	}
	for _, tool := range tools {
		reqBody.Tools = append(reqBody.Tools, oaiTool{
			Type: "function",
			Function: oaiToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if len(reqBody.Tools) > 0 {
		reqBody.ToolChoice = "auto"
	}

	var chatResp oaiChatResponse
	if err := c.doJSON(ctx, "/chat/completions", reqBody, &chatResp); err != nil {
		return Result{}, err
	}
	if len(chatResp.Choices) == 0 {
		return Result{}, fmt.Errorf("empty response from openai api")
	}
	msg := chatResp.Choices[0].Message
	result := Result{
		Message: Message{
			Role:    msg.Role,
			Content: strings.TrimSpace(msg.Content),
		},
		Usage: Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}
	for _, call := range msg.ToolCalls {
		result.Message.ToolCalls = append(result.Message.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	if result.Message.Content == "" && len(result.Message.ToolCalls) == 0 {
		return Result{}, fmt.Errorf("empty response from openai api")
	}
	return result, nil
}

// GenerateText implements TextGenerator with a plain two-message exchange.
func (c *OpenAIClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]Message, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, Message{Role: RoleUser, Content: userPrompt})
	result, err := c.Chat(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

// EmbedText returns an embedding for the input text.
func (c *OpenAIClient) EmbedText(ctx context.Context, model, text string, dimensions int) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, model, []string{text}, dimensions)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts returns embeddings for multiple inputs in one call.
func (c *OpenAIClient) EmbedTexts(ctx context.Context, model string, texts []string, dimensions int) ([][]float32, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("openai embedding model required")
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("embedding input required")
	}
	reqBody := oaiEmbedRequest{Model: model, Input: texts}
	if dimensions > 0 {
		reqBody.Dimensions = dimensions
	}
	var resp oaiEmbedResponse
	if err := c.doJSON(ctx, "/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (c *OpenAIClient) doJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("openai api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("openai api error: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai decode: %w", err)
	}
	return nil
}

func messageToWire(msg Message) oaiMessage {
	wire := oaiMessage{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
	}
	for _, call := range msg.ToolCalls {
		wire.ToolCalls = append(wire.ToolCalls, oaiToolCall{
			ID:   call.ID,
			Type: "function",
			Function: oaiToolCallFunction{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return wire
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type oaiToolCall struct {
	ID       string              `json:"id"`
	Type     string              `json:"type"`
	Function oaiToolCallFunction `json:"function"`
}

type oaiToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiTool struct {
	Type     string          `json:"type"`
	Function oaiToolFunction `json:"function"`
}

type oaiToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type oaiChatRequest struct {
	Model      string       `json:"model"`
	Messages   []oaiMessage `json:"messages"`
	Tools      []oaiTool    `json:"tools,omitempty"`
	ToolChoice string       `json:"tool_choice,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type oaiEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type oaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
