package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIChatWithToolCall(t *testing.T) {
	var gotReq oaiChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
				{"id":"call-1","type":"function","function":{"name":"current_datetime","arguments":"{}"}}
			]}}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}
		}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "test-key", "gpt-test", time.Second)
	result, err := client.Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "Saat kac?"}},
		[]ToolSpec{{Name: "current_datetime", Description: "saat", Parameters: map[string]any{"type": "object"}}},
	)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(result.Message.ToolCalls) != 1 || result.Message.ToolCalls[0].Name != "current_datetime" {
		t.Fatalf("tool call not decoded: %+v", result.Message)
	}
	if result.Usage.TotalTokens != 15 {
		t.Fatalf("usage not decoded: %+v", result.Usage)
	}
	if gotReq.Model != "gpt-test" || gotReq.ToolChoice != "auto" {
		t.Fatalf("request not encoded as expected: %+v", gotReq)
	}
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Function.Name != "current_datetime" {
		t.Fatalf("tools missing from request: %+v", gotReq.Tools)
	}
}

func TestOpenAIChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", "gpt-test", time.Second)
	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "soru"}}, nil)
	if err == nil || err.Error() != "openai api error: quota exceeded" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestOpenAIGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaiChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem {
			t.Errorf("system prompt not sent first: %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" Kisa ozet. "}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", "gpt-mini", time.Second)
	text, err := client.GenerateText(context.Background(), "ozetleyici", "metni ozetle")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if text != "Kisa ozet." {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestOpenAIEmbedTextsOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0.4,0.5]},
			{"index":0,"embedding":[0.1,0.2]}
		]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", "", time.Second)
	vectors, err := client.EmbedTexts(context.Background(), "text-embedding-3-small", []string{"bir", "iki"}, 2)
	if err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	if vectors[0][0] != 0.1 || vectors[1][0] != 0.4 {
		t.Fatalf("vectors not ordered by index: %v", vectors)
	}
}

func TestWithModelKeepsCredentials(t *testing.T) {
	client := NewOpenAIClient("https://api.openai.com/v1", "key", "gpt-big", 0)
	mini := client.WithModel("gpt-mini")
	if mini.Model() != "gpt-mini" || client.Model() != "gpt-big" {
		t.Fatalf("WithModel must not mutate the receiver")
	}
}
