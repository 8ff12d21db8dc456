package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestChatOpenAIWireFormat(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": `{"agentMessage": "hi"}`}}},
		})
	}))
	defer server.Close()

	// "openai" in the base URL selects the OpenAI wire format.
	c := NewClient("test-key", WithAPIConfig(server.URL+"/openai/v1", "gpt-4o"))

	resp, err := c.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "hello"},
	}, CallOptions{Temperature: 0.7, ForceJSON: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp != `{"agentMessage": "hi"}` {
		t.Errorf("response = %q", resp)
	}

	if captured["model"] != "gpt-4o" {
		t.Errorf("model = %v", captured["model"])
	}
	if captured["response_format"] == nil {
		t.Errorf("ForceJSON did not set response_format")
	}
	messages := captured["messages"].([]any)
	// JSON-mode preamble + system + user
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(messages))
	}
	last := messages[2].(map[string]any)
	if last["role"] != "user" || last["content"] != "hello" {
		t.Errorf("last message = %v", last)
	}
}

func TestChatAnthropicWireFormat(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("path = %s, want /messages", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"text": "hello back"}},
		})
	}))
	defer server.Close()

	c := NewClient("test-key", WithAPIConfig(server.URL, "claude-3-5-sonnet-20241022"))

	resp, err := c.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "stage prompt"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleSystem, Content: "forced directive"},
	}, CallOptions{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp != "hello back" {
		t.Errorf("response = %q", resp)
	}

	// System turns are folded into the top-level parameter, in order.
	system, _ := captured["system"].(string)
	if !strings.Contains(system, "stage prompt") || !strings.Contains(system, "forced directive") {
		t.Errorf("system = %q, want both system turns folded in", system)
	}
	messages := captured["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want system turns stripped", len(messages))
	}
}

func TestChatModelOverride(t *testing.T) {
	var model atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		model.Store(body["model"])
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"text": "ok"}},
		})
	}))
	defer server.Close()

	c := NewClient("test-key", WithAPIConfig(server.URL, "claude-3-5-sonnet-20241022"))

	if _, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, CallOptions{Model: "claude-3-opus-20240229"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got := model.Load(); got != "claude-3-opus-20240229" {
		t.Errorf("model = %v, want per-call override", got)
	}
}

func TestChatRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"text": "recovered"}},
		})
	}))
	defer server.Close()

	c := NewClient("test-key",
		WithAPIConfig(server.URL, "claude-3-5-sonnet-20241022"),
		WithRetry(2),
		WithRateLimit(600, 10),
	)

	resp, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, CallOptions{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp != "recovered" {
		t.Errorf("response = %q", resp)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestChatExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient("test-key",
		WithAPIConfig(server.URL, "claude-3-5-sonnet-20241022"),
		WithRetry(1),
		WithRateLimit(600, 10),
	)

	_, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, CallOptions{})
	if err == nil {
		t.Fatalf("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "max retries exceeded") {
		t.Errorf("error = %v", err)
	}
}
