package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "gpt-4o",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			},
		},
	}
}

func TestReply_ReturnsModelContent(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(chatResponse("Hi! How can I help?"))
	})

	gen, err := NewOpenAIGenerator("test-key", "gpt-4o", "You are terse.", 0.6, WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewOpenAIGenerator failed: %v", err)
	}

	reply, err := gen.Reply(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply != "Hi! How can I help?" {
		t.Errorf("Unexpected reply: %q", reply)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}

	messages, ok := gotBody["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("Expected persona + user message, got %v", gotBody["messages"])
	}
	system := messages[0].(map[string]any)
	if system["role"] != "system" || system["content"] != "You are terse." {
		t.Errorf("Unexpected system message: %v", system)
	}
}

func TestReply_TrimsWhitespace(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse("  spaced out \n"))
	})

	gen, err := NewOpenAIGenerator("test-key", "gpt-4o", "persona", 0, WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewOpenAIGenerator failed: %v", err)
	}

	reply, err := gen.Reply(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply != "spaced out" {
		t.Errorf("Expected trimmed reply, got %q", reply)
	}
}

func TestReply_EmptyContentIsError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse("   "))
	})

	gen, err := NewOpenAIGenerator("test-key", "gpt-4o", "persona", 0, WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewOpenAIGenerator failed: %v", err)
	}

	if _, err := gen.Reply(context.Background(), "hello"); err == nil {
		t.Error("Expected error for blank reply")
	}
}

func TestReply_UpstreamErrorPropagates(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not found"}}`, http.StatusBadRequest)
	})

	gen, err := NewOpenAIGenerator("test-key", "gpt-4o", "persona", 0, WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewOpenAIGenerator failed: %v", err)
	}

	if _, err := gen.Reply(context.Background(), "hello"); err == nil {
		t.Error("Expected error from upstream failure")
	}
}

func TestNewOpenAIGenerator_RejectsMissingCredentials(t *testing.T) {
	if _, err := NewOpenAIGenerator("", "gpt-4o", "persona", 0); err == nil {
		t.Error("Expected error for empty API key")
	}
	if _, err := NewOpenAIGenerator("key", "", "persona", 0); err == nil {
		t.Error("Expected error for empty model")
	}
}
