package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode reply: %v", err)
	}
}

func newTestClassifier(server *httptest.Server) *OpenAIClassifier {
	c := NewOpenAIClassifier("test-key")
	c.BaseURL = server.URL
	return c
}

func TestOpenAIClassifier_Categorize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "I love pizza") {
			t.Errorf("prompt missing memory text: %+v", req.Messages)
		}

		chatReply(t, w, `{"type": "preference", "importance": 0.8, "tags": ["food"]}`)
	}))
	defer server.Close()

	cat, err := newTestClassifier(server).Categorize(context.Background(), "I love pizza")
	if err != nil {
		t.Fatalf("Categorize failed: %v", err)
	}
	if cat.Type != "preference" || cat.Importance != 0.8 {
		t.Errorf("unexpected categorization: %+v", cat)
	}
}

func TestOpenAIClassifier_FencedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "```json\n{\"hasConflict\": true, \"confidence\": 0.9, \"refines\": false}\n```")
	}))
	defer server.Close()

	assessment, err := newTestClassifier(server).DetectConflict(context.Background(), "sky is green", "sky is blue")
	if err != nil {
		t.Fatalf("DetectConflict failed: %v", err)
	}
	if !assessment.HasConflict || assessment.Confidence != 0.9 {
		t.Errorf("unexpected assessment: %+v", assessment)
	}
}

func TestOpenAIClassifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		chatReply(t, w, `{"type": "fact", "importance": 0.5}`)
	}))
	defer server.Close()

	cat, err := newTestClassifier(server).Categorize(context.Background(), "retry me")
	if err != nil {
		t.Fatalf("Categorize failed: %v", err)
	}
	if cat.Type != "fact" {
		t.Errorf("unexpected categorization: %+v", cat)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestOpenAIClassifier_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": {"message": "invalid request"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClassifier(server).Categorize(context.Background(), "bad request")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestOpenAIClassifier_ContextCancelStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClassifier(server).Categorize(ctx, "cancelled")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAIClassifier_MalformedJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "I'm sorry, I can't classify that.")
	}))
	defer server.Close()

	_, err := newTestClassifier(server).Categorize(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error for non-JSON completion")
	}
}

func TestStripMarkdownCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding whitespace", "  ```json\n{\"a\": 1}\n```  ", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripMarkdownCodeFence(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
