package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseChunk(content string) string {
	return fmt.Sprintf(`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":123,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":%q}}]}`+"\n\n", content)
}

func TestOpenAIStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"Tell ", "me ", "more."} {
			_, _ = w.Write([]byte(sseChunk(chunk)))
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	var deltas []string
	got, err := client.Stream(context.Background(), []Message{{Role: "user", Content: "hello"}}, func(delta string) {
		deltas = append(deltas, delta)
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	if got != "Tell me more." {
		t.Fatalf("expected accumulated reply, got %q", got)
	}
	if len(deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d: %v", len(deltas), deltas)
	}
	if strings.Join(deltas, "") != got {
		t.Fatalf("deltas %v do not join into %q", deltas, got)
	}
}

func TestOpenAIStreamNilCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseChunk("ok")))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	got, err := client.Stream(context.Background(), []Message{{Role: "user", Content: "hello"}}, nil)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected ok, got %q", got)
	}
}

type completeOnlyClient struct {
	reply string
	err   error
}

func (c *completeOnlyClient) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func TestStreamOrCompleteFallback(t *testing.T) {
	client := &completeOnlyClient{reply: "full reply"}

	var deltas []string
	got, err := StreamOrComplete(context.Background(), client, []Message{{Role: "user", Content: "hi"}}, func(delta string) {
		deltas = append(deltas, delta)
	})
	if err != nil {
		t.Fatalf("StreamOrComplete failed: %v", err)
	}
	if got != "full reply" {
		t.Fatalf("expected full reply, got %q", got)
	}
	if len(deltas) != 1 || deltas[0] != "full reply" {
		t.Fatalf("expected one delta carrying the whole reply, got %v", deltas)
	}
}

func TestStreamOrCompleteFallbackError(t *testing.T) {
	client := &completeOnlyClient{err: errors.New("rate limited")}

	_, err := StreamOrComplete(context.Background(), client, []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestStreamOrCompletePrefersStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseChunk("a")))
		_, _ = w.Write([]byte(sseChunk("b")))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	var deltas []string
	got, err := StreamOrComplete(context.Background(), client, []Message{{Role: "user", Content: "hi"}}, func(delta string) {
		deltas = append(deltas, delta)
	})
	if err != nil {
		t.Fatalf("StreamOrComplete failed: %v", err)
	}
	if got != "ab" {
		t.Fatalf("expected ab, got %q", got)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected incremental deltas, got %v", deltas)
	}
}
