package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestChat(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "judge-1" {
			t.Errorf("model = %v", req["model"])
		}
		if req["stream"] != false {
			t.Errorf("stream = %v, want false", req["stream"])
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "hello back"}},
			},
		})
	})

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	got, err := c.Chat(context.Background(), "judge-1", []Message{{Role: "user", Content: "hello"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hello back" {
		t.Errorf("content = %q", got)
	}
}

func TestChatDecodesWithoutJSONContentType(t *testing.T) {
	// gateways behind nginx sometimes answer text/plain; the body must
	// still be decoded as JSON
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"still parsed"}}]}`))
	})

	c := NewClient(srv.URL, "k", 5*time.Second)
	got, err := c.Chat(context.Background(), "m", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "still parsed" {
		t.Errorf("content = %q, want %q", got, "still parsed")
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	})

	c := NewClient(srv.URL, "k", 5*time.Second)
	if _, err := c.Chat(context.Background(), "m", nil); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestChatEmptyChoices(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	c := NewClient(srv.URL, "k", 5*time.Second)
	if _, err := c.Chat(context.Background(), "m", nil); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

func TestChatFallbackSkipsFailingModels(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] == "flaky" {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	})

	c := NewClient(srv.URL, "k", 5*time.Second)
	content, model, err := c.ChatFallback(context.Background(), []string{"flaky", "stable"}, nil)
	if err != nil {
		t.Fatalf("ChatFallback: %v", err)
	}
	if content != "ok" || model != "stable" {
		t.Errorf("got (%q, %q), want (ok, stable)", content, model)
	}
}

func TestChatFallbackAllFail(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})

	c := NewClient(srv.URL, "k", 5*time.Second)
	if _, _, err := c.ChatFallback(context.Background(), []string{"a", "b"}, nil); err == nil {
		t.Fatal("expected error when every model fails")
	}
}

func TestChatFallbackNoModels(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "k", time.Second)
	if _, _, err := c.ChatFallback(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error with empty model list")
	}
}
