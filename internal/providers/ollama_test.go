package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOllama_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("unexpected Authorization header without a key")
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "llama3" || req.MaxTokens != defaultMaxTokens {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "chore: bump"}}},
			Usage:   chatUsage{TotalTokens: 12},
		})
	}))
	defer server.Close()

	t.Setenv("COMMITGATE_OLLAMA_API_KEY", "")
	o, err := NewOllama(Options{Model: "llama3", BaseURL: server.URL + "/v1/"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := o.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Content != "chore: bump" || resp.TokensUsed != 12 || resp.Model != "llama3" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestNewOllama_BaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://host:1234", "http://host:1234/v1/chat/completions"},
		{"http://host:1234/", "http://host:1234/v1/chat/completions"},
		{"http://host:1234/v1", "http://host:1234/v1/chat/completions"},
		{"http://host:1234/v1/chat/completions", "http://host:1234/v1/chat/completions"},
	}
	for _, tt := range tests {
		o, err := NewOllama(Options{BaseURL: tt.in})
		if err != nil {
			t.Fatal(err)
		}
		if o.baseURL != tt.want {
			t.Errorf("NewOllama(%q).baseURL = %q, want %q", tt.in, o.baseURL, tt.want)
		}
	}
}

func TestOllama_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	o, _ := NewOllama(Options{Model: "m", BaseURL: server.URL, MaxRetries: 1})
	_, err := o.Generate(context.Background(), Request{Prompt: "p"})
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Kind != KindServer || ge.Status != http.StatusBadGateway {
		t.Fatalf("expected server error, got: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestOllama_Canceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, _ := NewOllama(Options{Model: "m", BaseURL: server.URL})
	_, err := o.Generate(ctx, Request{Prompt: "p"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
}

func TestOllama_CallerTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	t.Setenv("COMMITGATE_OLLAMA_API_KEY", "")
	o, err := NewOllama(Options{Model: "llama3", BaseURL: server.URL, MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = o.Generate(ctx, Request{Prompt: "p"})
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("err = %#v, want *GenerationError", err)
	}
	if ge.Kind != KindTimeout || !IsRetryable(err) {
		t.Errorf("kind = %s retryable = %v", ge.Kind, IsRetryable(err))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want to wrap context.DeadlineExceeded", err)
	}
}
