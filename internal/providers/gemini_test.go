package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGemini_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Error("missing API key in x-goog-api-key header")
		}
		if r.URL.Path != "/models/gemini-2.0-flash:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.RawQuery != "" {
			t.Errorf("query must be empty, got %q", r.URL.RawQuery)
		}
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "sys" {
			t.Error("system instruction not sent")
		}
		_ = json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{
				{Content: geminiContent{Parts: []geminiPart{{Text: "docs: "}, {Text: "fix typo"}}}},
			},
			UsageMetadata: geminiUsage{TotalTokenCount: 75},
		})
	}))
	defer server.Close()

	g, err := NewGemini(Options{Model: "gemini-2.0-flash", APIKey: "test-key", BaseURL: server.URL + "/models"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := g.Generate(context.Background(), Request{System: "sys", Prompt: "p", MaxTokens: 10})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Content != "docs: fix typo" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.TokensUsed != 75 {
		t.Errorf("TokensUsed = %d, want 75", resp.TokensUsed)
	}
}

func TestGemini_Forbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	g, _ := NewGemini(Options{Model: "m", APIKey: "k", BaseURL: server.URL})
	_, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got: %v", err)
	}
}

func TestNewGemini_KeyFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	if _, err := NewGemini(Options{}); err == nil {
		t.Fatal("expected error without API key")
	}
	t.Setenv("GOOGLE_API_KEY", "g")
	g, err := NewGemini(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if g.apiKey != "g" || g.baseURL != geminiAPIURL {
		t.Errorf("gemini = %+v", g)
	}
}
