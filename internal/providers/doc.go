// Package providers implements the Generator interface for each supported
// text-generation backend: Anthropic (official SDK), OpenAI (go-openai),
// Gemini, and Ollama or LM Studio for local models.
//
// All backends share one retry helper with exponential back-off. Failures
// surface as *GenerationError, whose Retryable method separates rate
// limits, server faults and timeouts from authentication and request
// errors. HTTP clients are injectable so tests can point a backend at an
// httptest server.
//
// Use [New] to obtain a Generator by provider name.
package providers
