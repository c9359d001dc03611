// Package llm is a small client for OpenAI-compatible vision chat
// endpoints, used to recognise text in embedded images.
package llm

import (
	"context"
	"fmt"
	"time"
)

// VisionProvider sends chat requests that carry images.
type VisionProvider interface {
	ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error)
}

// VisionChatRequest is a chat request with image content.
type VisionChatRequest struct {
	Model       string          `json:"model"`
	Messages    []VisionMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

// VisionMessage represents a chat message that may contain images.
type VisionMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is either text or an image in a vision message.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL contains a base64 data URL or a remote URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures a vision provider.
type Config struct {
	Provider string        `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string        `json:"model" yaml:"model"`
	BaseURL  string        `json:"base_url" yaml:"base_url"`
	APIKey   string        `json:"api_key" yaml:"api_key"`
	Timeout  time.Duration `json:"-" yaml:"-"` // per HTTP request; 0 means 120s
}

// endpoint is the default location of a known provider.
type endpoint struct {
	baseURL string
	prefix  string
}

var endpoints = map[string]endpoint{
	"ollama":     {"http://localhost:11434", "/v1"},
	"lmstudio":   {"http://localhost:1234", "/v1"},
	"openrouter": {"https://openrouter.ai/api", "/v1"},
	"openai":     {"https://api.openai.com", "/v1"},
	"groq":       {"https://api.groq.com/openai", "/v1"},
	"xai":        {"https://api.x.ai", "/v1"},
	// Gemini's OpenAI-compatible surface has no /v1 segment.
	"gemini": {"https://generativelanguage.googleapis.com/v1beta/openai", ""},
	"custom": {"", "/v1"},
}

// NewProvider creates a vision provider from configuration. An empty
// BaseURL takes the provider's default.
func NewProvider(cfg Config) (VisionProvider, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider not specified")
	}
	ep, ok := endpoints[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = ep.baseURL
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm provider %s needs a base_url", cfg.Provider)
	}
	return newClient(cfg, ep.prefix), nil
}
