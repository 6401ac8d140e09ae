// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with an
// Ollama-compatible generation API.
package ollama

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role    string   `json:"role"`             // "user", "assistant", "system"
	Content string   `json:"content"`          // The message content
	Images  []string `json:"images,omitempty"` // Base64-encoded image payloads
}

// ChatRequest is the request body for the /api/chat endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`             // Model name (e.g. "llama3.2:3b")
	Messages []Message `json:"messages"`          // Conversation history
	Stream   bool      `json:"stream"`            // Enable streaming
	Options  *Options  `json:"options,omitempty"` // Model parameters
}

// Options contains model parameters for inference. All fields are
// pointers so that only explicitly set parameters are serialized;
// backends treat absent and zero-valued options differently.
type Options struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	Mirostat      *int     `json:"mirostat,omitempty"`
	Seed          *int     `json:"seed,omitempty"`

	// Both spellings of the reasoning toggle are sent; backends differ
	// on which one they honor.
	IncludeThinking *bool `json:"include_thinking,omitempty"`
	Thinking        *bool `json:"thinking,omitempty"`
}

// =============================================================================
// MODEL CATALOG TYPES
// =============================================================================

// ModelInfo describes one entry from the /api/tags catalog. Some server
// versions populate "name", newer ones "model"; both are kept.
type ModelInfo struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
}

// Identifier returns the usable model identifier for a catalog entry.
func (m *ModelInfo) Identifier() string {
	if m.Model != "" {
		return m.Model
	}
	return m.Name
}

// ListModelsResponse is the response from the /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// =============================================================================
// STATS
// =============================================================================

// Stats holds the terminal statistics a backend attaches to the final
// frame of a generation. Durations are nanoseconds as emitted on the
// wire. A Stats value is immutable once attached to a finalized message.
type Stats struct {
	TotalDuration      int64  `json:"total_duration,omitempty"`
	LoadDuration       int64  `json:"load_duration,omitempty"`
	PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
	EvalCount          int    `json:"eval_count,omitempty"`
	EvalDuration       int64  `json:"eval_duration,omitempty"`
	DoneReason         string `json:"done_reason,omitempty"`
	ContextLength      int    `json:"context_length,omitempty"`
	Model              string `json:"model,omitempty"`
}

// =============================================================================
// HELPER METHODS
// =============================================================================

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// TokensPerSecond calculates the generation speed from final stats.
func (s *Stats) TokensPerSecond() float64 {
	if s.EvalDuration == 0 {
		return 0
	}
	seconds := float64(s.EvalDuration) / 1e9
	return float64(s.EvalCount) / seconds
}
