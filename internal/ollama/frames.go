// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

// =============================================================================
// STREAMING FRAME TYPES
// =============================================================================

// FramePart is a nested payload object inside a streaming frame, found
// under "message" (Ollama chat) or "delta" (OpenAI-style streaming).
type FramePart struct {
	Role      string   `json:"role,omitempty"`
	Content   string   `json:"content,omitempty"`
	Thinking  string   `json:"thinking,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	Type      string   `json:"type,omitempty"`
	Images    []string `json:"images,omitempty"`
}

// Frame is one decoded streaming payload. Backends disagree about
// where they put reasoning text, answer text, and terminal stats, so
// the struct is a union of every shape seen in the wild; the accessor
// methods impose a single interpretation.
type Frame struct {
	Model     string     `json:"model,omitempty"`
	CreatedAt string     `json:"created_at,omitempty"`
	Response  string     `json:"response,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
	Type      string     `json:"type,omitempty"`
	Content   string     `json:"content,omitempty"`
	Message   *FramePart `json:"message,omitempty"`
	Delta     *FramePart `json:"delta,omitempty"`
	Images    []string   `json:"images,omitempty"`
	Done      bool       `json:"done,omitempty"`
	ErrText   string     `json:"error,omitempty"`

	// Terminal statistics, present on the final frame.
	DoneReason         string `json:"done_reason,omitempty"`
	TotalDuration      int64  `json:"total_duration,omitempty"`
	LoadDuration       int64  `json:"load_duration,omitempty"`
	PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
	EvalCount          int    `json:"eval_count,omitempty"`
	EvalDuration       int64  `json:"eval_duration,omitempty"`
	Context            []int  `json:"context,omitempty"`
}

// =============================================================================
// FRAME ACCESSORS
// =============================================================================

// ThinkingFragments extracts reasoning text from a frame. Extraction
// probes shapes in priority order and stops at the first shape that
// yields anything, so a frame never contributes the same text twice:
//
//  1. top-level "thinking"
//  2. top-level "reasoning", or "reasoning"/"thinking" under "delta"
//  3. "thinking"/"reasoning" under "message"
//  4. type=="thinking" with a "content" field, at any level
func (f *Frame) ThinkingFragments() []string {
	var frags []string

	if f.Thinking != "" {
		return []string{f.Thinking}
	}

	if f.Reasoning != "" {
		frags = append(frags, f.Reasoning)
	}
	if f.Delta != nil {
		if f.Delta.Reasoning != "" {
			frags = append(frags, f.Delta.Reasoning)
		}
		if f.Delta.Thinking != "" {
			frags = append(frags, f.Delta.Thinking)
		}
	}
	if len(frags) > 0 {
		return frags
	}

	if f.Message != nil {
		if f.Message.Thinking != "" {
			frags = append(frags, f.Message.Thinking)
		}
		if f.Message.Reasoning != "" {
			frags = append(frags, f.Message.Reasoning)
		}
	}
	if len(frags) > 0 {
		return frags
	}

	if f.Type == "thinking" && f.Content != "" {
		frags = append(frags, f.Content)
	}
	if f.Message != nil && f.Message.Type == "thinking" && f.Message.Content != "" {
		frags = append(frags, f.Message.Content)
	}
	if f.Delta != nil && f.Delta.Type == "thinking" && f.Delta.Content != "" {
		frags = append(frags, f.Delta.Content)
	}
	return frags
}

// AnswerText extracts the answer-channel text from a frame: the
// top-level "response" field, or "message.content" when the message is
// not itself a thinking payload.
func (f *Frame) AnswerText() string {
	if f.Response != "" {
		return f.Response
	}
	if f.Message != nil && f.Message.Type != "thinking" {
		if f.Message.Role == "" || f.Message.Role == "assistant" {
			return f.Message.Content
		}
	}
	if f.Delta != nil && f.Delta.Type != "thinking" {
		return f.Delta.Content
	}
	return ""
}

// ImageList returns generated image payloads carried by the frame,
// top-level or nested under "message". Nil when the frame has none.
func (f *Frame) ImageList() []string {
	if len(f.Images) > 0 {
		return f.Images
	}
	if f.Message != nil && len(f.Message.Images) > 0 {
		return f.Message.Images
	}
	return nil
}

// ExtractStats collects terminal statistics from a final frame. Only
// fields the frame actually carries are set; unknown wire fields are
// ignored by decoding. Returns nil when the frame reported nothing.
func (f *Frame) ExtractStats() *Stats {
	s := &Stats{
		TotalDuration:      f.TotalDuration,
		LoadDuration:       f.LoadDuration,
		PromptEvalCount:    f.PromptEvalCount,
		PromptEvalDuration: f.PromptEvalDuration,
		EvalCount:          f.EvalCount,
		EvalDuration:       f.EvalDuration,
		DoneReason:         f.DoneReason,
		ContextLength:      len(f.Context),
		Model:              f.Model,
	}
	if s.TotalDuration == 0 && s.LoadDuration == 0 && s.PromptEvalCount == 0 &&
		s.PromptEvalDuration == 0 && s.EvalCount == 0 && s.EvalDuration == 0 &&
		s.DoneReason == "" && s.ContextLength == 0 {
		return nil
	}
	return s
}

// Err returns the backend-reported error carried by the frame, or nil.
func (f *Frame) Err() error {
	if f.ErrText == "" {
		return nil
	}
	return &BackendError{Message: f.ErrText}
}
