// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the conversation data structures shared by the
// chat engine, the HTTP layer, and persistence.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/parley/internal/ollama"
)

// =============================================================================
// MESSAGE PURPOSE
// =============================================================================

// Purpose distinguishes what role a message plays in the transcript
// beyond its chat role. Purposes other than PurposeNormal only ever
// appear on assistant messages.
type Purpose string

const (
	// PurposeNormal is a plain user or assistant message.
	PurposeNormal Purpose = "normal"

	// PurposeThinking holds reasoning text streamed during a turn.
	PurposeThinking Purpose = "thinking"

	// PurposePreview is the in-flight answer placeholder. It absorbs
	// answer text while a turn streams and becomes a PurposeResponse
	// on finalization.
	PurposePreview Purpose = "response_preview"

	// PurposeResponse is a finalized answer.
	PurposeResponse Purpose = "response"
)

// =============================================================================
// MESSAGE
// =============================================================================

// Message is one entry in a conversation transcript.
type Message struct {
	ID          string        `json:"id"`
	Role        string        `json:"role"`
	Purpose     Purpose       `json:"purpose"`
	Content     string        `json:"content"`
	Thinking    string        `json:"thinking,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Stats       *ollama.Stats `json:"stats,omitempty"`
	Error       string        `json:"error,omitempty"`

	// Pending marks a placeholder still receiving stream output.
	Pending bool `json:"pending,omitempty"`

	// Collapsed controls whether a retained thinking message renders
	// folded in the client.
	Collapsed bool `json:"collapsed,omitempty"`

	// RelatedThinkingID links an answer to the thinking message created
	// in the same turn, so the pair can be deleted together.
	RelatedThinkingID string `json:"related_thinking_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewUserMessage creates a plain user message.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      "user",
		Purpose:   PurposeNormal,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewThinkingPlaceholder creates the pending thinking message for a
// new turn.
func NewThinkingPlaceholder() *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      "assistant",
		Purpose:   PurposeThinking,
		Pending:   true,
		CreatedAt: time.Now(),
	}
}

// NewPreviewPlaceholder creates the pending answer preview for a new
// turn, linked to its thinking counterpart.
func NewPreviewPlaceholder(thinkingID string) *Message {
	return &Message{
		ID:                uuid.NewString(),
		Role:              "assistant",
		Purpose:           PurposePreview,
		Pending:           true,
		RelatedThinkingID: thinkingID,
		CreatedAt:         time.Now(),
	}
}

// IsPlaceholder reports whether the message is a streaming artifact
// rather than durable transcript content.
func (m *Message) IsPlaceholder() bool {
	return m.Pending && (m.Purpose == PurposeThinking || m.Purpose == PurposePreview)
}
