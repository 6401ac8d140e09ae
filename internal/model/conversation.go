// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/parley/internal/ollama"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation is a full chat transcript plus its generation settings.
// Conversations are not safe for concurrent use; callers serialize
// access (the server holds one lock across all mutations).
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Model     string     `json:"model,omitempty"`
	Params    Params     `json:"params"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewConversation creates an empty conversation with default
// parameters.
func NewConversation(model string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     "New conversation",
		Model:     model,
		Params:    DefaultParams(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message and refreshes the title and timestamp.
func (c *Conversation) AddMessage(m *Message) {
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = time.Now()
	c.refreshTitle()
}

// MessageByID returns the message with the given ID, or nil.
func (c *Conversation) MessageByID(id string) *Message {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// LastUserMessage returns the most recent user message, or nil.
func (c *Conversation) LastUserMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == "user" {
			return c.Messages[i]
		}
	}
	return nil
}

// IsLastUserMessage reports whether id names the most recent user
// message.
func (c *Conversation) IsLastUserMessage(id string) bool {
	last := c.LastUserMessage()
	return last != nil && last.ID == id
}

// TruncateAfter removes every message strictly after the one with the
// given ID. The named message itself is kept. Reports whether the ID
// was found.
func (c *Conversation) TruncateAfter(id string) bool {
	for i, m := range c.Messages {
		if m.ID == id {
			c.Messages = c.Messages[:i+1]
			c.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// RemoveMessage deletes exactly one message by ID, without the paired
// deletion DeleteMessage performs. Used by the turn engine when
// discarding a single placeholder.
func (c *Conversation) RemoveMessage(id string) bool {
	for i, m := range c.Messages {
		if m.ID == id {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			c.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// =============================================================================
// DELETION
// =============================================================================

// DeleteResult describes the outcome of a message deletion.
type DeleteResult struct {
	// Removed is true when at least one message was deleted.
	Removed bool

	// ResubmitContent is the text of the user message preceding a
	// deleted final answer, offered back for editing. Never acted on
	// automatically.
	ResubmitContent string

	// OfferResubmit is true when ResubmitContent is meaningful (it may
	// legitimately be empty text).
	OfferResubmit bool
}

// DeleteMessage removes the message with the given ID. An assistant
// answer and the thinking message from the same turn form a pair and
// are deleted together, whichever half is named. Deleting the last
// assistant answer additionally offers the preceding user message's
// content back for resubmission.
func (c *Conversation) DeleteMessage(id string) DeleteResult {
	target := c.MessageByID(id)
	if target == nil {
		return DeleteResult{}
	}

	ids := map[string]bool{id: true}
	switch {
	case target.RelatedThinkingID != "":
		ids[target.RelatedThinkingID] = true
	case target.Purpose == PurposeThinking:
		// Named the thinking half; find the answer that points at it.
		for _, m := range c.Messages {
			if m.RelatedThinkingID == target.ID {
				ids[m.ID] = true
			}
		}
	}

	res := DeleteResult{}
	if c.isLastAssistantAnswer(target) {
		if prev := c.userMessageBefore(id); prev != nil {
			res.ResubmitContent = prev.Content
			res.OfferResubmit = true
		}
	}

	kept := c.Messages[:0]
	for _, m := range c.Messages {
		if ids[m.ID] {
			res.Removed = true
			continue
		}
		kept = append(kept, m)
	}
	c.Messages = kept
	if res.Removed {
		c.UpdatedAt = time.Now()
		c.refreshTitle()
	}
	return res
}

// isLastAssistantAnswer reports whether m is the final answer-bearing
// assistant message in the transcript.
func (c *Conversation) isLastAssistantAnswer(m *Message) bool {
	if m.Role != "assistant" || m.Purpose == PurposeThinking {
		return false
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		cand := c.Messages[i]
		if cand.Role == "assistant" && cand.Purpose != PurposeThinking {
			return cand.ID == m.ID
		}
	}
	return false
}

// userMessageBefore returns the closest user message preceding the
// message with the given ID.
func (c *Conversation) userMessageBefore(id string) *Message {
	idx := -1
	for i, m := range c.Messages {
		if m.ID == id {
			idx = i
			break
		}
	}
	for i := idx - 1; i >= 0; i-- {
		if c.Messages[i].Role == "user" {
			return c.Messages[i]
		}
	}
	return nil
}

// =============================================================================
// REQUEST SERIALIZATION
// =============================================================================

// ToChatMessages flattens the transcript into backend chat messages.
// Thinking messages and in-flight previews never go back to the model;
// attachments travel as base64 image payloads.
func (c *Conversation) ToChatMessages() []ollama.Message {
	out := make([]ollama.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Purpose == PurposeThinking || m.Purpose == PurposePreview {
			continue
		}
		if m.Pending {
			continue
		}
		msg := ollama.Message{Role: m.Role, Content: m.Content}
		for _, a := range m.Attachments {
			msg.Images = append(msg.Images, a.Base64)
		}
		out = append(out, msg)
	}
	return out
}

// =============================================================================
// TITLE
// =============================================================================

// refreshTitle derives the title from the first user message.
func (c *Conversation) refreshTitle() {
	for _, m := range c.Messages {
		if m.Role == "user" && m.Content != "" {
			c.Title = util.TruncateRunes(util.CollapseLines(m.Content), 50)
			return
		}
	}
	c.Title = "New conversation"
}
