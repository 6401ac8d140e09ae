// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/ollama"
)

// =============================================================================
// STREAM SESSION
// =============================================================================

// Session accumulates the output of one streaming turn: thinking text,
// answer text, generated attachments, and terminal stats. It is bound
// to the placeholder pair created for the turn and owned by a single
// goroutine.
type Session struct {
	ThinkingID string
	PreviewID  string

	// CollectThinking gates thinking extraction. When false, thinking
	// fragments are dropped at the source rather than filtered later.
	CollectThinking bool

	answer      strings.Builder
	thinking    string
	attachments []model.Attachment
	stats       *ollama.Stats
	done        bool
}

// NewSession starts an accumulator for the placeholder pair.
func NewSession(thinkingID, previewID string) *Session {
	return &Session{
		ThinkingID:      thinkingID,
		PreviewID:       previewID,
		CollectThinking: true,
	}
}

// Apply folds one frame into the session. Reports whether anything
// visible changed. A backend-reported error is returned as a
// *ollama.BackendError; everything accumulated so far stays valid.
func (s *Session) Apply(f *ollama.Frame) (bool, error) {
	if err := f.Err(); err != nil {
		return false, err
	}

	changed := false

	if s.CollectThinking {
		for _, frag := range f.ThinkingFragments() {
			merged := MergeText(s.thinking, frag)
			if merged != s.thinking {
				s.thinking = merged
				changed = true
			}
		}
	}

	if text := f.AnswerText(); text != "" {
		s.answer.WriteString(text)
		changed = true
	}

	// Image frames carry the full attachment set; later frames replace
	// earlier ones rather than accumulating.
	if imgs := f.ImageList(); imgs != nil {
		s.attachments = model.AttachmentsFromImages(imgs)
		changed = true
	}

	if f.Done {
		s.done = true
		if st := f.ExtractStats(); st != nil {
			s.stats = st
			changed = true
		}
	}

	return changed, nil
}

// Answer returns the answer text accumulated so far.
func (s *Session) Answer() string {
	return s.answer.String()
}

// Thinking returns the merged thinking text accumulated so far.
func (s *Session) Thinking() string {
	return s.thinking
}

// Attachments returns the most recent attachment set from the stream.
func (s *Session) Attachments() []model.Attachment {
	return s.attachments
}

// Stats returns the terminal stats, or nil before the final frame.
func (s *Session) Stats() *ollama.Stats {
	return s.stats
}

// Done reports whether the stream delivered its final frame.
func (s *Session) Done() bool {
	return s.done
}
