// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// SplitResult is the outcome of separating inline thinking markup from
// answer text.
type SplitResult struct {
	Thinking string
	Answer   string
}

// SplitThinking separates a <think>...</think> block embedded in
// answer text. Some models emit reasoning inline instead of on a
// structured channel; this runs once at finalization, and only when no
// structured thinking arrived during the turn.
//
// An unterminated <think> treats everything after the tag as thinking.
// Reports false when the text carries no tag, leaving the input alone.
func SplitThinking(text string) (SplitResult, bool) {
	start := strings.Index(text, thinkOpen)
	if start < 0 {
		return SplitResult{Answer: text}, false
	}

	before := text[:start]
	rest := text[start+len(thinkOpen):]

	end := strings.Index(rest, thinkClose)
	if end < 0 {
		return SplitResult{
			Thinking: strings.TrimSpace(rest),
			Answer:   strings.TrimSpace(before),
		}, true
	}

	thinking := rest[:end]
	after := rest[end+len(thinkClose):]
	return SplitResult{
		Thinking: strings.TrimSpace(thinking),
		Answer:   strings.TrimSpace(before + after),
	}, true
}
