// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitThinking(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantFound    bool
		wantThinking string
		wantAnswer   string
	}{
		{
			name:       "no tag",
			input:      "plain answer",
			wantFound:  false,
			wantAnswer: "plain answer",
		},
		{
			name:         "complete block",
			input:        "<think>reasoning here</think>the answer",
			wantFound:    true,
			wantThinking: "reasoning here",
			wantAnswer:   "the answer",
		},
		{
			name:         "block mid-text joins before and after",
			input:        "intro <think>hmm</think> outro",
			wantFound:    true,
			wantThinking: "hmm",
			wantAnswer:   "intro  outro",
		},
		{
			name:         "unterminated tag takes the rest",
			input:        "partial answer <think>still going",
			wantFound:    true,
			wantThinking: "still going",
			wantAnswer:   "partial answer",
		},
		{
			name:         "whitespace trimmed",
			input:        "<think>\n  thoughts\n</think>\n\nanswer\n",
			wantFound:    true,
			wantThinking: "thoughts",
			wantAnswer:   "answer",
		},
		{
			name:         "empty block",
			input:        "<think></think>answer",
			wantFound:    true,
			wantThinking: "",
			wantAnswer:   "answer",
		},
		{
			name:       "empty input",
			input:      "",
			wantFound:  false,
			wantAnswer: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := SplitThinking(tt.input)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantThinking, got.Thinking)
			if found {
				assert.Equal(t, tt.wantAnswer, got.Answer)
			} else {
				assert.Equal(t, tt.input, got.Answer, "input must pass through untouched")
			}
		})
	}
}
