// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"fmt"
	"strings"
)

// =============================================================================
// STATS FORMATTING
// =============================================================================

// FormatDuration renders a nanosecond duration with a unit scaled to
// its magnitude: seconds above one second, milliseconds above one
// millisecond, microseconds otherwise.
func FormatDuration(ns int64) string {
	switch {
	case ns >= 1e9:
		return fmt.Sprintf("%.2fs", float64(ns)/1e9)
	case ns >= 1e6:
		return fmt.Sprintf("%.2fms", float64(ns)/1e6)
	default:
		return fmt.Sprintf("%.2fµs", float64(ns)/1e3)
	}
}

// FormatSection renders the statistics block appended beneath a final
// answer. Only fields the backend actually reported are included; an
// all-empty Stats yields an empty string.
func (s *Stats) FormatSection() string {
	if s == nil {
		return ""
	}

	var lines []string
	if s.TotalDuration > 0 {
		lines = append(lines, fmt.Sprintf("Total duration: %s", FormatDuration(s.TotalDuration)))
	}
	if s.LoadDuration > 0 {
		lines = append(lines, fmt.Sprintf("Load duration: %s", FormatDuration(s.LoadDuration)))
	}
	if s.PromptEvalCount > 0 {
		lines = append(lines, fmt.Sprintf("Prompt tokens: %d", s.PromptEvalCount))
	}
	if s.PromptEvalDuration > 0 {
		lines = append(lines, fmt.Sprintf("Prompt eval duration: %s", FormatDuration(s.PromptEvalDuration)))
	}
	if s.EvalCount > 0 {
		lines = append(lines, fmt.Sprintf("Response tokens: %d", s.EvalCount))
	}
	if s.EvalDuration > 0 {
		lines = append(lines, fmt.Sprintf("Eval duration: %s", FormatDuration(s.EvalDuration)))
		if tps := s.TokensPerSecond(); tps > 0 {
			lines = append(lines, fmt.Sprintf("Speed: %.2f tokens/s", tps))
		}
	}
	if s.DoneReason != "" {
		lines = append(lines, fmt.Sprintf("Done reason: %s", s.DoneReason))
	}
	if s.ContextLength > 0 {
		lines = append(lines, fmt.Sprintf("Context length: %d", s.ContextLength))
	}

	if len(lines) == 0 {
		return ""
	}
	return "\n\n---\nStatistics:\n" + strings.Join(lines, "\n")
}
