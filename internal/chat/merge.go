// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the streaming turn engine: accumulating
// frames into a conversation, running turns against the backend, and
// finalizing or abandoning them.
package chat

import "strings"

// MergeText combines accumulated thinking text with an incoming
// fragment. Backends are inconsistent about whether thinking arrives
// as deltas or as cumulative snapshots, so the merge guesses:
//
//   - incoming that extends the current text is a cumulative snapshot
//     and replaces it
//   - current text that already ends with the incoming fragment means
//     a duplicate delivery, which is dropped
//   - anything else is a delta and is appended
//
// Answer text never goes through this; answers are always deltas and
// are concatenated directly.
func MergeText(current, incoming string) string {
	if current == "" {
		return incoming
	}
	if incoming == "" {
		return current
	}
	if strings.HasPrefix(incoming, current) {
		return incoming
	}
	if strings.HasSuffix(current, incoming) {
		return current
	}
	return current + incoming
}
