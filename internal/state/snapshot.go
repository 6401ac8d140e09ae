// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package state persists application state across restarts.
package state

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jeranaias/parley/internal/logging"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is the durable application state: every conversation plus
// the user's session settings. Streaming placeholders are ephemeral
// and never survive a reload.
type Snapshot struct {
	Conversations []*model.Conversation `json:"conversations"`
	ActiveID      string                `json:"active_id,omitempty"`
	ServerURL     string                `json:"server_url,omitempty"`
	DefaultModel  string                `json:"default_model,omitempty"`
}

// NewSnapshot returns an empty baseline snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// ConversationByID returns the conversation with the given ID, or nil.
func (s *Snapshot) ConversationByID(id string) *model.Conversation {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// AddConversation appends a conversation and makes it active.
func (s *Snapshot) AddConversation(c *model.Conversation) {
	s.Conversations = append(s.Conversations, c)
	s.ActiveID = c.ID
}

// RemoveConversation deletes a conversation by ID. The active pointer
// falls back to the most recent remaining conversation.
func (s *Snapshot) RemoveConversation(id string) bool {
	for i, c := range s.Conversations {
		if c.ID == id {
			s.Conversations = append(s.Conversations[:i], s.Conversations[i+1:]...)
			if s.ActiveID == id {
				s.ActiveID = ""
				if n := len(s.Conversations); n > 0 {
					s.ActiveID = s.Conversations[n-1].ID
				}
			}
			return true
		}
	}
	return false
}

// resetEphemeral drops stream placeholders that were mid-flight when
// the snapshot was written and clears stale pending flags. A turn
// interrupted by a restart leaves no half-open state behind.
func (s *Snapshot) resetEphemeral() {
	for _, c := range s.Conversations {
		kept := c.Messages[:0]
		for _, m := range c.Messages {
			if m.IsPlaceholder() {
				continue
			}
			m.Pending = false
			kept = append(kept, m)
		}
		c.Messages = kept
	}
}

// =============================================================================
// STORE
// =============================================================================

// Store reads and writes snapshots at a fixed path.
type Store struct {
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file location.
func (st *Store) Path() string {
	return st.path
}

// Load reads the snapshot from disk. A missing file is not an error
// and yields an empty baseline; a corrupt file is an error so the
// caller can decide whether to start over.
func (st *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.WithField("path", st.path).Debug("no snapshot on disk, starting fresh")
			return NewSnapshot(), nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	snap.resetEphemeral()
	logging.WithFields(map[string]interface{}{
		"path":          st.path,
		"conversations": len(snap.Conversations),
	}).Info("snapshot loaded")
	return &snap, nil
}

// Save writes the snapshot atomically. A crash mid-save leaves the
// previous snapshot intact.
func (st *Store) Save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := util.AtomicWriteFile(st.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}
