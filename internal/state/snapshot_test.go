// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jeranaias/parley/internal/model"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "state.json"))
}

func TestLoadMissingFile(t *testing.T) {
	st := tempStore(t)
	snap, err := st.Load()
	if err != nil {
		t.Fatalf("Load() on missing file: %v", err)
	}
	if snap == nil || len(snap.Conversations) != 0 {
		t.Errorf("want empty baseline, got %+v", snap)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	st := tempStore(t)
	if err := os.WriteFile(st.Path(), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Load(); err == nil {
		t.Error("Load() on corrupt file: want error")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	st := tempStore(t)

	snap := NewSnapshot()
	conv := model.NewConversation("llama3.2:3b")
	conv.AddMessage(model.NewUserMessage("hello"))
	snap.AddConversation(conv)
	snap.ServerURL = "http://127.0.0.1:11434"
	snap.DefaultModel = "llama3.2:3b"

	if err := st.Save(snap); err != nil {
		t.Fatalf("Save(): %v", err)
	}

	loaded, err := st.Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if loaded.ActiveID != conv.ID {
		t.Errorf("ActiveID = %q, want %q", loaded.ActiveID, conv.ID)
	}
	got := loaded.ConversationByID(conv.ID)
	if got == nil {
		t.Fatal("conversation lost in round trip")
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if loaded.ServerURL != "http://127.0.0.1:11434" {
		t.Errorf("ServerURL = %q", loaded.ServerURL)
	}
}

func TestLoadDropsInFlightPlaceholders(t *testing.T) {
	st := tempStore(t)

	conv := model.NewConversation("m")
	conv.AddMessage(model.NewUserMessage("hi"))
	th := model.NewThinkingPlaceholder()
	conv.AddMessage(th)
	conv.AddMessage(model.NewPreviewPlaceholder(th.ID))

	// A finalized message that somehow kept its pending flag.
	stale := model.NewUserMessage("stale")
	stale.Pending = true
	conv.AddMessage(stale)

	snap := NewSnapshot()
	snap.AddConversation(conv)
	if err := st.Save(snap); err != nil {
		t.Fatal(err)
	}

	loaded, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	got := loaded.ConversationByID(conv.ID)
	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages, want 2 (placeholders dropped)", len(got.Messages))
	}
	for _, m := range got.Messages {
		if m.Pending {
			t.Errorf("message %q still pending after load", m.ID)
		}
		if m.Purpose == model.PurposeThinking || m.Purpose == model.PurposePreview {
			t.Errorf("placeholder %q survived reload", m.ID)
		}
	}
}

func TestRemoveConversation(t *testing.T) {
	snap := NewSnapshot()
	a := model.NewConversation("m")
	b := model.NewConversation("m")
	snap.AddConversation(a)
	snap.AddConversation(b)

	if snap.ActiveID != b.ID {
		t.Fatalf("ActiveID = %q, want most recent", snap.ActiveID)
	}
	if !snap.RemoveConversation(b.ID) {
		t.Fatal("remove failed")
	}
	if snap.ActiveID != a.ID {
		t.Errorf("ActiveID = %q, want fallback to %q", snap.ActiveID, a.ID)
	}
	if snap.RemoveConversation("missing") {
		t.Error("removing unknown ID reported success")
	}
	if !snap.RemoveConversation(a.ID) {
		t.Fatal("remove failed")
	}
	if snap.ActiveID != "" {
		t.Errorf("ActiveID = %q after removing all, want empty", snap.ActiveID)
	}
}
