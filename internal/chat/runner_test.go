// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/ollama"
)

// fakeStreamer replays canned frames through the callback.
type fakeStreamer struct {
	mu       sync.Mutex
	frames   []string
	err      error
	requests []*ollama.ChatRequest

	// emitted is signalled after each frame, letting tests synchronize
	// with mid-stream state.
	emitted chan struct{}

	// blockAfter makes the streamer wait on ctx after replaying all
	// frames, simulating a stalled backend until cancellation.
	blockAfter bool
}

func (f *fakeStreamer) ChatStream(ctx context.Context, req *ollama.ChatRequest, cb ollama.FrameCallback) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	for _, raw := range f.frames {
		var fr ollama.Frame
		if err := json.Unmarshal([]byte(raw), &fr); err != nil {
			return err
		}
		if err := cb(&fr); err != nil {
			return err
		}
		if f.emitted != nil {
			f.emitted <- struct{}{}
		}
		if fr.Done {
			return nil
		}
	}
	if f.blockAfter {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeStreamer) lastRequest() *ollama.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func newTestConv() *model.Conversation {
	return model.NewConversation("llama3.2:3b")
}

func findByPurpose(c *model.Conversation, p model.Purpose) *model.Message {
	for _, m := range c.Messages {
		if m.Purpose == p {
			return m
		}
	}
	return nil
}

func TestRunnerSuccessfulTurn(t *testing.T) {
	fs := &fakeStreamer{frames: []string{
		`{"thinking":"pondering"}`,
		`{"response":"Hello "}`,
		`{"response":"world"}`,
		`{"done":true,"done_reason":"stop","eval_count":2,"eval_duration":1000000000}`,
	}}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()

	require.NoError(t, r.Start(context.Background(), conv, "hi", nil))

	answer := findByPurpose(conv, model.PurposeResponse)
	require.NotNil(t, answer, "preview must become a response")
	assert.False(t, answer.Pending)
	assert.True(t, strings.HasPrefix(answer.Content, "Hello world"))
	assert.Contains(t, answer.Content, "Statistics:")
	require.NotNil(t, answer.Stats)
	assert.Equal(t, "stop", answer.Stats.DoneReason)

	thinking := findByPurpose(conv, model.PurposeThinking)
	require.NotNil(t, thinking, "thinking retained when enabled and non-empty")
	assert.Equal(t, "pondering", thinking.Thinking)
	assert.True(t, thinking.Collapsed)
	assert.False(t, thinking.Pending)
	assert.Equal(t, thinking.ID, answer.RelatedThinkingID)

	assert.Nil(t, findByPurpose(conv, model.PurposePreview))
	assert.False(t, r.Busy())
}

func TestRunnerThinkingHiddenWhenDisabled(t *testing.T) {
	fs := &fakeStreamer{frames: []string{
		`{"thinking":"secret"}`,
		`{"response":"answer"}`,
		`{"done":true}`,
	}}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()
	conv.Params.ShowThinking = false

	require.NoError(t, r.Start(context.Background(), conv, "hi", nil))

	assert.Nil(t, findByPurpose(conv, model.PurposeThinking))
	answer := findByPurpose(conv, model.PurposeResponse)
	require.NotNil(t, answer)
	assert.Empty(t, answer.RelatedThinkingID, "link cleared when thinking dropped")
}

func TestRunnerEmptyThinkingDeleted(t *testing.T) {
	fs := &fakeStreamer{frames: []string{
		`{"thinking":"   \n  "}`,
		`{"response":"answer"}`,
		`{"done":true}`,
	}}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()

	require.NoError(t, r.Start(context.Background(), conv, "hi", nil))
	assert.Nil(t, findByPurpose(conv, model.PurposeThinking),
		"whitespace-only thinking is dropped even when retention is on")
}

func TestRunnerInlineThinkSplitAtFinalize(t *testing.T) {
	fs := &fakeStreamer{frames: []string{
		`{"response":"<think>working it out</think>forty-two"}`,
		`{"done":true}`,
	}}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()

	require.NoError(t, r.Start(context.Background(), conv, "hi", nil))

	answer := findByPurpose(conv, model.PurposeResponse)
	require.NotNil(t, answer)
	assert.Equal(t, "forty-two", answer.Content)

	thinking := findByPurpose(conv, model.PurposeThinking)
	require.NotNil(t, thinking)
	assert.Equal(t, "working it out", thinking.Thinking)
}

func TestRunnerInlineThinkIgnoredWithStructuredThinking(t *testing.T) {
	fs := &fakeStreamer{frames: []string{
		`{"thinking":"structured"}`,
		`{"response":"keep <think>this</think> literal"}`,
		`{"done":true}`,
	}}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()

	require.NoError(t, r.Start(context.Background(), conv, "hi", nil))

	answer := findByPurpose(conv, model.PurposeResponse)
	require.NotNil(t, answer)
	assert.Contains(t, answer.Content, "<think>this</think>")

	thinking := findByPurpose(conv, model.PurposeThinking)
	require.NotNil(t, thinking)
	assert.Equal(t, "structured", thinking.Thinking)
}

func TestRunnerEmptyAnswerDeletesPreview(t *testing.T) {
	fs := &fakeStreamer{frames: []string{
		`{"thinking":"only thought, no answer"}`,
		`{"done":true}`,
	}}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()

	require.NoError(t, r.Start(context.Background(), conv, "hi", nil))

	assert.Nil(t, findByPurpose(conv, model.PurposeResponse))
	assert.Nil(t, findByPurpose(conv, model.PurposePreview))
	assert.NotNil(t, findByPurpose(conv, model.PurposeThinking),
		"thinking stays even when the answer came up empty")
}

func TestRunnerAttachmentsKeepPreviewAlive(t *testing.T) {
	fs := &fakeStreamer{frames: []string{
		`{"images":["imgdata"]}`,
		`{"done":true}`,
	}}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()

	require.NoError(t, r.Start(context.Background(), conv, "draw me", nil))

	answer := findByPurpose(conv, model.PurposeResponse)
	require.NotNil(t, answer, "attachment-only answers are kept")
	require.Len(t, answer.Attachments, 1)
}

func TestRunnerBackendError(t *testing.T) {
	fs := &fakeStreamer{frames: []string{
		`{"response":"partial "}`,
		`{"error":"model crashed"}`,
	}}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()

	err := r.Start(context.Background(), conv, "hi", nil)
	require.Error(t, err)
	assert.True(t, ollama.IsBackendError(err))

	preview := findByPurpose(conv, model.PurposePreview)
	require.NotNil(t, preview, "errored pair stays in the transcript")
	assert.Equal(t, "partial ", preview.Content)
	assert.Contains(t, preview.Error, "model crashed")
	assert.False(t, preview.Pending)

	thinking := findByPurpose(conv, model.PurposeThinking)
	require.NotNil(t, thinking)
	assert.NotEmpty(t, thinking.Error)
	assert.False(t, thinking.Pending)
}

func TestRunnerTransportError(t *testing.T) {
	fs := &fakeStreamer{err: ollama.ErrNotRunning}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()

	err := r.Start(context.Background(), conv, "hi", nil)
	require.Error(t, err)
	assert.True(t, ollama.IsNotRunning(err))

	preview := findByPurpose(conv, model.PurposePreview)
	require.NotNil(t, preview)
	assert.NotEmpty(t, preview.Error)
}

func TestRunnerCancellation(t *testing.T) {
	fs := &fakeStreamer{
		frames:     []string{`{"thinking":"deep in thought"}`, `{"response":"partial"}`},
		emitted:    make(chan struct{}, 4),
		blockAfter: true,
	}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()

	done := make(chan error, 1)
	go func() {
		done <- r.Start(context.Background(), conv, "hi", nil)
	}()

	<-fs.emitted
	<-fs.emitted
	require.True(t, r.Cancel())

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not stop after cancel")
	}

	thinking := findByPurpose(conv, model.PurposeThinking)
	require.NotNil(t, thinking)
	assert.Contains(t, thinking.Thinking, "deep in thought")
	assert.Contains(t, thinking.Thinking, cancellationNote)
	assert.False(t, thinking.Pending)

	preview := findByPurpose(conv, model.PurposePreview)
	require.NotNil(t, preview, "partial answer survives cancellation")
	assert.Equal(t, "partial", preview.Content)
	assert.False(t, preview.Pending)

	assert.False(t, r.Cancel(), "nothing left to cancel")
}

func TestRunnerRejectsConcurrentTurns(t *testing.T) {
	fs := &fakeStreamer{
		frames:     []string{`{"response":"x"}`},
		emitted:    make(chan struct{}, 1),
		blockAfter: true,
	}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()

	done := make(chan error, 1)
	go func() {
		done <- r.Start(context.Background(), conv, "first", nil)
	}()
	<-fs.emitted

	err := r.Start(context.Background(), conv, "second", nil)
	assert.ErrorIs(t, err, ErrTurnInFlight)

	r.Cancel()
	<-done
}

func TestRunnerValidation(t *testing.T) {
	r := NewRunner(&fakeStreamer{}, nil, nil, nil)
	conv := newTestConv()

	assert.ErrorIs(t, r.Start(context.Background(), conv, "   ", nil), ErrEmptyMessage)

	// Attachments alone are enough.
	fs := &fakeStreamer{frames: []string{`{"response":"ok"}`, `{"done":true}`}}
	r2 := NewRunner(fs, nil, nil, nil)
	att := model.AttachmentsFromImages([]string{"data"})
	assert.NoError(t, r2.Start(context.Background(), conv, "", att))

	noModel := model.NewConversation("")
	assert.ErrorIs(t, r.Start(context.Background(), noModel, "hi", nil), ErrNoModel)
}

func TestRunnerRequestExcludesThinking(t *testing.T) {
	fs := &fakeStreamer{frames: []string{
		`{"thinking":"hidden"}`,
		`{"response":"first answer"}`,
		`{"done":true}`,
	}}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()

	require.NoError(t, r.Start(context.Background(), conv, "one", nil))

	fs.frames = []string{`{"response":"second"}`, `{"done":true}`}
	require.NoError(t, r.Start(context.Background(), conv, "two", nil))

	req := fs.lastRequest()
	require.NotNil(t, req)
	for _, m := range req.Messages {
		assert.NotContains(t, m.Content, "hidden", "thinking text must not be sent back")
	}
	assert.Equal(t, "llama3.2:3b", req.Model)
	require.NotNil(t, req.Options)
	assert.InDelta(t, 0.7, *req.Options.Temperature, 0.0001)
}

func TestEditAndResend(t *testing.T) {
	fs := &fakeStreamer{frames: []string{`{"response":"answer one"}`, `{"done":true}`}}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()
	require.NoError(t, r.Start(context.Background(), conv, "original question", nil))

	user := conv.LastUserMessage()
	require.NotNil(t, user)
	countAfterFirst := len(conv.Messages)

	// Unchanged content: silent no-op, no new generation.
	require.NoError(t, r.EditAndResend(context.Background(), conv, user.ID, "original question"))
	assert.Len(t, conv.Messages, countAfterFirst)
	assert.Len(t, fs.requests, 1)

	// Real edit: truncate and regenerate.
	fs.frames = []string{`{"response":"answer two"}`, `{"done":true}`}
	require.NoError(t, r.EditAndResend(context.Background(), conv, user.ID, "edited question"))
	assert.Equal(t, "edited question", user.Content)

	answer := findByPurpose(conv, model.PurposeResponse)
	require.NotNil(t, answer)
	assert.Equal(t, "answer two", answer.Content)
	for _, m := range conv.Messages {
		assert.NotContains(t, m.Content, "answer one", "old turn must be truncated")
	}
}

func TestEditAndResendValidation(t *testing.T) {
	fs := &fakeStreamer{frames: []string{`{"response":"a"}`, `{"done":true}`}}
	r := NewRunner(fs, nil, nil, nil)
	conv := newTestConv()
	require.NoError(t, r.Start(context.Background(), conv, "first", nil))
	first := conv.LastUserMessage()

	fs.frames = []string{`{"response":"b"}`, `{"done":true}`}
	require.NoError(t, r.Start(context.Background(), conv, "second", nil))

	assert.ErrorIs(t, r.EditAndResend(context.Background(), conv, first.ID, "changed"), ErrNotLastUser)
	assert.ErrorIs(t, r.EditAndResend(context.Background(), conv, "missing", "x"), ErrUnknownMessage)
	assert.ErrorIs(t, r.EditAndResend(context.Background(), conv, first.ID, "  "), ErrEmptyMessage)

	second := conv.LastUserMessage()
	assert.ErrorIs(t, r.EditAndResend(context.Background(), conv, second.ID+"x", "y"), ErrUnknownMessage)
}

func TestRunnerNotifyAndPersistHooks(t *testing.T) {
	fs := &fakeStreamer{frames: []string{`{"response":"hi"}`, `{"done":true}`}}

	var mu sync.Mutex
	notifies, persists := 0, 0
	r := NewRunner(fs,
		&mu,
		func() { notifies++ },
		func() { persists++ },
	)
	conv := newTestConv()

	require.NoError(t, r.Start(context.Background(), conv, "hello", nil))
	assert.Greater(t, notifies, 2, "user message, placeholders, stream updates, finalize")
	assert.Equal(t, 1, persists, "persist once per terminal state")
}

var _ Streamer = (*fakeStreamer)(nil)
var _ Streamer = (*ollama.Client)(nil)

func TestErrorsAreDistinct(t *testing.T) {
	errs := []error{ErrTurnInFlight, ErrEmptyMessage, ErrNoModel, ErrNotLastUser, ErrUnknownMessage}
	for i, a := range errs {
		for j, b := range errs {
			if i != j && errors.Is(a, b) {
				t.Errorf("errors %d and %d alias each other", i, j)
			}
		}
	}
}
