// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jeranaias/parley/internal/logging"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/ollama"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrTurnInFlight is returned when a second turn is requested
	// while one is already streaming.
	ErrTurnInFlight = errors.New("a generation is already in progress")

	// ErrEmptyMessage is returned for a message with no text and no
	// attachments.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoModel is returned when the conversation has no model
	// selected.
	ErrNoModel = errors.New("no model selected")

	// ErrNotLastUser is returned when editing any user message other
	// than the most recent one.
	ErrNotLastUser = errors.New("only the most recent user message can be edited")

	// ErrUnknownMessage is returned when a message ID does not exist.
	ErrUnknownMessage = errors.New("message not found")
)

// =============================================================================
// RUNNER
// =============================================================================

// Streamer issues a streaming chat request. Satisfied by
// *ollama.Client; tests substitute fakes.
type Streamer interface {
	ChatStream(ctx context.Context, req *ollama.ChatRequest, cb ollama.FrameCallback) error
}

// cancellationNote is appended to the thinking text of an abandoned
// turn so the transcript records why it stopped mid-stream.
const cancellationNote = "Generation cancelled."

// Runner drives streaming turns against the backend. At most one turn
// runs at a time; concurrent turn requests fail fast with
// ErrTurnInFlight rather than queueing.
//
// Conversation mutations happen while holding the Locker supplied by
// the owner, so readers (the HTTP layer) see consistent transcripts.
// The lock is never held while blocked on the network.
type Runner struct {
	client Streamer

	// lock guards conversation state; supplied by the server.
	lock sync.Locker

	// notify is called (under lock) after every visible change.
	notify func()

	// persist is called (under lock) after a turn reaches a terminal
	// state.
	persist func()

	mu     sync.Mutex
	cancel context.CancelFunc
	busy   bool
}

// noopLocker satisfies sync.Locker for standalone use.
type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// NewRunner creates a runner. Any of lock, notify, and persist may be
// nil.
func NewRunner(client Streamer, lock sync.Locker, notify, persist func()) *Runner {
	if lock == nil {
		lock = noopLocker{}
	}
	if notify == nil {
		notify = func() {}
	}
	if persist == nil {
		persist = func() {}
	}
	return &Runner{
		client:  client,
		lock:    lock,
		notify:  notify,
		persist: persist,
	}
}

// Busy reports whether a turn is currently streaming.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// Cancel aborts the in-flight turn, if any. Reports whether there was
// one. The turn's partial output is kept.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.busy || r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

// acquire claims the single turn slot.
func (r *Runner) acquire(cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return ErrTurnInFlight
	}
	r.busy = true
	r.cancel = cancel
	return nil
}

func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = false
	r.cancel = nil
}

// =============================================================================
// TURN ENTRY POINTS
// =============================================================================

// Start appends a user message to the conversation and runs one
// streaming turn. Blocks until the turn reaches a terminal state.
func (r *Runner) Start(ctx context.Context, conv *model.Conversation, content string, attachments []model.Attachment) error {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}
	if conv.Model == "" {
		return ErrNoModel
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := r.acquire(cancel); err != nil {
		return err
	}
	defer r.release()

	r.lock.Lock()
	msg := model.NewUserMessage(content)
	msg.Attachments = attachments
	conv.AddMessage(msg)
	r.notify()
	r.lock.Unlock()

	return r.run(turnCtx, conv)
}

// EditAndResend replaces the content of the most recent user message,
// discards everything after it, and re-runs the turn. An unchanged
// edit is a silent no-op that triggers no generation.
func (r *Runner) EditAndResend(ctx context.Context, conv *model.Conversation, messageID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if conv.Model == "" {
		return ErrNoModel
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := r.acquire(cancel); err != nil {
		return err
	}
	defer r.release()

	r.lock.Lock()
	target := conv.MessageByID(messageID)
	if target == nil {
		r.lock.Unlock()
		return ErrUnknownMessage
	}
	if target.Role != "user" || !conv.IsLastUserMessage(messageID) {
		r.lock.Unlock()
		return ErrNotLastUser
	}
	if target.Content == content {
		r.lock.Unlock()
		return nil
	}
	target.Content = content
	conv.TruncateAfter(messageID)
	r.notify()
	r.lock.Unlock()

	return r.run(turnCtx, conv)
}

// =============================================================================
// TURN LIFECYCLE
// =============================================================================

// run executes one streaming turn: placeholder creation, frame
// accumulation, and terminal classification.
func (r *Runner) run(ctx context.Context, conv *model.Conversation) error {
	r.lock.Lock()
	thinking := model.NewThinkingPlaceholder()
	preview := model.NewPreviewPlaceholder(thinking.ID)
	conv.AddMessage(thinking)
	conv.AddMessage(preview)

	req := &ollama.ChatRequest{
		Model:    conv.Model,
		Messages: conv.ToChatMessages(),
		Options:  conv.Params.ToOptions(),
	}
	r.notify()
	r.lock.Unlock()

	sess := NewSession(thinking.ID, preview.ID)
	sess.CollectThinking = conv.Params.ShowThinking

	streamErr := r.client.ChatStream(ctx, req, func(f *ollama.Frame) error {
		changed, err := sess.Apply(f)
		if err != nil {
			return err
		}
		if changed {
			r.lock.Lock()
			r.syncPlaceholders(conv, sess)
			r.notify()
			r.lock.Unlock()
		}
		return nil
	})

	switch {
	case streamErr == nil:
		r.finalize(conv, sess)
		return nil
	case errors.Is(streamErr, context.Canceled) || ctx.Err() == context.Canceled:
		// Cancellation is a terminal state, not a failure; callers that
		// care can distinguish it with errors.Is.
		r.abandon(conv, sess)
		return context.Canceled
	default:
		r.fail(conv, sess, streamErr)
		return streamErr
	}
}

// syncPlaceholders pushes the session's accumulated state into the
// placeholder pair. Caller holds the lock.
func (r *Runner) syncPlaceholders(conv *model.Conversation, sess *Session) {
	if th := conv.MessageByID(sess.ThinkingID); th != nil {
		th.Thinking = strings.TrimLeft(sess.Thinking(), " \t\r\n")
	}
	if pv := conv.MessageByID(sess.PreviewID); pv != nil {
		pv.Content = sess.Answer()
		pv.Attachments = sess.Attachments()
	}
}

// finalize turns the placeholder pair into durable transcript messages.
func (r *Runner) finalize(conv *model.Conversation, sess *Session) {
	r.lock.Lock()
	defer r.lock.Unlock()

	answer := sess.Answer()
	thinkingText := strings.TrimSpace(sess.Thinking())

	// Inline <think> markup only matters when the backend sent no
	// structured thinking at all.
	if thinkingText == "" {
		if split, ok := SplitThinking(answer); ok {
			thinkingText = split.Thinking
			answer = split.Answer
		}
	}

	preview := conv.MessageByID(sess.PreviewID)
	thinking := conv.MessageByID(sess.ThinkingID)

	keepThinking := conv.Params.ShowThinking && thinkingText != ""
	if thinking != nil && !keepThinking {
		conv.RemoveMessage(thinking.ID)
		thinking = nil
	}

	if preview != nil {
		answer = strings.TrimSpace(answer)
		if answer == "" && len(sess.Attachments()) == 0 {
			conv.RemoveMessage(preview.ID)
			preview = nil
		} else {
			content := answer
			if st := sess.Stats(); st != nil {
				content += st.FormatSection()
			}
			preview.Content = content
			preview.Attachments = sess.Attachments()
			preview.Stats = sess.Stats()
			preview.Purpose = model.PurposeResponse
			preview.Pending = false
			if thinking == nil {
				preview.RelatedThinkingID = ""
			}
		}
	}

	if thinking != nil {
		thinking.Thinking = thinkingText
		thinking.Pending = false
		thinking.Collapsed = true
	}

	r.notify()
	r.persist()
}

// abandon records a user cancellation. Partial output stays in the
// transcript; the thinking message carries a note saying the turn was
// cut short.
func (r *Runner) abandon(conv *model.Conversation, sess *Session) {
	r.lock.Lock()
	defer r.lock.Unlock()

	logging.WithField("conversation", conv.ID).Info("turn cancelled")

	if th := conv.MessageByID(sess.ThinkingID); th != nil {
		if th.Thinking != "" {
			th.Thinking += "\n\n" + cancellationNote
		} else {
			th.Thinking = cancellationNote
		}
		th.Pending = false
	}
	if pv := conv.MessageByID(sess.PreviewID); pv != nil {
		pv.Content = sess.Answer()
		pv.Attachments = sess.Attachments()
		pv.Pending = false
	}

	r.notify()
	r.persist()
}

// fail records a backend or transport error on the placeholder pair.
// Partial output is preserved alongside the error text.
func (r *Runner) fail(conv *model.Conversation, sess *Session, cause error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	logging.WithField("conversation", conv.ID).WithError(cause).Error("turn failed")

	if th := conv.MessageByID(sess.ThinkingID); th != nil {
		th.Error = cause.Error()
		th.Pending = false
	}
	if pv := conv.MessageByID(sess.PreviewID); pv != nil {
		pv.Content = sess.Answer()
		pv.Attachments = sess.Attachments()
		pv.Error = cause.Error()
		pv.Pending = false
	}

	r.notify()
	r.persist()
}
