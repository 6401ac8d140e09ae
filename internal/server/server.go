// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP surface: the chat REST+SSE API, the
// upstream passthrough proxy, and static client assets.
//
// Endpoints:
//   - GET    /health                                  - health check
//   - GET    /api/state                               - full application state
//   - GET    /api/models                              - upstream model catalog
//   - POST   /api/conversations                       - create a conversation
//   - PATCH  /api/conversations/{id}                  - update settings
//   - DELETE /api/conversations/{id}                  - delete a conversation
//   - POST   /api/conversations/{id}/messages         - run a turn (SSE)
//   - POST   /api/conversations/{id}/edit             - edit + regenerate (SSE)
//   - DELETE /api/conversations/{id}/messages/{mid}   - delete a message
//   - POST   /api/chat/cancel                         - cancel the running turn
//   - ANY    /ollama/*                                - upstream proxy
//   - GET    /                                        - static web client
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jeranaias/parley/internal/chat"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/logging"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/ollama"
	"github.com/jeranaias/parley/internal/state"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// Version is the server version.
	Version = "0.1.0"

	// MaxRequestBodySize bounds API request bodies. Generous because
	// messages may carry base64 image attachments.
	MaxRequestBodySize = 24 * 1024 * 1024
)

// ============================================================================
// SERVER
// ============================================================================

// Server wires the chat engine, persistence, and upstream client into
// an HTTP handler.
//
// All conversation state lives in the snapshot, guarded by mu. The
// runner receives the same mutex so stream-side mutations and API
// reads never interleave mid-update.
type Server struct {
	cfg    *config.Config
	client *ollama.Client
	store  *state.Store
	snap   *state.Snapshot
	runner *chat.Runner

	mu    sync.Mutex
	notes *notifier

	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer assembles the server from its parts.
func NewServer(cfg *config.Config, client *ollama.Client, store *state.Store, snap *state.Snapshot) *Server {
	s := &Server{
		cfg:    cfg,
		client: client,
		store:  store,
		snap:   snap,
		notes:  newNotifier(),
		mux:    http.NewServeMux(),
	}
	s.runner = chat.NewRunner(client, &s.mu, s.notes.notify, s.persistLocked)
	s.setupRoutes()
	return s
}

// Client returns the upstream client, for config hot reload wiring.
func (s *Server) Client() *ollama.Client {
	return s.client
}

// persistLocked saves the snapshot. Caller holds mu.
func (s *Server) persistLocked() {
	if err := s.store.Save(s.snap); err != nil {
		logging.WithError(err).Error("failed to persist state")
	}
}

// persist saves the snapshot under the lock.
func (s *Server) persist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/models", s.handleModels)

	s.mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	s.mux.HandleFunc("PATCH /api/conversations/{id}", s.handlePatchConversation)
	s.mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	s.mux.HandleFunc("POST /api/conversations/{id}/messages", s.handleSendMessage)
	s.mux.HandleFunc("POST /api/conversations/{id}/edit", s.handleEditMessage)
	s.mux.HandleFunc("DELETE /api/conversations/{id}/messages/{mid}", s.handleDeleteMessage)
	s.mux.HandleFunc("POST /api/chat/cancel", s.handleCancel)

	s.mux.HandleFunc("/ollama/", s.handleProxy)
	s.mux.Handle("/", newStaticHandler(s.cfg.Server.WebDir, s.cfg.Server.Production))
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	var limiter *RateLimiter
	if s.cfg.Server.RateLimitPerSec > 0 {
		limiter = NewRateLimiter(s.cfg.Server.RateLimitPerSec, s.cfg.Server.RateLimitBurst)
	}
	return Chain(
		RecoveryMiddleware(),
		LoggingMiddleware(),
		RateLimitMiddleware(limiter),
	)(s.mux)
}

// Start runs the HTTP server until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.WithField("addr", s.cfg.Addr()).Info("server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.runner.Cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// ============================================================================
// JSON HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.WithError(err).Debug("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// ============================================================================
// BASIC HANDLERS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	upstream := "ok"
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.client.CheckRunning(ctx); err != nil {
		upstream = "unreachable"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"version":  Version,
		"upstream": upstream,
	})
}

// stateResponse is the full client-facing application state.
type stateResponse struct {
	Conversations []*model.Conversation `json:"conversations"`
	ActiveID      string                `json:"active_id,omitempty"`
	ServerURL     string                `json:"server_url"`
	DefaultModel  string                `json:"default_model,omitempty"`
	Busy          bool                  `json:"busy"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := stateResponse{
		Conversations: s.snap.Conversations,
		ActiveID:      s.snap.ActiveID,
		ServerURL:     s.client.BaseURL(),
		DefaultModel:  s.defaultModelLocked(),
		Busy:          s.runner.Busy(),
	}
	data, err := json.Marshal(resp)
	s.mu.Unlock()

	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode state")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) defaultModelLocked() string {
	if s.snap.DefaultModel != "" {
		return s.snap.DefaultModel
	}
	return s.cfg.Defaults.Model
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.client.ListModels(r.Context())
	if err != nil {
		// An unreachable catalog is not fatal; the client just gets an
		// empty picker.
		logging.WithError(err).Warn("model catalog unavailable")
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"models": []string{}})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

type createConversationRequest struct {
	Model string `json:"model,omitempty"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if r.ContentLength > 0 && !s.decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	m := req.Model
	if m == "" {
		m = s.defaultModelLocked()
	}
	conv := model.NewConversation(m)
	conv.Params = s.paramsFromConfig()
	s.snap.AddConversation(conv)
	s.persistLocked()
	s.mu.Unlock()

	s.writeJSON(w, http.StatusCreated, conv)
}

// paramsFromConfig seeds conversation parameters from the configured
// defaults.
func (s *Server) paramsFromConfig() model.Params {
	d := s.cfg.Defaults
	p := model.Params{ShowThinking: d.ShowThinking}
	p.Temperature = &d.Temperature
	p.TopK = &d.TopK
	p.TopP = &d.TopP
	p.RepeatPenalty = &d.RepeatPenalty
	p.Mirostat = &d.Mirostat
	return p
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	removed := s.snap.RemoveConversation(id)
	if removed {
		s.persistLocked()
	}
	s.mu.Unlock()

	if !removed {
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type patchConversationRequest struct {
	Title  *string       `json:"title,omitempty"`
	Model  *string       `json:"model,omitempty"`
	Params *model.Params `json:"params,omitempty"`
	Active *bool         `json:"active,omitempty"`
}

func (s *Server) handlePatchConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req patchConversationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	conv := s.snap.ConversationByID(id)
	if conv == nil {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if req.Title != nil {
		conv.Title = *req.Title
	}
	if req.Model != nil {
		conv.Model = *req.Model
	}
	if req.Params != nil {
		conv.Params = *req.Params
	}
	if req.Active != nil && *req.Active {
		s.snap.ActiveID = conv.ID
	}
	s.persistLocked()
	data, _ := json.Marshal(conv)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mid := r.PathValue("mid")

	if s.runner.Busy() {
		s.writeError(w, http.StatusConflict, chat.ErrTurnInFlight.Error())
		return
	}

	s.mu.Lock()
	conv := s.snap.ConversationByID(id)
	if conv == nil {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	res := conv.DeleteMessage(mid)
	if res.Removed {
		s.persistLocked()
	}
	s.mu.Unlock()

	if !res.Removed {
		s.writeError(w, http.StatusNotFound, "message not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":          true,
		"offer_resubmit":   res.OfferResubmit,
		"resubmit_content": res.ResubmitContent,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.runner.Cancel()
	s.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// ============================================================================
// TURN HANDLERS (SSE)
// ============================================================================

type attachmentPayload struct {
	Name   string `json:"name,omitempty"`
	MIME   string `json:"mime"`
	Base64 string `json:"base64"`
}

type sendMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []attachmentPayload `json:"attachments,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req sendMessageRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	conv := s.snap.ConversationByID(id)
	s.mu.Unlock()
	if conv == nil {
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	atts := make([]model.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		mime := a.MIME
		if mime == "" {
			mime = "image/png"
		}
		atts = append(atts, model.Attachment{
			ID:     fmt.Sprintf("up-%d", len(atts)+1),
			Name:   a.Name,
			MIME:   mime,
			Base64: a.Base64,
		})
	}

	s.streamTurn(w, r, conv, func(ctx context.Context) error {
		return s.runner.Start(ctx, conv, req.Content, atts)
	})
}

type editMessageRequest struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req editMessageRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	conv := s.snap.ConversationByID(id)
	s.mu.Unlock()
	if conv == nil {
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	s.streamTurn(w, r, conv, func(ctx context.Context) error {
		return s.runner.EditAndResend(ctx, conv, req.MessageID, req.Content)
	})
}

// streamTurn runs a turn while streaming conversation updates to the
// client as SSE. The terminal event is one of done, cancelled, or
// error.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, conv *model.Conversation, turn func(context.Context) error) {
	if s.runner.Busy() {
		s.writeError(w, http.StatusConflict, chat.ErrTurnInFlight.Error())
		return
	}

	sub := s.notes.subscribe()
	defer s.notes.unsubscribe(sub)

	done := make(chan error, 1)
	go func() {
		done <- turn(r.Context())
	}()

	// Hold off on SSE headers until the turn survives validation, so
	// bad requests still get proper status codes.
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.writeError(w, statusForTurnError(err), err.Error())
			return
		}
		// The whole turn finished before the first update signal;
		// emit the final state and the terminal event.
		sse, sseErr := NewSSEWriter(w)
		if sseErr != nil {
			s.writeError(w, http.StatusInternalServerError, sseErr.Error())
			return
		}
		s.sendUpdate(sse, conv)
		if errors.Is(err, context.Canceled) {
			sse.Write("cancelled", "{}")
		} else {
			sse.Write("done", "{}")
		}
		return
	case <-sub:
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.sendUpdate(sse, conv)
	for {
		select {
		case <-sub:
			s.sendUpdate(sse, conv)
		case err := <-done:
			s.sendUpdate(sse, conv)
			switch {
			case err == nil:
				sse.Write("done", "{}")
			case errors.Is(err, context.Canceled):
				sse.Write("cancelled", "{}")
			default:
				sse.WriteJSON("error", map[string]string{"error": err.Error()})
			}
			return
		case <-r.Context().Done():
			return
		}
	}
}

// sendUpdate emits the conversation's current state as an update
// event. Marshalling happens under the lock; writing does not.
func (s *Server) sendUpdate(sse *SSEWriter, conv *model.Conversation) {
	s.mu.Lock()
	data, err := json.Marshal(conv)
	s.mu.Unlock()
	if err != nil {
		logging.WithError(err).Debug("failed to encode update")
		return
	}
	sse.Write("update", string(data))
}

// statusForTurnError maps turn validation failures to HTTP statuses.
func statusForTurnError(err error) int {
	switch {
	case errors.Is(err, chat.ErrTurnInFlight):
		return http.StatusConflict
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrNoModel),
		errors.Is(err, chat.ErrNotLastUser):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrUnknownMessage):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// ============================================================================
// NOTIFIER
// ============================================================================

// notifier fans out change signals to SSE subscribers. Signals are
// coalescing: a subscriber that has not drained its channel misses
// nothing, since every signal prompts a fresh state read.
type notifier struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[chan struct{}]struct{})}
}

func (n *notifier) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

func (n *notifier) unsubscribe(ch chan struct{}) {
	n.mu.Lock()
	delete(n.subs, ch)
	n.mu.Unlock()
}

func (n *notifier) notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
