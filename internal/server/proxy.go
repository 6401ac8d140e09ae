// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jeranaias/parley/internal/logging"
	"github.com/jeranaias/parley/internal/util"
)

// ============================================================================
// UPSTREAM PROXY
// ============================================================================

// overrideHeader lets the client point a single proxied request at a
// different backend. Honored only when the config allows it.
const overrideHeader = "X-Ollama-Server"

// hopHeaders are connection-level headers never forwarded upstream.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// handleProxy forwards /ollama/* to the backend verbatim, streaming
// the response body through so NDJSON arrives line by line.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	base := s.client.BaseURL()
	if s.cfg.Upstream.AllowOverride {
		if o := s.sanitizeOverride(r.Header.Get(overrideHeader)); o != "" {
			base = o
		}
	}

	upstreamPath := strings.TrimPrefix(r.URL.Path, "/ollama")
	if upstreamPath == "" {
		upstreamPath = "/"
	}
	target := base + upstreamPath
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid proxy request")
		return
	}

	req.Header = r.Header.Clone()
	req.Header.Del(overrideHeader)
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	// No client timeout: proxied generations stream for as long as the
	// request context lives.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		logging.WithError(err).Warn("proxy request failed")
		s.writeError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logging.WithError(readErr).Debug("proxy stream ended")
			}
			return
		}
	}
}

// sanitizeOverride validates a backend override URL. Only absolute
// http/https URLs are accepted; anything else is ignored.
func (s *Server) sanitizeOverride(value string) string {
	value = util.SanitizeServerURL(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		logging.WithField("value", value).Debug("ignoring invalid backend override")
		return ""
	}
	return value
}
