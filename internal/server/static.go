// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ============================================================================
// STATIC ASSETS
// ============================================================================

// mimeTypes maps asset extensions to content types. Kept explicit so
// serving does not depend on the host's mime database.
var mimeTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".json":  "application/json; charset=utf-8",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".webp":  "image/webp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".txt":   "text/plain; charset=utf-8",
}

// staticHandler serves the web client from a directory. Directory
// requests and extensionless paths fall back to index.html so
// client-side routes resolve.
type staticHandler struct {
	root       string
	production bool
}

func newStaticHandler(root string, production bool) *staticHandler {
	return &staticHandler{root: root, production: production}
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reqPath := filepath.Clean("/" + r.URL.Path)
	full := filepath.Join(h.root, reqPath)

	// Traversal guard: the cleaned path must stay inside the root.
	absRoot, err := filepath.Abs(h.root)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	absFull, err := filepath.Abs(full)
	if err != nil || (absFull != absRoot && !strings.HasPrefix(absFull, absRoot+string(os.PathSeparator))) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	info, err := os.Stat(absFull)
	switch {
	case err == nil && info.IsDir():
		absFull = filepath.Join(absFull, "index.html")
	case err != nil && filepath.Ext(absFull) == "":
		// Extensionless miss: hand the client router its entry point.
		absFull = filepath.Join(absRoot, "index.html")
	case err != nil:
		http.NotFound(w, r)
		return
	}

	data, err := os.ReadFile(absFull)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	ct, ok := mimeTypes[strings.ToLower(filepath.Ext(absFull))]
	if !ok {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if h.production {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(data)
}
