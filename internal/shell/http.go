package shell

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scottjenson/xe-darc/internal/search"
	"github.com/scottjenson/xe-darc/internal/store"
)

// HTTPServer exposes the shell's operations to the browser chrome over a
// local JSON API.
type HTTPServer struct {
	shell  *Shell
	search *search.Service
}

func NewHTTPServer(shell *Shell, searchSvc *search.Service) *HTTPServer {
	return &HTTPServer{shell: shell, search: searchSvc}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.shell.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":     false,
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "state":
		if r.Method == http.MethodGet && len(parts) == 2 {
			writeJSON(w, http.StatusOK, s.shell.Snapshot())
			return
		}
	case "search":
		if r.Method == http.MethodGet && len(parts) == 2 {
			s.handleSearch(w, r)
			return
		}
	case "tabs":
		s.handleTabs(w, r, parts[2:])
		return
	case "spaces":
		s.handleSpaces(w, r, parts[2:])
		return
	case "closed-tabs":
		s.handleClosedTabs(w, r, parts[2:])
		return
	case "clipboard":
		s.handleClipboard(w, r, parts[2:])
		return
	case "sample-data":
		if r.Method == http.MethodPost && len(parts) == 2 {
			var docs []store.Document
			if err := decodeBody(r, &docs); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.shell.LoadSampleData(r.Context(), docs); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(docs)})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
		return
	}
	query := search.Query{
		Text:          r.URL.Query().Get("q"),
		FilterKind:    r.URL.Query().Get("kind"),
		FilterSpaceID: r.URL.Query().Get("space"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		query.Limit = limit
	}
	writeJSON(w, http.StatusOK, s.search.Search(query))
}

func (s *HTTPServer) handleTabs(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case r.Method == http.MethodPost && len(rest) == 0:
		var body struct {
			SpaceID  string `json:"spaceId"`
			URL      string `json:"url"`
			Title    string `json:"title"`
			Opener   string `json:"opener"`
			Preview  bool   `json:"preview"`
			Lightbox bool   `json:"lightbox"`
			Pinned   bool   `json:"pinned"`
			Focus    bool   `json:"focus"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.SpaceID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "spaceId is required", nil)
			return
		}
		tab, err := s.shell.NewTab(r.Context(), body.SpaceID, NewTabOptions{
			URL:      body.URL,
			Title:    body.Title,
			Opener:   body.Opener,
			Preview:  body.Preview,
			Lightbox: body.Lightbox,
			Pinned:   body.Pinned,
			Focus:    body.Focus,
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, tab)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "previous":
		writeJSON(w, http.StatusOK, map[string]any{"switched": s.shell.Previous()})

	case r.Method == http.MethodPatch && len(rest) == 1:
		s.handleUpdateTab(w, r, rest[0])

	case r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "page":
		textOnly := r.URL.Query().Get("text") == "1"
		content, err := s.shell.ReadPage(r.Context(), rest[0], textOnly)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"content": content})

	case r.Method == http.MethodPost && len(rest) == 2:
		s.handleTabAction(w, r, rest[0], rest[1])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleUpdateTab(w http.ResponseWriter, r *http.Request, tabID string) {
	var body struct {
		Canvas     map[string]any `json:"canvas"`
		Favicon    *string        `json:"favicon"`
		Title      *string        `json:"title"`
		URL        *string        `json:"url"`
		Preview    *bool          `json:"preview"`
		Lightbox   *bool          `json:"lightbox"`
		Screenshot *string        `json:"screenshot"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	err := s.shell.UpdateTab(r.Context(), tabID, TabPatch{
		Canvas:     body.Canvas,
		Favicon:    body.Favicon,
		Title:      body.Title,
		URL:        body.URL,
		Preview:    body.Preview,
		Lightbox:   body.Lightbox,
		Screenshot: body.Screenshot,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleTabAction(w http.ResponseWriter, r *http.Request, tabID, action string) {
	switch action {
	case "activate":
		doc, known := s.shell.Activate(tabID)
		if !known {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown tab", nil)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case "close":
		var body struct {
			SpaceID string `json:"spaceId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.shell.CloseTab(r.Context(), body.SpaceID, tabID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "restore":
		if err := s.shell.RestoreClosedTab(r.Context(), tabID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "pin", "unpin":
		if err := s.shell.Pin(r.Context(), tabID, action == "pin"); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "navigate":
		var body struct {
			URL string `json:"url"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.URL == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is required", nil)
			return
		}
		if err := s.shell.Navigate(r.Context(), tabID, body.URL); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "hibernate":
		s.shell.Hibernate(tabID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "reload":
		if err := s.shell.ReloadCurrentTab(); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSpaces(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case r.Method == http.MethodPost && len(rest) == 0:
		space, err := s.shell.NewSpace(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, space)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "previous":
		writeJSON(w, http.StatusOK, map[string]any{"switched": s.shell.PreviousSpace()})

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "next":
		writeJSON(w, http.StatusOK, map[string]any{"switched": s.shell.NextSpace()})

	case r.Method == http.MethodPut && len(rest) == 1:
		var body store.Document
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.shell.EditSpace(r.Context(), rest[0], body); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodDelete && len(rest) == 1:
		if err := s.shell.DeleteSpace(r.Context(), rest[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "activate":
		if !s.shell.SetActiveSpace(rest[0]) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown space", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleClosedTabs(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		closed := s.shell.Snapshot().ClosedTabs
		if closed == nil {
			closed = []store.Document{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tabs": closed})
	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "clear":
		if err := s.shell.ClearClosedTabs(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleClipboard(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		entries, err := s.shell.ClipboardHistory(r.Context(), limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		if entries == nil {
			entries = []store.Document{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	case r.Method == http.MethodDelete && len(rest) == 1:
		if err := s.shell.DeleteClipboardEntry(r.Context(), rest[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	writeError(w, status, code, message, nil)
}

func mapError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Document update conflict"
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("Content-Type", "application/json")
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
