package scanner

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/wikiops/provisr/internal/provisr"
)

// Handler receives page_created / page_updated webhooks, fetches the page
// body, and writes back a masked revision when secrets are found.
type Handler struct {
	content provisr.ContentProvider
	scanner *Scanner
	log     zerolog.Logger
}

func NewHandler(content provisr.ContentProvider, scanner *Scanner, logger zerolog.Logger) *Handler {
	return &Handler{content: content, scanner: scanner, log: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case (r.URL.Path == "/webhook/page-created" || r.URL.Path == "/webhook/page-updated") && r.Method == http.MethodPost:
		h.handlePageEvent(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "route not found"})
	}
}

func (h *Handler) handlePageEvent(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	pageID := extractPageID(payload)
	if pageID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no id"})
		return
	}

	page, err := h.content.GetPage(r.Context(), pageID)
	if err != nil {
		h.log.Error().Err(err).Str("pageId", pageID).Msg("fetch page failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	findings := h.scanner.Detect(page.Body)
	if len(findings) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "clean"})
		return
	}

	page.Body = Mask(page.Body, findings)
	if err := h.content.UpdatePage(r.Context(), page, "Auto-masked secrets"); err != nil {
		h.log.Error().Err(err).Str("pageId", pageID).Msg("masked write-back failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.log.Info().Str("pageId", pageID).Int("count", len(findings)).Msg("masked secrets")
	writeJSON(w, http.StatusOK, map[string]any{"status": "masked", "count": len(findings)})
}

// extractPageID tolerates the platform's webhook shape drift: the id may
// arrive under page.id, content.id, or at the top level, as string or
// number.
func extractPageID(payload map[string]any) string {
	candidates := []any{}
	if page, ok := payload["page"].(map[string]any); ok {
		candidates = append(candidates, page["id"])
	}
	if content, ok := payload["content"].(map[string]any); ok {
		candidates = append(candidates, content["id"])
	}
	candidates = append(candidates, payload["id"])
	for _, candidate := range candidates {
		switch v := candidate.(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
