package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/capture"
	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/fetch"
	"github.com/adityalohuni/snapfile/internal/page"
	"github.com/adityalohuni/snapfile/internal/service"
)

const ndjson = "application/x-ndjson"

type captureHandlers struct {
	svc    *service.Service
	logger *zap.Logger
}

// CaptureRequest is the body of POST /api/captures. Options replaces the
// daemon defaults entirely when present.
type CaptureRequest struct {
	URL      string          `json:"url"`
	Content  string          `json:"content,omitempty"`
	Rendered bool            `json:"rendered,omitempty"`
	Options  *config.Options `json:"options,omitempty"`
}

// StreamLine is one line of a streamed capture: progress events followed
// by either the archive or an error.
type StreamLine struct {
	Event   *capture.Event `json:"event,omitempty"`
	Archive *page.Archive  `json:"archive,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (h *captureHandlers) list(w http.ResponseWriter, r *http.Request) {
	items := h.svc.Store().List()
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n < len(items) {
		items = items[:n]
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *captureHandlers) create(w http.ResponseWriter, r *http.Request) {
	var body CaptureRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 32<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body.URL = strings.TrimSpace(body.URL)
	req := service.Request{
		URL:      body.URL,
		Content:  body.Content,
		Options:  body.Options,
		Rendered: body.Rendered,
		Client:   "http " + middleware.GetReqID(r.Context()),
	}

	if !strings.Contains(r.Header.Get("Accept"), ndjson) {
		archive, err := h.svc.Capture(r.Context(), req)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, archive)
		return
	}

	w.Header().Set("Content-Type", ndjson)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	emit := func(line StreamLine) {
		if err := enc.Encode(line); err != nil {
			h.logger.Debug("stream write failed", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	req.Progress = func(e capture.Event) { emit(StreamLine{Event: &e}) }
	archive, err := h.svc.Capture(r.Context(), req)
	if err != nil {
		emit(StreamLine{Error: err.Error()})
		return
	}
	emit(StreamLine{Archive: &archive})
}

func (h *captureHandlers) content(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	content, err := h.svc.Store().Content(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.URL.Query().Has("download") {
		w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.html"`)
	}
	_, _ = io.WriteString(w, content)
}

func (h *captureHandlers) summary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	store := h.svc.Store()
	archive, ok := store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, page.ErrNotFound)
		return
	}
	content, err := store.Content(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	q := r.URL.Query()
	maxText, _ := strconv.Atoi(q.Get("maxText"))
	maxLinks, _ := strconv.Atoi(q.Get("maxLinks"))
	sum, err := page.Summarize(archive, content, page.SummaryOptions{MaxText: maxText, MaxLinks: maxLinks})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrNoURL), errors.Is(err, fetch.ErrScheme):
		return http.StatusBadRequest
	case errors.Is(err, page.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoBrowser):
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
