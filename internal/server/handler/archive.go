package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// ArchiveReader defines the slice of blob storage the archive handler needs
// to browse and stream archive files.
type ArchiveReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// ArchiveHandler serves the ops endpoints for the archive: kicking a sweep,
// listing the stored files, and streaming one back.
type ArchiveHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{} // when non-nil, sending requests one sweep
	reader    ArchiveReader   // when non-nil, enables browse and download
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{logger: logger}
}

// WithTriggerChannel sets the channel the archive loop drains. Without it
// the endpoint still answers, but nothing runs.
func (h *ArchiveHandler) WithTriggerChannel(ch chan<- struct{}) *ArchiveHandler {
	h.triggerCh = ch
	return h
}

// WithReader sets the blob reader backing the browse and download endpoints.
func (h *ArchiveHandler) WithReader(reader ArchiveReader) *ArchiveHandler {
	h.reader = reader
	return h
}

// Trigger enqueues one archive sweep. The send is non-blocking: a sweep
// already pending absorbs the request.
// POST /api/archive/trigger
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: archive sweep requested")
	if h.triggerCh != nil {
		select {
		case h.triggerCh <- struct{}{}:
		default:
			// a sweep is already queued
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"message":      "archive sweep enqueued",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// archiveFileView is the wire form of one stored archive file.
type archiveFileView struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

// List enumerates the archive files in object storage.
// GET /api/archive
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	infos, err := h.reader.List(r.Context(), "archive/")
	if err != nil {
		respondError(w, r, h.logger, "list archive", err)
		return
	}

	files := make([]archiveFileView, 0, len(infos))
	for _, info := range infos {
		files = append(files, archiveFileView{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files": files,
		"count": len(files),
	})
}

// Download streams one archive file back as newline-delimited JSON. The kind
// and month segments are validated before they touch an object key, so the
// endpoint can only ever serve files the sweep wrote.
// GET /api/archive/{kind}/{month}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	kind := pathParam(r, "kind")
	if kind != "audit" && kind != "markets" {
		writeError(w, http.StatusBadRequest, `kind must be "audit" or "markets"`)
		return
	}
	month := pathParam(r, "month")
	if _, err := time.Parse("2006-01", month); err != nil {
		writeError(w, http.StatusBadRequest, "month must look like 2006-01")
		return
	}

	path := "archive/" + kind + "/" + month + ".jsonl"
	body, err := h.reader.Get(r.Context(), path)
	if err != nil {
		respondError(w, r, h.logger, "download archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
