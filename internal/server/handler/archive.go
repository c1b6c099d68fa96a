package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// ArchiveSource lists and opens the monthly JSONL archives in object storage.
type ArchiveSource interface {
	ListArchives(ctx context.Context, kind string) ([]domain.BlobInfo, error)
	OpenArchive(ctx context.Context, kind, month string) (io.ReadCloser, error)
}

// ArchiveHandler serves archived audit, execution and opportunity records.
type ArchiveHandler struct {
	src    ArchiveSource
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(src ArchiveSource, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{src: src, logger: logHandler(logger, "archive")}
}

type archiveRow struct {
	Month        string    `json:"month"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// List returns the archived months of one kind.
// GET /api/archive/{kind}
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	kind := pathParam(r, "kind")
	infos, err := h.src.ListArchives(r.Context(), kind)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown archive kind")
			return
		}
		h.logger.ErrorContext(r.Context(), "list archives failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	rows := make([]archiveRow, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, archiveRow{
			Month:        strings.TrimSuffix(path.Base(info.Path), ".jsonl"),
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "archives": rows})
}

// Download streams one month of archived records as JSONL.
// GET /api/archive/{kind}/{month}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	kind, month := pathParam(r, "kind"), pathParam(r, "month")
	body, err := h.src.OpenArchive(r.Context(), kind, month)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "open archive failed",
			slog.String("kind", kind),
			slog.String("month", month),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to open archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted", slog.String("error", err.Error()))
	}
}
