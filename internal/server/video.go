package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/castdrop/internal/video"
)

const (
	videoCacheControl = "private, max-age=3600"
	deleteTimeout     = 30 * time.Second
)

// ServeVideo handles GET and HEAD /video/{id} requests. HEAD receives the
// exact headers of the equivalent GET.
func (h *Handlers) ServeVideo(w http.ResponseWriter, r *http.Request) {
	status := h.serveVideo(w, r)
	h.metrics.VideoRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (h *Handlers) serveVideo(w http.ResponseWriter, r *http.Request) int {
	videoID := r.PathValue("id")
	withBody := r.Method != http.MethodHead

	stream, err := h.videos.Open(r.Context(), videoID, r.Header.Get("Range"), withBody)
	if err != nil {
		var rangeErr *video.RangeError
		switch {
		case errors.Is(err, video.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
			return http.StatusNotFound
		case errors.As(err, &rangeErr):
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", rangeErr.Size))
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable", "RANGE_NOT_SATISFIABLE")
			return http.StatusRequestedRangeNotSatisfiable
		default:
			h.logger.Error("failed to open video",
				slog.String("video_id", videoID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "storage error", "STORAGE_ERROR")
			return http.StatusInternalServerError
		}
	}
	if stream.Body != nil {
		defer func() { _ = stream.Body.Close() }()
	}

	header := w.Header()
	header.Set("Content-Type", stream.ContentType)
	header.Set("Accept-Ranges", "bytes")
	header.Set("Cache-Control", videoCacheControl)
	header.Set("Content-Length", strconv.FormatInt(stream.Length(), 10))

	status := http.StatusOK
	if stream.Range != nil {
		status = http.StatusPartialContent
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", stream.Range.Start, stream.Range.End, stream.TotalSize))
	}
	w.WriteHeader(status)

	if stream.Body == nil {
		return status
	}
	if _, err := io.Copy(w, stream.Body); err != nil {
		h.logger.Debug("video stream interrupted",
			slog.String("video_id", videoID),
			slog.String("error", err.Error()),
		)
	}
	return status
}

// DeleteVideo handles DELETE /video/{id} requests. It always succeeds.
func (h *Handlers) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	// Page-unload beacons disconnect right away; the delete must outlive them.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), deleteTimeout)
	defer cancel()

	h.videos.Delete(ctx, r.PathValue("id"))
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// PostVideo handles POST /video/{id}?_method=DELETE, the form sent by
// navigator.sendBeacon, which can only POST.
func (h *Handlers) PostVideo(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.URL.Query().Get("_method"), http.MethodDelete) {
		w.Header().Set("Allow", "GET, HEAD, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	h.DeleteVideo(w, r)
}
