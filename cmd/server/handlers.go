package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/brunobiangulo/ldip"
	"github.com/brunobiangulo/ldip/apperr"
	"github.com/brunobiangulo/ldip/observability"
)

type handler struct {
	engine goreason.Engine
}

func newHandler(e goreason.Engine) *handler {
	return &handler{engine: e}
}

// requestIdentity reads the matter and user the caller is acting as. In
// production these come from the authenticated session; for now the
// transport trusts the headers a fronting auth proxy would set.
func requestIdentity(r *http.Request) (matterID, userID string) {
	return r.PathValue("matterID"), r.Header.Get("X-User-ID")
}

// scopedContext attaches matter/user scope to the request context so log
// records emitted while handling the request carry them.
func scopedContext(r *http.Request, matterID, userID string) context.Context {
	ctx := observability.WithMatterID(r.Context(), matterID)
	return observability.WithUserID(ctx, userID)
}

// POST /matters/{matterID}/documents
// Accepts a multipart file upload.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	matterID, userID := requestIdentity(r)
	if matterID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "matter id and X-User-ID are required")
		return
	}
	ctx := scopedContext(r, matterID, userID)

	if err := r.ParseMultipartForm(200 << 20); err != nil { // 200MB max
		writeError(w, http.StatusBadRequest, "expected multipart file upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	safeName := filepath.Base(header.Filename)
	tmpDir := os.TempDir()
	tmpPath := filepath.Join(tmpDir, fmt.Sprintf("%s-%s", matterID, safeName))
	dst, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.ErrorContext(ctx, "creating temp file", "error", err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to save file")
		slog.ErrorContext(ctx, "saving uploaded file", "error", err)
		return
	}
	dst.Close()
	defer os.Remove(tmpPath)

	var opts []goreason.IngestOption
	if r.FormValue("reference_material") == "true" {
		opts = append(opts, goreason.WithReferenceMaterial())
	}

	doc, err := h.engine.Ingest(ctx, matterID, userID, tmpPath, opts...)
	if err != nil {
		writeAppErr(ctx, w, err, "ingestion failed")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// POST /matters/{matterID}/query
// Blocking convenience endpoint: drains the orchestrator to completion.
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	matterID, userID := requestIdentity(r)
	if matterID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "matter id and X-User-ID are required")
		return
	}
	ctx := scopedContext(r, matterID, userID)

	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := h.engine.Query(ctx, matterID, userID, req.Question)
	if err != nil {
		writeAppErr(ctx, w, err, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// POST /matters/{matterID}/query/stream
// Streams the orchestrator's events as newline-delimited JSON, flushing
// after each event so a client sees tokens as they arrive.
func (h *handler) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	matterID, userID := requestIdentity(r)
	if matterID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "matter id and X-User-ID are required")
		return
	}
	ctx := scopedContext(r, matterID, userID)

	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	events := h.engine.StreamQuery(ctx, matterID, userID, req.Question)
	for event := range events {
		if err := enc.Encode(event); err != nil {
			slog.ErrorContext(ctx, "encoding stream event", "error", err)
			return
		}
		bw.Flush()
		flusher.Flush()
	}
}

// DELETE /matters/{matterID}/documents/{documentID}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	matterID, userID := requestIdentity(r)
	if matterID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "matter id and X-User-ID are required")
		return
	}
	documentID := r.PathValue("documentID")
	ctx := scopedContext(r, matterID, userID)

	if err := h.engine.Delete(ctx, matterID, userID, documentID); err != nil {
		writeAppErr(ctx, w, err, "delete failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /matters/{matterID}/documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	matterID, userID := requestIdentity(r)
	if matterID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "matter id and X-User-ID are required")
		return
	}

	ctx := scopedContext(r, matterID, userID)
	docs, err := h.engine.ListDocuments(ctx, matterID, userID)
	if err != nil {
		writeAppErr(ctx, w, err, "failed to list documents")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppErr maps an apperr.Kind to its HTTP status and logs the
// underlying cause server-side without leaking it to the client.
func writeAppErr(ctx context.Context, w http.ResponseWriter, err error, fallback string) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		slog.ErrorContext(ctx, fallback, "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
		return
	}

	slog.ErrorContext(ctx, fallback, "kind", ae.Kind, "error", ae)

	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperr.MatterNotFound, apperr.ItemNotFound:
		status = http.StatusNotFound
	case apperr.InvalidParameter, apperr.PageRangeInvalid, apperr.ChecksumMismatch,
		apperr.BBoxCountMismatch, apperr.InvalidJobStatus, apperr.BulkLimitExceeded:
		status = http.StatusBadRequest
	case apperr.QueryBlocked:
		status = http.StatusForbidden
	case apperr.DatabaseNotConfigured:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]string{"error": ae.Message, "code": string(ae.Kind)})
}
