package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/petermazzocco/excel-analytics/internal/blob"
	"github.com/petermazzocco/excel-analytics/internal/sheets"
	"github.com/petermazzocco/excel-analytics/internal/store"
	"github.com/petermazzocco/excel-analytics/models"
)

// UploadStore persists upload records scoped to their owner.
type UploadStore interface {
	CreateUpload(ctx context.Context, upload *models.Upload) error
	ListUploadsByOwner(ctx context.Context, ownerID uint) ([]models.Upload, error)
	FindUpload(ctx context.Context, id, ownerID uint) (*models.Upload, error)
	DeleteUpload(ctx context.Context, id, ownerID uint) (*models.Upload, error)
	DeleteUploadsByOwner(ctx context.Context, ownerID uint) ([]models.Upload, error)
}

// UploadHandler parses spreadsheets and manages the caller's upload history.
type UploadHandler struct {
	uploads  UploadStore
	objects  blob.Store
	maxBytes int64

	// maxUnzipped caps how far an uploaded workbook may decompress.
	maxUnzipped int64
	logger      *slog.Logger
}

// NewUploadHandler creates an UploadHandler. objects may be nil, which
// disables archiving of originals and therefore export.
func NewUploadHandler(uploads UploadStore, objects blob.Store, maxBytes int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		uploads:     uploads,
		objects:     objects,
		maxBytes:    maxBytes,
		maxUnzipped: maxBytes * sheets.UnzipRatio,
		logger:      logger,
	}
}

// Upload parses the multipart "file" field and returns its rows.
// POST /api/upload
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("File too large (max %d bytes)", h.maxBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	filename := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if sheets.DetectFormat(filename) == sheets.FormatUnknown {
		writeError(w, http.StatusBadRequest, "Unsupported file type")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read uploaded file")
		return
	}

	sheet, err := sheets.ParseLimited(filename, bytes.NewReader(data), h.maxUnzipped)
	if err != nil {
		switch {
		case errors.Is(err, sheets.ErrUnsupportedFormat):
			writeError(w, http.StatusBadRequest, "Unsupported file type")
		case errors.Is(err, sheets.ErrEmptyWorkbook):
			writeError(w, http.StatusBadRequest, "Empty workbook")
		case errors.Is(err, sheets.ErrWorkbookTooLarge):
			writeError(w, http.StatusBadRequest, "Workbook too large")
		default:
			h.logger.Error("failed to parse upload", "filename", filename, "error", err)
			writeError(w, http.StatusInternalServerError, "Error processing file")
		}
		return
	}

	columns, err := json.Marshal(sheet.Columns)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error processing file")
		return
	}

	ownerID := claims.UserID
	upload := &models.Upload{
		UUID:     uuid.NewString(),
		UserID:   &ownerID,
		Filename: filename,
		Columns:  datatypes.JSON(columns),
		RowCount: len(sheet.Rows),
	}

	if h.objects != nil {
		key := fmt.Sprintf("uploads/%d/%s_%s", ownerID, upload.UUID, filename)
		if err := h.objects.Put(r.Context(), key, contentType(header.Header.Get("Content-Type"), filename), data); err != nil {
			h.logger.Error("failed to archive upload", "key", key, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to archive file")
			return
		}
		upload.ObjectKey = key
	}

	if err := h.uploads.CreateUpload(r.Context(), upload); err != nil {
		h.removeObject(r.Context(), upload.ObjectKey)
		if errors.Is(err, store.ErrOwnerNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("failed to save upload", "error", err)
		writeError(w, http.StatusInternalServerError, "Error saving upload")
		return
	}

	h.logger.Info("upload parsed", "upload_id", upload.ID, "rows", upload.RowCount, "columns", len(sheet.Columns))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    sheet.Rows,
		"upload":  upload.View(),
	})
}

// History lists the caller's uploads, newest first.
// GET /api/upload-history
func (h *UploadHandler) History(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	uploads, err := h.uploads.ListUploadsByOwner(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to list uploads", "user_id", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch upload history")
		return
	}

	history := make([]models.UploadView, len(uploads))
	for i := range uploads {
		history[i] = uploads[i].View()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"history": history,
	})
}

// Delete removes one of the caller's uploads.
// DELETE /api/upload-history/{id}
func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid upload id")
		return
	}

	upload, err := h.uploads.DeleteUpload(r.Context(), id, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Upload not found")
			return
		}
		h.logger.Error("failed to delete upload", "upload_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete upload")
		return
	}
	h.removeObject(r.Context(), upload.ObjectKey)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Upload deleted",
	})
}

// DeleteAll removes every upload owned by the caller.
// DELETE /api/upload-history/all
func (h *UploadHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	removed, err := h.uploads.DeleteUploadsByOwner(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to clear uploads", "user_id", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete uploads")
		return
	}
	for _, u := range removed {
		h.removeObject(r.Context(), u.ObjectKey)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deleted": len(removed),
	})
}

// Export re-parses the archived original and streams it as CSV or XLSX.
// GET /api/upload-history/{id}/export?format=csv|xlsx
func (h *UploadHandler) Export(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid upload id")
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		writeError(w, http.StatusBadRequest, "Unsupported export format")
		return
	}

	upload, err := h.uploads.FindUpload(r.Context(), id, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Upload not found")
			return
		}
		h.logger.Error("failed to load upload", "upload_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to export upload")
		return
	}
	if h.objects == nil || upload.ObjectKey == "" {
		writeError(w, http.StatusNotFound, "Original file is not archived")
		return
	}

	body, err := h.objects.Get(r.Context(), upload.ObjectKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Original file is not archived")
			return
		}
		h.logger.Error("failed to fetch archived upload", "key", upload.ObjectKey, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to export upload")
		return
	}
	defer body.Close()

	sheet, err := sheets.ParseLimited(upload.Filename, body, h.maxUnzipped)
	if err != nil {
		h.logger.Error("failed to parse archived upload", "key", upload.ObjectKey, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to export upload")
		return
	}

	base := strings.TrimSuffix(upload.Filename, path.Ext(upload.Filename))
	var buf bytes.Buffer
	switch format {
	case "xlsx":
		err = sheets.WriteXLSX(&buf, sheet)
		w.Header().Set("Content-Type", sheets.ContentTypeXLSX)
	default:
		err = sheets.WriteCSV(&buf, sheet)
		w.Header().Set("Content-Type", sheets.ContentTypeCSV)
	}
	if err != nil {
		w.Header().Del("Content-Type")
		h.logger.Error("failed to render export", "upload_id", id, "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to export upload")
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": base + "." + format}))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *UploadHandler) removeObject(ctx context.Context, key string) {
	if h.objects == nil || key == "" {
		return
	}
	if err := h.objects.Delete(ctx, key); err != nil {
		h.logger.Warn("failed to delete archived object", "key", key, "error", err)
	}
}

func contentType(declared, filename string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if sheets.DetectFormat(filename) == sheets.FormatCSV {
		return sheets.ContentTypeCSV
	}
	return sheets.ContentTypeXLSX
}
