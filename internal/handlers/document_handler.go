package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

// UploadResponse is returned by POST /api/documents
type UploadResponse struct {
	ResourceID string                `json:"resource_id"`
	Document   *models.DocumentInfo  `json:"document"`
	Job        *models.JobDescriptor `json:"job,omitempty"`
}

// DocumentHandler accepts documents from the UI, checks them locally and
// uploads them to the backend
type DocumentHandler struct {
	inspector   interfaces.DocumentInspector
	uploader    interfaces.DocumentUploader
	jobs        JobService
	maxFileSize int64
	logger      arbor.ILogger
}

// NewDocumentHandler creates a new DocumentHandler
func NewDocumentHandler(inspector interfaces.DocumentInspector, uploader interfaces.DocumentUploader, jobs JobService, maxFileSize int64, logger arbor.ILogger) *DocumentHandler {
	return &DocumentHandler{
		inspector:   inspector,
		uploader:    uploader,
		jobs:        jobs,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// UploadHandler handles POST /api/documents (multipart field "file").
// With generate=true the generation job is started right after the upload.
func (h *DocumentHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if h.maxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Multipart field 'file' is required")
		return
	}
	defer file.Close()

	path, cleanup, err := saveTemp(file, header.Filename)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Store upload")
		return
	}
	defer cleanup()

	info, err := h.inspector.Inspect(r.Context(), path)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Inspect document")
		return
	}

	resourceID, err := h.uploader.UploadDocument(r.Context(), path)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Upload document")
		return
	}

	resp := UploadResponse{ResourceID: resourceID, Document: info}

	if r.FormValue("generate") == "true" {
		maxCards, _ := strconv.Atoi(r.FormValue("max_cards"))
		handle, err := h.jobs.StartJob(r.Context(), resourceID, models.JobOptions{
			DeckName: r.FormValue("deck_name"),
			MaxCards: maxCards,
			Language: r.FormValue("language"),
			Filename: info.Filename,
		})
		if err != nil {
			WriteServiceError(w, h.logger, err, "Start job")
			return
		}
		resp.Job = handle.Submitted
	}

	WriteJSON(w, http.StatusCreated, resp)
}

// saveTemp copies the upload to a private temp dir, keeping its base name
func saveTemp(src io.Reader, filename string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "flashdeck-upload-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		name = "document"
	}
	path := filepath.Join(dir, name)

	dst, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to store upload: %w", err)
	}
	return path, cleanup, nil
}
