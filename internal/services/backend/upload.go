package backend

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ternarybob/flashdeck/internal/interfaces"
)

type uploadResponse struct {
	FileID string `json:"file_id"`
}

// UploadDocument streams the file at path to the backend and returns the
// resource id the server assigned to it.
func (c *Client) UploadDocument(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open document: %w", err)
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)

	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = form.Close()
		}
		writer.CloseWithError(err)
	}()

	var resp uploadResponse
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/pdf/upload",
		body:        body,
		contentType: form.FormDataContentType(),
		rejectAs:    interfaces.ErrSubmissionRejected,
		upload:      true,
	}, &resp)
	// unblock the writer goroutine if the request ended early
	body.Close()
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filepath.Base(path), err)
	}
	if resp.FileID == "" {
		return "", fmt.Errorf("upload of %s returned no file id", filepath.Base(path))
	}

	c.logger.Info().Str("file", filepath.Base(path)).Str("resource_id", resp.FileID).Msg("Document uploaded")
	return resp.FileID, nil
}
