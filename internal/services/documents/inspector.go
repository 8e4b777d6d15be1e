// -----------------------------------------------------------------------
// Document Inspector - pre-upload checks on local documents
// Uses mimetype for content sniffing and pdfcpu for page counts
// -----------------------------------------------------------------------

package documents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

// Inspector rejects documents the backend would refuse before any upload happens
type Inspector struct {
	maxFileSize  int64
	maxPages     int
	allowedTypes []string
	logger       arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.DocumentInspector = (*Inspector)(nil)

// NewInspector creates an inspector from the [documents] section
func NewInspector(config common.DocumentsConfig, logger arbor.ILogger) *Inspector {
	return &Inspector{
		maxFileSize:  config.MaxFileSize,
		maxPages:     config.MaxPages,
		allowedTypes: append([]string(nil), config.AllowedTypes...),
		logger:       logger,
	}
}

// Inspect returns the document's metadata, or an error wrapping
// ErrSubmissionRejected when the document is unsuitable.
func (i *Inspector) Inspect(ctx context.Context, path string) (*models.DocumentInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, interfaces.ErrSubmissionRejected)
	}

	info := &models.DocumentInfo{
		Path:     path,
		Filename: filepath.Base(path),
		Size:     stat.Size(),
	}

	if stat.Size() == 0 {
		return nil, fmt.Errorf("%s is empty: %w", info.Filename, interfaces.ErrSubmissionRejected)
	}
	if i.maxFileSize > 0 && stat.Size() > i.maxFileSize {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d: %w", info.Filename, stat.Size(), i.maxFileSize, interfaces.ErrSubmissionRejected)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect document type: %w", err)
	}
	info.MimeType = mtype.String()

	if !i.allowed(mtype) {
		return nil, fmt.Errorf("%s has unsupported type %s: %w", info.Filename, mtype.String(), interfaces.ErrSubmissionRejected)
	}

	if mtype.Is("application/pdf") && i.maxPages > 0 {
		pdfCtx, err := api.ReadContextFile(path)
		if err != nil {
			i.logger.Debug().Err(err).Str("file", info.Filename).Msg("pdfcpu could not read document")
			return nil, fmt.Errorf("%s is not a readable PDF: %w", info.Filename, interfaces.ErrSubmissionRejected)
		}
		info.Pages = pdfCtx.PageCount
		if info.Pages > i.maxPages {
			return nil, fmt.Errorf("%s has %d pages, limit is %d: %w", info.Filename, info.Pages, i.maxPages, interfaces.ErrSubmissionRejected)
		}
	}

	i.logger.Debug().
		Str("file", info.Filename).
		Str("mime", info.MimeType).
		Int64("size", info.Size).
		Int("pages", info.Pages).
		Msg("Document inspected")

	return info, nil
}

func (i *Inspector) allowed(mtype *mimetype.MIME) bool {
	for _, t := range i.allowedTypes {
		if mtype.Is(t) {
			return true
		}
	}
	return false
}
