package models

// DocumentInfo is the result of a pre-upload inspection
type DocumentInfo struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Pages    int    `json:"pages,omitempty"`
}
