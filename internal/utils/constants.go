package utils

import (
	"path"
	"strings"
)

// Upload thresholds (binary units)
const (
	UploadChunkSize = 8 * 1024 * 1024 // 8 MiB
)

// OAuth scopes
const (
	ScopeFull     = "https://www.googleapis.com/auth/drive"
	ScopeReadonly = "https://www.googleapis.com/auth/drive.readonly"
)

// ScopesPipeline is what a run needs: it lists, copies, deletes and uploads.
var ScopesPipeline = []string{ScopeFull}

// Retry configuration
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 1000
	MaxRetryDelayMs     = 32000
)

// Listing
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Schema version
const SchemaVersion = "1.0"

// DateFolderLayout names the per-day destination folder (YYYY-MM-DD)
const DateFolderLayout = "2006-01-02"

// MIME types
const (
	MimeTypeDocument     = "application/vnd.google-apps.document"
	MimeTypeSpreadsheet  = "application/vnd.google-apps.spreadsheet"
	MimeTypePresentation = "application/vnd.google-apps.presentation"
	MimeTypeDrawing      = "application/vnd.google-apps.drawing"
	MimeTypeForm         = "application/vnd.google-apps.form"
	MimeTypeScript       = "application/vnd.google-apps.script"
	MimeTypeFolder       = "application/vnd.google-apps.folder"
	MimeTypeShortcut     = "application/vnd.google-apps.shortcut"
	MimeTypePDF          = "application/pdf"
	MimeTypeDocx         = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// FormatMappings maps file extensions to upload MIME types
var FormatMappings = map[string]string{
	"pdf":  MimeTypePDF,
	"docx": MimeTypeDocx,
	"doc":  "application/msword",
	"odt":  "application/vnd.oasis.opendocument.text",
	"rtf":  "application/rtf",
	"txt":  "text/plain",
}

// IsWorkspaceMimeType checks if a MIME type is a Google Workspace type
func IsWorkspaceMimeType(mimeType string) bool {
	switch mimeType {
	case MimeTypeDocument, MimeTypeSpreadsheet, MimeTypePresentation,
		MimeTypeDrawing, MimeTypeForm, MimeTypeScript, MimeTypeShortcut:
		return true
	}
	return false
}

// MimeTypeForName picks an upload MIME type from a file name's extension
func MimeTypeForName(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if mt, ok := FormatMappings[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}
