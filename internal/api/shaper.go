package api

import (
	"strings"

	"github.com/dl-alexandre/drivepdf/internal/types"
	"google.golang.org/api/drive/v3"
)

// RequestShaper applies the parameters every Drive call needs so that
// folders living in shared drives behave like My Drive folders.
type RequestShaper struct {
	client *Client
}

// NewRequestShaper creates a shaper bound to client
func NewRequestShaper(client *Client) *RequestShaper {
	return &RequestShaper{client: client}
}

// ShapeFilesList sets shared-drive support and, when a drive ID is known, the corpus
func (s *RequestShaper) ShapeFilesList(call *drive.FilesListCall, reqCtx *types.RequestContext) *drive.FilesListCall {
	call = call.SupportsAllDrives(true).IncludeItemsFromAllDrives(true)
	if reqCtx.DriveID != "" {
		call = call.DriveId(reqCtx.DriveID).Corpora("drive")
	}
	return call
}

func (s *RequestShaper) ShapeFilesGet(call *drive.FilesGetCall, reqCtx *types.RequestContext) *drive.FilesGetCall {
	return call.SupportsAllDrives(true)
}

func (s *RequestShaper) ShapeFilesCopy(call *drive.FilesCopyCall, reqCtx *types.RequestContext) *drive.FilesCopyCall {
	return call.SupportsAllDrives(true)
}

func (s *RequestShaper) ShapeFilesCreate(call *drive.FilesCreateCall, reqCtx *types.RequestContext) *drive.FilesCreateCall {
	return call.SupportsAllDrives(true)
}

func (s *RequestShaper) ShapeFilesDelete(call *drive.FilesDeleteCall, reqCtx *types.RequestContext) *drive.FilesDeleteCall {
	return call.SupportsAllDrives(true)
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// EscapeQuery escapes a literal for use inside single quotes in a Drive q= expression
func EscapeQuery(s string) string {
	return queryEscaper.Replace(s)
}
