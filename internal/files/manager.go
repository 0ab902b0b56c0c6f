package files

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dl-alexandre/drivepdf/internal/api"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// ChildFields is the file projection used for folder listings
const ChildFields = "id,name,mimeType,size,md5Checksum,createdTime,modifiedTime,parents,trashed,owners(displayName,emailAddress)"

// Manager handles file operations
type Manager struct {
	client *api.Client
	shaper *api.RequestShaper
}

// NewManager creates a new file manager
func NewManager(client *api.Client) *Manager {
	return &Manager{
		client: client,
		shaper: api.NewRequestShaper(client),
	}
}

// UploadOptions configures file upload
type UploadOptions struct {
	ParentID string
	Name     string
	MimeType string
}

// ListOptions configures file listing
type ListOptions struct {
	ParentID  string
	PageSize  int
	PageToken string
	Fields    string
}

// List returns one page of files
func (m *Manager) List(ctx context.Context, reqCtx *types.RequestContext, opts ListOptions) (*types.FileListResult, error) {
	call := m.client.Service().Files.List()
	call = m.shaper.ShapeFilesList(call, reqCtx)

	query := "trashed = false"
	if opts.ParentID != "" {
		query = fmt.Sprintf("'%s' in parents and %s", api.EscapeQuery(opts.ParentID), query)
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, opts.ParentID)
	}
	call = call.Q(query)

	if opts.PageSize > 0 {
		call = call.PageSize(int64(opts.PageSize))
	}
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}
	if opts.Fields != "" {
		call = call.Fields(googleapi.Field("nextPageToken,incompleteSearch,files(" + opts.Fields + ")"))
	}
	call = call.Context(ctx)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.FileList, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}

	files := make([]*types.DriveFile, len(result.Files))
	for i, f := range result.Files {
		files[i] = convertDriveFile(f)
	}

	return &types.FileListResult{
		Files:            files,
		NextPageToken:    result.NextPageToken,
		IncompleteSearch: result.IncompleteSearch,
	}, nil
}

// ListAll follows nextPageToken until the listing is exhausted
func (m *Manager) ListAll(ctx context.Context, reqCtx *types.RequestContext, opts ListOptions) ([]*types.DriveFile, error) {
	var allFiles []*types.DriveFile
	pageToken := opts.PageToken

	for {
		opts.PageToken = pageToken
		result, err := m.List(ctx, reqCtx, opts)
		if err != nil {
			return allFiles, err
		}

		allFiles = append(allFiles, result.Files...)

		if result.NextPageToken == "" {
			break
		}
		pageToken = result.NextPageToken
	}

	return allFiles, nil
}

// ListChildren returns every non-trashed item directly under folderID
func (m *Manager) ListChildren(ctx context.Context, reqCtx *types.RequestContext, folderID string, pageSize int) ([]*types.DriveFile, error) {
	if pageSize <= 0 {
		pageSize = utils.DefaultPageSize
	}
	return m.ListAll(ctx, reqCtx, ListOptions{
		ParentID: folderID,
		PageSize: pageSize,
		Fields:   ChildFields,
	})
}

// Download streams a file's binary content into w
func (m *Manager) Download(ctx context.Context, reqCtx *types.RequestContext, fileID string, w io.Writer) (int64, error) {
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, fileID)

	call := m.client.Service().Files.Get(fileID)
	call = m.shaper.ShapeFilesGet(call, reqCtx)
	call = call.Context(ctx)

	resp, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*http.Response, error) {
		return call.Download()
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeNetworkError,
			fmt.Sprintf("Download interrupted: %s", err)).
			WithRetryable(true).
			WithContext("fileId", fileID).
			Build(), err)
	}
	return n, nil
}

// Copy copies fileID under parentID. An empty name keeps the source name.
func (m *Manager) Copy(ctx context.Context, reqCtx *types.RequestContext, fileID string, name string, parentID string) (*types.DriveFile, error) {
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, fileID)
	if parentID != "" {
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, parentID)
	}

	metadata := &drive.File{}
	if name != "" {
		metadata.Name = name
	}
	if parentID != "" {
		metadata.Parents = []string{parentID}
	}

	call := m.client.Service().Files.Copy(fileID, metadata)
	call = m.shaper.ShapeFilesCopy(call, reqCtx)
	call = call.Fields("id,name,mimeType,size,parents,createdTime").Context(ctx)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}

	return convertDriveFile(result), nil
}

// Delete removes a file permanently, bypassing the trash
func (m *Manager) Delete(ctx context.Context, reqCtx *types.RequestContext, fileID string) error {
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, fileID)

	call := m.client.Service().Files.Delete(fileID)
	call = m.shaper.ShapeFilesDelete(call, reqCtx)
	call = call.Context(ctx)

	_, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (struct{}, error) {
		return struct{}{}, call.Do()
	})
	return err
}

// Upload creates a new file from r. r is rewound before every attempt so
// retried uploads resend the whole body.
func (m *Manager) Upload(ctx context.Context, reqCtx *types.RequestContext, r io.ReadSeeker, opts UploadOptions) (*types.DriveFile, error) {
	if opts.Name == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"Upload requires a file name").Build())
	}

	metadata := &drive.File{Name: opts.Name}
	if opts.ParentID != "" {
		metadata.Parents = []string{opts.ParentID}
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, opts.ParentID)
	}

	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = utils.MimeTypeForName(opts.Name)
	}
	metadata.MimeType = mimeType

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		call := m.client.Service().Files.Create(metadata).
			Media(r, googleapi.ContentType(mimeType), googleapi.ChunkSize(utils.UploadChunkSize))
		call = m.shaper.ShapeFilesCreate(call, reqCtx)
		return call.Fields("id,name,mimeType,size,parents,createdTime").Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	return convertDriveFile(result), nil
}

func convertDriveFile(f *drive.File) *types.DriveFile {
	file := &types.DriveFile{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		MD5Checksum:  f.Md5Checksum,
		CreatedTime:  f.CreatedTime,
		ModifiedTime: f.ModifiedTime,
		Parents:      f.Parents,
		Trashed:      f.Trashed,
	}

	for _, owner := range f.Owners {
		if owner == nil {
			continue
		}
		name := owner.DisplayName
		if name == "" {
			name = owner.EmailAddress
		}
		if name != "" {
			file.Owners = append(file.Owners, name)
		}
	}

	return file
}
