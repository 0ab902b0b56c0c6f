package folders

import (
	"context"
	"fmt"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/api"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const folderFields = "id,name,mimeType,createdTime,modifiedTime,parents,trashed"

// Manager handles folder operations
type Manager struct {
	client *api.Client
	shaper *api.RequestShaper
}

// NewManager creates a new folder manager
func NewManager(client *api.Client) *Manager {
	return &Manager{
		client: client,
		shaper: api.NewRequestShaper(client),
	}
}

// Create creates a new folder under parentID
func (m *Manager) Create(ctx context.Context, reqCtx *types.RequestContext, name string, parentID string) (*types.DriveFile, error) {
	if parentID != "" {
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, parentID)
	}

	metadata := &drive.File{
		Name:     name,
		MimeType: utils.MimeTypeFolder,
	}
	if parentID != "" {
		metadata.Parents = []string{parentID}
	}

	call := m.client.Service().Files.Create(metadata)
	call = m.shaper.ShapeFilesCreate(call, reqCtx)
	call = call.Fields(folderFields).Context(ctx)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}

	return convertDriveFile(result), nil
}

// FindByName returns the oldest non-trashed folder called name directly under
// parentID, or nil when there is none.
func (m *Manager) FindByName(ctx context.Context, reqCtx *types.RequestContext, parentID string, name string) (*types.DriveFile, error) {
	reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, parentID)

	query := fmt.Sprintf("name = '%s' and mimeType = '%s' and '%s' in parents and trashed = false",
		api.EscapeQuery(name), utils.MimeTypeFolder, api.EscapeQuery(parentID))

	call := m.client.Service().Files.List().Q(query)
	call = m.shaper.ShapeFilesList(call, reqCtx)
	call = call.OrderBy("createdTime").PageSize(1).
		Fields(googleapi.Field("files(" + folderFields + ")")).
		Context(ctx)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.FileList, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}
	if len(result.Files) == 0 {
		return nil, nil
	}
	return convertDriveFile(result.Files[0]), nil
}

// EnsureDateFolder finds or creates the YYYY-MM-DD folder for date under parentID.
// created reports whether a new folder was made.
func (m *Manager) EnsureDateFolder(ctx context.Context, reqCtx *types.RequestContext, parentID string, date time.Time) (folder *types.DriveFile, created bool, err error) {
	name := date.Format(utils.DateFolderLayout)

	existing, err := m.FindByName(ctx, reqCtx, parentID, name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	folder, err = m.Create(ctx, reqCtx, name, parentID)
	if err != nil {
		return nil, false, err
	}
	return folder, true, nil
}

// IsEmpty reports whether folderID has no non-trashed children
func (m *Manager) IsEmpty(ctx context.Context, reqCtx *types.RequestContext, folderID string) (bool, error) {
	reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, folderID)

	query := fmt.Sprintf("'%s' in parents and trashed = false", api.EscapeQuery(folderID))
	call := m.client.Service().Files.List().Q(query)
	call = m.shaper.ShapeFilesList(call, reqCtx)
	call = call.PageSize(1).Fields("files(id)").Context(ctx)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.FileList, error) {
		return call.Do()
	})
	if err != nil {
		return false, err
	}
	return len(result.Files) == 0, nil
}

// Get fetches folder metadata and fails unless folderID is a folder
func (m *Manager) Get(ctx context.Context, reqCtx *types.RequestContext, folderID string) (*types.DriveFile, error) {
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, folderID)

	call := m.client.Service().Files.Get(folderID)
	call = m.shaper.ShapeFilesGet(call, reqCtx)
	call = call.Fields(folderFields).Context(ctx)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}

	if result.MimeType != utils.MimeTypeFolder {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"Not a folder").
			WithContext("id", folderID).
			WithContext("mimeType", result.MimeType).
			Build())
	}

	return convertDriveFile(result), nil
}

func convertDriveFile(f *drive.File) *types.DriveFile {
	return &types.DriveFile{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		CreatedTime:  f.CreatedTime,
		ModifiedTime: f.ModifiedTime,
		Parents:      f.Parents,
		Trashed:      f.Trashed,
	}
}
