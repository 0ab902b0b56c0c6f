package mocks

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/files"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
)

// FakeDrive is an in-memory Drive collaborator. Each operation can be
// overridden through its Func field; Calls counts invocations per operation.
type FakeDrive struct {
	mu      sync.Mutex
	files   map[string]*types.DriveFile
	content map[string][]byte
	order   []string
	nextID  int

	ListChildrenFunc     func(folderID string) ([]*types.DriveFile, error)
	CopyFunc             func(fileID, name, parentID string) (*types.DriveFile, error)
	DownloadFunc         func(fileID string, w io.Writer) (int64, error)
	DeleteFunc           func(fileID string) error
	GetFolderFunc        func(folderID string) (*types.DriveFile, error)
	UploadFunc           func(name, parentID string, body []byte) (*types.DriveFile, error)
	EnsureDateFolderFunc func(parentID string, date time.Time) (*types.DriveFile, bool, error)

	Calls map[string]int
}

// NewFakeDrive returns an empty fake
func NewFakeDrive() *FakeDrive {
	return &FakeDrive{
		files:   make(map[string]*types.DriveFile),
		content: make(map[string][]byte),
		Calls:   make(map[string]int),
	}
}

// Add stores a file under parentID and returns it
func (d *FakeDrive) Add(parentID string, f *types.DriveFile, content []byte) *types.DriveFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addLocked(parentID, f, content)
}

func (d *FakeDrive) addLocked(parentID string, f *types.DriveFile, content []byte) *types.DriveFile {
	if f.ID == "" {
		d.nextID++
		f.ID = fmt.Sprintf("fake-%d", d.nextID)
	}
	if parentID != "" {
		f.Parents = []string{parentID}
	}
	if content != nil {
		d.content[f.ID] = append([]byte(nil), content...)
		f.Size = int64(len(content))
	}
	if _, ok := d.files[f.ID]; !ok {
		d.order = append(d.order, f.ID)
	}
	d.files[f.ID] = f
	return f
}

// Children returns the names of files under parentID in insertion order
func (d *FakeDrive) Children(parentID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var names []string
	for _, f := range d.childrenLocked(parentID) {
		names = append(names, f.Name)
	}
	return names
}

// Content returns the bytes stored for fileID
func (d *FakeDrive) Content(fileID string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content[fileID]
}

// Exists reports whether fileID is still stored
func (d *FakeDrive) Exists(fileID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.files[fileID]
	return ok
}

// CallCount returns how often op was invoked
func (d *FakeDrive) CallCount(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Calls[op]
}

func (d *FakeDrive) childrenLocked(parentID string) []*types.DriveFile {
	var out []*types.DriveFile
	for _, id := range d.order {
		f, ok := d.files[id]
		if !ok || f.Trashed {
			continue
		}
		for _, p := range f.Parents {
			if p == parentID {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func (d *FakeDrive) ListChildren(ctx context.Context, reqCtx *types.RequestContext, folderID string, pageSize int) ([]*types.DriveFile, error) {
	d.mu.Lock()
	d.Calls["ListChildren"]++
	fn := d.ListChildrenFunc
	d.mu.Unlock()
	if fn != nil {
		return fn(folderID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*types.DriveFile
	for _, f := range d.childrenLocked(folderID) {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (d *FakeDrive) Copy(ctx context.Context, reqCtx *types.RequestContext, fileID, name, parentID string) (*types.DriveFile, error) {
	d.mu.Lock()
	d.Calls["Copy"]++
	fn := d.CopyFunc
	d.mu.Unlock()
	if fn != nil {
		return fn(fileID, name, parentID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	src, ok := d.files[fileID]
	if !ok {
		return nil, notFound(fileID)
	}
	if name == "" {
		name = src.Name
	}
	cp := &types.DriveFile{Name: name, MimeType: src.MimeType, Owners: src.Owners}
	return d.addLocked(parentID, cp, d.content[fileID]), nil
}

func (d *FakeDrive) Download(ctx context.Context, reqCtx *types.RequestContext, fileID string, w io.Writer) (int64, error) {
	d.mu.Lock()
	d.Calls["Download"]++
	fn := d.DownloadFunc
	d.mu.Unlock()
	if fn != nil {
		return fn(fileID, w)
	}

	d.mu.Lock()
	_, ok := d.files[fileID]
	body := d.content[fileID]
	d.mu.Unlock()
	if !ok {
		return 0, notFound(fileID)
	}
	n, err := w.Write(body)
	return int64(n), err
}

func (d *FakeDrive) Delete(ctx context.Context, reqCtx *types.RequestContext, fileID string) error {
	d.mu.Lock()
	d.Calls["Delete"]++
	fn := d.DeleteFunc
	d.mu.Unlock()
	if fn != nil {
		return fn(fileID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[fileID]; !ok {
		return notFound(fileID)
	}
	delete(d.files, fileID)
	delete(d.content, fileID)
	return nil
}

// AddFolder stores a folder with a fixed ID and no parent
func (d *FakeDrive) AddFolder(id, name string) *types.DriveFile {
	return d.Add("", &types.DriveFile{ID: id, Name: name, MimeType: utils.MimeTypeFolder}, nil)
}

func (d *FakeDrive) Get(ctx context.Context, reqCtx *types.RequestContext, folderID string) (*types.DriveFile, error) {
	d.mu.Lock()
	d.Calls["Get"]++
	fn := d.GetFolderFunc
	d.mu.Unlock()
	if fn != nil {
		return fn(folderID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[folderID]
	if !ok || f.Trashed {
		return nil, notFound(folderID)
	}
	if f.MimeType != utils.MimeTypeFolder {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, "Not a folder").
			WithContext("id", folderID).
			Build())
	}
	cp := *f
	return &cp, nil
}

// IsEmpty goes through ListChildrenFunc when it is set
func (d *FakeDrive) IsEmpty(ctx context.Context, reqCtx *types.RequestContext, folderID string) (bool, error) {
	d.mu.Lock()
	d.Calls["IsEmpty"]++
	fn := d.ListChildrenFunc
	d.mu.Unlock()
	if fn != nil {
		children, err := fn(folderID)
		if err != nil {
			return false, err
		}
		return len(children) == 0, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.childrenLocked(folderID)) == 0, nil
}

func (d *FakeDrive) Upload(ctx context.Context, reqCtx *types.RequestContext, r io.ReadSeeker, opts files.UploadOptions) (*types.DriveFile, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.Calls["Upload"]++
	fn := d.UploadFunc
	d.mu.Unlock()
	if fn != nil {
		return fn(opts.Name, opts.ParentID, body)
	}

	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = utils.MimeTypeForName(opts.Name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addLocked(opts.ParentID, &types.DriveFile{Name: opts.Name, MimeType: mimeType}, body), nil
}

func (d *FakeDrive) EnsureDateFolder(ctx context.Context, reqCtx *types.RequestContext, parentID string, date time.Time) (*types.DriveFile, bool, error) {
	d.mu.Lock()
	d.Calls["EnsureDateFolder"]++
	fn := d.EnsureDateFolderFunc
	d.mu.Unlock()
	if fn != nil {
		return fn(parentID, date)
	}

	name := date.Format(utils.DateFolderLayout)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.childrenLocked(parentID) {
		if f.Name == name && f.MimeType == utils.MimeTypeFolder {
			return f, false, nil
		}
	}
	folder := d.addLocked(parentID, &types.DriveFile{Name: name, MimeType: utils.MimeTypeFolder}, nil)
	return folder, true, nil
}

func notFound(fileID string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound, "File not found").
		WithHTTPStatus(404).
		WithContext("fileId", fileID).
		Build())
}
