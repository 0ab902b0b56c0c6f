package types

// DriveFile represents a Google Drive file
type DriveFile struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	Size         int64    `json:"size,omitempty"`
	MD5Checksum  string   `json:"md5Checksum,omitempty"`
	CreatedTime  string   `json:"createdTime,omitempty"`
	ModifiedTime string   `json:"modifiedTime,omitempty"`
	Parents      []string `json:"parents,omitempty"`
	Owners       []string `json:"owners,omitempty"`
	Trashed      bool     `json:"trashed,omitempty"`
}

// FileListResult represents paginated file list response
type FileListResult struct {
	Files            []*DriveFile `json:"files"`
	NextPageToken    string       `json:"nextPageToken,omitempty"`
	IncompleteSearch bool         `json:"incompleteSearch,omitempty"`
}

// OwnerName returns the display name of the first owner, or "unknown"
func (f *DriveFile) OwnerName() string {
	if f == nil || len(f.Owners) == 0 || f.Owners[0] == "" {
		return "unknown"
	}
	return f.Owners[0]
}
