package pipeline

import (
	"context"
	"fmt"

	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
)

// FolderCheck pairs a configuration key with the folder ID it holds
type FolderCheck struct {
	Key string
	ID  string
}

// VerifyFolders fails with INVALID_CONFIG when a configured ID does not name
// a folder the credential can see. Empty IDs are skipped; auth and network
// failures are returned unchanged.
func VerifyFolders(ctx context.Context, getter FolderGetter, reqCtx *types.RequestContext, checks ...FolderCheck) error {
	for _, check := range checks {
		if check.ID == "" {
			continue
		}
		_, err := getter.Get(ctx, reqCtx, check.ID)
		if err == nil {
			continue
		}
		switch utils.ErrorCode(err) {
		case utils.ErrCodeFileNotFound, utils.ErrCodePermissionDenied, utils.ErrCodeInvalidArgument:
			return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig,
				fmt.Sprintf("%s %s is not an accessible folder: %s", check.Key, check.ID, utils.ToCLIError(err).Message)).
				WithContext(check.Key, check.ID).
				Build(), err)
		}
		return err
	}
	return nil
}

func (p *Pipeline) folderChecks() []FolderCheck {
	return []FolderCheck{
		{Key: "sourceFolderId", ID: p.cfg.SourceFolderID},
		{Key: "destinationFolderId", ID: p.cfg.DestinationFolderID},
		{Key: "archiveFolderId", ID: p.cfg.ArchiveFolderID},
	}
}
