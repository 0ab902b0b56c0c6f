package cli

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/dl-alexandre/drivepdf/internal/api"
	"github.com/dl-alexandre/drivepdf/internal/auth"
	"github.com/dl-alexandre/drivepdf/internal/config"
	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"golang.org/x/oauth2"
)

// newAuthManager builds the credential manager described by cfg. The OAuth
// client is only resolved when needClient is set; status and logout work
// without one.
func newAuthManager(cfg *config.Config, needClient bool, interactive auth.InteractiveFunc) (*auth.Manager, error) {
	storage, warning, err := auth.NewStorage(appFs, cfg.TokenStorage, cfg.StateDir, cfg.TokenFile)
	if err != nil {
		return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).
			WithContext("tokenStorage", cfg.TokenStorage).
			Build(), err)
	}
	if warning != "" {
		logger.Warn(warning, logging.F("profile", cfg.Profile))
	}

	opts := auth.ManagerOptions{
		Storage:        storage,
		Logger:         logger,
		Interactive:    interactive,
		HTTPClient:     httpClient(cfg),
		StorageWarning: warning,
	}
	if needClient {
		opts.OAuthConfig, err = auth.LoadClientConfig(appFs, auth.ClientSource{
			CredentialsFile: cfg.CredentialsFile,
			ClientID:        cfg.ClientID,
			ClientSecret:    cfg.ClientSecret,
		}, utils.ScopesPipeline)
		if err != nil {
			return nil, err
		}
	}
	return auth.NewManager(opts), nil
}

// interactiveLogin adapts the browser login to the manager's callback
func interactiveLogin(noBrowser bool) auth.InteractiveFunc {
	return func(ctx context.Context, oauthConfig *oauth2.Config) (types.Credentials, error) {
		return auth.InteractiveLogin(ctx, oauthConfig, auth.InteractiveOptions{
			NoBrowser:   noBrowser,
			OpenBrowser: openBrowser,
		})
	}
}

// connect acquires credentials and returns a retrying Drive client
func connect(ctx context.Context, cfg *config.Config, allowInteractive bool) (*api.Client, error) {
	mgr, err := newAuthManager(cfg, true, interactiveLogin(false))
	if err != nil {
		return nil, err
	}

	acq, err := mgr.Acquire(ctx, cfg.Profile, allowInteractive)
	if err != nil {
		return nil, err
	}
	if err := mgr.ValidateScopes(acq.Credentials, utils.ScopesPipeline); err != nil {
		return nil, err
	}

	service, err := mgr.DriveService(ctx, acq.Credentials)
	if err != nil {
		return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInternalError,
			fmt.Sprintf("Failed to create Drive service: %v", err)).Build(), err)
	}
	return api.NewClient(service, cfg.MaxRetries, cfg.RetryBaseDelay, logger), nil
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}
