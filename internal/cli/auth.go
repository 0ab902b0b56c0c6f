package cli

import (
	"errors"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/auth"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  "Manage the Google Drive credential scheduled runs use",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with Google Drive",
	Long: `Run the OAuth browser flow and store the resulting token for later runs.

The OAuth client is read from credentialsFile (the credentials.json downloaded
from the Google Cloud console) or from clientId/clientSecret.`,
	RunE: runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Long:  "Display whether a token is stored for the profile and when it expires",
	RunE:  runAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Long:  "Delete the stored token for the current profile",
	RunE:  runAuthLogout,
}

var authNoBrowser bool

func init() {
	authLoginCmd.Flags().BoolVar(&authNoBrowser, "no-browser", false, "Print the consent URL and paste the code instead of opening a browser")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	out := newOutput(cmd, "")

	mgr, err := newAuthManager(cfg, true, interactiveLogin(authNoBrowser))
	if err != nil {
		return err
	}
	if warning := mgr.StorageWarning(); warning != "" {
		out.Log("%s", warning)
	}

	creds, err := auth.InteractiveLogin(cmd.Context(), mgr.OAuthConfig(), auth.InteractiveOptions{
		NoBrowser:   authNoBrowser,
		OpenBrowser: openBrowser,
		In:          cmd.InOrStdin(),
		Out:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired, err.Error()).
			WithContext("profile", cfg.Profile).
			Build(), err)
	}

	if err := mgr.SaveCredentials(cfg.Profile, creds); err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLedgerIO,
			"Authenticated but the token could not be stored").
			WithContext("storage", mgr.StorageName()).
			Build(), err)
	}

	out.Log("Successfully authenticated!")
	return out.WriteSuccess("auth.login", map[string]interface{}{
		"profile":        cfg.Profile,
		"scopes":         creds.Scopes,
		"expiry":         creds.ExpiryDate.Format(time.RFC3339),
		"storageBackend": mgr.StorageName(),
	})
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	out := newOutput(cmd, "")

	mgr, err := newAuthManager(cfg, false, nil)
	if err != nil {
		return err
	}

	creds, err := mgr.LoadCredentials(cfg.Profile)
	if err != nil {
		status := map[string]interface{}{
			"profile":        cfg.Profile,
			"authenticated":  false,
			"storageBackend": mgr.StorageName(),
		}
		if !errors.Is(err, auth.ErrNoCredentials) {
			status["error"] = err.Error()
		}
		return out.WriteSuccess("auth.status", status)
	}

	expired := time.Now().After(creds.ExpiryDate)
	return out.WriteSuccess("auth.status", map[string]interface{}{
		"profile":         cfg.Profile,
		"authenticated":   !expired || creds.RefreshToken != "",
		"scopes":          creds.Scopes,
		"expiry":          creds.ExpiryDate.Format(time.RFC3339),
		"needsRefresh":    mgr.NeedsRefresh(creds),
		"expired":         expired,
		"hasRefreshToken": creds.RefreshToken != "",
		"storageBackend":  mgr.StorageName(),
	})
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	out := newOutput(cmd, "")

	mgr, err := newAuthManager(cfg, false, nil)
	if err != nil {
		return err
	}

	if err := mgr.DeleteCredentials(cfg.Profile); err != nil {
		if errors.Is(err, auth.ErrNoCredentials) {
			return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
				"No credentials found for profile '"+cfg.Profile+"'").Build(), err)
		}
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLedgerIO, err.Error()).
			WithContext("storage", mgr.StorageName()).
			Build(), err)
	}

	out.Log("Credentials removed for profile: %s", cfg.Profile)
	return out.WriteSuccess("auth.logout", map[string]interface{}{
		"profile": cfg.Profile,
		"status":  "logged_out",
	})
}
