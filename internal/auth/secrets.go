package auth

import (
	"fmt"
	"os"

	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/spf13/afero"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// BundledOAuthClientID and BundledOAuthClientSecret can be set at build time
// via -ldflags. They are the last fallback when no client is configured.
var (
	BundledOAuthClientID     string
	BundledOAuthClientSecret string
)

// ClientSource describes where the OAuth client comes from
type ClientSource struct {
	CredentialsFile string
	ClientID        string
	ClientSecret    string
}

// LoadClientConfig resolves the OAuth client in order: the downloaded
// credentials.json, an explicit client id/secret, then the bundled client.
func LoadClientConfig(fs afero.Fs, src ClientSource, scopes []string) (*oauth2.Config, error) {
	if src.CredentialsFile != "" {
		data, err := afero.ReadFile(fs, src.CredentialsFile)
		switch {
		case err == nil:
			cfg, err := google.ConfigFromJSON(data, scopes...)
			if err != nil {
				return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthClientInvalid,
					fmt.Sprintf("Cannot parse OAuth client file %s", src.CredentialsFile)).
					WithContext("credentialsFile", src.CredentialsFile).
					Build(), err)
			}
			return cfg, nil
		case !os.IsNotExist(err):
			return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthClientInvalid,
				fmt.Sprintf("Cannot read OAuth client file %s", src.CredentialsFile)).Build(), err)
		}
	}

	clientID, clientSecret := src.ClientID, src.ClientSecret
	if clientID == "" {
		clientID, clientSecret = BundledOAuthClientID, BundledOAuthClientSecret
	}
	if clientID == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthClientMissing,
			"No OAuth client configured. Download credentials.json from the Google Cloud console or set clientId and clientSecret.").
			WithContext("credentialsFile", src.CredentialsFile).
			Build())
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}, nil
}
