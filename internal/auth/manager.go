// Package auth acquires the OAuth credential a run uses: it loads the stored
// token, refreshes it when it is about to expire, and falls back to an
// interactive login, persisting whatever it obtained for later runs.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/dl-alexandre/drivepdf/pkg/version"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	serviceName        = "drivepdf"
	tokenRefreshBuffer = 5 * time.Minute
)

// State is a step of the credential acquisition machine
type State string

const (
	StateLoadStored  State = "load_stored"
	StateRefresh     State = "refresh"
	StateInteractive State = "interactive"
	StatePersist     State = "persist"
	StateDone        State = "done"
)

// InteractiveFunc obtains fresh credentials from the user
type InteractiveFunc func(ctx context.Context, config *oauth2.Config) (types.Credentials, error)

// ManagerOptions configures a Manager
type ManagerOptions struct {
	Storage     StorageBackend
	OAuthConfig *oauth2.Config
	Clock       clockwork.Clock
	Logger      logging.Logger
	Interactive InteractiveFunc
	// HTTPClient carries token and API traffic; nil uses http.DefaultClient
	HTTPClient     *http.Client
	StorageWarning string
}

// Manager handles authentication operations
type Manager struct {
	storage        StorageBackend
	oauthConfig    *oauth2.Config
	clock          clockwork.Clock
	logger         logging.Logger
	interactive    InteractiveFunc
	httpClient     *http.Client
	storageWarning string
}

// Acquisition is the outcome of Acquire
type Acquisition struct {
	Credentials types.Credentials
	// Source is the state that produced the credentials
	Source State
	// Path lists every state visited, ending in StateDone
	Path []State
}

// NewManager creates a new auth manager
func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	return &Manager{
		storage:        opts.Storage,
		oauthConfig:    opts.OAuthConfig,
		clock:          opts.Clock,
		logger:         opts.Logger,
		interactive:    opts.Interactive,
		httpClient:     opts.HTTPClient,
		storageWarning: opts.StorageWarning,
	}
}

// OAuthConfig returns the OAuth2 client configuration
func (m *Manager) OAuthConfig() *oauth2.Config {
	return m.oauthConfig
}

// StorageName returns the name of the storage backend being used
func (m *Manager) StorageName() string {
	return m.storage.Name()
}

// StorageWarning returns any warning about the chosen storage backend
func (m *Manager) StorageWarning() string {
	return m.storageWarning
}

// Acquire returns usable credentials for profile. Stored credentials are
// used as-is while valid, refreshed when close to expiry, and replaced by an
// interactive login when absent or unrefreshable. Interactive login only
// happens when allowInteractive is set; otherwise that path fails.
func (m *Manager) Acquire(ctx context.Context, profile string, allowInteractive bool) (Acquisition, error) {
	var acq Acquisition
	var creds types.Credentials
	hadStored := false
	state := StateLoadStored

	for state != StateDone {
		acq.Path = append(acq.Path, state)
		m.logger.Debug("Credential state", logging.F("state", string(state)), logging.F("profile", profile))

		switch state {
		case StateLoadStored:
			stored, err := m.LoadCredentials(profile)
			switch {
			case err == nil:
				hadStored = true
				if !m.NeedsRefresh(stored) {
					creds, acq.Source, state = stored, StateLoadStored, StateDone
				} else if stored.RefreshToken != "" {
					creds, state = stored, StateRefresh
				} else {
					m.logger.Warn("Stored token expired and has no refresh token", logging.F("profile", profile))
					state = StateInteractive
				}
			case errors.Is(err, ErrNoCredentials):
				state = StateInteractive
			default:
				m.logger.Warn("Stored credentials are unreadable",
					logging.F("profile", profile),
					logging.F("error", err.Error()),
				)
				state = StateInteractive
			}

		case StateRefresh:
			refreshed, err := m.RefreshCredentials(ctx, creds)
			if err != nil {
				m.logger.Warn("Token refresh failed",
					logging.F("profile", profile),
					logging.F("error", err.Error()),
				)
				state = StateInteractive
				continue
			}
			creds, acq.Source, state = refreshed, StateRefresh, StatePersist

		case StateInteractive:
			if !allowInteractive {
				code, msg := utils.ErrCodeAuthRequired, "No credentials found. Run 'drivepdf auth login' first."
				if hadStored {
					code, msg = utils.ErrCodeAuthExpired, "Stored credentials expired and could not be refreshed. Run 'drivepdf auth login' to re-authenticate."
				}
				return acq, utils.NewAppError(utils.NewCLIError(code, msg).
					WithContext("profile", profile).
					WithContext("storage", m.storage.Name()).
					Build())
			}
			if m.oauthConfig == nil || m.interactive == nil {
				return acq, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthClientMissing,
					"No OAuth client configured for interactive login").Build())
			}
			obtained, err := m.interactive(m.tokenContext(ctx), m.oauthConfig)
			if err != nil {
				return acq, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
					fmt.Sprintf("Interactive login failed: %s", err)).
					WithContext("profile", profile).
					Build(), err)
			}
			creds, acq.Source, state = obtained, StateInteractive, StatePersist

		case StatePersist:
			if err := m.SaveCredentials(profile, creds); err != nil {
				m.logger.Warn("Could not persist credentials; the next run will need to authenticate again",
					logging.F("profile", profile),
					logging.F("storage", m.storage.Name()),
					logging.F("error", err.Error()),
				)
			}
			state = StateDone
		}
	}

	acq.Path = append(acq.Path, StateDone)
	acq.Credentials = creds
	m.logger.Info("Credentials ready",
		logging.F("profile", profile),
		logging.F("source", string(acq.Source)),
		logging.F("expiry", creds.ExpiryDate.Format(time.RFC3339)),
	)
	return acq, nil
}

// LoadCredentials loads stored credentials for a profile
func (m *Manager) LoadCredentials(profile string) (types.Credentials, error) {
	data, err := m.storage.Load(profile)
	if err != nil {
		return types.Credentials{}, err
	}

	var stored types.StoredCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return types.Credentials{}, fmt.Errorf("failed to parse credentials: %w", err)
	}

	var expiry time.Time
	if stored.ExpiryDate != "" {
		expiry, err = time.Parse(time.RFC3339, stored.ExpiryDate)
		if err != nil {
			return types.Credentials{}, fmt.Errorf("invalid expiry date: %w", err)
		}
	}

	authType := stored.Type
	if authType == "" {
		authType = types.AuthTypeOAuth
	}
	return types.Credentials{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		ExpiryDate:   expiry,
		Scopes:       stored.Scopes,
		Type:         authType,
	}, nil
}

// SaveCredentials saves credentials for a profile
func (m *Manager) SaveCredentials(profile string, creds types.Credentials) error {
	stored := types.StoredCredentials{
		Profile:      profile,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		Scopes:       creds.Scopes,
		Type:         creds.Type,
	}
	if !creds.ExpiryDate.IsZero() {
		stored.ExpiryDate = creds.ExpiryDate.UTC().Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return m.storage.Save(profile, data)
}

// DeleteCredentials removes credentials for a profile
func (m *Manager) DeleteCredentials(profile string) error {
	return m.storage.Delete(profile)
}

// NeedsRefresh reports whether creds expire within the refresh buffer
func (m *Manager) NeedsRefresh(creds types.Credentials) bool {
	return !creds.Valid(m.clock.Now().Add(tokenRefreshBuffer))
}

// RefreshCredentials exchanges the refresh token for a new access token
func (m *Manager) RefreshCredentials(ctx context.Context, creds types.Credentials) (types.Credentials, error) {
	if m.oauthConfig == nil {
		return types.Credentials{}, fmt.Errorf("OAuth config not set")
	}
	if creds.RefreshToken == "" {
		return types.Credentials{}, fmt.Errorf("no refresh token")
	}

	// An empty access token forces the token source to refresh
	source := m.oauthConfig.TokenSource(m.tokenContext(ctx), &oauth2.Token{RefreshToken: creds.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return types.Credentials{}, fmt.Errorf("failed to refresh token: %w", err)
	}

	refreshed := credentialsFromToken(token, creds.Scopes)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = creds.RefreshToken
	}
	return refreshed, nil
}

// ValidateScopes checks that creds carry every required scope. Credentials
// with no recorded scopes are accepted.
func (m *Manager) ValidateScopes(creds types.Credentials, required []string) error {
	if len(creds.Scopes) == 0 {
		return nil
	}
	scopeSet := make(map[string]bool, len(creds.Scopes))
	for _, s := range creds.Scopes {
		scopeSet[s] = true
	}
	for _, req := range required {
		if !scopeSet[req] {
			return utils.NewAppError(utils.NewCLIError(utils.ErrCodeScopeInsufficient,
				fmt.Sprintf("Missing required scope: %s. Re-authenticate with 'drivepdf auth login'.", req)).Build())
		}
	}
	return nil
}

// HTTPClient returns a client that authorizes requests with creds and
// refreshes the access token in memory when it expires mid-run
func (m *Manager) HTTPClient(ctx context.Context, creds types.Credentials) *http.Client {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		Expiry:       creds.ExpiryDate,
	}
	ctx = m.tokenContext(ctx)
	if m.oauthConfig == nil {
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	}
	return m.oauthConfig.Client(ctx, token)
}

// DriveService builds the Drive v3 service for creds
func (m *Manager) DriveService(ctx context.Context, creds types.Credentials) (*drive.Service, error) {
	return drive.NewService(ctx,
		option.WithHTTPClient(m.HTTPClient(ctx, creds)),
		option.WithUserAgent(version.Get().UserAgent()),
	)
}

func (m *Manager) tokenContext(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}
