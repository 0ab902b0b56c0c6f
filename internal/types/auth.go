package types

import "time"

// AuthType identifies how credentials were obtained
type AuthType string

const (
	AuthTypeOAuth AuthType = "oauth"
)

// Credentials is an OAuth token set for one profile.
// Values are handed out by copy; callers never mutate stored state through them.
type Credentials struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"tokenType,omitempty"`
	ExpiryDate   time.Time `json:"expiryDate"`
	Scopes       []string  `json:"scopes"`
	Type         AuthType  `json:"type"`
}

// Valid reports whether the access token can be used at the given instant
func (c Credentials) Valid(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiryDate.IsZero() {
		return true
	}
	return now.Before(c.ExpiryDate)
}

// StoredCredentials is the persisted form of Credentials
type StoredCredentials struct {
	Profile      string   `json:"profile"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	TokenType    string   `json:"token_type,omitempty"`
	ExpiryDate   string   `json:"expiry"`
	Scopes       []string `json:"scopes,omitempty"`
	Type         AuthType `json:"type"`
}
