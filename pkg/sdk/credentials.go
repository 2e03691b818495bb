package sdk

import "time"

// Credentials represents the authentication credentials issued by the
// identity provider. The SDK holds them in process memory only; persistence
// across restarts is delegated to the host via CredentialStore.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
}

// IsExpired reports whether the access token's lifetime has elapsed.
func (c *Credentials) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// CredentialStore persists credentials between SDK instances. The CLI ships
// a JSON file implementation; embedding hosts typically supply one backed by
// their own secure storage.
type CredentialStore interface {
	SaveCredentials(credentials *Credentials) error
	LoadCredentials() (*Credentials, error)
	DeleteCredentials() error
}
