package sdk

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/caarlos0/env/v11"
)

// Config holds the settings an SDK instance is constructed with. Each host
// application (provider portal, patient app, admin console) builds its own
// Config; instances never share state.
type Config struct {
	// Issuer is the identity provider's issuer URL used for OIDC discovery.
	Issuer string `env:"PHOTON_ISSUER"`

	// ClientID is this application's OAuth client id at the provider.
	ClientID string `env:"PHOTON_CLIENT_ID"`

	// ClientSecret is optional; public (browser-style) clients leave it empty.
	ClientSecret string `env:"PHOTON_CLIENT_SECRET"`

	// RedirectURI is the callback URL the provider redirects to after login.
	RedirectURI string `env:"PHOTON_REDIRECT_URI"`

	// Endpoint is the clinical API endpoint. All queries and mutations are
	// POSTed to this single URL.
	Endpoint string `env:"PHOTON_ENDPOINT"`

	// OrganizationID scopes the session to one organization. When empty the
	// session binds trivially (single-tenant deployments).
	OrganizationID string `env:"PHOTON_ORG_ID"`

	// TokenType identifies the issuing provider on backend requests so the
	// API can pick a verification strategy. Sent as x-photon-auth-token-type.
	TokenType string `env:"PHOTON_TOKEN_TYPE" envDefault:"auth0"`

	// AutoLogin makes the background refresher run checkSession even before
	// the first successful authentication.
	AutoLogin bool `env:"PHOTON_AUTO_LOGIN"`

	// RefreshInterval is how often the session is re-checked in the
	// background. Deployments tune this to their provider's session TTL.
	RefreshInterval time.Duration `env:"PHOTON_REFRESH_INTERVAL" envDefault:"60s"`

	// RefetchDelay is how long to wait after a successful mutation before
	// re-reading affected queries. It bridges the write/read propagation lag
	// of the clinical API; refetching immediately would usually observe
	// pre-write data.
	RefetchDelay time.Duration `env:"PHOTON_REFETCH_DELAY" envDefault:"1s"`

	// TenantClaim and PermissionsClaim name the access-token claims carrying
	// the organization id and permission strings.
	TenantClaim      string `env:"PHOTON_TENANT_CLAIM" envDefault:"org_id"`
	PermissionsClaim string `env:"PHOTON_PERMISSIONS_CLAIM" envDefault:"permissions"`
}

// ConfigFromEnv loads a Config from PHOTON_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 60 * time.Second
	}
	if c.RefetchDelay <= 0 {
		c.RefetchDelay = time.Second
	}
	if c.TokenType == "" {
		c.TokenType = "auth0"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "org_id"
	}
	if c.PermissionsClaim == "" {
		c.PermissionsClaim = "permissions"
	}
	return nil
}

// Options configures SDK construction beyond Config.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Clock      clock.Clock

	// Provider overrides the OIDC identity provider, used by tests and by
	// hosts with bespoke auth brokers.
	Provider IdentityProvider

	// CredentialStore persists credentials across process restarts. When
	// nil, credentials live in process memory only.
	CredentialStore CredentialStore
}

// Option mutates Options.
type Option func(*Options)

// WithHTTPClient overrides the HTTP client used for provider and backend calls.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *Options) {
		opts.HTTPClient = client
	}
}

// WithLogger overrides the logger. The default discards nothing and writes
// to slog's default handler.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithClock substitutes the wall clock, letting tests drive the background
// refresher and delayed refetches deterministically.
func WithClock(clk clock.Clock) Option {
	return func(opts *Options) {
		opts.Clock = clk
	}
}

// WithIdentityProvider overrides the OIDC provider implementation.
func WithIdentityProvider(p IdentityProvider) Option {
	return func(opts *Options) {
		opts.Provider = p
	}
}

// WithCredentialStore attaches persistent credential storage.
func WithCredentialStore(store CredentialStore) Option {
	return func(opts *Options) {
		opts.CredentialStore = store
	}
}
