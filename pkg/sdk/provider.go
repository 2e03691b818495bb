package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"
)

// UserIdentity is an immutable snapshot of the authenticated user, produced
// per successful session check and replaced wholesale, never patched.
type UserIdentity struct {
	SubjectID   string
	DisplayName string
	Email       string
	TenantClaim string
}

// AuthorizeRequest carries the parameters encoded into the provider's
// authorize URL.
type AuthorizeRequest struct {
	// State is the opaque anti-CSRF state parameter.
	State string
	// OrganizationID narrows the provider login to one organization.
	OrganizationID string
	// Invitation is an optional organization invitation ticket.
	Invitation string
}

// IdentityProvider is the boundary to the OIDC identity provider. The
// default implementation speaks to a real provider via OIDC discovery;
// tests and bespoke auth brokers substitute their own.
type IdentityProvider interface {
	// AuthorizeURL builds the redirect-based login URL.
	AuthorizeURL(ctx context.Context, req AuthorizeRequest) (string, error)

	// ExchangeCode trades an authorization code for credentials and the
	// identity asserted by the provider.
	ExchangeCode(ctx context.Context, code string) (*Credentials, *UserIdentity, error)

	// CheckSession validates current credentials, refreshing them when
	// expired. It returns the (possibly renewed) credentials and identity.
	CheckSession(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error)

	// Logout ends the provider-side session. Best effort.
	Logout(ctx context.Context, current *Credentials) error
}

// oidcProvider implements IdentityProvider against any OIDC-compliant
// issuer, discovered from its /.well-known/openid-configuration.
type oidcProvider struct {
	relyingParty rp.RelyingParty
	logger       *slog.Logger
}

func newOIDCProvider(ctx context.Context, cfg Config, httpClient *http.Client, logger *slog.Logger) (*oidcProvider, error) {
	scopes := []string{oidc.ScopeOpenID, oidc.ScopeProfile, oidc.ScopeEmail, oidc.ScopeOfflineAccess}

	relyingParty, err := rp.NewRelyingPartyOIDC(
		ctx,
		cfg.Issuer,
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.RedirectURI,
		scopes,
		rp.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider at %s: %w", cfg.Issuer, err)
	}

	return &oidcProvider{relyingParty: relyingParty, logger: logger}, nil
}

func (p *oidcProvider) AuthorizeURL(ctx context.Context, req AuthorizeRequest) (string, error) {
	opts := []oauth2.AuthCodeOption{}
	if req.OrganizationID != "" {
		opts = append(opts, oauth2.SetAuthURLParam("organization", req.OrganizationID))
	}
	if req.Invitation != "" {
		opts = append(opts, oauth2.SetAuthURLParam("invitation", req.Invitation))
	}
	return p.relyingParty.OAuthConfig().AuthCodeURL(req.State, opts...), nil
}

func (p *oidcProvider) ExchangeCode(ctx context.Context, code string) (*Credentials, *UserIdentity, error) {
	tokens, err := rp.CodeExchange[*oidc.IDTokenClaims](ctx, code, p.relyingParty)
	if err != nil {
		return nil, nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return credentialsFromTokens(tokens), identityFromClaims(tokens.IDTokenClaims), nil
}

func (p *oidcProvider) CheckSession(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error) {
	if current == nil || current.AccessToken == "" {
		return nil, nil, newError(KindSessionExpired, "no session established", nil)
	}

	if !current.IsExpired() {
		identity, err := p.identityFromIDToken(ctx, current.IDToken)
		if err != nil {
			return nil, nil, err
		}
		return current, identity, nil
	}

	if current.RefreshToken == "" {
		return nil, nil, newError(KindSessionExpired, "access token expired and no refresh token available", nil)
	}

	tokens, err := rp.RefreshTokens[*oidc.IDTokenClaims](ctx, p.relyingParty, current.RefreshToken, "", "")
	if err != nil {
		return nil, nil, newError(KindSessionExpired, "token refresh failed", err)
	}

	creds := credentialsFromTokens(tokens)
	if creds.RefreshToken == "" {
		// Providers that do not rotate refresh tokens omit them on refresh.
		creds.RefreshToken = current.RefreshToken
	}
	return creds, identityFromClaims(tokens.IDTokenClaims), nil
}

func (p *oidcProvider) Logout(ctx context.Context, current *Credentials) error {
	if current == nil || current.IDToken == "" {
		return nil
	}
	if _, err := rp.EndSession(ctx, p.relyingParty, current.IDToken, "", "", "", nil); err != nil {
		return fmt.Errorf("end session failed: %w", err)
	}
	return nil
}

// identityFromIDToken verifies the stored ID token and derives the identity
// snapshot from its claims. Verification failures are warned and tolerated:
// the identity only drives client-side display, the API verifies for real.
func (p *oidcProvider) identityFromIDToken(ctx context.Context, idToken string) (*UserIdentity, error) {
	if idToken == "" {
		return &UserIdentity{}, nil
	}
	claims, err := rp.VerifyIDToken[*oidc.IDTokenClaims](ctx, idToken, p.relyingParty.IDTokenVerifier())
	if err != nil {
		p.logger.Warn("id token verification failed", slog.Any("error", err))
		return &UserIdentity{}, nil
	}
	return identityFromClaims(claims), nil
}

func credentialsFromTokens(tokens *oidc.Tokens[*oidc.IDTokenClaims]) *Credentials {
	expiresAt := tokens.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(time.Hour)
	}
	return &Credentials{
		AccessToken:  tokens.AccessToken,
		TokenType:    tokens.TokenType,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    expiresAt,
		IDToken:      tokens.IDToken,
	}
}

func identityFromClaims(claims *oidc.IDTokenClaims) *UserIdentity {
	if claims == nil {
		return &UserIdentity{}
	}
	return &UserIdentity{
		SubjectID:   claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
	}
}
