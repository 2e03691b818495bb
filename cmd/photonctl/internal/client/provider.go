package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Photon-Health/client-sub003/internal/authfile"
	"github.com/Photon-Health/client-sub003/pkg/sdk"
)

// Provider lazily constructs a single SDK instance backed by the file
// credential store. Commands share it so provider discovery and the stored
// credential check run at most once per invocation.
type Provider struct {
	overrides func(cfg *sdk.Config)

	sdkOnce sync.Once
	sdkInst *sdk.SDK
	sdkErr  error

	storeOnce sync.Once
	store     *authfile.FileStore
	storeErr  error
}

// NewProvider constructs a Provider. overrides, when non-nil, adjusts the
// environment-derived config (flag values take precedence over env).
func NewProvider(overrides func(cfg *sdk.Config)) *Provider {
	return &Provider{overrides: overrides}
}

// CredentialStore returns the shared file store.
func (p *Provider) CredentialStore() (*authfile.FileStore, error) {
	p.storeOnce.Do(func() {
		p.store, p.storeErr = authfile.NewFileStore()
	})
	return p.store, p.storeErr
}

// SDK returns the shared SDK instance, constructing it on first use.
func (p *Provider) SDK(ctx context.Context) (*sdk.SDK, error) {
	p.sdkOnce.Do(func() {
		cfg, err := sdk.ConfigFromEnv()
		if err != nil {
			p.sdkErr = err
			return
		}
		if p.overrides != nil {
			p.overrides(&cfg)
		}
		if cfg.Issuer == "" || cfg.ClientID == "" || cfg.Endpoint == "" {
			p.sdkErr = fmt.Errorf("issuer, client id and endpoint are required; set PHOTON_ISSUER, PHOTON_CLIENT_ID and PHOTON_ENDPOINT or the matching flags")
			return
		}

		store, err := p.CredentialStore()
		if err != nil {
			p.sdkErr = err
			return
		}

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		if os.Getenv("PHOTON_DEBUG") == "1" {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}

		p.sdkInst, p.sdkErr = sdk.New(ctx, cfg,
			sdk.WithCredentialStore(store),
			sdk.WithLogger(logger),
		)
	})
	return p.sdkInst, p.sdkErr
}

// Close releases the SDK instance if one was constructed.
func (p *Provider) Close() {
	if p.sdkInst != nil {
		p.sdkInst.Close()
	}
}
