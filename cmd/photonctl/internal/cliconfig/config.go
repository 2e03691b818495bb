package cliconfig

import (
	"context"

	"github.com/Photon-Health/client-sub003/cmd/photonctl/internal/client"
)

type contextKey string

const configKey contextKey = "photonctl-config"

// GlobalConfig holds shared configuration for all photonctl commands.
// It is injected into the cobra command context by the root command's
// PersistentPreRun hook and consumed by subcommands.
type GlobalConfig struct {
	NonInteractive bool
	Provider       *client.Provider
}

// Inject adds cfg to the cobra command context.
func Inject(ctx context.Context, cfg *GlobalConfig) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves the config from the command context.
// Returns (nil, false) if the config is not present.
func FromContext(ctx context.Context) (*GlobalConfig, bool) {
	cfg, ok := ctx.Value(configKey).(*GlobalConfig)
	return cfg, ok
}

// MustFromContext retrieves the config or panics. Only for RunE functions,
// where the root command is known to have injected it.
func MustFromContext(ctx context.Context) *GlobalConfig {
	cfg, ok := FromContext(ctx)
	if !ok {
		panic("photonctl: config not found in context - this is a bug in photonctl")
	}
	return cfg
}
