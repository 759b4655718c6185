package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/castellanhq/castellan/internal/token/keyring"
	"github.com/castellanhq/castellan/internal/token/store"
	"github.com/castellanhq/castellan/pkg/cryptox"
)

// InitKeyChain builds the process key chain in the configured storage mode.
//
// Storage modes:
//   - "ephemeral": one key generated at startup, in memory only. Every
//     outstanding self-describing token becomes invalid on restart.
//   - "persistent": key roots stored encrypted under the master key. Tokens
//     survive restarts, and rotation keeps retired keys validating through
//     the grace period.
func InitKeyChain(ctx context.Context, cfg Config, db store.Store, logger *slog.Logger) (*keyring.Chain, error) {
	if cfg.MasterKeyPath != "" {
		cryptox.SetMasterKeyPath(cfg.MasterKeyPath)
		logger.Info("master key path configured", "path", cfg.MasterKeyPath)
	}

	switch cfg.KeyStorageMode {
	case "persistent":
		logger.Info("initializing persistent key chain",
			"grace_period", cfg.KeyGracePeriod,
			"max_key_age", cfg.KeyMaxAge,
		)

		chain, err := keyring.New(ctx, keyring.Options{
			Store:       db.Keys(),
			MaxKeyAge:   cfg.KeyMaxAge,
			GracePeriod: cfg.KeyGracePeriod,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize persistent key chain: %w", err)
		}

		logger.Info("persistent keys loaded",
			"key_ids", chain.KeyIDs(),
			"primary", chain.Primary().ID,
		)
		return chain, nil

	case "ephemeral":
		fallthrough
	default:
		chain, err := keyring.New(ctx, keyring.Options{
			MaxKeyAge:   cfg.KeyMaxAge,
			GracePeriod: cfg.KeyGracePeriod,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ephemeral key chain: %w", err)
		}

		logger.Info("generated ephemeral key", "key_id", chain.Primary().ID)
		logger.Warn("all previously issued signed and encrypted tokens are now invalid")
		return chain, nil
	}
}
