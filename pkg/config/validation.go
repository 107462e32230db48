package config

import "fmt"

// Validate checks the configuration for inconsistencies that would break the
// engine at runtime.
func Validate(cfg *Config) error {
	if cfg.Engine.Admin == "" {
		return ErrAdminRequired
	}
	if cfg.Engine.MinOracleNodes < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidMinNodes, cfg.Engine.MinOracleNodes)
	}
	if cfg.Server.HTTP.Addr == "" {
		return ErrHTTPAddrRequired
	}
	if cfg.Server.WebSocket.Enabled && cfg.Server.WebSocket.Addr == cfg.Server.HTTP.Addr {
		return fmt.Errorf("%w: %s", ErrAddrConflict, cfg.Server.HTTP.Addr)
	}
	if cfg.Snapshot.Enabled && cfg.Snapshot.Addr == "" {
		return ErrSnapshotAddrRequired
	}
	return nil
}
