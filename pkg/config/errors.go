package config

import "errors"

var (
	// ErrAdminRequired indicates that no admin identity is configured.
	ErrAdminRequired = errors.New("engine.admin is required")
	// ErrInvalidMinNodes indicates a non-positive aggregation threshold.
	ErrInvalidMinNodes = errors.New("engine.min_oracle_nodes must be at least 1")
	// ErrHTTPAddrRequired indicates a missing HTTP listen address.
	ErrHTTPAddrRequired = errors.New("server.http.addr is required")
	// ErrAddrConflict indicates the WebSocket and HTTP listeners share an address.
	ErrAddrConflict = errors.New("websocket and http listeners share an address")
	// ErrSnapshotAddrRequired indicates the snapshot cache is enabled without an address.
	ErrSnapshotAddrRequired = errors.New("snapshot.addr is required when snapshot is enabled")
)
