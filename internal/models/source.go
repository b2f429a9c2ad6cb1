// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package models

import "fmt"

// SourceIdentity identifies one remote game server reachable over SFTP.
// It is created when a server is registered in configuration and treated as
// immutable while ingestion for it is running.
type SourceIdentity struct {
	// ID is the operator-assigned source identifier, unique per deployment.
	ID string `json:"id"`

	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`

	// Password authenticates the SFTP session. Key-based auth uses
	// PrivateKeyPath instead; when both are set the key wins.
	Password       string `json:"-"`
	PrivateKeyPath string `json:"-"`

	// BasePath is the remote directory under which kill logs are discovered.
	BasePath string `json:"base_path"`
}

// PoolKey returns the connection pool key for this identity. Sessions are
// shared across sources that point at the same host, port and user.
func (s SourceIdentity) PoolKey() string {
	return fmt.Sprintf("%s:%d:%s", s.Host, s.Port, s.Username)
}

// Addr returns the dialable host:port address.
func (s SourceIdentity) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
