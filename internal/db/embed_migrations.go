package db

import "embed"

// MigrationFS embeds the schema for users, refresh_sessions and audit_logs.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
