// Package migrations embeds the control-plane store's Postgres schema
// migrations using golang-migrate's embedded iofs source. SQLite deployments
// rely on GORM's AutoMigrate instead (pkg/controlplane/store.New);
// this path only runs against Postgres, where a fleet of control-plane
// replicas needs a single, serialized, advisory-locked schema change rather
// than N processes independently calling AutoMigrate.
package migrations

import "embed"

//go:embed sql/*.sql
var FS embed.FS
