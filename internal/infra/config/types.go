package config

import "strings"

// Environment identifies the runtime environment where the ledger operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Backend selects the ledger store implementation.
type Backend string

const (
	// BackendPostgres stores the ledger in PostgreSQL.
	BackendPostgres Backend = "postgres"
	// BackendBadger stores the ledger in an embedded badger database.
	BackendBadger Backend = "badger"
)

func normalizeIdentifier(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
