package provisioning

import (
	"context"
	"errors"
)

// Sentinel classifications for direct tenant-database access. They let the
// integrity checker report a missing or unreachable database as structured
// state instead of raising.
var (
	// ErrDatabaseMissing means the physical database does not exist on the server.
	ErrDatabaseMissing = errors.New("tenant database does not exist")
	// ErrDatabaseUnreachable means the server or database could not be reached.
	ErrDatabaseUnreachable = errors.New("tenant database unreachable")
)

// Admin abstracts server-level operations performed through the
// administrative connection (maintenance database on the tenant host).
type Admin interface {
	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
	DatabaseExists(ctx context.Context, name string) (bool, error)
	// ListDatabases returns all databases matching the clinic naming convention.
	ListDatabases(ctx context.Context) ([]string, error)
}

// TenantDBClient performs operations directly against one tenant database,
// bypassing any cached pool so connection-level failures surface unmasked.
type TenantDBClient interface {
	// ApplyDDL executes statements inside a single transaction.
	ApplyDDL(ctx context.Context, dsn string, statements []string) error
	// ListTables returns the base tables of the public schema. A missing
	// database yields ErrDatabaseMissing; a dial failure ErrDatabaseUnreachable.
	ListTables(ctx context.Context, dsn string) ([]string, error)
	// SeedSatisfied runs a seed probe; false means the seed must be (re)applied.
	SeedSatisfied(ctx context.Context, dsn string, probeSQL string) (bool, error)
}
