package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore-backend/platform/go/tenant"
)

// PGAdmin implements Admin over a pool connected to the maintenance database
// (usually "postgres") of the tenant host. CREATE/DROP DATABASE cannot run
// inside a transaction, so statements execute directly on the pool.
type PGAdmin struct {
	pool *pgxpool.Pool
}

// NewPGAdmin wraps an administrative pool.
func NewPGAdmin(pool *pgxpool.Pool) *PGAdmin {
	if pool == nil {
		panic("pg admin requires pool")
	}
	return &PGAdmin{pool: pool}
}

// CreateDatabase creates the physical database; an already existing database
// is treated as success so provisioning retries stay idempotent.
func (a *PGAdmin) CreateDatabase(ctx context.Context, name string) error {
	_, err := a.pool.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateDatabase {
			return nil
		}
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

// DropDatabase drops the physical database, disconnecting any remaining
// sessions. Missing databases are a no-op.
func (a *PGAdmin) DropDatabase(ctx context.Context, name string) error {
	_, err := a.pool.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()+" WITH (FORCE)")
	if err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	return nil
}

// DatabaseExists reports whether the named database exists on the server.
func (a *PGAdmin) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := a.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	return exists, nil
}

// ListDatabases enumerates databases following the clinic naming convention.
func (a *PGAdmin) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := a.pool.Query(ctx,
		"SELECT datname FROM pg_database WHERE datname LIKE $1 ORDER BY datname",
		tenant.DBNamePrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if tenant.IsClinicDBName(name) {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

var _ Admin = (*PGAdmin)(nil)

// PGTenantClient implements TenantDBClient with one short-lived direct
// connection per operation.
type PGTenantClient struct {
	connect func(ctx context.Context, dsn string) (*pgx.Conn, error)
}

// NewPGTenantClient builds the default client.
func NewPGTenantClient() *PGTenantClient {
	return &PGTenantClient{connect: pgx.Connect}
}

func (c *PGTenantClient) dial(ctx context.Context, dsn string) (*pgx.Conn, error) {
	conn, err := c.connect(ctx, dsn)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidCatalogName {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseMissing, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDatabaseUnreachable, err)
	}
	return conn, nil
}

func (c *PGTenantClient) ApplyDDL(ctx context.Context, dsn string, statements []string) error {
	conn, err := c.dial(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx) // nolint:errcheck

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (c *PGTenantClient) ListTables(ctx context.Context, dsn string) ([]string, error) {
	conn, err := c.dial(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx) // nolint:errcheck

	rows, err := conn.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (c *PGTenantClient) SeedSatisfied(ctx context.Context, dsn string, probeSQL string) (bool, error) {
	conn, err := c.dial(ctx, dsn)
	if err != nil {
		return false, err
	}
	defer conn.Close(ctx) // nolint:errcheck

	var one int
	if err := conn.QueryRow(ctx, probeSQL).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("seed probe: %w", err)
	}
	return true, nil
}

var _ TenantDBClient = (*PGTenantClient)(nil)
