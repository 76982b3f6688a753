package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/clinicore/clinicore-backend/database"
)

// TenantsTable is the tenant registry table on the central database.
const TenantsTable = "tenants"

// ErrTenantRecordNotFound is returned when a tenant record is not found.
var ErrTenantRecordNotFound = errors.New("tenant record not found")

// TenantRecord is the central-database row describing one clinic and the
// coordinates of its physical database. DBPassword is an opaque secret
// reference; it must never be logged.
type TenantRecord struct {
	ID               uuid.UUID  `db:"id"`
	Name             string     `db:"name"`
	Country          string     `db:"country"`
	DBName           string     `db:"db_name"`
	DBHost           string     `db:"db_host"`
	DBPort           int        `db:"db_port"`
	DBUser           string     `db:"db_user"`
	DBPassword       string     `db:"db_password"`
	Provisioned      bool       `db:"provisioned"`
	SetupCompletedAt *time.Time `db:"setup_completed_at"`
	IsActive         bool       `db:"is_active"`
	DeletedAt        *time.Time `db:"deleted_at"`
	CreatedAt        time.Time  `db:"created_at"`
}

const tenantColumns = `id, name, country, db_name, db_host, db_port, db_user, db_password,
        provisioned, setup_completed_at, is_active, deleted_at, created_at`

// TenantStore provides access to the tenants table on the central database.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore creates a store; assumes BootstrapCentralSchema (or
// migrations) already created the table.
func NewTenantStore(pool *pgxpool.Pool) (*TenantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantStore{pool: pool}, nil
}

// BootstrapCentralSchema applies the central registry DDL. The statements are
// idempotent; the helper is intended for CLI bootstrap and tests.
func BootstrapCentralSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap central schema: pool is required")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range splitStatements(sqlassets.CentralTenantsSQL) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply central ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Create inserts a tenant record; the record starts unprovisioned.
func (s *TenantStore) Create(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	if rec.ID == uuid.Nil {
		return TenantRecord{}, errors.New("tenant id is required")
	}
	if rec.DBName == "" {
		return TenantRecord{}, errors.New("db name is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (
            id, name, country, db_name, db_host, db_port, db_user, db_password,
            provisioned, setup_completed_at, is_active, deleted_at, created_at
        ) VALUES (
            $1,$2,$3,$4,$5,$6,$7,$8,FALSE,NULL,TRUE,NULL,$9
        )
        RETURNING %s
    `, TenantsTable, tenantColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.ID, rec.Name, rec.Country, rec.DBName, rec.DBHost, rec.DBPort,
		rec.DBUser, rec.DBPassword, rec.CreatedAt,
	)

	return scanTenantRecord(row)
}

// Get fetches a tenant record by id, including inactive and soft-deleted
// rows; callers decide how to treat those states.
func (s *TenantStore) Get(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, tenantColumns, TenantsTable)
	return scanTenantRecord(s.pool.QueryRow(ctx, query, id))
}

// List returns all tenant records ordered by creation time, newest first.
// Soft-deleted rows are included only when includeDeleted is set; the diag
// tooling needs them to explain orphaned physical databases.
func (s *TenantStore) List(ctx context.Context, includeDeleted bool) ([]TenantRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s`, tenantColumns, TenantsTable)
	if !includeDeleted {
		query += " WHERE deleted_at IS NULL"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TenantRecord
	for rows.Next() {
		rec, err := scanTenantRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetProvisioned flips the provisioned flag. When turning the flag on,
// setup_completed_at is stamped; when turning it off it is cleared so a
// retried provisioning starts clean.
func (s *TenantStore) SetProvisioned(ctx context.Context, id uuid.UUID, provisioned bool, completedAt time.Time) error {
	var tag string
	var args []any
	if provisioned {
		tag = fmt.Sprintf("UPDATE %s SET provisioned = TRUE, setup_completed_at = $2 WHERE id = $1", TenantsTable)
		args = []any{id, completedAt}
	} else {
		tag = fmt.Sprintf("UPDATE %s SET provisioned = FALSE, setup_completed_at = NULL WHERE id = $1", TenantsTable)
		args = []any{id}
	}

	res, err := s.pool.Exec(ctx, tag, args...)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrTenantRecordNotFound
	}
	return nil
}

// Deactivate disables a tenant without deleting it; soft delete stamps deleted_at too.
func (s *TenantStore) Deactivate(ctx context.Context, id uuid.UUID, softDelete bool) error {
	query := fmt.Sprintf("UPDATE %s SET is_active = FALSE WHERE id = $1", TenantsTable)
	if softDelete {
		query = fmt.Sprintf("UPDATE %s SET is_active = FALSE, deleted_at = now() WHERE id = $1", TenantsTable)
	}

	res, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrTenantRecordNotFound
	}
	return nil
}

func scanTenantRecord(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	if err := row.Scan(
		&rec.ID, &rec.Name, &rec.Country, &rec.DBName, &rec.DBHost, &rec.DBPort,
		&rec.DBUser, &rec.DBPassword, &rec.Provisioned, &rec.SetupCompletedAt,
		&rec.IsActive, &rec.DeletedAt, &rec.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantRecord{}, ErrTenantRecordNotFound
		}
		return TenantRecord{}, err
	}
	return rec, nil
}

// splitStatements breaks an embedded SQL asset into individual statements.
// Good enough for our DDL files, which never contain literal semicolons.
func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	statements := make([]string, 0, len(raw))
	for _, stmt := range raw {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
