package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRowNotFound indicates the requested row does not exist in the tenant table.
var ErrRowNotFound = errors.New("row not found")

// EntityModel is the typed accessor over one logical entity table, bound to a
// specific tenant pool. Route handlers obtain instances through the
// ModelCache; they never build one directly, so the binding between accessor
// and pool stays under the cache's control.
//
// tableName holds the raw registry table (e.g. patients) while tableIdent
// caches the sanitized identifier generated via pgx.Identifier to embed
// safely in SQL strings.
type EntityModel struct {
	pool       *pgxpool.Pool
	tableName  string
	tableIdent string
}

func newEntityModel(pool *pgxpool.Pool, tableName string) *EntityModel {
	return &EntityModel{
		pool:       pool,
		tableName:  tableName,
		tableIdent: pgx.Identifier{tableName}.Sanitize(),
	}
}

// Table returns the logical entity table this model is bound to.
func (m *EntityModel) Table() string {
	return m.tableName
}

// Pool exposes the owning pool, used by the cache to key by pool identity.
func (m *EntityModel) Pool() *pgxpool.Pool {
	return m.pool
}

// Count returns the number of rows in the entity table.
func (m *EntityModel) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := m.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+m.tableIdent).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", m.tableName, err)
	}
	return count, nil
}

// Exists reports whether a row with the given id exists.
func (m *EntityModel) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	query := "SELECT EXISTS (SELECT 1 FROM " + m.tableIdent + " WHERE id = $1)"
	if err := m.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("exists %s: %w", m.tableName, err)
	}
	return exists, nil
}

// Insert writes one row from a column/value map and returns the generated id.
// Column names are restricted to lowercase identifiers and sanitized before
// being embedded in SQL.
func (m *EntityModel) Insert(ctx context.Context, values map[string]any) (uuid.UUID, error) {
	if len(values) == 0 {
		return uuid.Nil, errors.New("insert requires at least one column")
	}

	columns := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	i := 1
	for col, val := range values {
		columns = append(columns, pgx.Identifier{col}.Sanitize())
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		args = append(args, val)
		i++
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		m.tableIdent, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	var id uuid.UUID
	if err := m.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("insert %s: %w", m.tableName, err)
	}
	return id, nil
}

// FindByID loads one row as a column/value map.
func (m *EntityModel) FindByID(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	rows, err := m.pool.Query(ctx, "SELECT * FROM "+m.tableIdent+" WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", m.tableName, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("find %s: %w", m.tableName, err)
		}
		return nil, ErrRowNotFound
	}

	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", m.tableName, err)
	}

	out := make(map[string]any, len(values))
	for i, desc := range rows.FieldDescriptions() {
		out[desc.Name] = values[i]
	}
	return out, nil
}
