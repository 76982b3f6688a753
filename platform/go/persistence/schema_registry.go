package persistence

import (
	"fmt"

	sqlassets "github.com/clinicore/clinicore-backend/database"
)

// TableDef describes one expected table of a freshly provisioned clinic
// database. DDL is embedded at build time so binaries stay self-contained.
type TableDef struct {
	Name string
	DDL  string
}

// SeedDef describes one mandatory seed applied after the schema. Each
// statement is idempotent (ON CONFLICT / WHERE NOT EXISTS) so re-seeding a
// repaired database never duplicates rows. ProbeSQL returns a row when the
// seed is already satisfied, letting the repairer re-seed only what is
// missing.
type SeedDef struct {
	Name     string
	Table    string
	SQL      string
	ProbeSQL string
}

// SchemaRegistry is the static description of a clinic database: the full
// table set in dependency order plus mandatory seed rows. Verification and
// repair both diff against it; it has no runtime dependencies.
type SchemaRegistry struct {
	tables []TableDef
	seeds  []SeedDef
}

// NewSchemaRegistry returns the registry for the current base schema.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		// Order matters: tables with foreign keys come after their targets.
		tables: []TableDef{
			{Name: "roles", DDL: sqlassets.RolesSQL},
			{Name: "facilities", DDL: sqlassets.FacilitiesSQL},
			{Name: "users", DDL: sqlassets.UsersSQL},
			{Name: "patients", DDL: sqlassets.PatientsSQL},
			{Name: "appointments", DDL: sqlassets.AppointmentsSQL},
			{Name: "billing_documents", DDL: sqlassets.BillingDocumentsSQL},
			{Name: "consents", DDL: sqlassets.ConsentsSQL},
		},
		seeds: []SeedDef{
			{
				Name:     "default-roles",
				Table:    "roles",
				SQL:      sqlassets.SeedRolesSQL,
				ProbeSQL: "SELECT 1 FROM roles WHERE code = 'admin'",
			},
			{
				Name:     "default-facility",
				Table:    "facilities",
				SQL:      sqlassets.SeedFacilitiesSQL,
				ProbeSQL: "SELECT 1 FROM facilities WHERE is_default",
			},
		},
	}
}

// Tables returns the expected table definitions in creation order.
func (r *SchemaRegistry) Tables() []TableDef {
	out := make([]TableDef, len(r.tables))
	copy(out, r.tables)
	return out
}

// ExpectedTableNames returns the names of all expected tables in creation order.
func (r *SchemaRegistry) ExpectedTableNames() []string {
	names := make([]string, 0, len(r.tables))
	for _, t := range r.tables {
		names = append(names, t.Name)
	}
	return names
}

// DDL returns the creation statement for one table.
func (r *SchemaRegistry) DDL(table string) (string, error) {
	for _, t := range r.tables {
		if t.Name == table {
			return t.DDL, nil
		}
	}
	return "", fmt.Errorf("schema registry: unknown table %q", table)
}

// Seeds returns the mandatory seed definitions.
func (r *SchemaRegistry) Seeds() []SeedDef {
	out := make([]SeedDef, len(r.seeds))
	copy(out, r.seeds)
	return out
}

// HasTable reports whether the registry expects the given table.
func (r *SchemaRegistry) HasTable(table string) bool {
	for _, t := range r.tables {
		if t.Name == table {
			return true
		}
	}
	return false
}
