package tenant

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// DBNamePrefix is the fixed prefix shared by every clinic database, so
// operators (and the diag tooling) can enumerate them with a single
// pg_database LIKE filter.
const DBNamePrefix = "clinic_"

// ShortID returns the first 12 hexadecimal characters of a UUID (without dashes).
func ShortID(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	if len(hex) < 12 {
		return hex
	}
	return hex[:12]
}

// BuildDBName returns the canonical physical database name for a tenant.
// Format: clinic_<first 12 hex chars of the tenant id>. The derivation is
// deterministic so provisioning, integrity checks and cleanup always agree on
// the same name without consulting any mutable state.
func BuildDBName(id uuid.UUID) string {
	return DBNamePrefix + ShortID(id)
}

// IsClinicDBName reports whether name matches the clinic naming convention.
func IsClinicDBName(name string) bool {
	rest, ok := strings.CutPrefix(name, DBNamePrefix)
	if !ok || len(rest) != 12 {
		return false
	}
	for _, r := range rest {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// BuildDSN assembles a connection string for a tenant database from the
// credentials stored on the Tenant Record. The password is escaped but must
// never appear in logs; callers log db_name and host only.
func BuildDSN(host string, port int, user, password, dbName string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port, dbName)
}
