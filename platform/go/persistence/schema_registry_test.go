package persistence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaRegistryExpectedTables(t *testing.T) {
	reg := NewSchemaRegistry()

	names := reg.ExpectedTableNames()
	require.Equal(t, []string{
		"roles", "facilities", "users", "patients",
		"appointments", "billing_documents", "consents",
	}, names)

	for _, name := range names {
		require.True(t, reg.HasTable(name))
		ddl, err := reg.DDL(name)
		require.NoError(t, err)
		require.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS "+name)
	}

	require.False(t, reg.HasTable("invoices"))
	_, err := reg.DDL("invoices")
	require.Error(t, err)
}

func TestSchemaRegistrySeedsAreIdempotentStatements(t *testing.T) {
	reg := NewSchemaRegistry()

	seeds := reg.Seeds()
	require.Len(t, seeds, 2)

	for _, seed := range seeds {
		require.NotEmpty(t, seed.ProbeSQL)
		require.True(t, reg.HasTable(seed.Table), "seed %s targets unknown table", seed.Name)
		idempotent := strings.Contains(seed.SQL, "ON CONFLICT") || strings.Contains(seed.SQL, "WHERE NOT EXISTS")
		require.True(t, idempotent, "seed %s must be re-runnable", seed.Name)
	}
}
