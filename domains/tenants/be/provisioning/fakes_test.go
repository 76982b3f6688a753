package provisioning

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeCluster simulates a Postgres server for provisioning tests: a set of
// named databases, each with its table set, seed state and rows. It
// implements both Admin and TenantDBClient.
type fakeCluster struct {
	mu        sync.Mutex
	databases map[string]*fakeDatabase

	createCalls int
	dropCalls   int

	// failure injection
	failCreate        error
	failDDLContaining string
	// transient ListTables failures, consumed one per call
	listTablesFailures int
	// artificial latency before CreateDatabase takes effect
	createDelay time.Duration
}

type fakeDatabase struct {
	tables map[string]bool
	seeds  map[string]bool
	rows   map[string][]string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{databases: make(map[string]*fakeDatabase)}
}

func (c *fakeCluster) CreateDatabase(_ context.Context, name string) error {
	if c.createDelay > 0 {
		time.Sleep(c.createDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.failCreate != nil {
		return c.failCreate
	}
	if _, ok := c.databases[name]; ok {
		return nil
	}
	c.databases[name] = &fakeDatabase{
		tables: make(map[string]bool),
		seeds:  make(map[string]bool),
		rows:   make(map[string][]string),
	}
	return nil
}

func (c *fakeCluster) DropDatabase(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropCalls++
	delete(c.databases, name)
	return nil
}

func (c *fakeCluster) DatabaseExists(_ context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.databases[name]
	return ok, nil
}

func (c *fakeCluster) ListDatabases(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for name := range c.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *fakeCluster) ApplyDDL(_ context.Context, dsn string, statements []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, ok := c.databases[dbNameFromDSN(dsn)]
	if !ok {
		return ErrDatabaseMissing
	}

	// Statements run in one transaction: validate the whole batch before
	// applying any of it.
	if c.failDDLContaining != "" {
		for _, stmt := range statements {
			if strings.Contains(stmt, c.failDDLContaining) {
				return ErrDatabaseUnreachable
			}
		}
	}

	for _, stmt := range statements {
		switch {
		case strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS "):
			name := tableNameFromDDL(stmt)
			if !db.tables[name] {
				db.tables[name] = true
				db.rows[name] = nil
			}
		case strings.Contains(stmt, "INSERT INTO roles"):
			db.seeds["roles"] = true
		case strings.Contains(stmt, "INSERT INTO facilities"):
			db.seeds["facilities"] = true
		}
	}
	return nil
}

func (c *fakeCluster) ListTables(_ context.Context, dsn string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listTablesFailures > 0 {
		c.listTablesFailures--
		return nil, ErrDatabaseUnreachable
	}

	db, ok := c.databases[dbNameFromDSN(dsn)]
	if !ok {
		return nil, ErrDatabaseMissing
	}

	var names []string
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *fakeCluster) SeedSatisfied(_ context.Context, dsn string, probeSQL string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, ok := c.databases[dbNameFromDSN(dsn)]
	if !ok {
		return false, ErrDatabaseMissing
	}
	switch {
	case strings.Contains(probeSQL, "FROM roles"):
		return db.seeds["roles"], nil
	case strings.Contains(probeSQL, "FROM facilities"):
		return db.seeds["facilities"], nil
	}
	return false, nil
}

// dropTable simulates out-of-band table loss.
func (c *fakeCluster) dropTable(dbName, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.databases[dbName]; ok {
		delete(db.tables, table)
		delete(db.rows, table)
	}
}

// clearSeed simulates out-of-band loss of mandatory seed rows.
func (c *fakeCluster) clearSeed(dbName, seed string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.databases[dbName]; ok {
		db.seeds[seed] = false
	}
}

func (c *fakeCluster) insertRow(dbName, table, row string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.databases[dbName]; ok {
		db.rows[table] = append(db.rows[table], row)
	}
}

func (c *fakeCluster) tableRows(dbName, table string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.databases[dbName]; ok {
		return append([]string(nil), db.rows[table]...)
	}
	return nil
}

func (c *fakeCluster) databaseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.databases)
}

func dbNameFromDSN(dsn string) string {
	name := dsn[strings.LastIndex(dsn, "/")+1:]
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return name
}

func tableNameFromDDL(stmt string) string {
	rest := stmt[strings.Index(stmt, "CREATE TABLE IF NOT EXISTS ")+len("CREATE TABLE IF NOT EXISTS "):]
	end := strings.IndexAny(rest, " (\n")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

var (
	_ Admin          = (*fakeCluster)(nil)
	_ TenantDBClient = (*fakeCluster)(nil)
)
