package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDB_CreatesParentDirAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "releaseintel.db")

	db, err := NewDB(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, path, db.Path())
	require.NoError(t, RunMigrations(db.Writer))
	// A second run is a no-op.
	require.NoError(t, RunMigrations(db.Writer))

	_, err = os.Stat(path)
	assert.NoError(t, err)

	var mode string
	require.NoError(t, db.Reader.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.Reader.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "releaseintel.db")
	db, err := NewDB(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	version, dirty, err := SchemaVersion(db.Writer)
	require.NoError(t, err)
	assert.Zero(t, version, "fresh database")
	assert.False(t, dirty)

	require.NoError(t, RunMigrations(db.Writer))

	version, dirty, err = SchemaVersion(db.Writer)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	var table string
	require.NoError(t, db.Reader.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", migrationsTable,
	).Scan(&table))
	assert.Equal(t, "releaseintel_schema_migrations", table)
}

func TestRunMigrations_ReportsVersionOnFailure(t *testing.T) {
	db := setupTestDB(t)

	// Mark the schema as half-applied; migrate refuses to run on a dirty schema.
	_, err := db.Writer.Exec("UPDATE "+migrationsTable+" SET dirty = 1")
	require.NoError(t, err)

	err = RunMigrations(db.Writer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at version 1, dirty=true")
}

func TestDataSourceName(t *testing.T) {
	dsn := dataSourceName("/tmp/x.db")

	assert.Equal(t,
		"file:/tmp/x.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		dsn,
	)
}
