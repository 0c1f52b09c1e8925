package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// setupTestDB opens a migrated in-memory database shared by a writer and a
// reader pool. The name is derived from t.Name() so parallel tests stay isolated.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// WAL is unavailable for in-memory databases, so journal_mode is omitted.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		url.PathEscape(t.Name()),
	)

	open := func(maxConns int) *sql.DB {
		conn, err := sql.Open("sqlite", dsn)
		require.NoError(t, err)
		conn.SetMaxOpenConns(maxConns)
		require.NoError(t, conn.PingContext(context.Background()))
		return conn
	}

	// The writer opens first so the shared cache outlives the reader pool.
	db := &DB{Writer: open(1), Reader: open(4), path: dsn}
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(db.Writer))

	return db
}

// base is the reference instant used by fixtures.
var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedRepo(t *testing.T, db *DB, slug string) int64 {
	t.Helper()

	id, err := NewRepoRepo(db).Upsert(context.Background(), model.Repository{
		Name:      strings.TrimPrefix(slug, "acme/"),
		Slug:      slug,
		Workspace: "acme",
	})
	require.NoError(t, err)

	return id
}

// seedBuild stores a build completed at completed with the given duration.
func seedBuild(t *testing.T, db *DB, repoID int64, runID string, state model.BuildState, duration float64, completed time.Time) int64 {
	t.Helper()

	started := completed.Add(-time.Duration(duration) * time.Second)
	id, err := NewBuildRepo(db).InsertBuild(context.Background(), model.Build{
		RepositoryID:    repoID,
		BuildNumber:     len(runID),
		RunID:           runID,
		CommitHash:      "commit-" + runID,
		Branch:          "main",
		State:           state,
		DurationSeconds: model.DurationPtr(duration),
		StartedOn:       &started,
		CompletedOn:     &completed,
	})
	require.NoError(t, err)

	return id
}
