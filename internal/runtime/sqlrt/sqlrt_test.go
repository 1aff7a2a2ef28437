package sqlrt

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/flock/internal/events"
	"github.com/dyluth/flock/internal/logger"
	"github.com/dyluth/flock/internal/runtime"
	"github.com/dyluth/flock/pkg/catalog"
)

func userPlugin() catalog.Plugin {
	return catalog.Plugin{
		ID:          "d7_user",
		Source:      catalog.Source{Plugin: "d7_user", Table: "users", IDs: []string{"uid"}},
		Destination: catalog.Destination{Plugin: "entity:user", Table: "user", IDs: []string{"id"}, Required: []string{"name"}},
		Process:     map[string]string{"id": "uid", "name": "name"},
	}
}

func nodePlugin() catalog.Plugin {
	return catalog.Plugin{
		ID:           "d7_node:article",
		Source:       catalog.Source{Plugin: "d7_node", Table: "node", IDs: []string{"nid"}},
		Destination:  catalog.Destination{Plugin: "entity:node", Table: "node", IDs: []string{"id"}},
		Process:      map[string]string{"id": "nid", "title": "title", "uid": "author"},
		Lookups:      map[string]string{"uid": "d7_user"},
		Dependencies: catalog.Dependencies{Required: []string{"d7_user"}},
	}
}

type fixture struct {
	source *sql.DB
	rt     *Runtime
	rec    *events.Recorder
}

func setupRuntime(t *testing.T, plugins []catalog.Plugin, seed ...string) *fixture {
	t.Helper()
	dir := t.TempDir()

	source, err := openDB("file:" + filepath.Join(dir, "source.db"))
	require.NoError(t, err)
	dest, err := openDB("file:" + filepath.Join(dir, "dest.db"))
	require.NoError(t, err)

	for _, stmt := range seed {
		_, err := source.Exec(stmt)
		require.NoError(t, err)
	}

	d := events.NewDispatcher(logger.Nop())
	rec := &events.Recorder{}
	for _, name := range []events.Name{events.PreRowDelete, events.PostRowDelete, events.PostRowSave, events.PostRollback} {
		d.Subscribe(name, rec.Listen)
	}

	rt, err := New(source, dest, plugins, d, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return &fixture{source: source, rt: rt, rec: rec}
}

func seedUsers(n int) []string {
	stmts := []string{`CREATE TABLE users (uid INTEGER PRIMARY KEY, name TEXT)`}
	for i := 1; i <= n; i++ {
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO users(uid, name) VALUES (%d, 'user%d')`, i, i))
	}
	return stmts
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+quote(table)).Scan(&n))
	return n
}

func executableFor(t *testing.T, f *fixture, id string) runtime.Executable {
	t.Helper()
	exec, err := f.rt.Executable(id)
	require.NoError(t, err)
	return exec
}

func TestImportAllRows(t *testing.T) {
	f := setupRuntime(t, []catalog.Plugin{userPlugin()}, seedUsers(5)...)
	ctx := context.Background()
	exec := executableFor(t, f, "d7_user")

	res, err := exec.Import(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, runtime.ResultCompleted, res.Code)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 5, countRows(t, f.rt.dest, "user"))
	assert.Equal(t, 5, f.rec.Count(events.PostRowSave))

	counts, err := exec.IDMap().Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, runtime.Counts{Processed: 5, Imported: 5}, counts)

	// A second run has nothing left to do.
	res, err = exec.Import(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, runtime.ResultCompleted, res.Code)
	assert.Equal(t, 0, res.Processed)
}

func TestImportHonoursLimit(t *testing.T) {
	f := setupRuntime(t, []catalog.Plugin{userPlugin()}, seedUsers(5)...)
	ctx := context.Background()
	exec := executableFor(t, f, "d7_user")

	res, err := exec.Import(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, runtime.ResultIncomplete, res.Code)
	assert.Equal(t, 2, res.Processed)

	res, err = exec.Import(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, runtime.ResultIncomplete, res.Code)

	res, err = exec.Import(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, runtime.ResultCompleted, res.Code)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 5, countRows(t, f.rt.dest, "user"))
}

func TestImportRecordsValidationMessages(t *testing.T) {
	seed := append(seedUsers(2), `INSERT INTO users(uid, name) VALUES (3, NULL)`)
	f := setupRuntime(t, []catalog.Plugin{userPlugin()}, seed...)
	ctx := context.Background()
	exec := executableFor(t, f, "d7_user")

	res, err := exec.Import(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, runtime.ResultCompleted, res.Code)
	assert.Equal(t, 3, countRows(t, f.rt.dest, "user"))

	msgs, err := exec.IDMap().Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"3"}, msgs[0].SourceIDs)
	assert.Equal(t, runtime.CategoryValidation, msgs[0].Category)
	assert.Equal(t, runtime.LevelError, msgs[0].Level)
	assert.Contains(t, msgs[0].Text, "name")

	counts, err := exec.IDMap().Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Failed)
	assert.Equal(t, 3, counts.Imported)
	assert.Equal(t, 1, counts.Messages)
}

func TestImportResolvesLookups(t *testing.T) {
	seed := append(seedUsers(2),
		`CREATE TABLE node (nid INTEGER PRIMARY KEY, title TEXT, author INTEGER)`,
		`INSERT INTO node VALUES (10, 'first', 1)`,
		`INSERT INTO node VALUES (11, 'orphan', 99)`,
	)
	f := setupRuntime(t, []catalog.Plugin{userPlugin(), nodePlugin()}, seed...)
	ctx := context.Background()

	_, err := executableFor(t, f, "d7_user").Import(ctx, 0)
	require.NoError(t, err)

	nodes := executableFor(t, f, "d7_node:article")
	res, err := nodes.Import(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, runtime.ResultCompleted, res.Code)

	var uid sql.NullString
	require.NoError(t, f.rt.dest.QueryRow(`SELECT uid FROM node WHERE id='10'`).Scan(&uid))
	assert.Equal(t, "1", uid.String)
	require.NoError(t, f.rt.dest.QueryRow(`SELECT uid FROM node WHERE id='11'`).Scan(&uid))
	assert.False(t, uid.Valid)

	msgs, err := nodes.IDMap().Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, runtime.LevelWarning, msgs[0].Level)
	assert.Equal(t, []string{"11"}, msgs[0].SourceIDs)
}

func TestRollbackRemovesNewestFirst(t *testing.T) {
	f := setupRuntime(t, []catalog.Plugin{userPlugin()}, seedUsers(3)...)
	ctx := context.Background()
	exec := executableFor(t, f, "d7_user")

	_, err := exec.Import(ctx, 0)
	require.NoError(t, err)

	res, err := exec.Rollback(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, runtime.ResultCompleted, res.Code)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 0, countRows(t, f.rt.dest, "user"))

	var deleted []string
	for _, e := range f.rec.Events() {
		if e.Name == events.PostRowDelete {
			deleted = append(deleted, e.SourceIDs[0])
		}
	}
	assert.Equal(t, []string{"3", "2", "1"}, deleted)
	assert.Equal(t, 1, f.rec.Count(events.PostRollback))

	rows, err := exec.IDMap().Rows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestInterruptStopsAfterCurrentRow(t *testing.T) {
	f := setupRuntime(t, []catalog.Plugin{userPlugin()}, seedUsers(5)...)
	ctx := context.Background()
	exec := executableFor(t, f, "d7_user")

	f.rt.dispatcher.Subscribe(events.PostRowSave, func(context.Context, events.Event) error {
		exec.Interrupt(runtime.ResultStopped)
		return nil
	})

	res, err := exec.Import(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, runtime.ResultStopped, res.Code)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, countRows(t, f.rt.dest, "user"))
}

func TestPrepareUpdateReimportsEveryRow(t *testing.T) {
	f := setupRuntime(t, []catalog.Plugin{userPlugin()}, seedUsers(3)...)
	ctx := context.Background()
	exec := executableFor(t, f, "d7_user")

	_, err := exec.Import(ctx, 0)
	require.NoError(t, err)
	_, err = f.source.Exec(`UPDATE users SET name='renamed' WHERE uid=2`)
	require.NoError(t, err)

	require.NoError(t, exec.IDMap().PrepareUpdate(ctx))
	counts, err := exec.IDMap().Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.NeedsUpdate)
	assert.Equal(t, 0, counts.Processed)

	res, err := exec.Import(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)

	var name string
	require.NoError(t, f.rt.dest.QueryRow(`SELECT name FROM user WHERE id='2'`).Scan(&name))
	assert.Equal(t, "renamed", name)
}

func TestRefreshPurgesDeletedSourceRows(t *testing.T) {
	f := setupRuntime(t, []catalog.Plugin{userPlugin()}, seedUsers(10)...)
	ctx := context.Background()
	exec := executableFor(t, f, "d7_user")

	_, err := exec.Import(ctx, 0)
	require.NoError(t, err)
	_, err = f.source.Exec(`DELETE FROM users WHERE uid IN (4, 7)`)
	require.NoError(t, err)

	require.NoError(t, exec.IDMap().PrepareUpdate(ctx))
	purged, err := runtime.Purge(ctx, exec, f.rt.dispatcher)
	require.NoError(t, err)
	assert.Equal(t, runtime.Result{Code: runtime.ResultCompleted, Processed: 2}, purged)
	assert.Equal(t, 2, f.rec.Count(events.PreRowDelete))
	assert.Equal(t, 2, f.rec.Count(events.PostRowDelete))
	assert.Equal(t, 1, f.rec.Count(events.PostRollback))
	assert.Equal(t, 8, countRows(t, f.rt.dest, "user"))

	res, err := exec.Import(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, runtime.ResultCompleted, res.Code)
	assert.Equal(t, 8, res.Processed)
}

func TestFingerprintTracksSourceContent(t *testing.T) {
	f := setupRuntime(t, []catalog.Plugin{userPlugin()}, seedUsers(3)...)
	ctx := context.Background()
	exec := executableFor(t, f, "d7_user")

	first, err := exec.Fingerprint(ctx)
	require.NoError(t, err)
	again, err := exec.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, first, 16)

	_, err = f.source.Exec(`UPDATE users SET name='changed' WHERE uid=1`)
	require.NoError(t, err)
	changed, err := exec.Fingerprint(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestRequirementsAndRowCount(t *testing.T) {
	missing := catalog.Plugin{
		ID:          "d7_comment",
		Source:      catalog.Source{Table: "comment", IDs: []string{"cid"}},
		Destination: catalog.Destination{Plugin: "entity:comment", Table: "comment", IDs: []string{"id"}},
	}
	f := setupRuntime(t, []catalog.Plugin{userPlugin(), missing}, seedUsers(4)...)

	users := userPlugin()
	assert.NoError(t, f.rt.CheckRequirements(&users))
	n, err := f.rt.SourceRowCount(&users)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	err = f.rt.CheckRequirements(&missing)
	assert.ErrorContains(t, err, "does not exist")

	bad := userPlugin()
	bad.Source.Table = "users; DROP TABLE users"
	assert.ErrorContains(t, f.rt.CheckRequirements(&bad), "invalid SQL identifier")

	_, err = f.rt.Executable("nope")
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	f := setupRuntime(t, nil)
	require.NoError(t, migrate(f.rt.dest))

	var version int
	require.NoError(t, f.rt.dest.QueryRow(`SELECT version FROM flock_schema_version`).Scan(&version))
	assert.Equal(t, 2, version)
}
