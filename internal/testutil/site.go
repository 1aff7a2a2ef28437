// Package testutil builds isolated flock environments for tests: a
// miniredis-backed blackboard, a source and destination SQLite database
// seeded with a small site, and the clustered repository over it.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/flock/internal/clusterer"
	"github.com/dyluth/flock/internal/events"
	"github.com/dyluth/flock/internal/logger"
	"github.com/dyluth/flock/internal/repository"
	"github.com/dyluth/flock/internal/runtime/sqlrt"
	"github.com/dyluth/flock/pkg/blackboard"
	"github.com/dyluth/flock/pkg/catalog"
)

// NewBlackboard starts a miniredis server and returns a client for it.
func NewBlackboard(t *testing.T) (*blackboard.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// Site is an isolated environment over the seeded site.
type Site struct {
	T          *testing.T
	Ctx        context.Context
	TmpDir     string
	Plugins    []catalog.Plugin
	Source     *sql.DB // separate handles for inspecting the databases
	Dest       *sql.DB
	Runtime    *sqlrt.Runtime
	Dispatcher *events.Dispatcher
	Recorder   *events.Recorder
	Result     *clusterer.Result
	Repository *repository.Repository
	BBClient   *blackboard.Client
	Redis      *miniredis.Miniredis
}

// SitePlugins describes the seeded site: roles, users that reference a role,
// articles that reference their author, and site settings.
func SitePlugins() []catalog.Plugin {
	return []catalog.Plugin{
		{
			ID:          "d7_user_role",
			Label:       "User roles",
			Source:      catalog.Source{Plugin: "d7_user_role", Table: "role", IDs: []string{"rid"}},
			Destination: catalog.Destination{Plugin: "entity:user_role", Table: "user_role", IDs: []string{"id"}},
			Process:     map[string]string{"id": "rid", "label": "name"},
		},
		{
			ID:           "d7_user",
			Label:        "User accounts",
			Source:       catalog.Source{Plugin: "d7_user", Table: "users", IDs: []string{"uid"}},
			Destination:  catalog.Destination{Plugin: "entity:user", Table: "user", IDs: []string{"id"}, Required: []string{"name"}},
			Process:      map[string]string{"id": "uid", "name": "name", "role": "rid"},
			Lookups:      map[string]string{"role": "d7_user_role"},
			Dependencies: catalog.Dependencies{Required: []string{"d7_user_role"}},
		},
		{
			ID:           "d7_node:article",
			Label:        "Nodes (Article)",
			Source:       catalog.Source{Plugin: "d7_node", Table: "node", IDs: []string{"nid"}},
			Destination:  catalog.Destination{Plugin: "entity:node", Table: "node", IDs: []string{"id"}},
			Process:      map[string]string{"id": "nid", "title": "title", "uid": "author"},
			Lookups:      map[string]string{"uid": "d7_user"},
			Dependencies: catalog.Dependencies{Required: []string{"d7_user"}},
		},
		{
			ID:          "d7_system_site",
			Label:       "Site settings",
			Source:      catalog.Source{Plugin: "variable", Table: "variable", IDs: []string{"name"}},
			Destination: catalog.Destination{Plugin: "config", Table: "config", IDs: []string{"name"}},
			Process:     map[string]string{"name": "name", "value": "value"},
		},
	}
}

// ContentTypePlugins extends SitePlugins with an article content type that
// articles require. The content type is clustered with articles and runs
// before users, so the article migration straddles the user migration.
func ContentTypePlugins() []catalog.Plugin {
	plugins := SitePlugins()
	for i := range plugins {
		if plugins[i].ID == "d7_node:article" {
			plugins[i].Dependencies.Required = append(plugins[i].Dependencies.Required, "d7_node_type:article")
		}
	}
	return append(plugins, catalog.Plugin{
		ID:          "d7_node_type:article",
		Label:       "Content type (Article)",
		Source:      catalog.Source{Plugin: "d7_node_type", Table: "node_type", IDs: []string{"type"}},
		Destination: catalog.Destination{Plugin: "entity:node_type", Table: "node_type", IDs: []string{"id"}},
		Process:     map[string]string{"id": "type", "label": "name"},
	})
}

// ContentTypeSchema is SiteSchema plus the content type table.
func ContentTypeSchema(users, articles int) []string {
	return append(SiteSchema(users, articles),
		`CREATE TABLE node_type (type TEXT PRIMARY KEY, name TEXT)`,
		`INSERT INTO node_type VALUES ('article', 'Article')`,
	)
}

// SiteSchema creates and fills the source tables. Users and articles get
// the given number of rows.
func SiteSchema(users, articles int) []string {
	stmts := []string{
		`CREATE TABLE role (rid INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO role VALUES (1, 'editor'), (2, 'admin')`,
		`CREATE TABLE users (uid INTEGER PRIMARY KEY, name TEXT, rid INTEGER)`,
		`CREATE TABLE node (nid INTEGER PRIMARY KEY, title TEXT, author INTEGER)`,
		`CREATE TABLE variable (name TEXT PRIMARY KEY, value TEXT)`,
		`INSERT INTO variable VALUES ('site_name', 'Flock'), ('site_mail', 'ops@example.com')`,
	}
	for i := 1; i <= users; i++ {
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO users VALUES (%d, 'user%d', %d)`, i, i, 1+i%2))
	}
	for i := 1; i <= articles; i++ {
		author := 1
		if users > 0 {
			author += i % users
		}
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO node VALUES (%d, 'Article %d', %d)`, 100+i, i, author))
	}
	return stmts
}

// NewSite builds a site with 5 users and 10 articles.
func NewSite(t *testing.T) *Site {
	return NewSiteWith(t, SitePlugins(), SiteSchema(5, 10))
}

// NewSiteWith builds a site from custom plugins and source statements.
func NewSiteWith(t *testing.T, plugins []catalog.Plugin, schema []string) *Site {
	t.Helper()
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "source.db")
	destPath := filepath.Join(dir, "dest.db")

	source, err := sql.Open("sqlite", "file:"+sourcePath)
	require.NoError(t, err)
	source.SetMaxOpenConns(1)
	t.Cleanup(func() { source.Close() })
	for _, stmt := range schema {
		_, err := source.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	log := logger.Nop()
	d := events.NewDispatcher(log)
	rec := &events.Recorder{}
	for _, name := range []events.Name{events.PreRowDelete, events.PostRowDelete, events.PostRowSave, events.PostRollback} {
		d.Subscribe(name, rec.Listen)
	}

	rt, err := sqlrt.Open("file:"+sourcePath, "file:"+destPath, plugins, d, log)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	dest, err := sql.Open("sqlite", "file:"+destPath)
	require.NoError(t, err)
	dest.SetMaxOpenConns(1)
	t.Cleanup(func() { dest.Close() })

	result, err := clusterer.New(rt, rt, log).Compute(plugins)
	require.NoError(t, err)

	bb, mr := NewBlackboard(t)

	return &Site{
		T:          t,
		Ctx:        context.Background(),
		TmpDir:     dir,
		Plugins:    plugins,
		Source:     source,
		Dest:       dest,
		Runtime:    rt,
		Dispatcher: d,
		Recorder:   rec,
		Result:     result,
		Repository: repository.New(result, rt, bb),
		BBClient:   bb,
		Redis:      mr,
	}
}

// Exec runs a statement against the source database.
func (s *Site) Exec(stmt string, args ...any) {
	s.T.Helper()
	_, err := s.Source.Exec(stmt, args...)
	require.NoError(s.T, err, stmt)
}

// MigrationOf returns the migration that owns pluginID.
func (s *Site) MigrationOf(pluginID string) repository.Migration {
	s.T.Helper()
	for _, m := range s.Repository.Migrations() {
		for _, id := range m.PluginIDs {
			if id == pluginID {
				return m
			}
		}
	}
	require.Failf(s.T, "no migration", "plugin %s is not clustered", pluginID)
	return repository.Migration{}
}

// DestinationCount counts the rows of a destination table.
func (s *Site) DestinationCount(table string) int {
	s.T.Helper()
	var n int
	require.NoError(s.T, s.Dest.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&n))
	return n
}
