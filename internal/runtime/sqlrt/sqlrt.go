// Package sqlrt is a plugin runtime over SQLite databases.
//
// Each plugin reads rows from one table of the source database and writes
// them into one table of the destination database. Process maps destination
// columns to source columns; Lookups translate a value through the id-map of
// another plugin. The id-map and row messages live in the destination
// database (flock_map, flock_message) and are created by embedded migrations.
package sqlrt

import (
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dyluth/flock/internal/events"
	"github.com/dyluth/flock/internal/logger"
	"github.com/dyluth/flock/internal/runtime"
	"github.com/dyluth/flock/pkg/catalog"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Runtime runs plugins between two SQLite databases.
type Runtime struct {
	source     *sql.DB
	dest       *sql.DB
	plugins    map[string]*catalog.Plugin
	dispatcher *events.Dispatcher
	log        *logger.Logger
	now        func() time.Time
}

var _ runtime.Runtime = (*Runtime)(nil)

// Open opens both databases and prepares the destination.
func Open(sourceDSN, destDSN string, plugins []catalog.Plugin, dispatcher *events.Dispatcher, log *logger.Logger) (*Runtime, error) {
	source, err := openDB(sourceDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}
	dest, err := openDB(destDSN)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("failed to open destination database: %w", err)
	}
	rt, err := New(source, dest, plugins, dispatcher, log)
	if err != nil {
		source.Close()
		dest.Close()
		return nil, err
	}
	return rt, nil
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection keeps writes serialised.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// New wraps already opened databases. It migrates the id-map schema and
// creates missing destination tables.
func New(source, dest *sql.DB, plugins []catalog.Plugin, dispatcher *events.Dispatcher, log *logger.Logger) (*Runtime, error) {
	if err := migrate(dest); err != nil {
		return nil, fmt.Errorf("failed to migrate destination database: %w", err)
	}

	idx := make(map[string]*catalog.Plugin, len(plugins))
	for i := range plugins {
		p := plugins[i]
		idx[p.ID] = &p
	}

	rt := &Runtime{
		source:     source,
		dest:       dest,
		plugins:    idx,
		dispatcher: dispatcher,
		log:        log.Component("sqlrt"),
		now:        time.Now,
	}
	if err := rt.ensureDestinations(); err != nil {
		return nil, err
	}
	return rt, nil
}

// Close closes both databases.
func (r *Runtime) Close() error {
	srcErr := r.source.Close()
	destErr := r.dest.Close()
	if srcErr != nil {
		return srcErr
	}
	return destErr
}

// Executable returns a fresh executable for plugin id.
func (r *Runtime) Executable(id string) (runtime.Executable, error) {
	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q", id)
	}
	if err := validIdentifiers(p); err != nil {
		return nil, err
	}
	return &executable{rt: r, plugin: p, idMap: &idMap{db: r.dest, pluginID: p.ID, now: r.now}}, nil
}

// CheckRequirements reports whether the source table of p exists.
func (r *Runtime) CheckRequirements(p *catalog.Plugin) error {
	if err := validIdentifiers(p); err != nil {
		return err
	}
	var name string
	err := r.source.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, p.Source.Table).Scan(&name)
	if err == sql.ErrNoRows {
		return fmt.Errorf("source table %q does not exist", p.Source.Table)
	}
	if err != nil {
		return fmt.Errorf("failed to inspect source database: %w", err)
	}
	return nil
}

// SourceRowCount counts the rows of the source table of p.
func (r *Runtime) SourceRowCount(p *catalog.Plugin) (int, error) {
	if err := validIdentifiers(p); err != nil {
		return 0, err
	}
	var n int
	if err := r.source.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quote(p.Source.Table))).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", p.Source.Table, err)
	}
	return n, nil
}

// ensureDestinations creates destination tables that do not exist yet, with
// the union of the columns every plugin writes to them. Columns are TEXT so
// destination IDs compare equal to their id-map form.
func (r *Runtime) ensureDestinations() error {
	type table struct {
		columns map[string]bool
		keys    []string
	}
	tables := make(map[string]*table)
	for _, p := range r.plugins {
		if p.Destination.Table == "" {
			continue
		}
		if err := validIdentifiers(p); err != nil {
			r.log.Warn(err.Error())
			continue
		}
		t, ok := tables[p.Destination.Table]
		if !ok {
			t = &table{columns: make(map[string]bool), keys: p.Destination.IDs}
			tables[p.Destination.Table] = t
		}
		for _, c := range p.Destination.IDs {
			t.columns[c] = true
		}
		for c := range p.Process {
			t.columns[c] = true
		}
		for c := range p.Lookups {
			t.columns[c] = true
		}
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := tables[name]
		cols := make([]string, 0, len(t.columns))
		for c := range t.columns {
			cols = append(cols, quote(c)+" TEXT")
		}
		sort.Strings(cols)
		keys := make([]string, len(t.keys))
		for i, k := range t.keys {
			keys[i] = quote(k)
		}
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (%s))`,
			quote(name), strings.Join(cols, ", "), strings.Join(keys, ", "))
		if _, err := r.dest.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create destination table %s: %w", name, err)
		}
	}
	return nil
}

func validIdentifiers(p *catalog.Plugin) error {
	if p.Source.Table == "" || p.Destination.Table == "" {
		return fmt.Errorf("plugin %q: source and destination tables are required", p.ID)
	}
	if len(p.Source.IDs) == 0 || len(p.Destination.IDs) == 0 {
		return fmt.Errorf("plugin %q: source and destination ids are required", p.ID)
	}
	names := []string{p.Source.Table, p.Destination.Table}
	names = append(names, p.Source.IDs...)
	names = append(names, p.Destination.IDs...)
	names = append(names, p.Destination.Required...)
	for dst, src := range p.Process {
		names = append(names, dst, src)
	}
	for dst := range p.Lookups {
		names = append(names, dst)
	}
	for _, n := range names {
		if !identifier.MatchString(n) {
			return fmt.Errorf("plugin %q: invalid SQL identifier %q", p.ID, n)
		}
	}
	return nil
}

func quote(name string) string {
	return `"` + name + `"`
}
