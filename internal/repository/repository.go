// Package repository exposes clustered plugins as migrations.
//
// A migration is one cluster of the clusterer result. Its ID is derived from
// its label so it is stable across runs over the same plugin set. Per
// migration the repository aggregates runtime progress and row messages and
// keeps durable metadata (completed flag, source fingerprint, import timing)
// in the blackboard.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/dyluth/flock/internal/clusterer"
	"github.com/dyluth/flock/internal/runtime"
	"github.com/dyluth/flock/pkg/blackboard"
	"github.com/dyluth/flock/pkg/catalog"
)

// ErrUnknownMigration is returned for IDs no migration carries.
var ErrUnknownMigration = errors.New("unknown migration")

// MetadataStore persists migration metadata.
type MetadataStore interface {
	GetMigrationMeta(ctx context.Context, migrationID string) (*blackboard.MigrationMeta, error)
	SetMigrationMeta(ctx context.Context, m *blackboard.MigrationMeta) error
	DeleteMigrationMeta(ctx context.Context, migrationID string) error
}

// Migration is one cluster of plugins run together.
type Migration struct {
	ID        string
	Label     string
	Category  catalog.Category
	Heuristic string
	Weight    int
	// PluginIDs are in execution order.
	PluginIDs []string
	// Positions holds the index of each member plugin in the global
	// execution order, parallel to PluginIDs.
	Positions []int
	// Dependencies are the IDs of the migrations that own a predecessor of
	// any member plugin. They precede this migration in Migrations unless
	// the two interleave.
	Dependencies []string
}

// Progress aggregates the id-maps of a migration's plugins.
type Progress struct {
	Total     int // current source rows
	Processed int // rows imported or failed
	Imported  int
	Failed    int
	Messages  int
}

// Ratio is Processed/Total, 1 for an empty migration.
func (p Progress) Ratio() float64 {
	if p.Total <= 0 {
		return 1
	}
	r := float64(p.Processed) / float64(p.Total)
	if r > 1 {
		return 1
	}
	return r
}

// Repository answers migration queries.
type Repository struct {
	result     *clusterer.Result
	runtime    runtime.Runtime
	store      MetadataStore
	migrations []Migration
	byID       map[string]int
	now        func() time.Time
}

// MigrationID derives the stable ID of a migration label.
func MigrationID(label string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("flock:migration:"+label)).String()
}

// New builds the migrations of a clustering result.
func New(result *clusterer.Result, rt runtime.Runtime, store MetadataStore) *Repository {
	r := &Repository{
		result:  result,
		runtime: rt,
		store:   store,
		byID:    make(map[string]int, len(result.Clusters)),
		now:     time.Now,
	}

	owner := make(map[string]int, len(result.Order))
	position := make(map[string]int, len(result.Order))
	for i, id := range result.Order {
		position[id] = i
	}
	for i, c := range result.Clusters {
		for _, id := range c.PluginIDs {
			owner[id] = i
		}
	}

	built := make([]Migration, len(result.Clusters))
	after := make([][]int, len(result.Clusters))
	for i, c := range result.Clusters {
		m := Migration{
			ID:        MigrationID(c.Label),
			Label:     c.Label,
			Heuristic: c.Heuristic,
			Weight:    c.Weight,
			PluginIDs: append([]string(nil), c.PluginIDs...),
		}
		if len(c.PluginIDs) > 0 {
			m.Category = result.Meta[c.PluginIDs[0]].Category
		}

		deps := make(map[int]bool)
		for _, id := range c.PluginIDs {
			m.Positions = append(m.Positions, position[id])
			for _, pred := range result.Meta[id].After {
				if j, ok := owner[pred]; ok && j != i {
					deps[j] = true
				}
			}
		}
		for j := range result.Clusters {
			if deps[j] {
				m.Dependencies = append(m.Dependencies, MigrationID(result.Clusters[j].Label))
				after[i] = append(after[i], j)
			}
		}
		built[i] = m
	}

	for _, i := range sequence(after) {
		r.byID[built[i].ID] = len(r.migrations)
		r.migrations = append(r.migrations, built[i])
	}
	return r
}

// sequence orders migrations so that each follows the migrations it
// depends on, preferring cluster order among the ready ones. Migrations
// whose plugins interleave depend on each other; such a cycle is broken at
// the earliest cluster and Build splits their plugin runs.
func sequence(after [][]int) []int {
	n := len(after)
	waiting := make([]int, n)
	dependents := make([][]int, n)
	for i, deps := range after {
		waiting[i] = len(deps)
		for _, j := range deps {
			dependents[j] = append(dependents[j], i)
		}
	}

	placed := make([]bool, n)
	order := make([]int, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !placed[i] && waiting[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			for i := 0; i < n; i++ {
				if !placed[i] {
					next = i
					break
				}
			}
		}
		placed[next] = true
		order = append(order, next)
		for _, d := range dependents[next] {
			waiting[d]--
		}
	}
	return order
}

// Migrations returns every migration in dependency order.
func (r *Repository) Migrations() []Migration {
	return append([]Migration(nil), r.migrations...)
}

// Initial returns the migrations an "import all" batch runs, in order.
func (r *Repository) Initial() []Migration {
	return r.Migrations()
}

// Get returns the migration with the given ID.
func (r *Repository) Get(id string) (Migration, error) {
	i, ok := r.byID[id]
	if !ok {
		return Migration{}, fmt.Errorf("%w: %s", ErrUnknownMigration, id)
	}
	return r.migrations[i], nil
}

// PluginIDs returns the member plugins in execution order, or reversed for
// rollbacks.
func (r *Repository) PluginIDs(id string, reverse bool) ([]string, error) {
	m, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	ids := append([]string(nil), m.PluginIDs...)
	if reverse {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	return ids, nil
}

// Plugin returns a clustered plugin.
func (r *Repository) Plugin(id string) *catalog.Plugin {
	return r.result.Plugin(id)
}

// Executable resolves a member plugin to a runtime executable.
func (r *Repository) Executable(pluginID string) (runtime.Executable, error) {
	return r.runtime.Executable(pluginID)
}

// Progress sums the id-map counts of every member plugin.
func (r *Repository) Progress(ctx context.Context, id string) (Progress, error) {
	m, err := r.Get(id)
	if err != nil {
		return Progress{}, err
	}
	var p Progress
	for _, pluginID := range m.PluginIDs {
		exec, err := r.runtime.Executable(pluginID)
		if err != nil {
			return Progress{}, fmt.Errorf("failed to load plugin %s: %w", pluginID, err)
		}
		total, err := exec.SourceCount(ctx)
		if err != nil {
			return Progress{}, fmt.Errorf("failed to count source rows of %s: %w", pluginID, err)
		}
		counts, err := exec.IDMap().Counts(ctx)
		if err != nil {
			return Progress{}, err
		}
		p.Total += total
		p.Processed += counts.Processed
		p.Imported += counts.Imported
		p.Failed += counts.Failed
		p.Messages += counts.Messages
	}
	return p, nil
}

// Messages lists the row messages of every member plugin.
func (r *Repository) Messages(ctx context.Context, id string) ([]runtime.Message, error) {
	m, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	var out []runtime.Message
	for _, pluginID := range m.PluginIDs {
		exec, err := r.runtime.Executable(pluginID)
		if err != nil {
			return nil, fmt.Errorf("failed to load plugin %s: %w", pluginID, err)
		}
		msgs, err := exec.IDMap().Messages(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

// Fingerprint hashes the source fingerprints of every member plugin.
func (r *Repository) Fingerprint(ctx context.Context, id string) (string, error) {
	m, err := r.Get(id)
	if err != nil {
		return "", err
	}
	h := xxhash.New()
	for _, pluginID := range m.PluginIDs {
		exec, err := r.runtime.Executable(pluginID)
		if err != nil {
			return "", fmt.Errorf("failed to load plugin %s: %w", pluginID, err)
		}
		fp, err := exec.Fingerprint(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to fingerprint %s: %w", pluginID, err)
		}
		h.WriteString(pluginID)
		h.WriteString("=")
		h.WriteString(fp)
		h.WriteString("\n")
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Metadata returns the recorded metadata, zero valued when none exists.
func (r *Repository) Metadata(ctx context.Context, id string) (*blackboard.MigrationMeta, error) {
	if _, err := r.Get(id); err != nil {
		return nil, err
	}
	meta, err := r.store.GetMigrationMeta(ctx, id)
	if blackboard.IsNotFound(err) {
		return &blackboard.MigrationMeta{MigrationID: id}, nil
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// CalculateCompleteness records whether every source row was processed
// without messages, together with the current source fingerprint.
func (r *Repository) CalculateCompleteness(ctx context.Context, id string) (bool, error) {
	progress, err := r.Progress(ctx, id)
	if err != nil {
		return false, err
	}
	fp, err := r.Fingerprint(ctx, id)
	if err != nil {
		return false, err
	}
	meta, err := r.Metadata(ctx, id)
	if err != nil {
		return false, err
	}
	meta.Completed = progress.Processed >= progress.Total && progress.Messages == 0
	meta.Fingerprint = fp
	if err := r.store.SetMigrationMeta(ctx, meta); err != nil {
		return false, err
	}
	return meta.Completed, nil
}

// RecordImportStart stamps the start of an import run.
func (r *Repository) RecordImportStart(ctx context.Context, id string) error {
	meta, err := r.Metadata(ctx, id)
	if err != nil {
		return err
	}
	meta.LastImportStartedMs = r.now().UnixMilli()
	return r.store.SetMigrationMeta(ctx, meta)
}

// RecordImportDuration stores the time elapsed since RecordImportStart.
func (r *Repository) RecordImportDuration(ctx context.Context, id string) error {
	meta, err := r.Metadata(ctx, id)
	if err != nil {
		return err
	}
	if meta.LastImportStartedMs == 0 {
		return nil
	}
	d := r.now().UnixMilli() - meta.LastImportStartedMs
	if d < 0 {
		d = 0
	}
	meta.LastImportDurationMs = d
	return r.store.SetMigrationMeta(ctx, meta)
}

// ResetMetadata marks the migration not completed and forgets its
// fingerprint. Import timing is kept.
func (r *Repository) ResetMetadata(ctx context.Context, id string) error {
	meta, err := r.Metadata(ctx, id)
	if err != nil {
		return err
	}
	meta.Completed = false
	meta.Fingerprint = ""
	return r.store.SetMigrationMeta(ctx, meta)
}

// Summary is a migration together with its current progress and metadata.
type Summary struct {
	Migration
	Progress Progress
	Meta     *blackboard.MigrationMeta
}

// Summaries reports every migration in execution order.
func (r *Repository) Summaries(ctx context.Context) ([]Summary, error) {
	out := make([]Summary, 0, len(r.migrations))
	for _, m := range r.migrations {
		p, err := r.Progress(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read progress of %s: %w", m.Label, err)
		}
		meta, err := r.Metadata(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata of %s: %w", m.Label, err)
		}
		out = append(out, Summary{Migration: m, Progress: p, Meta: meta})
	}
	return out, nil
}
