package batch

import (
	"fmt"
	"sort"

	"github.com/dyluth/flock/internal/repository"
	"github.com/dyluth/flock/pkg/blackboard"
)

// Build assembles the operations an action runs over migrations, which must
// be in dependency order. Migrations whose plugins interleave are run in
// slices that follow the global plugin order.
func Build(action blackboard.Action, migrations []repository.Migration) ([]blackboard.Operation, error) {
	var ops []blackboard.Operation
	switch action {
	case blackboard.ActionImport:
		for _, r := range runsOf(migrations) {
			ops = append(ops, importOps(r)...)
			if r.last {
				ops = append(ops, op(blackboard.OpCalculateCompleteness, r.migration))
			}
		}
	case blackboard.ActionRollback:
		runs := runsOf(migrations)
		for i := len(runs) - 1; i >= 0; i-- {
			ops = append(ops, rollbackOps(runs[i])...)
			if runs[i].first {
				ops = append(ops, op(blackboard.OpCalculateCompleteness, runs[i].migration))
			}
		}
	case blackboard.ActionRollbackAndImport:
		runs := runsOf(migrations)
		for i := len(runs) - 1; i >= 0; i-- {
			ops = append(ops, rollbackOps(runs[i])...)
		}
		for _, r := range runs {
			ops = append(ops, importOps(r)...)
		}
		for _, m := range migrations {
			ops = append(ops, op(blackboard.OpCalculateCompleteness, m))
		}
	case blackboard.ActionRefresh:
		for _, m := range migrations {
			ops = append(ops,
				op(blackboard.OpResetMetadata, m),
				op(blackboard.OpRecordStart, m),
				withPlugins(op(blackboard.OpRefresh, m), m.PluginIDs),
				op(blackboard.OpRecordDuration, m),
				op(blackboard.OpCalculateCompleteness, m),
			)
		}
	default:
		return nil, fmt.Errorf("invalid action: %q", action)
	}
	return ops, nil
}

// run is a contiguous slice of one migration's plugins.
type run struct {
	migration repository.Migration
	pluginIDs []string
	first     bool
	last      bool
}

// runsOf returns one run per migration when every migration comes after the
// migrations it depends on. Otherwise the plugins are merged by global
// position and cut wherever the owning migration changes.
func runsOf(migrations []repository.Migration) []run {
	if ordered(migrations) {
		runs := make([]run, len(migrations))
		for i, m := range migrations {
			runs[i] = run{migration: m, pluginIDs: m.PluginIDs, first: true, last: true}
		}
		return runs
	}

	type slot struct {
		pos, owner int
		id         string
	}
	var slots []slot
	remaining := make([]int, len(migrations))
	for i, m := range migrations {
		remaining[i] = len(m.PluginIDs)
		for k, id := range m.PluginIDs {
			slots = append(slots, slot{pos: m.Positions[k], owner: i, id: id})
		}
	}
	sort.SliceStable(slots, func(a, b int) bool { return slots[a].pos < slots[b].pos })

	var runs []run
	started := make([]bool, len(migrations))
	for _, s := range slots {
		if n := len(runs); n == 0 || runs[n-1].migration.ID != migrations[s.owner].ID {
			runs = append(runs, run{migration: migrations[s.owner], first: !started[s.owner]})
			started[s.owner] = true
		}
		cur := &runs[len(runs)-1]
		cur.pluginIDs = append(cur.pluginIDs, s.id)
		remaining[s.owner]--
		cur.last = remaining[s.owner] == 0
	}
	return runs
}

// ordered reports whether every dependency inside the batch precedes its
// dependent.
func ordered(migrations []repository.Migration) bool {
	seen := make(map[string]bool, len(migrations))
	inBatch := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		inBatch[m.ID] = true
	}
	for _, m := range migrations {
		for _, dep := range m.Dependencies {
			if inBatch[dep] && !seen[dep] {
				return false
			}
		}
		seen[m.ID] = true
	}
	return true
}

func importOps(r run) []blackboard.Operation {
	var ops []blackboard.Operation
	if r.first {
		ops = append(ops, op(blackboard.OpRecordStart, r.migration))
	}
	ops = append(ops, withPlugins(op(blackboard.OpImport, r.migration), r.pluginIDs))
	if r.last {
		ops = append(ops, op(blackboard.OpRecordDuration, r.migration))
	}
	return ops
}

func rollbackOps(r run) []blackboard.Operation {
	var ops []blackboard.Operation
	if r.last {
		ops = append(ops, op(blackboard.OpResetMetadata, r.migration))
	}
	return append(ops, withPlugins(op(blackboard.OpRollback, r.migration), reversed(r.pluginIDs)))
}

func op(kind blackboard.OperationKind, m repository.Migration) blackboard.Operation {
	return blackboard.Operation{Kind: kind, MigrationID: m.ID}
}

func withPlugins(o blackboard.Operation, ids []string) blackboard.Operation {
	o.PluginIDs = append([]string(nil), ids...)
	return o
}

func reversed(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}
