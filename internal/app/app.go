// Package app wires a flock instance from its configuration: store,
// runtime, clustering, repository and batch manager.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/flock/internal/batch"
	"github.com/dyluth/flock/internal/clusterer"
	"github.com/dyluth/flock/internal/config"
	"github.com/dyluth/flock/internal/coordinator"
	"github.com/dyluth/flock/internal/events"
	"github.com/dyluth/flock/internal/logger"
	"github.com/dyluth/flock/internal/repository"
	"github.com/dyluth/flock/internal/runtime/sqlrt"
	"github.com/dyluth/flock/pkg/blackboard"
	"github.com/dyluth/flock/pkg/catalog"
)

// App is an opened instance. Close releases its connections.
type App struct {
	Config     *config.FlockConfig
	Log        *logger.Logger
	Store      *blackboard.Client
	Plugins    []catalog.Plugin
	Dispatcher *events.Dispatcher
	Runtime    *sqlrt.Runtime
	Result     *clusterer.Result
	Repository *repository.Repository
	Manager    *batch.Manager
}

// Open connects to the store, loads plugin definitions, opens both
// databases and clusters the available plugins.
func Open(ctx context.Context, cfg *config.FlockConfig, log *logger.Logger) (*App, error) {
	store, err := blackboard.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	}, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create blackboard client: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to reach Redis at %s: %w", cfg.Redis.Addr, err)
	}

	plugins, err := catalog.Load(cfg.Plugins.Dir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load plugins: %w", err)
	}

	dispatcher := events.NewDispatcher(log)
	rt, err := sqlrt.Open(cfg.Source.DSN, cfg.Destination.DSN, plugins, dispatcher, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	result, err := clusterer.New(rt, rt, log).Compute(plugins)
	if err != nil {
		rt.Close()
		store.Close()
		return nil, fmt.Errorf("failed to cluster migrations: %w", err)
	}

	repo := repository.New(result, rt, store)
	mgr := batch.NewManager(repo, store, dispatcher, batch.Config{
		SliceRows:   cfg.Batch.SliceRows,
		Coordinator: coordinator.Config{MaxExecutionTime: cfg.Batch.MaxExecution()},
	}, log)

	log.Component("app").Event("instance_opened", map[string]any{
		"instance":   cfg.Instance,
		"plugins":    len(plugins),
		"available":  len(result.Order),
		"migrations": len(result.Clusters),
	})

	return &App{
		Config:     cfg,
		Log:        log,
		Store:      store,
		Plugins:    plugins,
		Dispatcher: dispatcher,
		Runtime:    rt,
		Result:     result,
		Repository: repo,
		Manager:    mgr,
	}, nil
}

// Close releases the databases and the store connection.
func (a *App) Close() error {
	rtErr := a.Runtime.Close()
	if err := a.Store.Close(); err != nil {
		return err
	}
	return rtErr
}

// ResolveTarget accepts a migration ID, a migration label, or "all".
func (a *App) ResolveTarget(target string) (string, error) {
	if target == blackboard.TargetAll {
		return target, nil
	}
	if _, err := a.Repository.Get(target); err == nil {
		return target, nil
	}
	for _, m := range a.Repository.Migrations() {
		if m.Label == target {
			return m.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", repository.ErrUnknownMigration, target)
}
