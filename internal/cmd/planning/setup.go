package planning

import (
	"context"
	"fmt"
	"io"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/router"
	"github.com/Iron-Ham/conductor/internal/worker"
)

// loadConfig loads and validates the viper-backed configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger logs to the configured directory, or to w when verbose, or
// nowhere.
func newLogger(cfg *config.Config, w io.Writer, verbose bool) (*logging.Logger, error) {
	if cfg.Logging.Dir != "" {
		return logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	}
	if verbose {
		return logging.NewWriterLogger(w, cfg.Logging.Level), nil
	}
	return logging.NopLogger(), nil
}

// buildRouter creates the router from the configured keyword tables, or the
// built-in ones when no path is set. With routing.watch enabled it also
// starts a watcher that reloads the tables until ctx is done; the returned
// stop function must be called either way.
func buildRouter(ctx context.Context, cfg *config.Config, reg *worker.Registry, logger *logging.Logger, bus *event.Bus) (*router.Router, func(), error) {
	tables := router.DefaultTables()
	if cfg.Routing.TablesPath != "" && !cfg.Routing.Watch {
		loaded, err := router.LoadTables(cfg.Routing.TablesPath)
		if err != nil {
			return nil, nil, err
		}
		tables = loaded
	}

	r, err := router.New(tables,
		router.WithThresholds(cfg.RouterThresholds()),
		router.WithPlanningRole(cfg.Execution.PlanningRole),
		router.WithConfidence(reg.Confidence))
	if err != nil {
		return nil, nil, err
	}

	if cfg.Routing.TablesPath == "" || !cfg.Routing.Watch {
		return r, func() {}, nil
	}

	path := cfg.Routing.TablesPath
	w, err := router.WatchTables(ctx, path, r, logger, func(t router.Tables, err error) {
		bus.Publish(event.NewTablesReloadedEvent(path, len(t.Workers), err))
	})
	if err != nil {
		return nil, nil, err
	}
	return r, func() { _ = w.Close() }, nil
}
