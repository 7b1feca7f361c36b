package commands

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/teranos/upilookup/am"
	"github.com/teranos/upilookup/archive"
	"github.com/teranos/upilookup/db"
	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/input"
	"github.com/teranos/upilookup/lookup"
	"github.com/teranos/upilookup/pulse/async"
	"github.com/teranos/upilookup/pulse/budget"
	"github.com/teranos/upilookup/results"
)

// ConfigPath overrides the am.toml cascade when set (--config).
var ConfigPath string

// loadConfig loads and validates configuration from --config or the cascade.
func loadConfig() (*am.Config, error) {
	var (
		cfg *am.Config
		err error
	)
	if ConfigPath != "" {
		cfg, err = am.LoadFromFile(ConfigPath)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// engine is the wired batch pipeline: normalizer, limiter, client, controller.
type engine struct {
	normalizer *input.Normalizer
	limiter    budget.Acquirer
	ctrl       *async.Controller
}

// newEngine wires the pipeline. Cancelling ctx cancels the active run and
// aborts in-flight lookups.
func newEngine(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (*engine, error) {
	normalizer, err := input.NewNormalizer(cfg.Input)
	if err != nil {
		return nil, errors.Wrap(err, "input config")
	}

	limiter, err := budget.New(cfg.RateLimit)
	if err != nil {
		return nil, errors.Wrap(err, "rate limit config")
	}

	client, err := lookup.NewHTTPClient(cfg.Lookup,
		lookup.WithLimiter(limiter),
		lookup.WithLogger(log))
	if err != nil {
		return nil, errors.Wrap(err, "lookup config")
	}

	ctrl := async.NewController(client, limiter, results.NewStore(), cfg.Pool, log, async.WithContext(ctx))
	return &engine{normalizer: normalizer, limiter: limiter, ctrl: ctrl}, nil
}

// openArchive opens the run archive at path. An empty path disables history.
func openArchive(path string, log *zap.SugaredLogger) (*sql.DB, *archive.Store, error) {
	if path == "" {
		return nil, nil, nil
	}
	database, err := db.OpenWithMigrations(path, log)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open run archive at %s", path)
	}
	return database, archive.NewStore(database, log), nil
}
