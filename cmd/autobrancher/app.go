package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/autobrancher/config"
	"github.com/c360studio/autobrancher/generate"
	"github.com/c360studio/autobrancher/metrics"
	"github.com/c360studio/autobrancher/reference"
	"github.com/c360studio/autobrancher/render"
	"github.com/c360studio/autobrancher/resolve"
	"github.com/c360studio/autobrancher/storage"
	"github.com/c360studio/autobrancher/tools/file"
	"github.com/c360studio/autobrancher/tools/git"
)

// App wires configuration into the store, engine, generator and renderers.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS, only when the kv backend or publish needs it
	natsConn *nats.Conn
	js       jetstream.JetStream

	// SQLite database, only when the sqlite backend or publish needs it
	sqlStore *storage.SQLStore

	store     storage.Store
	engine    *resolve.Engine
	generator *generate.Generator
	metrics   *metrics.Metrics
}

// NewApp creates the application for cfg. NATS is connected when the kv
// backend is selected; the sqlite database is opened for the sqlite backend.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	switch cfg.Store.Backend {
	case config.BackendKV:
		kv, err := app.kvStore(ctx)
		if err != nil {
			return nil, err
		}
		app.store = kv
	case config.BackendSQLite:
		db, err := app.sqliteStore(ctx)
		if err != nil {
			return nil, err
		}
		app.store = db
	default:
		fs, err := storage.NewFileStore(cfg.Store.Root, storage.WithPattern(cfg.Store.Pattern))
		if err != nil {
			return nil, fmt.Errorf("open document store: %w", err)
		}
		app.store = fs
	}

	opts, err := engineOptions(cfg)
	if err != nil {
		return nil, err
	}
	app.engine = resolve.NewEngine(app.store, opts, logger).WithRecorder(app.metrics)
	app.generator = generate.New(app.store, app.engine, logger).WithObserver(app.metrics)
	return app, nil
}

// engineOptions maps configuration onto resolve.Options.
func engineOptions(cfg *config.Config) (resolve.Options, error) {
	mode, err := reference.ParseMode(cfg.Reference.Mode)
	if err != nil {
		return resolve.Options{}, err
	}
	guard, err := resolve.ParseGuard(cfg.Routing.Guard)
	if err != nil {
		return resolve.Options{}, err
	}
	match, err := resolve.ParseMatchPolicy(cfg.Profiles.Match)
	if err != nil {
		return resolve.Options{}, err
	}
	return resolve.Options{
		Mode:               mode,
		ProtocolCollection: cfg.Store.ProtocolCollection,
		ValidateCollection: cfg.Routing.ValidateCollection,
		Variable:           cfg.Routing.Variable,
		MappingCollection:  cfg.Routing.MappingCollection,
		MappingDocument:    cfg.Routing.MappingDocument,
		Guard:              guard,
		ProfileCollection:  cfg.Profiles.Collection,
		ProfileMatch:       match,
	}, nil
}

// kvStore connects to NATS on first use and returns a KV-backed store.
func (a *App) kvStore(ctx context.Context) (*storage.KVStore, error) {
	if a.js == nil {
		if a.cfg.NATS.URL == "" {
			return nil, fmt.Errorf("nats.url is required")
		}
		a.logger.Debug("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL,
			nats.Name(appName),
			nats.Timeout(10*time.Second))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS at %s: %w", a.cfg.NATS.URL, err)
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		a.natsConn = conn
		a.js = js
	}
	return storage.NewKVStore(a.js,
		storage.WithBucketPrefix(a.cfg.NATS.BucketPrefix),
		storage.WithHistory(a.cfg.NATS.History)), nil
}

// sqliteStore opens the configured database on first use.
func (a *App) sqliteStore(ctx context.Context) (*storage.SQLStore, error) {
	if a.sqlStore == nil {
		path := a.cfg.SQLitePath()
		a.logger.Debug("Opening sqlite store", "path", path)
		db, err := storage.OpenSQLStore(ctx, path)
		if err != nil {
			return nil, err
		}
		a.sqlStore = db
	}
	return a.sqlStore, nil
}

// BranchRenderer materializes sets as branches of the git tree at the store root.
func (a *App) BranchRenderer() render.Renderer {
	root := a.cfg.Store.Root
	return render.NewBranchMaterializer(git.NewExecutor(root), file.NewWriter(root), a.logger,
		render.WithTemplate(a.cfg.Branch.Template),
		render.WithBranchPrefix(a.cfg.Branch.Prefix))
}

// ScriptRenderer writes upsert scripts into the configured script directory.
func (a *App) ScriptRenderer() render.Renderer {
	writer, dir := a.scriptOutput()
	return render.NewScriptRenderer(writer, dir, a.logger, a.scriptFilters())
}

// TokenScript writes the upsert script of a single document.
func (a *App) TokenScript() *render.TokenScript {
	writer, dir := a.scriptOutput()
	return render.NewTokenScript(a.store, writer, dir, a.logger, a.scriptFilters())
}

func (a *App) scriptFilters() render.ScriptOption {
	return render.WithFilterCollections(a.cfg.Store.ProtocolCollection, a.cfg.Profiles.Collection)
}

// scriptOutput returns a writer rooted at the resolved script directory.
func (a *App) scriptOutput() (*file.Writer, string) {
	return file.NewWriter(a.cfg.ScriptDir()), "."
}

// PlanRenderer lists sets on out.
func (a *App) PlanRenderer(out io.Writer, format render.Format) render.Renderer {
	return render.NewPlanRenderer(out, format)
}

// Publish targets.
const (
	PublishKV     = config.BackendKV
	PublishSQLite = config.BackendSQLite
)

// PublishRenderer upserts sets into JetStream KV buckets or the sqlite
// database, depending on target.
func (a *App) PublishRenderer(ctx context.Context, target string) (render.Renderer, error) {
	var (
		pub render.Publisher
		err error
	)
	switch target {
	case PublishKV:
		pub, err = a.kvStore(ctx)
	case PublishSQLite:
		pub, err = a.sqliteStore(ctx)
	default:
		return nil, fmt.Errorf("unknown publish target %q (want %s or %s)", target, PublishKV, PublishSQLite)
	}
	if err != nil {
		return nil, err
	}
	return render.NewKVRenderer(pub, a.logger), nil
}

// Generate runs the generator and folds per-root failures into the error.
func (a *App) Generate(ctx context.Context, selection string, r render.Renderer) (*generate.Report, error) {
	report, err := a.generator.Run(ctx, selection, r)
	if err != nil {
		return report, err
	}
	return report, report.Err()
}

// Close releases the NATS connection and sqlite database, if any.
func (a *App) Close() {
	if a.sqlStore != nil {
		if err := a.sqlStore.Close(); err != nil {
			a.logger.Warn("Failed to close sqlite store", "error", err)
		}
		a.sqlStore = nil
	}
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.natsConn.Close()
		}
		a.natsConn = nil
	}
}
