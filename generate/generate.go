// Package generate selects root protocols from the store and drives one
// resolution run plus one render per root. Roots are processed one after
// another; a failing root is reported and the batch moves on.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/autobrancher/render"
	"github.com/c360studio/autobrancher/resolve"
	"github.com/c360studio/autobrancher/storage"
)

// SelectAll selects every protocol document.
const SelectAll = "*"

// ErrNoMatchingProtocol is returned when no protocol has the requested
// commandName.
var ErrNoMatchingProtocol = errors.New("no matching protocol")

// Run statuses.
const (
	StatusOK          = "ok"
	StatusLoadError   = "load_error"
	StatusRootError   = "root_error"
	StatusRenderError = "render_error"
)

// Observer is notified when a root finishes.
type Observer interface {
	RunFinished(status string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) RunFinished(string, time.Duration) {}

// Result is the outcome of one root.
type Result struct {
	RunID    string
	Document string
	Protocol string
	Entries  int
	Misses   int
	Status   string
	Err      error
}

// Report collects the results of a batch.
type Report struct {
	Results []Result
}

// Failed returns the number of roots that did not render.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Err joins the errors of every failed root, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Document, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Generator runs the engine over selected protocols.
type Generator struct {
	store      storage.Store
	engine     *resolve.Engine
	collection string
	logger     *slog.Logger
	observer   Observer
}

// New creates a generator. Protocol documents are read from the engine's
// protocol collection.
func New(store storage.Store, engine *resolve.Engine, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:      store,
		engine:     engine,
		collection: engine.Options().ProtocolCollection,
		logger:     logger,
		observer:   noopObserver{},
	}
}

// WithObserver attaches an Observer.
func (g *Generator) WithObserver(o Observer) *Generator {
	if o != nil {
		g.observer = o
	}
	return g
}

// Run renders every protocol matched by selection. The returned error is
// reserved for selection failures; per-root failures are in the report.
func (g *Generator) Run(ctx context.Context, selection string, r render.Renderer) (*Report, error) {
	names, err := g.Select(ctx, selection)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Results = append(report.Results, g.RunDocument(ctx, name, r))
	}

	g.logger.Info("Generation finished",
		"selection", selection,
		"protocols", len(report.Results),
		"failed", report.Failed())
	return report, nil
}

// Select resolves a selection to protocol document names. SelectAll yields
// every document; anything else is matched against commandName and yields
// the first match in listing order.
func (g *Generator) Select(ctx context.Context, selection string) ([]string, error) {
	names, err := g.store.List(ctx, g.collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", g.collection, err)
	}
	if selection == SelectAll {
		return names, nil
	}

	for _, name := range names {
		content, err := g.store.Load(ctx, g.collection, name)
		if err != nil {
			g.logger.Warn("Failed to read protocol", "document", name, "error", err)
			continue
		}
		var header struct {
			CommandName string `json:"commandName"`
		}
		if err := json.Unmarshal(content, &header); err != nil {
			g.logger.Warn("Unreadable protocol", "document", name, "error", err)
			continue
		}
		if header.CommandName == selection {
			return []string{name}, nil
		}
	}
	return nil, fmt.Errorf("%w for input %q", ErrNoMatchingProtocol, selection)
}

// RunDocument resolves and renders one protocol document.
func (g *Generator) RunDocument(ctx context.Context, name string, r render.Renderer) Result {
	start := time.Now()
	res := Result{
		RunID:    uuid.New().String(),
		Document: name,
	}
	logger := g.logger.With("run_id", res.RunID, "document", name)

	defer func() {
		g.observer.RunFinished(res.Status, time.Since(start))
	}()

	content, err := g.store.Load(ctx, g.collection, name)
	if err != nil {
		logger.Error("Failed to read protocol", "error", err)
		res.Status, res.Err = StatusLoadError, err
		return res
	}

	set, err := g.engine.BuildDocument(ctx, name, content)
	if err != nil {
		logger.Error("Failed to resolve protocol", "error", err)
		res.Status, res.Err = StatusRootError, err
		return res
	}
	if protocol, ok := set.Protocol(); ok {
		res.Protocol = protocol.Name
	}
	res.Entries = set.Len()
	res.Misses = len(set.Misses())

	if err := r.Render(ctx, set); err != nil {
		logger.Error("Failed to render", "protocol", res.Protocol, "error", err)
		res.Status, res.Err = StatusRenderError, err
		return res
	}

	res.Status = StatusOK
	logger.Debug("Protocol rendered",
		"protocol", res.Protocol,
		"entries", res.Entries,
		"misses", res.Misses,
		"elapsed", time.Since(start))
	return res
}
