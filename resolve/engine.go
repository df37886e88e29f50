// Package resolve walks the reference graph rooted at a protocol document and
// produces the ordered, duplicate-free resolution set the renderers consume.
//
// A run is single-threaded: documents are loaded one at a time, depth first.
// The set doubles as the visited set, so every document is loaded and walked
// at most once per run regardless of how many documents point at it.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360studio/autobrancher/reference"
	"github.com/c360studio/autobrancher/storage"
)

// Options configures an Engine.
type Options struct {
	Mode               reference.Mode
	ProtocolCollection string

	// Model routing
	ValidateCollection string
	Variable           string
	MappingCollection  string
	MappingDocument    string
	Guard              Guard

	// Resource profiles
	ProfileCollection string
	ProfileMatch      MatchPolicy
}

// DefaultOptions returns the options matching the default configuration.
func DefaultOptions() Options {
	return Options{
		Mode:               reference.ModeStrict,
		ProtocolCollection: "protocol",
		ValidateCollection: "validateCommand",
		Variable:           "@VAR.modelName",
		MappingCollection:  "condition",
		MappingDocument:    "cd_mapModelResponse",
		Guard:              TextualGuard{},
		ProfileCollection:  "resource_profile",
		ProfileMatch:       MatchEither,
	}
}

// Recorder observes resolution outcomes.
type Recorder interface {
	EntryResolved(kind string)
	DocumentMissing(collection string)
	DocumentMalformed(collection string)
	RoutingOutcome(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) EntryResolved(string)     {}
func (noopRecorder) DocumentMissing(string)   {}
func (noopRecorder) DocumentMalformed(string) {}
func (noopRecorder) RoutingOutcome(string)    {}

// Engine builds resolution sets from a document store. An Engine holds no
// per-run state and may be reused for any number of roots.
type Engine struct {
	store    storage.Store
	opts     Options
	profiles *ProfileMatcher
	logger   *slog.Logger
	recorder Recorder
}

// NewEngine creates an engine over store.
func NewEngine(store storage.Store, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Guard == nil {
		opts.Guard = TextualGuard{}
	}
	if opts.ProfileMatch == "" {
		opts.ProfileMatch = MatchEither
	}
	return &Engine{
		store:    store,
		opts:     opts,
		profiles: NewProfileMatcher(store, opts.ProfileCollection, opts.ProfileMatch, logger),
		logger:   logger,
		recorder: noopRecorder{},
	}
}

// WithRecorder attaches a Recorder.
func (e *Engine) WithRecorder(r Recorder) *Engine {
	if r != nil {
		e.recorder = r
	}
	return e
}

// Options returns the engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// run is the state of one Build call.
type run struct {
	ctx     context.Context
	engine  *Engine
	logger  *slog.Logger
	set     *Set
	missing map[string]struct{}
	routing routingState

	// rootName is the store name of the root protocol, empty when unknown.
	rootName string
}

// Build resolves the graph rooted at the given protocol content. Only a root
// that cannot be decoded as a JSON object fails the run; every other problem
// is logged, recorded in the set's misses and skipped.
func (e *Engine) Build(ctx context.Context, root []byte) (*Set, error) {
	return e.BuildDocument(ctx, "", root)
}

// BuildDocument is Build for a root loaded from the store under name. A
// reference back to that document counts as already resolved, so the root
// never enters the set a second time.
func (e *Engine) BuildDocument(ctx context.Context, name string, root []byte) (*Set, error) {
	protocol, err := e.protocolEntry(root)
	if err != nil {
		return nil, &RootError{Err: err}
	}

	r := &run{
		ctx:      ctx,
		engine:   e,
		logger:   e.logger.With("protocol", protocol.Name),
		set:      newSet(),
		missing:  make(map[string]struct{}),
		rootName: name,
	}
	r.append(protocol)

	r.resolveFrom(protocol)
	r.resolveRouting()
	for _, p := range e.profiles.Match(ctx, protocol.Field("url")) {
		if !r.append(p) {
			r.logger.Debug("Duplicate resource profile skipped", "name", p.Name)
		}
	}

	r.logger.Debug("Resolution complete",
		"entries", r.set.Len(),
		"misses", len(r.set.misses),
		"model_name", r.routing.ModelName)
	return r.set, nil
}

func (e *Engine) protocolEntry(root []byte) (Entry, error) {
	var obj map[string]any
	if err := json.Unmarshal(root, &obj); err != nil {
		return Entry{}, fmt.Errorf("decode protocol: %w", err)
	}
	if obj == nil {
		return Entry{}, fmt.Errorf("protocol is not a JSON object")
	}
	name := fmt.Sprintf("pt_%s_%s", stringField(obj, "method"), stringField(obj, "commandName"))
	return Entry{
		Collection: e.opts.ProtocolCollection,
		Name:       name,
		Kind:       KindProtocol,
		Content:    append(json.RawMessage(nil), root...),
		Value:      obj,
	}, nil
}

func (r *run) isRoot(ref reference.Ref) bool {
	return r.rootName != "" &&
		ref.Collection == r.engine.opts.ProtocolCollection &&
		ref.Document == r.rootName
}

func (r *run) append(e Entry) bool {
	if !r.set.add(e) {
		return false
	}
	r.engine.recorder.EntryResolved(string(e.Kind))
	return true
}

// resolveFrom follows every reference in from's content.
func (r *run) resolveFrom(from Entry) {
	opts := r.engine.opts
	for _, ref := range reference.Dedupe(from.refs(opts.Mode)) {
		if ref.Collection == opts.MappingCollection && ref.Document == opts.MappingDocument {
			// Reached only through model routing.
			continue
		}
		r.resolveRef(ref, KindReference)
	}
}

// resolveRef loads one reference, appends it and walks its content. Refs
// that are already resolved or already known to be missing are skipped.
func (r *run) resolveRef(ref reference.Ref, kind Kind) {
	if r.set.Contains(ref.Collection, ref.Document) || r.isRoot(ref) {
		return
	}
	if _, ok := r.missing[ref.Key()]; ok {
		return
	}
	if err := r.ctx.Err(); err != nil {
		r.recordMiss(ref.Collection, ref.Document, err)
		return
	}

	entry, ok := r.load(ref.Collection, ref.Document, kind)
	if !ok {
		return
	}
	r.append(entry)
	r.resolveFrom(entry)
}

// load fetches and decodes a document. Missing documents are recorded and
// reported once; malformed ones are reported and kept with raw content.
func (r *run) load(collection, document string, kind Kind) (Entry, bool) {
	content, err := r.engine.store.Load(r.ctx, collection, document)
	if err != nil {
		r.recordMiss(collection, document, err)
		return Entry{}, false
	}

	entry, err := NewEntry(collection, document, kind, content)
	if err != nil {
		r.engine.recorder.DocumentMalformed(collection)
		r.logger.Warn("Malformed document, scanning raw text for references",
			"collection", collection,
			"document", document,
			"error", err)
	}
	return entry, true
}

func (r *run) recordMiss(collection, document string, err error) {
	r.missing[collection+"."+document] = struct{}{}
	r.set.misses = append(r.set.misses, Miss{Collection: collection, Document: document, Err: err})
	r.engine.recorder.DocumentMissing(collection)

	if storage.IsNotFound(err) {
		r.logger.Warn("Missing document",
			"collection", collection,
			"document", document)
		return
	}
	r.logger.Error("Failed to load document",
		"collection", collection,
		"document", document,
		"error", err)
}
