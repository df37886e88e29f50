package render

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/autobrancher/resolve"
)

// Default branch settings.
const (
	DefaultBranchPrefix = "feature/api_"
	DefaultTemplate     = "template"
)

// VCS is the version-control surface the materializer drives.
type VCS interface {
	Checkout(ctx context.Context, ref string, force bool) error
	DeleteBranch(ctx context.Context, name string) error
	CreateBranch(ctx context.Context, name string) error
}

// BranchMaterializer cuts a fresh branch from a template branch and writes
// every entry of the set into it as <collection>/<name>.json.
type BranchMaterializer struct {
	vcs      VCS
	writer   Writer
	template string
	prefix   string
	logger   *slog.Logger
}

// BranchOption configures a BranchMaterializer.
type BranchOption func(*BranchMaterializer)

// WithTemplate sets the branch new branches are cut from.
func WithTemplate(template string) BranchOption {
	return func(b *BranchMaterializer) {
		if template != "" {
			b.template = template
		}
	}
}

// WithBranchPrefix sets the prefix of generated branch names.
func WithBranchPrefix(prefix string) BranchOption {
	return func(b *BranchMaterializer) {
		b.prefix = prefix
	}
}

// NewBranchMaterializer creates a materializer. The writer must be rooted
// at the work tree vcs operates on.
func NewBranchMaterializer(vcs VCS, writer Writer, logger *slog.Logger, opts ...BranchOption) *BranchMaterializer {
	if logger == nil {
		logger = slog.Default()
	}
	b := &BranchMaterializer{
		vcs:      vcs,
		writer:   writer,
		template: DefaultTemplate,
		prefix:   DefaultBranchPrefix,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BranchName returns the branch a protocol is materialized on.
func (b *BranchMaterializer) BranchName(method, commandName string) string {
	return fmt.Sprintf("%s%s-%s", b.prefix, method, commandName)
}

// Render implements Renderer. Each git step completes before the next one
// starts; only the deletion of a previous branch may fail without aborting.
func (b *BranchMaterializer) Render(ctx context.Context, set *resolve.Set) error {
	method, commandName, err := protocolFields(set)
	if err != nil {
		return err
	}
	branch := b.BranchName(method, commandName)
	logger := b.logger.With("branch", branch)

	if err := b.vcs.Checkout(ctx, b.template, true); err != nil {
		return fmt.Errorf("checkout template %s: %w", b.template, err)
	}
	if err := b.vcs.DeleteBranch(ctx, branch); err != nil {
		logger.Debug("Previous branch not deleted", "error", err)
	}
	if err := b.vcs.CreateBranch(ctx, branch); err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	if err := b.vcs.Checkout(ctx, branch, false); err != nil {
		return fmt.Errorf("checkout branch: %w", err)
	}

	for _, entry := range set.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := indentJSON(entry.Content, "    ")
		if err != nil {
			logger.Warn("Writing entry without reformatting",
				"collection", entry.Collection,
				"document", entry.Name,
				"error", err)
			data = entry.Content
		}
		if _, err := b.writer.WriteFile(entry.Path(), data); err != nil {
			return fmt.Errorf("write %s: %w", entry.Path(), err)
		}
	}

	logger.Info("Created and checked out branch from template",
		"template", b.template,
		"entries", set.Len())
	return nil
}
