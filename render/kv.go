package render

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/autobrancher/resolve"
	"github.com/c360studio/autobrancher/storage"
)

// Publisher stores documents in a shared store.
type Publisher interface {
	Publish(ctx context.Context, docs []storage.Document) error
}

// KVRenderer publishes every entry of a set, keyed by collection and name.
type KVRenderer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewKVRenderer creates a renderer over publisher.
func NewKVRenderer(publisher Publisher, logger *slog.Logger) *KVRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVRenderer{publisher: publisher, logger: logger}
}

// Render implements Renderer.
func (k *KVRenderer) Render(ctx context.Context, set *resolve.Set) error {
	protocol, ok := set.Protocol()
	if !ok {
		return ErrNoProtocol
	}
	if err := k.publisher.Publish(ctx, set.Documents()); err != nil {
		return fmt.Errorf("publish %s: %w", protocol.Name, err)
	}
	k.logger.Info("Published resolution set", "protocol", protocol.Name, "entries", set.Len())
	return nil
}
