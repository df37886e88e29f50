package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket is the part of jetstream.KeyValue the KV store relies on.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

type bucketOpener func(ctx context.Context, name string, create bool) (Bucket, error)

// KVStore keeps one NATS KV bucket per collection and one key per document.
type KVStore struct {
	open    bucketOpener
	prefix  string
	history uint8
}

// KVOption configures a KVStore.
type KVOption func(*KVStore)

// WithBucketPrefix prepends prefix to every bucket name.
func WithBucketPrefix(prefix string) KVOption {
	return func(s *KVStore) {
		s.prefix = prefix
	}
}

// WithHistory sets how many revisions buckets created by Publish keep.
func WithHistory(history uint8) KVOption {
	return func(s *KVStore) {
		if history > 0 {
			s.history = history
		}
	}
}

// NewKVStore creates a store on top of a JetStream context.
func NewKVStore(js jetstream.JetStream, opts ...KVOption) *KVStore {
	s := &KVStore{history: 5}
	for _, opt := range opts {
		opt(s)
	}
	s.open = func(ctx context.Context, name string, create bool) (Bucket, error) {
		return getOrCreateBucket(ctx, js, name, create, s.history)
	}
	return s
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string, create bool, history uint8) (Bucket, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !create || !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, err
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("autobrancher %s documents", name),
		History:     history,
	})
}

// BucketName returns the bucket that holds a collection.
func (s *KVStore) BucketName(collection string) string {
	return s.prefix + collection
}

// Load reads one document.
func (s *KVStore) Load(ctx context.Context, collection, document string) ([]byte, error) {
	if err := validateName("collection", collection); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err := validateName("document", document); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	bucket, err := s.open(ctx, s.BucketName(collection), false)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, document)
		}
		return nil, fmt.Errorf("open bucket %s: %w", s.BucketName(collection), err)
	}

	entry, err := bucket.Get(ctx, document)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, document)
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, document, err)
	}
	return entry.Value(), nil
}

// List returns the keys of a collection bucket.
func (s *KVStore) List(ctx context.Context, collection string) ([]string, error) {
	if err := validateName("collection", collection); err != nil {
		return nil, err
	}

	bucket, err := s.open(ctx, s.BucketName(collection), false)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: collection %s", ErrNotFound, collection)
		}
		return nil, fmt.Errorf("open bucket %s: %w", s.BucketName(collection), err)
	}

	keys, err := bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s keys: %w", collection, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Publish upserts documents, creating collection buckets on demand. Writes
// happen in order and stop at the first failure.
func (s *KVStore) Publish(ctx context.Context, docs []Document) error {
	buckets := make(map[string]Bucket)
	for _, doc := range docs {
		if err := validateName("collection", doc.Collection); err != nil {
			return err
		}
		if err := validateName("document", doc.Name); err != nil {
			return err
		}

		bucket, ok := buckets[doc.Collection]
		if !ok {
			var err error
			bucket, err = s.open(ctx, s.BucketName(doc.Collection), true)
			if err != nil {
				return fmt.Errorf("open bucket %s: %w", s.BucketName(doc.Collection), err)
			}
			buckets[doc.Collection] = bucket
		}

		if _, err := bucket.Put(ctx, doc.Name, doc.Content); err != nil {
			return fmt.Errorf("put %s: %w", doc, err)
		}
	}
	return nil
}

// isNotFound checks if an error indicates a missing key or bucket.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyDeleted) ||
		errors.Is(err, jetstream.ErrBucketNotFound)
}
