package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/mermaidgen/storage"
	"github.com/nats-io/nats.go/jetstream"
)

// KVStore mirrors workspaces to a NATS KV bucket whose entries expire
// after the bucket TTL, so sessions survive process restarts.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore creates a KVStore, creating its bucket with the given TTL if
// needed. The TTL of an existing bucket is not changed.
func NewKVStore(ctx context.Context, js jetstream.JetStream, ttl time.Duration) (*KVStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	kv, err := storage.GetOrCreateBucket(ctx, js, storage.BucketWorkspaces, storage.WithTTL(ttl))
	if err != nil {
		return nil, fmt.Errorf("create workspaces bucket: %w", err)
	}
	return &KVStore{kv: kv}, nil
}

// Load returns the workspace stored under key, or storage.ErrNotFound.
func (s *KVStore) Load(ctx context.Context, key string) (*Workspace, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get workspace: %w", err)
	}

	var ws Workspace
	if err := json.Unmarshal(entry.Value(), &ws); err != nil {
		return nil, fmt.Errorf("unmarshal workspace: %w", err)
	}
	return &ws, nil
}

// Store writes ws under key.
func (s *KVStore) Store(ctx context.Context, key string, ws *Workspace) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshal workspace: %w", err)
	}
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("store workspace: %w", err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *KVStore) Remove(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}
