// Package storage persists diagrams and generation records in NATS KV.
// In-memory variants of each store serve CLI runs without a broker.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names.
const (
	BucketDiagrams    = "MERMAIDGEN_DIAGRAMS"
	BucketGenerations = "MERMAIDGEN_GENERATIONS"
	BucketWorkspaces  = "MERMAIDGEN_WORKSPACES"
)

// BucketOption adjusts a KV bucket configuration before creation.
type BucketOption func(*jetstream.KeyValueConfig)

// WithTTL expires bucket entries after d.
func WithTTL(d time.Duration) BucketOption {
	return func(cfg *jetstream.KeyValueConfig) {
		cfg.TTL = d
	}
}

// GetOrCreateBucket opens the named KV bucket, creating it if it does not exist.
func GetOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string, opts ...BucketOption) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}

	cfg := jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("mermaidgen %s storage", strings.ToLower(strings.TrimPrefix(name, "MERMAIDGEN_"))),
		History:     5, // Keep last 5 revisions
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return js.CreateKeyValue(ctx, cfg)
}

// UserKey encodes a user id into a KV-safe key segment.
func UserKey(userID string) string {
	if userID == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

// listKeys returns the keys of kv, or nil for an empty bucket.
func listKeys(ctx context.Context, kv jetstream.KeyValue) ([]string, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}
