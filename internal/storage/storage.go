// Package storage provides the persistent key/value capability used for the
// session record, carts and preferences.
//
// Every backend satisfies Store. Values are opaque strings; records are
// stored as JSON through GetJSON and SetJSON.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrInvalidKey is returned for empty or otherwise unusable keys.
var ErrInvalidKey = errors.New("invalid storage key")

// Store is a durable string key/value store.
type Store interface {
	// Get returns the value for key. ok is false when no entry exists.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set creates or replaces the value for key.
	Set(ctx context.Context, key string, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

// Options selects and configures a backend for Open.
type Options struct {
	// Backend is one of file, sqlite, redis or memory.
	Backend string
	// Dir is the state directory for the file and sqlite backends.
	Dir string
	// RedisURL is used by the redis backend.
	RedisURL string
	// Namespace prefixes keys in shared backends (redis).
	Namespace string
}

// Open builds the Store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "file":
		return NewFileStore(filepath.Join(opts.Dir, "kv"))
	case "sqlite":
		return OpenSQLite(filepath.Join(opts.Dir, "leaf.db"))
	case "redis":
		return NewRedisStore(ctx, opts.RedisURL, opts.Namespace)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

// GetJSON loads key and decodes it into out. ok is false when no entry exists.
func GetJSON(ctx context.Context, s Store, key string, out any) (ok bool, err error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(raw))
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
