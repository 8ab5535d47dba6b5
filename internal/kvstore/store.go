package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned when a key cannot be stored safely by a backend.
var ErrInvalidKey = errors.New("invalid key")

// Store is an opaque get/set-by-key blob store.
// Get reports ok=false (and a nil error) when the key has never been set.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q contains '..'", ErrInvalidKey, key)
	}
	if strings.ContainsAny(key, "/\\\x00") {
		return fmt.Errorf("%w: %q contains a path separator or null byte", ErrInvalidKey, key)
	}
	return nil
}
