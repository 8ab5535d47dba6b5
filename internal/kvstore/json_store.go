package kvstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// JSONStore keeps one file per key under Root (<root>/<key>.json).
// It is the plain-file layout older installs used before SQLite.
type JSONStore struct {
	Root string
}

func NewJSONStore(root string) *JSONStore {
	return &JSONStore{Root: root}
}

func (s *JSONStore) path(key string) string {
	return filepath.Join(s.Root, key+".json")
}

func (s *JSONStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s *JSONStore) Set(ctx context.Context, key string, value []byte) error {
	_ = ctx
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Root, 0o700); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}

	// Write to a sibling temp file first so a crash never leaves a torn blob.
	tmp, err := os.CreateTemp(s.Root, "."+key+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *JSONStore) Close() error { return nil }
