package kvstore

import (
	"context"
	"fmt"
)

// CompositeStore writes to a primary store and reads through to a legacy
// store when the primary has never seen a key. Once the primary has been
// written the legacy value is shadowed.
type CompositeStore struct {
	primary Store
	legacy  Store
}

type OpenOptions struct {
	// DataDir is where the legacy JSON files live.
	DataDir       string
	DBPath        string
	UseLegacy     bool
	DisableSQLite bool
	Ephemeral     bool

	// ReadOnly opens SQLite with mode=ro; used by commands that only read.
	ReadOnly bool
}

// OpenStore opens the appropriate store for the configured data sources.
//
// Default behavior (UseLegacy=false): SQLite only.
// Legacy behavior (UseLegacy=true): SQLite with read-through to JSON files,
// or JSON only when SQLite is disabled.
// Ephemeral: in-memory, nothing touches disk.
func OpenStore(opts OpenOptions) (Store, error) {
	if opts.Ephemeral {
		return NewMemoryStore(), nil
	}
	if !opts.UseLegacy {
		if opts.DisableSQLite {
			return nil, fmt.Errorf("sqlite disabled and legacy disabled")
		}
		st, err := OpenSQLiteStore(opts.DBPath, SQLiteOptions{ReadOnly: opts.ReadOnly})
		if err != nil {
			return nil, err
		}
		return st, nil
	}

	jsonStore := NewJSONStore(opts.DataDir)
	if opts.DisableSQLite {
		return jsonStore, nil
	}
	st, err := OpenSQLiteStore(opts.DBPath, SQLiteOptions{ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, err
	}
	return NewCompositeStore(st, jsonStore), nil
}

func NewCompositeStore(primary, legacy Store) *CompositeStore {
	return &CompositeStore{primary: primary, legacy: legacy}
}

func (s *CompositeStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	havePrimary := s.primary != nil
	haveLegacy := s.legacy != nil
	if !havePrimary && !haveLegacy {
		return nil, false, fmt.Errorf("no storage sources configured")
	}

	var primaryErr error
	if havePrimary {
		v, ok, err := s.primary.Get(ctx, key)
		if err == nil && ok {
			return v, true, nil
		}
		primaryErr = err
	}
	if !haveLegacy {
		return nil, false, primaryErr
	}

	v, ok, legacyErr := s.legacy.Get(ctx, key)
	if legacyErr == nil {
		return v, ok, nil
	}
	if primaryErr != nil {
		return nil, false, fmt.Errorf("primary: %v; legacy: %w", primaryErr, legacyErr)
	}
	// The primary answered cleanly with "absent"; a broken legacy file
	// shouldn't turn that into a failure.
	return nil, false, nil
}

func (s *CompositeStore) Set(ctx context.Context, key string, value []byte) error {
	if s.primary != nil {
		return s.primary.Set(ctx, key, value)
	}
	if s.legacy != nil {
		return s.legacy.Set(ctx, key, value)
	}
	return fmt.Errorf("no storage sources configured")
}

func (s *CompositeStore) Close() error {
	var err error
	if s.primary != nil {
		err = s.primary.Close()
	}
	if s.legacy != nil {
		_ = s.legacy.Close()
	}
	return err
}
