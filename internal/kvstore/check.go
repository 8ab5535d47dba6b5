package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CheckStorageWritable validates the configured data sources before the
// session store is opened on top of them.
//
// Default behavior (UseLegacy=false): require the SQLite path to be usable.
// Legacy behavior (UseLegacy=true): the data dir must be writable too.
func CheckStorageWritable(opts OpenOptions) error {
	if opts.Ephemeral {
		return nil
	}
	if !opts.UseLegacy {
		if opts.DisableSQLite {
			return errors.New("sqlite disabled and legacy disabled")
		}
		return checkSQLiteWritable(opts.DBPath)
	}

	jsonErr := checkDirWritable(opts.DataDir)
	if opts.DisableSQLite {
		return jsonErr
	}
	sqliteErr := checkSQLiteWritable(opts.DBPath)
	if jsonErr == nil && sqliteErr == nil {
		return nil
	}
	if jsonErr != nil && sqliteErr != nil {
		return fmt.Errorf("json unwritable: %w; sqlite unwritable: %v", jsonErr, sqliteErr)
	}
	if jsonErr != nil {
		return fmt.Errorf("json unwritable: %w", jsonErr)
	}
	return fmt.Errorf("sqlite unwritable: %w", sqliteErr)
}

func checkDirWritable(dir string) error {
	if dir == "" {
		return errors.New("empty data dir")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	st, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	f, err := os.CreateTemp(dir, ".chathist-check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func checkSQLiteWritable(dbPath string) error {
	if dbPath == "" {
		return errors.New("empty db path")
	}
	if err := checkDirWritable(filepath.Dir(dbPath)); err != nil {
		return err
	}
	st, err := OpenSQLiteStore(dbPath, SQLiteOptions{})
	if err != nil {
		return err
	}
	return st.Close()
}
