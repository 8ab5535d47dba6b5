package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeLegacyBlob(t *testing.T, root, key, contents string) {
	t.Helper()
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, key+".json"), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.err }
func (f failingStore) Set(context.Context, string, []byte) error         { return f.err }
func (f failingStore) Close() error                                      { return nil }

func TestCompositeStore_ReadsThroughToLegacyUntilPrimaryWritten(t *testing.T) {
	root := t.TempDir()
	dbPath := createTestSQLiteDB(t)
	ctx := context.Background()

	writeLegacyBlob(t, root, "chat-history", `["legacy"]`)

	st, err := OpenStore(OpenOptions{DataDir: root, DBPath: dbPath, UseLegacy: true})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	v, ok, err := st.Get(ctx, "chat-history")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(v) != `["legacy"]` {
		t.Fatalf("expected legacy value, got ok=%v v=%q", ok, v)
	}

	if err := st.Set(ctx, "chat-history", []byte(`["sqlite"]`)); err != nil {
		t.Fatal(err)
	}
	v, ok, err = st.Get(ctx, "chat-history")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(v) != `["sqlite"]` {
		t.Fatalf("expected sqlite value to shadow legacy, got ok=%v v=%q", ok, v)
	}

	// Writes never touch the legacy file.
	b, err := os.ReadFile(filepath.Join(root, "chat-history.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `["legacy"]` {
		t.Fatalf("expected legacy file untouched, got %q", b)
	}
}

func TestCompositeStore_PrimaryErrorFallsBackToLegacy(t *testing.T) {
	legacy := NewMemoryStore()
	if err := legacy.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	st := NewCompositeStore(failingStore{err: errors.New("disk gone")}, legacy)

	v, ok, err := st.Get(context.Background(), "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("expected legacy value, got ok=%v v=%q err=%v", ok, v, err)
	}
}

func TestCompositeStore_BothFailing(t *testing.T) {
	st := NewCompositeStore(failingStore{err: errors.New("a")}, failingStore{err: errors.New("b")})
	if _, _, err := st.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected merged error")
	}
	if err := st.Set(context.Background(), "k", nil); err == nil {
		t.Fatalf("expected primary set error")
	}
}

func TestOpenStore_Modes(t *testing.T) {
	root := t.TempDir()

	if _, err := OpenStore(OpenOptions{DataDir: root, DisableSQLite: true}); err == nil {
		t.Fatalf("expected error when sqlite and legacy are both disabled")
	}

	st, err := OpenStore(OpenOptions{DataDir: root, UseLegacy: true, DisableSQLite: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*JSONStore); !ok {
		t.Fatalf("expected JSON-only store, got %T", st)
	}

	st, err = OpenStore(OpenOptions{Ephemeral: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", st)
	}

	st, err = OpenStore(OpenOptions{DBPath: filepath.Join(root, "x.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, ok := st.(*SQLiteStore); !ok {
		t.Fatalf("expected sqlite store, got %T", st)
	}
}

func TestCheckStorageWritable_DefaultSQLite(t *testing.T) {
	root := t.TempDir()
	if err := CheckStorageWritable(OpenOptions{DBPath: filepath.Join(root, "db", "chathist.db")}); err != nil {
		t.Fatalf("expected writable sqlite path, got %v", err)
	}
}

func TestCheckStorageWritable_BothDisabled(t *testing.T) {
	if err := CheckStorageWritable(OpenOptions{DataDir: t.TempDir(), DisableSQLite: true}); err == nil {
		t.Fatalf("expected error when sqlite and legacy are both disabled")
	}
}

func TestCheckStorageWritable_DataDirIsAFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CheckStorageWritable(OpenOptions{DataDir: file, UseLegacy: true, DisableSQLite: true}); err == nil {
		t.Fatalf("expected error when data dir is a regular file")
	}
}
