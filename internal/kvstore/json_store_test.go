package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONStore_GetMissingFile(t *testing.T) {
	st := NewJSONStore(t.TempDir())
	v, ok, err := st.Get(context.Background(), "chat-history")
	if err != nil {
		t.Fatal(err)
	}
	if ok || v != nil {
		t.Fatalf("expected missing key, got ok=%v v=%q", ok, v)
	}
}

func TestJSONStore_SetWritesOneFilePerKey(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	st := NewJSONStore(root)
	ctx := context.Background()

	if err := st.Set(ctx, "chat-history", []byte(`[{"id":"1"}]`)); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(root, "chat-history.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `[{"id":"1"}]` {
		t.Fatalf("unexpected file contents: %q", b)
	}

	ents, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 1 {
		t.Fatalf("expected temp files to be cleaned up, got %d entries", len(ents))
	}
}

func TestJSONStore_RejectsTraversal(t *testing.T) {
	st := NewJSONStore(t.TempDir())
	err := st.Set(context.Background(), "../escape", []byte("x"))
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	in := []byte("abc")
	if err := st.Set(ctx, "k", in); err != nil {
		t.Fatal(err)
	}
	in[0] = 'z'

	out, ok, err := st.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected value, got ok=%v err=%v", ok, err)
	}
	if string(out) != "abc" {
		t.Fatalf("expected stored copy to be unaffected, got %q", out)
	}
	out[0] = 'y'
	again, _, _ := st.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("expected returned slice to be a copy, got %q", again)
	}
}
