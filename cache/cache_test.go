package cache

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/metal0/codegen"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "sub", "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestKey(t *testing.T) {
	input := []byte(`{"_type": "Module", "body": []}`)
	opts := codegen.DefaultOptions()

	k := Key(input, opts)
	if len(k) != 64 {
		t.Errorf("key length = %d, want 64", len(k))
	}
	if Key(input, opts) != k {
		t.Error("key is not deterministic")
	}

	module := opts
	module.ModuleMode = true
	if Key(input, module) == k {
		t.Error("mode should change the key")
	}
	if Key([]byte(`{"_type": "Module", "body": [ ]}`), opts) == k {
		t.Error("input should change the key")
	}

	a, b := opts, opts
	a.InlineModules = []string{"math", "operator"}
	b.InlineModules = []string{"operator", "math"}
	if Key(input, a) != Key(input, b) {
		t.Error("inline module order should not change the key")
	}
	if Key(input, a) == k {
		t.Error("inline module restriction should change the key")
	}
}

func TestPutGet(t *testing.T) {
	c := openTemp(t)
	key := Key([]byte("m"), codegen.DefaultOptions())

	if _, err := c.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty cache: err = %v, want ErrNotFound", err)
	}

	rep := &codegen.Report{BuildID: "b1", Module: "m", Mode: "script",
		Functions: []codegen.FunctionInfo{{Name: "f", Required: 1, Total: 1}}}
	put, err := c.Put(key, []byte("const x = 1;\n"), rep)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if put.ID == "" {
		t.Error("Put should assign an id")
	}

	got, err := c.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Zig) != "const x = 1;\n" {
		t.Errorf("Zig = %q", got.Zig)
	}
	if got.ID != put.ID {
		t.Errorf("ID = %q, want %q", got.ID, put.ID)
	}
	decoded, err := got.DecodeReport()
	if err != nil {
		t.Fatalf("DecodeReport: %v", err)
	}
	if decoded == nil || decoded.Module != "m" || len(decoded.Functions) != 1 {
		t.Errorf("report = %+v", decoded)
	}
}

func TestPutReplacesStaleEntry(t *testing.T) {
	c := openTemp(t)
	key := Key([]byte("m"), codegen.DefaultOptions())

	first, err := c.Put(key, []byte("old"), nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := c.Put(key, []byte("new"), nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if first.ID == second.ID {
		t.Error("replacement should get a new id")
	}

	got, err := c.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Zig) != "new" {
		t.Errorf("Zig = %q, want new", got.Zig)
	}
	if rep, err := got.DecodeReport(); err != nil || rep != nil {
		t.Errorf("DecodeReport = %v, %v; want nil, nil", rep, err)
	}
	if n, err := c.Len(); err != nil || n != 1 {
		t.Errorf("Len = %d, %v; want 1", n, err)
	}
}

func TestPrune(t *testing.T) {
	c := openTemp(t)
	if _, err := c.Put("a", []byte("a"), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := c.Put("b", []byte("b"), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	n, err := c.Prune(time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Errorf("Prune(past) = %d, %v; want 0", n, err)
	}
	n, err = c.Prune(time.Now().Add(time.Hour))
	if err != nil || n != 2 {
		t.Errorf("Prune(future) = %d, %v; want 2", n, err)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := c.Put("k", []byte("z"), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	c.Close()

	c, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()
	if _, err := c.Get("k"); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}
