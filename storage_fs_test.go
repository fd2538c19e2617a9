package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func TestFSBlobCachePutGet(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cache := NewFSBlobCache(fsConfig{CacheRoot: root}, testSugar())

	err := cache.Put(ctx, "@types/node", `{"v":1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fullPath := filepath.Join(root, "@types", "node", CACHE_INDEX_OBJECT_NAME)
	info, err := os.Stat(fullPath)
	if err != nil {
		t.Fatalf("expected entry at %s: %v", fullPath, err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("expected mode 0644, got %v", info.Mode().Perm())
	}
	onDisk, err := os.ReadFile(fullPath)
	if err != nil {
		t.Fatal(err)
	}
	if text, err := decompressText(onDisk); err != nil || text != `{"v":1}` {
		t.Errorf("on-disk blob decoded to %q, %v", text, err)
	}

	err = cache.Put(ctx, "@types/node", `{"v":2}`)
	if err != nil {
		t.Fatalf("unexpected error on overwrite: %v", err)
	}
	got, err := cache.Get(ctx, "@types/node")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"v":2}` {
		t.Errorf("Get = %q, want overwritten value", got)
	}

	entries, err := os.ReadDir(filepath.Dir(fullPath))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the index object to remain, got %d entries", len(entries))
	}
}

func TestFSBlobCacheGetMissing(t *testing.T) {
	cache := NewFSBlobCache(fsConfig{CacheRoot: t.TempDir()}, testSugar())

	_, err := cache.Get(context.Background(), "nope")
	if !errors.Is(err, ErrCacheEntryNotFound) {
		t.Errorf("expected ErrCacheEntryNotFound, got %v", err)
	}
}

func TestFSBlobCacheGetCorrupt(t *testing.T) {
	root := t.TempDir()
	cache := NewFSBlobCache(fsConfig{CacheRoot: root}, testSugar())
	dir := filepath.Join(root, "broken")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, CACHE_INDEX_OBJECT_NAME), []byte("not gzip"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := cache.Get(context.Background(), "broken")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, ErrCacheEntryNotFound) {
		t.Errorf("corrupt entry should not look like a missing one: %v", err)
	}
}

func TestFSBlobCacheEnumerate(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cache := NewFSBlobCache(fsConfig{CacheRoot: root, PageSize: 2}, testSugar())

	names := []string{"a", "b", "c", "d", "e", "@scope/x", "@scope/y"}
	for _, name := range names {
		if err := cache.Put(ctx, name, "{}"); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "stray-file"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	got := collectNames(t, cache)
	sort.Strings(got)
	want := append([]string(nil), names...)
	sort.Strings(want)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	count := 0
	for _, err := range cache.Enumerate(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		count++
		if count == 3 {
			break
		}
	}
	if count != 3 {
		t.Errorf("expected to stop after 3 names, got %d", count)
	}
}

func TestFSBlobCacheEnumerateMissingRoot(t *testing.T) {
	cache := NewFSBlobCache(fsConfig{CacheRoot: filepath.Join(t.TempDir(), "absent")}, testSugar())

	got := collectNames(t, cache)
	if len(got) != 0 {
		t.Errorf("expected no names, got %v", got)
	}
}

func TestFSBlobCacheEnumerateCancelled(t *testing.T) {
	root := t.TempDir()
	cache := NewFSBlobCache(fsConfig{CacheRoot: root}, testSugar())
	if err := cache.Put(context.Background(), "a", "{}"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var lastErr error
	for _, err := range cache.Enumerate(ctx) {
		lastErr = err
	}
	if !errors.Is(lastErr, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", lastErr)
	}
}

func TestFSBlobCacheRejectsNamesOutsideRoot(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	root := filepath.Join(base, "cache")
	cache := NewFSBlobCache(fsConfig{CacheRoot: root}, testSugar())

	for _, name := range []string{"../escaped", "../../escaped", "@scope/../../escaped", "/abs"} {
		t.Run(name, func(t *testing.T) {
			err := cache.Put(ctx, name, "{}")
			if !errors.Is(err, ErrInvalidPackageName) {
				t.Errorf("Put: expected ErrInvalidPackageName, got %v", err)
			}
			_, err = cache.Get(ctx, name)
			if !errors.Is(err, ErrInvalidPackageName) {
				t.Errorf("Get: expected ErrInvalidPackageName, got %v", err)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(base, "escaped", CACHE_INDEX_OBJECT_NAME)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("an entry was written outside the cache root: %v", err)
	}
}
