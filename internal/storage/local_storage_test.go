package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStorageSave(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}

	rel, err := store.Save(context.Background(), []byte("payload"), SaveOptions{
		Category:  "artifacts",
		Extension: "png",
		BaseName:  "artifact-01",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(rel, "artifacts/") || !strings.HasSuffix(rel, "artifact-01.png") {
		t.Fatalf("unexpected relative path: %s", rel)
	}

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected content: %s", data)
	}
}

func TestLocalStorageSkipIfExists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}

	opts := SaveOptions{Category: "artifacts", Extension: "png", BaseName: "same", SkipIfExists: true}
	first, err := store.Save(context.Background(), []byte("one"), opts)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	second, err := store.Save(context.Background(), []byte("two"), opts)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if first != second {
		t.Fatalf("expected same path, got %s / %s", first, second)
	}

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(first)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "one" {
		t.Fatalf("existing file should be kept, got %s", data)
	}
}

func TestLocalStorageEmptyPayload(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}
	if _, err := store.Save(context.Background(), nil, SaveOptions{Category: "artifacts"}); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestBuildObjectPath(t *testing.T) {
	cases := []struct {
		name     string
		category string
		base     string
		ext      string
		suffix   string
		prefix   string
	}{
		{"常规", "Artifacts", "My File", "PNG", "my-file.png", "artifacts/"},
		{"空类别落入 misc", "", "x", "png", "x.png", "misc/"},
		{"空扩展名落入 bin", "artifacts", "x", "", "x.bin", "artifacts/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := buildObjectPath(tc.category, tc.base, tc.ext)
			if !strings.HasPrefix(got, tc.prefix) || !strings.HasSuffix(got, tc.suffix) {
				t.Fatalf("unexpected path: %s", got)
			}
		})
	}
}
