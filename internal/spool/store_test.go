package spool

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestStoreAppendReadAll(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, WithMaxBytes(1<<20), WithSegmentSize(64))
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	defer store.Close()

	for i := 0; i < 20; i++ {
		if err := store.Append([]byte(fmt.Sprintf("record-%02d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 20 {
		t.Fatalf("expected 20 records got %d", len(records))
	}
	for i, rec := range records {
		if want := fmt.Sprintf("record-%02d", i); string(rec) != want {
			t.Fatalf("record %d: expected %q got %q", i, want, rec)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected segment rotation, got %d files", len(entries))
	}
	if got := store.SizeBytes(); got != 20*(4+9) {
		t.Fatalf("unexpected size %d", got)
	}
}

func TestStoreRejectsAppendBeyondCap(t *testing.T) {
	store, err := Open(t.TempDir(), WithMaxBytes(16))
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	defer store.Close()

	if err := store.Append([]byte("12345678")); err != nil {
		t.Fatalf("first append: %v", err)
	}
	err = store.Append([]byte("12345678"))
	if !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull got %v", err)
	}
}

func TestStoreReopenResumesAppending(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, WithSync(true))
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	if err := store.Append([]byte("a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Append([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed got %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Append([]byte("b")); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	records, err := reopened.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 || string(records[0]) != "a" || string(records[1]) != "b" {
		t.Fatalf("unexpected records %q", records)
	}
}
