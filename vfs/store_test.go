package vfs

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "vfs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_WriteAndReadFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.WriteFile(ctx, "/hello.txt", []byte("hi there")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := s.ReadFile(ctx, "/hello.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hi there" {
		t.Fatalf("got %q, want %q", got, "hi there")
	}

	m, err := s.Stat(ctx, "/hello.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if m.IsDir() {
		t.Fatalf("expected regular file, got dir")
	}
	if m.Size != int64(len("hi there")) {
		t.Fatalf("size = %d, want %d", m.Size, len("hi there"))
	}
}

func TestStore_ReadFileMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadFile(context.Background(), "/nope.txt")
	if !IsCode(err, ENOENT) {
		t.Fatalf("err = %v, want ENOENT", err)
	}
}

func TestStore_MkdirAndReaddir(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Mkdir(ctx, "/a/b/c", 0o755, Recursive()); err != nil {
		t.Fatalf("Mkdir recursive: %v", err)
	}
	if err := s.WriteFile(ctx, "/a/b/file1.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.WriteFile(ctx, "/a/b/file2.txt", []byte("y")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	names, err := s.Readdir(ctx, "/a/b")
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	want := map[string]bool{"c": true, "file1.txt": true, "file2.txt": true}
	if len(names) != len(want) {
		t.Fatalf("Readdir = %v, want entries %v", names, want)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected entry %q", n)
		}
	}
}

func TestStore_MkdirExistingFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Mkdir(ctx, "/dir", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := s.Mkdir(ctx, "/dir", 0o755); !IsCode(err, EEXIST) {
		t.Fatalf("err = %v, want EEXIST", err)
	}
}

func TestStore_RmdirNonEmptyRequiresRecursive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Mkdir(ctx, "/dir", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := s.WriteFile(ctx, "/dir/f.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := s.Rmdir(ctx, "/dir", false); !IsCode(err, ENOTEMPTY) {
		t.Fatalf("err = %v, want ENOTEMPTY", err)
	}
	if err := s.Rmdir(ctx, "/dir", true); err != nil {
		t.Fatalf("recursive Rmdir: %v", err)
	}
	if _, err := s.Stat(ctx, "/dir"); !IsCode(err, ENOENT) {
		t.Fatalf("dir still present after recursive rmdir: %v", err)
	}
}

func TestStore_Rename(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.WriteFile(ctx, "/old.txt", []byte("content")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.Rename(ctx, "/old.txt", "/new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := s.Stat(ctx, "/old.txt"); !IsCode(err, ENOENT) {
		t.Fatalf("old path still exists: %v", err)
	}
	got, err := s.ReadFile(ctx, "/new.txt")
	if err != nil {
		t.Fatalf("ReadFile new: %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("content = %q, want %q", got, "content")
	}
}

func TestStore_CtimeMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.WriteFile(ctx, "/f.txt", []byte("1")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	m1, _ := s.Stat(ctx, "/f.txt")
	if err := s.WriteFile(ctx, "/f.txt", []byte("2")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	m2, _ := s.Stat(ctx, "/f.txt")
	if m2.CTime <= m1.CTime {
		t.Fatalf("ctime did not advance: %d -> %d", m1.CTime, m2.CTime)
	}
}

func TestStore_ChangeEventsPublished(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	events := make(chan Event, 8)
	id := s.Bus().Subscribe(func(ev Event) { events <- ev })
	defer s.Bus().Unsubscribe(id)

	if err := s.WriteFile(ctx, "/new.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != EventAddFile || ev.Path != "/new.txt" {
			t.Fatalf("got event %+v, want add_file /new.txt", ev)
		}
	default:
		t.Fatalf("expected a published event, got none")
	}
}
