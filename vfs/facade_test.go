package vfs

import (
	"context"
	"testing"
)

func TestFS_DefaultMountIsRoot(t *testing.T) {
	fs := NewFS(newTestStore(t), "/")
	mounts := fs.Mounts()
	if len(mounts) != 1 || mounts[0].Prefix != "/" {
		t.Fatalf("Mounts = %+v, want single root mount", mounts)
	}
}

func TestFS_AddMountRoutesByLongestPrefix(t *testing.T) {
	ctx := context.Background()
	root := newTestStore(t)
	sub := newTestStore(t)
	fs := NewFS(root, "/")
	fs.AddMount("/mnt/data", sub)

	if err := fs.WriteFile(ctx, "/mnt/data/a.txt", []byte("in sub store")); err != nil {
		t.Fatalf("WriteFile under mount: %v", err)
	}
	if err := fs.WriteFile(ctx, "/root.txt", []byte("in root store")); err != nil {
		t.Fatalf("WriteFile at root: %v", err)
	}

	if _, err := sub.ReadFile(ctx, "/a.txt"); err != nil {
		t.Fatalf("expected /mnt/data/a.txt to land in sub store as /a.txt: %v", err)
	}
	if _, err := root.ReadFile(ctx, "/mnt/data/a.txt"); !IsCode(err, ENOENT) {
		t.Fatalf("expected root store NOT to see /mnt/data/a.txt, err = %v", err)
	}
	if _, err := root.ReadFile(ctx, "/root.txt"); err != nil {
		t.Fatalf("expected /root.txt to land in root store: %v", err)
	}
}

func TestFS_AddMountPrefersLongestPrefixRegardlessOfRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	root := newTestStore(t)
	outer := newTestStore(t)
	inner := newTestStore(t)
	fs := NewFS(root, "/")

	// Register the longer prefix first to confirm resolution isn't
	// order-dependent.
	fs.AddMount("/a/b", inner)
	fs.AddMount("/a", outer)

	if err := fs.WriteFile(ctx, "/a/b/deep.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := inner.ReadFile(ctx, "/deep.txt"); err != nil {
		t.Fatalf("expected /a/b to shadow /a, got: %v", err)
	}

	if err := fs.WriteFile(ctx, "/a/shallow.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := outer.ReadFile(ctx, "/shallow.txt"); err != nil {
		t.Fatalf("expected /a/shallow.txt to land in the /a mount, got: %v", err)
	}
}

func TestFS_RenameAcrossMountsFails(t *testing.T) {
	ctx := context.Background()
	root := newTestStore(t)
	sub := newTestStore(t)
	fs := NewFS(root, "/")
	fs.AddMount("/mnt", sub)

	if err := fs.WriteFile(ctx, "/a.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fs.Rename(ctx, "/a.txt", "/mnt/a.txt"); !IsCode(err, ENOTDIR) {
		t.Fatalf("Rename across mounts = %v, want ENOTDIR", err)
	}
}
