package process

import (
	"context"
	"testing"
)

type fakeBuiltinsFS struct {
	dirs  []string
	files map[string][]byte
}

func newFakeBuiltinsFS() *fakeBuiltinsFS {
	return &fakeBuiltinsFS{files: map[string][]byte{}}
}

func (f *fakeBuiltinsFS) WriteFile(ctx context.Context, path string, content []byte) error {
	f.files[path] = content
	return nil
}

func (f *fakeBuiltinsFS) Mkdir(ctx context.Context, path string, mode uint32, recursive bool) error {
	f.dirs = append(f.dirs, path)
	return nil
}

func TestLoadBuiltinsBundle_HashIsStable(t *testing.T) {
	b1, err := LoadBuiltinsBundle()
	if err != nil {
		t.Fatalf("LoadBuiltinsBundle: %v", err)
	}
	b2, err := LoadBuiltinsBundle()
	if err != nil {
		t.Fatalf("LoadBuiltinsBundle: %v", err)
	}
	if b1.Hash.String() != b2.Hash.String() {
		t.Fatalf("hash not stable across builds: %s != %s", b1.Hash, b2.Hash)
	}
}

func TestBuiltinsBundle_ProvisionWritesFiles(t *testing.T) {
	bundle, err := LoadBuiltinsBundle()
	if err != nil {
		t.Fatalf("LoadBuiltinsBundle: %v", err)
	}
	fsys := newFakeBuiltinsFS()
	if err := bundle.Provision(context.Background(), fsys); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if _, ok := fsys.files["/builtins/primordials.js"]; !ok {
		t.Fatalf("expected /builtins/primordials.js to be written, got %v", fsys.files)
	}
	if _, ok := fsys.files["/builtins/internal_binding.js"]; !ok {
		t.Fatalf("expected /builtins/internal_binding.js to be written, got %v", fsys.files)
	}
	if _, ok := fsys.files["/builtins/node/http.js"]; !ok {
		t.Fatalf("expected /builtins/node/http.js to be written, got %v", fsys.files)
	}
}
