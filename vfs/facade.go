package vfs

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
)

// mount pairs a path prefix with the store that owns everything under it.
// Mounts do not overlap: a mount registered at /a/b shadows /a/b/** that
// would otherwise be served by a shorter-prefix mount (e.g. the root "/").
type mount struct {
	prefix string
	store  *Store
}

// Mount is the read-only view of one (prefix, store) pair returned by
// FS.Mounts().
type Mount struct {
	Prefix string
	Store  *Store
}

// FS is the facade handed to process and bridge callers: it normalises
// paths to the root-absolute form the store expects, resolves which mounted
// store owns a given path by longest-matching-prefix, and enforces that no
// caller can escape the mount root.
type FS struct {
	store *Store
	root  string

	mountsMu sync.RWMutex
	mounts   []mount // kept sorted longest-prefix-first
}

// NewFS wraps store, resolving all relative paths against root (always "/"
// for the top-level kernel filesystem; sandboxes may mount sub-trees). store
// becomes the root mount ("/").
func NewFS(store *Store, root string) *FS {
	if root == "" {
		root = "/"
	}
	return &FS{
		store:  store,
		root:   path.Clean(root),
		mounts: []mount{{prefix: "/", store: store}},
	}
}

func (f *FS) Store() *Store { return f.store }

// AddMount registers store as the handler for every path under prefix. A
// mount at a longer prefix takes precedence over any shorter-prefix mount
// already registered, regardless of registration order.
func (f *FS) AddMount(prefix string, store *Store) {
	prefix = path.Clean(prefix)
	if prefix != "/" {
		prefix = strings.TrimSuffix(prefix, "/")
	}
	f.mountsMu.Lock()
	defer f.mountsMu.Unlock()
	f.mounts = append(f.mounts, mount{prefix: prefix, store: store})
	sort.SliceStable(f.mounts, func(i, j int) bool {
		return len(f.mounts[i].prefix) > len(f.mounts[j].prefix)
	})
}

// Mounts returns a snapshot of the ordered mount table, longest prefix
// first.
func (f *FS) Mounts() []Mount {
	f.mountsMu.RLock()
	defer f.mountsMu.RUnlock()
	out := make([]Mount, len(f.mounts))
	for i, m := range f.mounts {
		out[i] = Mount{Prefix: m.prefix, Store: m.store}
	}
	return out
}

// resolve finds the longest-matching mount for the normalized path p and
// returns the store that owns it along with p re-rooted at that mount's own
// "/" (the store itself is unaware it is mounted at anything but its root).
func (f *FS) resolve(p string) (*Store, string) {
	f.mountsMu.RLock()
	defer f.mountsMu.RUnlock()
	for _, m := range f.mounts {
		if m.prefix == "/" {
			return m.store, p
		}
		if p == m.prefix {
			return m.store, "/"
		}
		if strings.HasPrefix(p, m.prefix+"/") {
			return m.store, strings.TrimPrefix(p, m.prefix)
		}
	}
	return f.store, p
}

// resolveCross is like resolve but reports whether oldPath and newPath land
// on the same store, for operations (Rename) that cannot span mounts.
func (f *FS) resolveCross(oldPath, newPath string) (store *Store, oldRel, newRel string, sameMount bool) {
	oldStore, oldRel := f.resolve(oldPath)
	newStore, newRel := f.resolve(newPath)
	return oldStore, oldRel, newRel, oldStore == newStore
}

// normalize resolves p against the facade root and rejects escapes via "..".
func (f *FS) normalize(p string) string {
	if p == "" {
		p = "."
	}
	var full string
	if strings.HasPrefix(p, "/") {
		full = p
	} else {
		full = path.Join(f.root, p)
	}
	full = path.Clean(full)
	if !strings.HasPrefix(full, f.root) {
		full = f.root
	}
	if full == "" {
		full = "/"
	}
	return full
}

func (f *FS) Stat(ctx context.Context, p string) (Meta, error) {
	store, rel := f.resolve(f.normalize(p))
	return store.Stat(ctx, rel)
}

func (f *FS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	store, rel := f.resolve(f.normalize(p))
	return store.ReadFile(ctx, rel)
}

func (f *FS) WriteFile(ctx context.Context, p string, content []byte) error {
	store, rel := f.resolve(f.normalize(p))
	return store.WriteFile(ctx, rel, content)
}

func (f *FS) OpenFile(ctx context.Context, p string, flag OpenFlag) (*Handle, error) {
	store, rel := f.resolve(f.normalize(p))
	h, err := store.OpenFile(ctx, rel, flag)
	return h, err
}

func (f *FS) Sync(ctx context.Context, h *Handle, data []byte) error {
	store, rel := f.resolve(f.normalize(h.Path))
	h.Path = rel
	return store.Sync(ctx, h, data)
}

func (f *FS) Mkdir(ctx context.Context, p string, mode Mode, opts ...MkdirOption) error {
	store, rel := f.resolve(f.normalize(p))
	return store.Mkdir(ctx, rel, mode, opts...)
}

func (f *FS) Unlink(ctx context.Context, p string) error {
	store, rel := f.resolve(f.normalize(p))
	return store.Unlink(ctx, rel)
}

func (f *FS) Rmdir(ctx context.Context, p string, recursive bool) error {
	store, rel := f.resolve(f.normalize(p))
	return store.Rmdir(ctx, rel, recursive)
}

// Rename requires oldPath and newPath to resolve to the same mount; renaming
// across mounts would require copying content between independent stores,
// which no SPEC_FULL.md component needs, so it fails fast with ENOTDIR
// rather than silently doing a cross-store copy+delete.
func (f *FS) Rename(ctx context.Context, oldPath, newPath string) error {
	store, oldRel, newRel, sameMount := f.resolveCross(f.normalize(oldPath), f.normalize(newPath))
	if !sameMount {
		return newErr(ENOTDIR, newPath, nil)
	}
	return store.Rename(ctx, oldRel, newRel)
}

func (f *FS) Readdir(ctx context.Context, p string) ([]string, error) {
	store, rel := f.resolve(f.normalize(p))
	return store.Readdir(ctx, rel)
}

// TextSearch always runs against the root mount; opts.Folders/Includes/
// Excludes scope the search further by path, a row-level filter rather than
// a mount lookup, since a search can legitimately span folders that would
// resolve to different mounts.
func (f *FS) TextSearch(ctx context.Context, opts SearchOptions) (SearchResult, error) {
	return f.store.TextSearch(ctx, opts)
}

// Bus exposes the root mount's change-event bus for watchers; non-root
// mounts are not fanned into this bus (no SPEC_FULL.md component mounts a
// second store, so there is nothing to merge yet).
func (f *FS) Bus() *Bus { return f.store.Bus() }
