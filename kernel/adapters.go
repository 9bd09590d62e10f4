package kernel

import (
	"context"

	"github.com/sandkernel/kernel/vfs"
)

// builtinsFSAdapter satisfies process.BuiltinsFS over a *vfs.FS.
type builtinsFSAdapter struct{ fs *vfs.FS }

func (a builtinsFSAdapter) WriteFile(ctx context.Context, path string, content []byte) error {
	return a.fs.WriteFile(ctx, path, content)
}

func (a builtinsFSAdapter) Mkdir(ctx context.Context, path string, mode uint32, recursive bool) error {
	if recursive {
		return a.fs.Mkdir(ctx, path, vfs.Mode(mode), vfs.Recursive())
	}
	return a.fs.Mkdir(ctx, path, vfs.Mode(mode))
}

// scriptFSAdapter satisfies process.ScriptFS over a *vfs.FS.
type scriptFSAdapter struct{ fs *vfs.FS }

func (a scriptFSAdapter) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return a.fs.ReadFile(ctx, path)
}

func (a scriptFSAdapter) Readdir(ctx context.Context, path string) ([]string, error) {
	return a.fs.Readdir(ctx, path)
}

func (a scriptFSAdapter) Stat(ctx context.Context, path string) (interface{ IsDir() bool }, error) {
	return a.fs.Stat(ctx, path)
}
