package kernel

import (
	"context"
	"fmt"
)

// Dispose tears the kernel down in dependency order: unregister all
// servers, terminate all processes in parallel, flush VFS events, dispose
// interpreter contexts, close the bridge. Safe to call more than once;
// subsequent calls are no-ops.
func (k *Kernel) Dispose(ctx context.Context) error {
	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return nil
	}
	k.disposed = true
	k.mu.Unlock()
	defer release()

	for _, srv := range k.Network.ListServers() {
		k.Network.Close(ctx, srv.Port, srv.Kind)
	}

	if err := k.Registry.KillAll(ctx); err != nil {
		return fmt.Errorf("kernel: dispose: terminate processes: %w", err)
	}

	// Flushing VFS events means letting any in-flight Publish calls drain;
	// the bus has no buffered queue of its own (Publish is synchronous), so
	// there is nothing further to await here beyond closing the store,
	// which is the VFS's own dispose step.
	if err := k.Store.Close(); err != nil {
		return fmt.Errorf("kernel: dispose: close vfs: %w", err)
	}

	// Interpreter contexts are disposed as a side effect of process
	// termination above (each script process's terminate func cancels its
	// interpreter's context, which unwinds its pump goroutine); nothing
	// further to do here.

	if k.Bridge != nil {
		if err := k.Bridge.Close(); err != nil {
			return fmt.Errorf("kernel: dispose: close bridge: %w", err)
		}
	}

	if k.Tracer != nil {
		if err := k.Tracer.Shutdown(ctx); err != nil {
			return fmt.Errorf("kernel: dispose: shutdown tracer: %w", err)
		}
	}

	return nil
}
