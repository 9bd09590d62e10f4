package process

import (
	"context"
	"fmt"
	"sync"

	"github.com/sandkernel/kernel/network"
)

// ScriptFS is the subset of the VFS facade the script executor needs to
// resolve require() targets and read module sources straight out of the
// guest's virtual filesystem.
type ScriptFS interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	Readdir(ctx context.Context, path string) ([]string, error)
	Stat(ctx context.Context, path string) (interface {
		IsDir() bool
	}, error)
}

// ScriptExecutor runs a guest script as an in-process interpreter context:
// require() resolves through the VFS facade rather than a real-disk copy,
// and the socket/DNS/child-process/UDP/TLS/crypto capability shims a guest
// sees are native bindings backed by the network manager, the host gateway
// and DNS gateway — never a real OS process or a real "node" binary.
type ScriptExecutor struct {
	Registry *Registry
	Network  *network.Manager
	Gateway  *network.Gateway
	DNS      *network.DNSGateway

	// Release is the guest-visible interpreter identity: process.argv[0]
	// and process.release.name. Defaults to "node"; there is no real
	// interpreter binary behind it, so this only governs what guest code
	// sees when it branches on process.release.name.
	Release string

	// SpawnChild lets the child_process binding ask the kernel to spawn a
	// new registry-tracked process, the same way ShellExecutor.Dispatch
	// routes a shell command to the script executor.
	SpawnChild func(ctx context.Context, entry string, args []string, parentPID int64, cwd string, env map[string]string) (*Process, error)

	vmMu sync.Mutex
	vms  map[int64]*scriptVM
}

func NewScriptExecutor(reg *Registry, netMgr *network.Manager) *ScriptExecutor {
	return &ScriptExecutor{
		Registry: reg,
		Network:  netMgr,
		Release:  "node",
		vms:      map[int64]*scriptVM{},
	}
}

func (e *ScriptExecutor) release() string {
	if e.Release == "" {
		return "node"
	}
	return e.Release
}

// Spawn allocates a pid and starts a fresh interpreter context evaluating
// entry. The interpreter runs on its own goroutine (the "pump") for the
// life of the process; all native bindings funnel their JS-visible
// callbacks back through that goroutine's job queue instead of touching
// the runtime concurrently.
func (e *ScriptExecutor) Spawn(ctx context.Context, fsys ScriptFS, entry string, args []string, parentPID int64, cwd string, env map[string]string, cols, rows int) (*Process, error) {
	p := e.Registry.New(KindScript, entry, args, parentPID, cwd, env)

	vm, err := newScriptVM(p, fsys, e, entry, cwd, cols, rows)
	if err != nil {
		p.finish(StateFailed, 1)
		return p, fmt.Errorf("process: create interpreter: %w", err)
	}
	p.terminate = vm.terminate

	e.vmMu.Lock()
	e.vms[p.PID] = vm
	e.vmMu.Unlock()

	go func() {
		vm.run(ctx)
		e.vmMu.Lock()
		delete(e.vms, p.PID)
		e.vmMu.Unlock()
		if e.Network != nil {
			e.Network.CloseAllOwnedBy(context.Background(), p.PID)
		}
	}()

	return p, nil
}

// Resize stores new terminal dimensions for pid's interpreter context.
// process.stdout.columns/rows are copied from these values once, when the
// interpreter bootstraps; a resize after that does not change what guest
// code reads there.
func (e *ScriptExecutor) Resize(pid int64, cols, rows int) error {
	e.vmMu.Lock()
	vm, ok := e.vms[pid]
	e.vmMu.Unlock()
	if !ok {
		return fmt.Errorf("process: no interpreter context for pid %d", pid)
	}
	vm.resize(cols, rows)
	return nil
}
