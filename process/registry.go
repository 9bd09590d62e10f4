package process

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Registry is the kernel's process table: a pid allocator, a flat map of
// live processes, and the parent/child graph used for tree teardown.
type Registry struct {
	mu      sync.RWMutex
	nextPID int64
	procs   map[int64]*Process
}

func NewRegistry() *Registry {
	return &Registry{procs: map[int64]*Process{}}
}

// allocPID hands out strictly increasing pids, never reused during the
// registry's lifetime.
func (r *Registry) allocPID() int64 {
	return atomic.AddInt64(&r.nextPID, 1)
}

// New creates a process record in the starting state and adds it to the
// table. It does not start any executor; callers (the script/shell
// executors) do that after New returns.
func (r *Registry) New(kind Kind, executable string, args []string, parentPID int64, cwd string, env map[string]string) *Process {
	pid := r.allocPID()
	p := newProcess(pid, kind, executable, args, parentPID, cwd, env)
	r.mu.Lock()
	r.procs[pid] = p
	r.mu.Unlock()
	return p
}

func (r *Registry) Remove(pid int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, pid)
}

func (r *Registry) Get(pid int64) (*Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[pid]
	return p, ok
}

func (r *Registry) List() []*Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Process, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p)
	}
	return out
}

// Children returns processes whose ParentPID is pid.
func (r *Registry) Children(pid int64) []*Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Process
	for _, p := range r.procs {
		if p.ParentPID == pid {
			out = append(out, p)
		}
	}
	return out
}

// KillAll terminates every live process in parallel and waits for each to
// reach a terminal state, used on container dispose.
func (r *Registry) KillAll(ctx context.Context) error {
	procs := r.List()
	g, _ := errgroup.WithContext(ctx)
	for _, p := range procs {
		p := p
		g.Go(func() error {
			p.Terminate()
			<-p.Done()
			return nil
		})
	}
	return g.Wait()
}

// Tree returns the DFS subtree rooted at pid (pid itself first, then each
// child's subtree in turn), for inspection without terminating anything.
func (r *Registry) Tree(pid int64) []*Process {
	p, ok := r.Get(pid)
	if !ok {
		return nil
	}
	out := []*Process{p}
	for _, child := range r.Children(pid) {
		out = append(out, r.Tree(child.PID)...)
	}
	return out
}

// TerminateProcessTree performs post-order termination of pid and its
// descendants: every child is fully terminated before its parent exits.
func (r *Registry) TerminateProcessTree(pid int64) error {
	p, ok := r.Get(pid)
	if !ok {
		return fmt.Errorf("process: no such pid %d", pid)
	}
	for _, child := range r.Children(pid) {
		if err := r.TerminateProcessTree(child.PID); err != nil {
			return err
		}
	}
	p.Terminate()
	<-p.Done()
	return nil
}
