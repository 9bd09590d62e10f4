// Package kernel assembles the container kernel: the VFS, process
// registry and executors, network manager, RPC bridge, and the identity
// and builtins provisioning that sit above them. Boot follows the
// teacher's async-factory idiom (parallel independent initialisers,
// dependency wiring, then construction) generalised from its single-path
// boxer.go bootstrap into a multi-subsystem dependency graph.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sandkernel/kernel/bridge"
	"github.com/sandkernel/kernel/config"
	"github.com/sandkernel/kernel/internal/obstrace"
	"github.com/sandkernel/kernel/network"
	"github.com/sandkernel/kernel/process"
	"github.com/sandkernel/kernel/vfs"
)

// ErrAlreadyBooted is returned by Boot when a kernel is already running for
// this process. Only one container may exist per bridge (spec's singleton
// guard); bootMu also makes a concurrent Boot call block until the prior
// one settles, rather than racing it.
var ErrAlreadyBooted = &vfs.Error{Code: vfs.EEXIST, Path: "kernel", Message: "a kernel is already booted"}

var (
	bootMu sync.Mutex
	booted bool
)

// Kernel is the fully-wired container runtime.
type Kernel struct {
	Options config.Options

	Store    *vfs.Store
	FS       *vfs.FS
	Registry *process.Registry
	Scripts  *process.ScriptExecutor
	Shells   *process.ShellExecutor
	Network  *network.Manager
	Bridge   *bridge.Bridge
	Identity *Identity
	Tracer   *obstrace.Provider

	mu       sync.Mutex
	disposed bool
}

// Boot constructs a Kernel via a factory protocol: (1) start
// independent initialisers in parallel, (2) await them all, (3) wire the
// dependency graph, (4) validate required edges, (5) only then hand back a
// usable Kernel. If any step fails, everything already constructed is torn
// down in reverse dependency order before the error is returned — a
// partially-initialised Kernel is never observable.
func Boot(ctx context.Context, opts config.Options) (k *Kernel, err error) {
	bootMu.Lock()
	defer bootMu.Unlock()
	if booted {
		return nil, ErrAlreadyBooted
	}

	if opts.DataDir == "" {
		opts = config.Defaults()
	}

	var (
		store    *vfs.Store
		registry = process.NewRegistry()
		tracer   *obstrace.Provider
		identity *Identity
		bundle   *process.BuiltinsBundle
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s, err := vfs.Open(gctx, filepath.Join(opts.DataDir, "vfs.db"))
		if err != nil {
			return fmt.Errorf("kernel: boot vfs: %w", err)
		}
		store = s
		return nil
	})
	g.Go(func() error {
		b, err := process.LoadBuiltinsBundle()
		if err != nil {
			return fmt.Errorf("kernel: load builtins: %w", err)
		}
		bundle = b
		return nil
	})
	g.Go(func() error {
		id, err := loadOrCreateIdentity(opts.DataDir)
		if err != nil {
			return fmt.Errorf("kernel: boot identity: %w", err)
		}
		identity = id
		return nil
	})
	g.Go(func() error {
		t, err := obstrace.Init(gctx, obstrace.Options{Endpoint: opts.OTLPEndpoint, ServiceName: "sandkernel"})
		if err != nil {
			return fmt.Errorf("kernel: boot tracer: %w", err)
		}
		tracer = t
		return nil
	})

	if err := g.Wait(); err != nil {
		// Tear down whatever did finish, in reverse dependency order.
		if tracer != nil {
			tracer.Shutdown(ctx)
		}
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	// Step 3: wire the dependency graph. The script executor needs the VFS
	// facade, builtins and the network manager (it closes a process's
	// servers when that process exits); the registry itself needs nothing
	// further.
	fs := vfs.NewFS(store, "/")
	netMgr := network.NewManager()
	netMgr.OnListen(func(port int, kind network.ServerKind, ownerPID int64) {})
	netMgr.OnClose(func(port int, kind network.ServerKind, ownerPID int64) {})

	if err := bundle.Provision(ctx, builtinsFSAdapter{fs}); err != nil {
		tracer.Shutdown(ctx)
		store.Close()
		return nil, fmt.Errorf("kernel: provision builtins: %w", err)
	}

	scripts := process.NewScriptExecutor(registry, netMgr)
	if opts.Interpreter != "" {
		scripts.Release = opts.Interpreter
	}
	if opts.GatewayRules != "" {
		gw, gwErr := network.NewGateway(opts.GatewayRules)
		if gwErr != nil {
			tracer.Shutdown(ctx)
			store.Close()
			return nil, fmt.Errorf("kernel: parse gateway rules: %w", gwErr)
		}
		scripts.Gateway = gw
	}
	if opts.DNSUpstream != "" {
		scripts.DNS = network.NewDNSGateway(opts.DNSUpstream)
	}
	scripts.SpawnChild = func(spawnCtx context.Context, entry string, args []string, parentPID int64, cwd string, env map[string]string) (*process.Process, error) {
		return scripts.Spawn(spawnCtx, scriptFSAdapter{fs}, entry, args, parentPID, cwd, env, 80, 24)
	}

	shells := process.NewShellExecutor(registry)
	shells.Dispatch = func(ctx context.Context, name string, args []string, parentPID int64, cwd string, env map[string]string) (*process.Process, error) {
		return scripts.Spawn(ctx, scriptFSAdapter{fs}, name, args, parentPID, cwd, env, 80, 24)
	}

	// Step 4: validate required edges.
	if store == nil || registry == nil || netMgr == nil || scripts == nil || shells == nil {
		return nil, fmt.Errorf("kernel: incomplete dependency graph")
	}

	k = &Kernel{
		Options:  opts,
		Store:    store,
		FS:       fs,
		Registry: registry,
		Scripts:  scripts,
		Shells:   shells,
		Network:  netMgr,
		Identity: identity,
		Tracer:   tracer,
	}
	booted = true
	return k, nil
}

// release clears the singleton boot guard; called from Dispose so a fresh
// Boot can succeed after this kernel goes away.
func release() {
	bootMu.Lock()
	booted = false
	bootMu.Unlock()
}

// AttachBridge wires the RPC bridge's request handlers onto this kernel's
// subsystems and starts forwarding its broadcasts. Separated from Boot so
// a Kernel can be constructed without a live peer connection (e.g. in
// tests).
func (k *Kernel) AttachBridge(b *bridge.Bridge) {
	k.mu.Lock()
	k.Bridge = b
	k.mu.Unlock()

	k.attachFileHandlers(b)
	k.attachProcessHandlers(b)
	k.attachNetworkHandlers(b)

	k.FS.Bus().Subscribe(func(ev vfs.Event) {
		b.Broadcast("fileChange", map[string]string{"kind": string(ev.Kind), "path": ev.Path})
	})
	k.Network.OnListen(func(port int, kind network.ServerKind, ownerPID int64) {
		b.Broadcast("onServerListen", map[string]any{"port": port, "kind": kind, "ownerPID": ownerPID})
	})
	k.Network.OnClose(func(port int, kind network.ServerKind, ownerPID int64) {
		b.Broadcast("onServerClose", map[string]any{"port": port, "kind": kind, "ownerPID": ownerPID})
	})

	if k.Identity != nil {
		b.Broadcast("ready", map[string]any{"identity": k.Identity.Public, "signature": k.Identity.Sign(k.Identity.Public)})
	}
}

func (k *Kernel) attachFileHandlers(b *bridge.Bridge) {
	b.Handle("readFile", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct{ Path string }
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		content, err := k.FS.ReadFile(ctx, req.Path)
		if err != nil {
			return nil, err
		}
		return map[string]string{"content": string(content)}, nil
	})

	b.Handle("writeFile", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Path    string
			Content string
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if err := k.FS.WriteFile(ctx, req.Path, []byte(req.Content)); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	b.Handle("deleteFile", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct{ Path string }
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if err := k.FS.Unlink(ctx, req.Path); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	b.Handle("listFiles", k.listDirectory)
	b.Handle("listDirectory", k.listDirectory)

	b.Handle("createDirectory", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Path      string
			Recursive bool
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		opts := []vfs.MkdirOption{}
		if req.Recursive {
			opts = append(opts, vfs.Recursive())
		}
		if err := k.FS.Mkdir(ctx, req.Path, vfs.Mode(0o755), opts...); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	b.Handle("deleteDirectory", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Path      string
			Recursive bool
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if err := k.FS.Rmdir(ctx, req.Path, req.Recursive); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	b.Handle("rename", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct{ OldPath, NewPath string }
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if err := k.FS.Rename(ctx, req.OldPath, req.NewPath); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	b.Handle("textSearch", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Query          string
			Folders        []string
			Includes       []string
			Excludes       []string
			CaseSensitive  bool
			IsRegex        bool
			IsWordMatch    bool
			ResultLimit    int
			FuzzyThreshold int
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		result, err := k.FS.TextSearch(ctx, vfs.SearchOptions{
			Query:          req.Query,
			Folders:        req.Folders,
			Includes:       req.Includes,
			Excludes:       req.Excludes,
			CaseSensitive:  req.CaseSensitive,
			IsRegex:        req.IsRegex,
			IsWordMatch:    req.IsWordMatch,
			ResultLimit:    req.ResultLimit,
			FuzzyThreshold: req.FuzzyThreshold,
		})
		if err != nil {
			return nil, err
		}
		b.Broadcast("textSearchResult", result)
		return result, nil
	})
}

func (k *Kernel) listDirectory(ctx context.Context, payload json.RawMessage) (any, error) {
	var req struct{ Path string }
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	names, err := k.FS.Readdir(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	return map[string][]string{"entries": names}, nil
}

func (k *Kernel) attachProcessHandlers(b *bridge.Bridge) {
	forward := func(p *process.Process) {
		go func() {
			for frag := range p.Output() {
				b.Broadcast("processOutput", map[string]any{
					"pid": p.PID, "stream": frag.Stream, "data": frag.Data,
				})
			}
			code, _ := p.ExitCode()
			event := "processExit"
			if p.State() == process.StateFailed {
				event = "processError"
			}
			b.Broadcast(event, map[string]any{"pid": p.PID, "exitCode": code, "state": p.State()})
		}()
	}

	b.Handle("spawn", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Kind      string
			Command   string
			Entry     string
			Args      []string
			ParentPID int64
			Cwd       string
			Env       map[string]string
			Cols      int
			Rows      int
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		var p *process.Process
		var err error
		if req.Kind == "script" {
			cols, rows := req.Cols, req.Rows
			if cols == 0 {
				cols = 80
			}
			if rows == 0 {
				rows = 24
			}
			p, err = k.Scripts.Spawn(ctx, scriptFSAdapter{k.FS}, req.Entry, req.Args, req.ParentPID, req.Cwd, req.Env, cols, rows)
		} else {
			p, err = k.Shells.Spawn(ctx, req.Command, req.ParentPID, req.Cwd, req.Env)
		}
		if err != nil {
			return nil, err
		}
		forward(p)
		return map[string]int64{"pid": p.PID}, nil
	})

	b.Handle("writeInput", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			PID  int64
			Data []byte
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		p, ok := k.Registry.Get(req.PID)
		if !ok {
			return nil, fmt.Errorf("kernel: no such process %d", req.PID)
		}
		select {
		case p.Input() <- req.Data:
		case <-p.Done():
		}
		return map[string]bool{"ok": true}, nil
	})

	b.Handle("terminate", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct{ PID int64 }
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if err := k.Registry.TerminateProcessTree(req.PID); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	b.Handle("resize", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			PID        int64
			Cols, Rows int
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if err := k.Scripts.Resize(req.PID, req.Cols, req.Rows); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	b.Handle("dispose", func(ctx context.Context, payload json.RawMessage) (any, error) {
		if err := k.Dispose(ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})
}

func (k *Kernel) attachNetworkHandlers(b *bridge.Bridge) {
	b.Handle("listServers", func(ctx context.Context, payload json.RawMessage) (any, error) {
		return k.Network.ListServers(), nil
	})

	b.Handle("getStats", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct{ Port int }
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if req.Port == 0 {
			return k.Network.Stats().All(), nil
		}
		return k.Network.Stats().Snapshot(req.Port), nil
	})

	b.Handle("httpRequest", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Port   int
			Method string
			URL    string
			Body   string
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, strings.NewReader(req.Body))
		if err != nil {
			return nil, err
		}
		resp, status := k.Network.HandleRequest(ctx, httpReq, req.Port)
		if resp == nil {
			b.Broadcast("networkError", map[string]any{"port": req.Port, "status": status})
			return map[string]int{"status": status}, nil
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return map[string]any{"status": status, "body": string(body)}, nil
	})
}
