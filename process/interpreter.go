package process

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	stdnet "net"
	"net/http"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/sandkernel/kernel/network"
)

// builtinModules maps bare require() ids to their /builtins/node/<name>.js
// shim path, the same way Node consults its built-in-module table before
// falling through to a node_modules walk.
var builtinModules = map[string]string{
	"http":          "/builtins/node/http.js",
	"net":           "/builtins/node/net.js",
	"dns":           "/builtins/node/dns.js",
	"child_process": "/builtins/node/child_process.js",
	"dgram":         "/builtins/node/dgram.js",
	"tls":           "/builtins/node/tls.js",
	"crypto":        "/builtins/node/crypto.js",
}

// scriptVM is one guest script's interpreter context. Exactly one goroutine
// (the pump, started by run) ever touches rt; every native binding that
// needs to call back into guest code enqueues a closure onto jobs instead.
type scriptVM struct {
	rt   *goja.Runtime
	p    *Process
	fsys ScriptFS
	exec *ScriptExecutor

	entry string
	cwd   string

	modulesMu sync.Mutex
	modules   map[string]*goja.Object
	loading   map[string]bool

	jobs    chan func()
	pending int32 // outstanding async ops keeping the event loop alive

	exitWanted int32
	exitCode   int32

	stdinHandlers map[string]goja.Callable

	termOnce sync.Once
	cancel   context.CancelFunc

	cols, rows int32
}

func newScriptVM(p *Process, fsys ScriptFS, exec *ScriptExecutor, entry, cwd string, cols, rows int) (*scriptVM, error) {
	if cwd == "" {
		cwd = "/"
	}
	return &scriptVM{
		rt:            goja.New(),
		p:             p,
		fsys:          fsys,
		exec:          exec,
		entry:         entry,
		cwd:           cwd,
		modules:       map[string]*goja.Object{},
		loading:       map[string]bool{},
		jobs:          make(chan func(), 64),
		stdinHandlers: map[string]goja.Callable{},
		cols:          int32(cols),
		rows:          int32(rows),
	}, nil
}

// run is the interpreter's entire lifecycle: bootstrap globals, evaluate
// the entry module, then pump the job queue until nothing keeps the
// process alive. It must be launched on its own goroutine; everything it
// does runs on that one goroutine except the native bindings' background
// I/O, which only ever touches rt by way of enqueue.
func (vm *scriptVM) run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	vm.cancel = cancel
	defer cancel()

	if err := vm.bootstrap(runCtx); err != nil {
		vm.p.emit(runCtx, Stderr, []byte(err.Error()+"\n"))
		vm.p.finish(StateFailed, 1)
		return
	}
	vm.p.setRunning()

	go vm.pumpInput(runCtx)

	entryPath := vm.entry
	if !strings.HasPrefix(entryPath, "/") {
		entryPath = path.Join(vm.cwd, entryPath)
	}
	resolved, err := vm.resolveFile(runCtx, entryPath)
	if err != nil {
		vm.p.emit(runCtx, Stderr, []byte(fmt.Sprintf("cannot find module %q\n", vm.entry)))
		vm.p.finish(StateFailed, 1)
		return
	}
	if _, err := vm.loadModule(runCtx, resolved); err != nil {
		vm.p.emit(runCtx, Stderr, []byte(err.Error()+"\n"))
		vm.p.finish(StateFailed, 1)
		return
	}

	vm.drain(runCtx)
}

func (vm *scriptVM) terminate() {
	vm.termOnce.Do(func() {
		if vm.cancel != nil {
			vm.cancel()
		}
	})
}

func (vm *scriptVM) resize(cols, rows int) {
	atomic.StoreInt32(&vm.cols, int32(cols))
	atomic.StoreInt32(&vm.rows, int32(rows))
}

func (vm *scriptVM) incPending() { atomic.AddInt32(&vm.pending, 1) }
func (vm *scriptVM) decPending() { atomic.AddInt32(&vm.pending, -1) }

func (vm *scriptVM) enqueue(fn func()) {
	vm.jobs <- fn
}

// drain repeatedly runs pending jobs (microtasks / promise reactions, in
// spec terms) until none remain and nothing keeps the event loop alive, the
// process calls process.exit, or the context is cancelled.
func (vm *scriptVM) drain(ctx context.Context) {
	for {
		if atomic.LoadInt32(&vm.exitWanted) == 1 {
			code := atomic.LoadInt32(&vm.exitCode)
			state := StateCompleted
			if code != 0 {
				state = StateFailed
			}
			vm.p.finish(state, int(code))
			return
		}
		select {
		case job := <-vm.jobs:
			vm.runJob(job)
			continue
		case <-ctx.Done():
			vm.p.finish(StateTerminated, -1)
			return
		default:
		}
		if atomic.LoadInt32(&vm.pending) == 0 {
			vm.p.finish(StateCompleted, 0)
			return
		}
		select {
		case job := <-vm.jobs:
			vm.runJob(job)
		case <-ctx.Done():
			vm.p.finish(StateTerminated, -1)
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (vm *scriptVM) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			vm.p.emit(context.Background(), Stderr, []byte(fmt.Sprintf("%v\n", r)))
			vm.p.finish(StateFailed, 1)
		}
	}()
	job()
}

func (vm *scriptVM) pumpInput(ctx context.Context) {
	for {
		select {
		case data, ok := <-vm.p.input:
			if !ok {
				return
			}
			chunk := string(data)
			vm.enqueue(func() {
				if fn, ok := vm.stdinHandlers["data"]; ok {
					fn(goja.Undefined(), vm.rt.ToValue(chunk))
				}
			})
		case <-ctx.Done():
			return
		}
	}
}

// bootstrap installs console, process, timers and the primordials/
// internalBinding globals, then registers every native capability binding.
func (vm *scriptVM) bootstrap(ctx context.Context) error {
	rt := vm.rt

	console := rt.NewObject()
	logFn := func(stream OutputStream) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = formatJSValue(a)
			}
			vm.p.emit(ctx, stream, []byte(strings.Join(parts, " ")+"\n"))
			return goja.Undefined()
		}
	}
	console.Set("log", logFn(Stdout))
	console.Set("info", logFn(Stdout))
	console.Set("debug", logFn(Stdout))
	console.Set("warn", logFn(Stderr))
	console.Set("error", logFn(Stderr))
	rt.Set("console", console)

	processObj := rt.NewObject()
	argv := append([]string{vm.exec.release(), vm.entry}, vm.p.Args...)
	processObj.Set("argv", argv)
	processObj.Set("env", vm.p.Env)
	processObj.Set("pid", vm.p.PID)
	processObj.Set("platform", "sandkernel")
	processObj.Set("cwd", func() string { return vm.cwd })
	release := rt.NewObject()
	release.Set("name", vm.exec.release())
	processObj.Set("release", release)

	stdout := rt.NewObject()
	stdout.Set("write", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			vm.p.emit(ctx, Stdout, []byte(call.Argument(0).String()))
		}
		return rt.ToValue(true)
	})
	stdout.Set("columns", int(atomic.LoadInt32(&vm.cols)))
	stdout.Set("rows", int(atomic.LoadInt32(&vm.rows)))
	processObj.Set("stdout", stdout)

	stdin := rt.NewObject()
	stdin.Set("on", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			vm.stdinHandlers[call.Argument(0).String()] = fn
		}
		return stdin
	})
	processObj.Set("stdin", stdin)

	processObj.Set("exit", func(call goja.FunctionCall) goja.Value {
		code := 0
		if len(call.Arguments) > 0 {
			code = int(call.Argument(0).ToInteger())
		}
		atomic.StoreInt32(&vm.exitCode, int32(code))
		atomic.StoreInt32(&vm.exitWanted, 1)
		return goja.Undefined()
	})
	processObj.Set("nextTick", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			args := append([]goja.Value(nil), call.Arguments[1:]...)
			vm.enqueue(func() { fn(goja.Undefined(), args...) })
		}
		return goja.Undefined()
	})
	rt.Set("process", processObj)

	rt.Set("setTimeout", vm.makeTimerFn(false))
	rt.Set("setInterval", vm.makeTimerFn(true))
	rt.Set("clearTimeout", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	rt.Set("clearInterval", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	rt.Set("globalThis", rt.GlobalObject())

	primordialsMod, err := vm.loadModule(ctx, "/builtins/primordials.js")
	if err != nil {
		return fmt.Errorf("process: load primordials: %w", err)
	}
	rt.Set("primordials", primordialsMod.Get("exports"))

	bindingMod, err := vm.loadModule(ctx, "/builtins/internal_binding.js")
	if err != nil {
		return fmt.Errorf("process: load internal binding: %w", err)
	}
	exportsObj := bindingMod.Get("exports").ToObject(rt)
	registerBinding, ok := goja.AssertFunction(exportsObj.Get("registerBinding"))
	if !ok {
		return fmt.Errorf("process: internal_binding.js did not export registerBinding")
	}
	rt.Set("internalBinding", exportsObj.Get("internalBinding"))
	rt.Set("registerBinding", exportsObj.Get("registerBinding"))

	return vm.registerCapabilities(ctx, registerBinding)
}

// makeTimerFn implements a minimal setTimeout/setInterval: the callback is
// enqueued onto the job queue each time a real ticker fires, once for
// setTimeout and repeatedly for setInterval until the process finishes.
// setTimeout keeps the event loop alive (via pending) until its callback
// has run; setInterval keeps it alive for the life of the process.
// clearTimeout and clearInterval do nothing.
func (vm *scriptVM) makeTimerFn(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return goja.Undefined()
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay <= 0 {
			delay = time.Millisecond
		}
		extra := append([]goja.Value(nil), call.Arguments[2:]...)
		vm.incPending()
		go func() {
			t := time.NewTicker(delay)
			defer t.Stop()
			for {
				select {
				case <-t.C:
				case <-vm.p.Done():
					return
				}
				vm.enqueue(func() {
					if !repeat {
						vm.decPending()
					}
					fn(goja.Undefined(), extra...)
				})
				if !repeat {
					return
				}
			}
		}()
		return goja.Undefined()
	}
}

func formatJSValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	switch e := v.Export().(type) {
	case string:
		return e
	default:
		if b, err := json.Marshal(e); err == nil {
			return string(b)
		}
		return fmt.Sprint(e)
	}
}

// resolveFile tries p, p+".js" and p/index.js in turn, the same resolution
// order Node applies to an extensionless require() target.
func (vm *scriptVM) resolveFile(ctx context.Context, p string) (string, error) {
	for _, candidate := range []string{p, p + ".js", path.Join(p, "index.js")} {
		info, err := vm.fsys.Stat(ctx, candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("not found: %s", p)
}

func (vm *scriptVM) resolveModule(ctx context.Context, fromDir, id string) (string, error) {
	switch {
	case strings.HasPrefix(id, "internal/"):
		return vm.resolveFile(ctx, "/builtins/node/"+strings.TrimPrefix(id, "internal/"))
	case strings.HasPrefix(id, "node:"):
		return vm.resolveFile(ctx, "/builtins/node/"+strings.TrimPrefix(id, "node:"))
	case strings.HasPrefix(id, "./"), strings.HasPrefix(id, "../"):
		return vm.resolveFile(ctx, path.Join(fromDir, id))
	case strings.HasPrefix(id, "/"):
		return vm.resolveFile(ctx, id)
	default:
		if builtin, ok := builtinModules[id]; ok {
			return vm.resolveFile(ctx, builtin)
		}
		return vm.resolveNodeModules(ctx, fromDir, id)
	}
}

func (vm *scriptVM) resolveNodeModules(ctx context.Context, fromDir, id string) (string, error) {
	dir := fromDir
	for {
		if resolved, err := vm.resolveFile(ctx, path.Join(dir, "node_modules", id)); err == nil {
			return resolved, nil
		}
		if dir == "/" {
			break
		}
		dir = path.Dir(dir)
	}
	return "", fmt.Errorf("cannot resolve module %q from %s", id, fromDir)
}

// loadModule reads, compiles and evaluates absPath as a CommonJS module the
// first time it is requested, caching module.exports (keyed by resolved
// path) for every subsequent require() of the same file, including
// requires that happen while the module is still evaluating.
func (vm *scriptVM) loadModule(ctx context.Context, absPath string) (*goja.Object, error) {
	absPath = path.Clean(absPath)

	vm.modulesMu.Lock()
	if mod, ok := vm.modules[absPath]; ok {
		vm.modulesMu.Unlock()
		return mod, nil
	}
	vm.modulesMu.Unlock()

	src, err := vm.fsys.ReadFile(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("process: cannot find module %q: %w", absPath, err)
	}

	rt := vm.rt
	wrapped := "(function(exports, require, module, __filename, __dirname) {\n" + string(src) + "\n})"
	prog, err := goja.Compile(absPath, wrapped, true)
	if err != nil {
		return nil, fmt.Errorf("process: compile %s: %w", absPath, err)
	}
	wrapperVal, err := rt.RunProgram(prog)
	if err != nil {
		return nil, fmt.Errorf("process: load %s: %w", absPath, err)
	}
	wrapperFn, ok := goja.AssertFunction(wrapperVal)
	if !ok {
		return nil, fmt.Errorf("process: module wrapper for %s did not compile to a function", absPath)
	}

	moduleObj := rt.NewObject()
	exportsObj := rt.NewObject()
	moduleObj.Set("exports", exportsObj)

	vm.modulesMu.Lock()
	vm.modules[absPath] = moduleObj
	vm.modulesMu.Unlock()

	dir := path.Dir(absPath)
	requireFn := func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		target, err := vm.resolveModule(ctx, dir, id)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		mod, err := vm.loadModule(ctx, target)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		return mod.Get("exports")
	}

	if _, err := wrapperFn(goja.Undefined(),
		moduleObj.Get("exports"), rt.ToValue(requireFn), rt.ToValue(moduleObj),
		rt.ToValue(absPath), rt.ToValue(dir),
	); err != nil {
		vm.modulesMu.Lock()
		delete(vm.modules, absPath)
		vm.modulesMu.Unlock()
		return nil, fmt.Errorf("process: evaluate %s: %w", absPath, err)
	}

	return moduleObj, nil
}

// registerCapabilities wires the socket, DNS, child-process, UDP, TLS and
// crypto bindings guest code reaches via internalBinding/require: each
// factory is a Go closure, so the binding's behaviour is whatever the Go
// side (network.Manager, network.Gateway, network.DNSGateway, SpawnChild)
// actually does, not a JS stand-in.
func (vm *scriptVM) registerCapabilities(ctx context.Context, registerBinding goja.Callable) error {
	rt := vm.rt
	reg := func(name string, value interface{}) error {
		factory := func(call goja.FunctionCall) goja.Value { return rt.ToValue(value) }
		_, err := registerBinding(goja.Undefined(), rt.ToValue(name), rt.ToValue(factory))
		return err
	}

	if err := reg("http", vm.httpBinding(ctx)); err != nil {
		return err
	}
	if err := reg("net", vm.netBinding(ctx)); err != nil {
		return err
	}
	if err := reg("dns", vm.dnsBinding(ctx)); err != nil {
		return err
	}
	if err := reg("child_process", vm.childProcessBinding(ctx)); err != nil {
		return err
	}
	if err := reg("dgram", vm.dgramBinding(ctx)); err != nil {
		return err
	}
	if err := reg("tls", vm.tlsBinding(ctx)); err != nil {
		return err
	}
	return reg("crypto", vm.cryptoBinding(ctx))
}

func lastCallable(args []goja.Value) (goja.Callable, bool) {
	if len(args) == 0 {
		return nil, false
	}
	return goja.AssertFunction(args[len(args)-1])
}

func parseListenArgs(rest []goja.Value) (host string, cb goja.Callable) {
	host = "0.0.0.0"
	if len(rest) == 0 {
		return
	}
	if fn, ok := goja.AssertFunction(rest[len(rest)-1]); ok {
		cb = fn
		rest = rest[:len(rest)-1]
	}
	if len(rest) > 0 {
		host = rest[0].String()
	}
	return
}

// httpBinding implements createServer/listen by registering the guest's
// handler closure with the network manager: on request arrival, the
// manager calls back with a host *http.Request, which is converted to a
// guest-visible request/response pair and delivered to the handler on the
// interpreter's own goroutine via enqueue, exactly as spec'd for HTTP
// server registration.
func (vm *scriptVM) httpBinding(ctx context.Context) interface{} {
	rt := vm.rt
	return map[string]interface{}{
		"createServer": func(call goja.FunctionCall) goja.Value {
			handler, _ := goja.AssertFunction(call.Argument(0))
			server := rt.NewObject()
			var port int
			var listening bool

			server.Set("listen", func(listenCall goja.FunctionCall) goja.Value {
				port = int(listenCall.Argument(0).ToInteger())
				host, cb := parseListenArgs(listenCall.Arguments[1:])

				goHandler := vm.makeHTTPHandler(ctx, handler)
				if err := vm.exec.Network.Listen(ctx, port, network.KindHTTP, host, vm.p.PID, goHandler); err != nil {
					vm.enqueue(func() {
						vm.p.emit(ctx, Stderr, []byte(err.Error()+"\n"))
					})
					return server
				}
				listening = true
				vm.incPending()
				if cb != nil {
					vm.enqueue(func() { cb(goja.Undefined()) })
				}
				return server
			})
			server.Set("close", func(goja.FunctionCall) goja.Value {
				if listening {
					vm.exec.Network.Close(ctx, port, network.KindHTTP)
					vm.decPending()
					listening = false
				}
				return server
			})
			return rt.ToValue(server)
		},
	}
}

func (vm *scriptVM) makeHTTPHandler(ctx context.Context, handler goja.Callable) network.Handler {
	return func(reqCtx context.Context, req *http.Request) (*http.Response, error) {
		if handler == nil {
			return nil, fmt.Errorf("process: no request handler registered")
		}
		bodyBytes, _ := io.ReadAll(req.Body)

		result := make(chan *http.Response, 1)
		failed := make(chan error, 1)

		vm.enqueue(func() {
			rt := vm.rt

			reqObj := rt.NewObject()
			reqObj.Set("method", req.Method)
			reqObj.Set("url", req.URL.RequestURI())
			headers := map[string]string{}
			for k := range req.Header {
				headers[strings.ToLower(k)] = req.Header.Get(k)
			}
			reqObj.Set("headers", headers)
			reqObj.Set("body", string(bodyBytes))

			status := 200
			respHeaders := http.Header{}
			var body strings.Builder
			done := false

			resObj := rt.NewObject()
			resObj.Set("writeHead", func(call goja.FunctionCall) goja.Value {
				status = int(call.Argument(0).ToInteger())
				if len(call.Arguments) > 1 {
					if hdrs, ok := call.Argument(1).Export().(map[string]interface{}); ok {
						for k, v := range hdrs {
							respHeaders.Set(k, fmt.Sprint(v))
						}
					}
				}
				return goja.Undefined()
			})
			resObj.Set("setHeader", func(call goja.FunctionCall) goja.Value {
				respHeaders.Set(call.Argument(0).String(), call.Argument(1).String())
				return goja.Undefined()
			})
			resObj.Set("write", func(call goja.FunctionCall) goja.Value {
				body.WriteString(call.Argument(0).String())
				return goja.Undefined()
			})
			end := func(call goja.FunctionCall) goja.Value {
				if len(call.Arguments) > 0 {
					body.WriteString(call.Argument(0).String())
				}
				if done {
					return goja.Undefined()
				}
				done = true
				result <- &http.Response{
					StatusCode: status,
					Status:     http.StatusText(status),
					Header:     respHeaders,
					Body:       io.NopCloser(strings.NewReader(body.String())),
				}
				return goja.Undefined()
			}
			resObj.Set("end", end)

			if _, err := handler(goja.Undefined(), rt.ToValue(reqObj), rt.ToValue(resObj)); err != nil {
				failed <- err
			}
		})

		select {
		case resp := <-result:
			return resp, nil
		case err := <-failed:
			return nil, err
		case <-reqCtx.Done():
			return nil, reqCtx.Err()
		}
	}
}

// netBinding is the raw TCP socket shim: connect resolves host through the
// gateway's routing table, same as the TLS shim, then dials a real
// TCP connection and wires it to a guest-visible socket object.
func (vm *scriptVM) netBinding(ctx context.Context) interface{} {
	rt := vm.rt
	return map[string]interface{}{
		"connect": func(call goja.FunctionCall) goja.Value {
			host := call.Argument(0).String()
			port := int(call.Argument(1).ToInteger())
			cb, _ := lastCallable(call.Arguments)

			endpoint := vm.resolveEndpoint(host, port)
			sock := rt.NewObject()
			handlers := map[string]goja.Callable{}
			sock.Set("on", func(c goja.FunctionCall) goja.Value {
				if fn, ok := goja.AssertFunction(c.Argument(1)); ok {
					handlers[c.Argument(0).String()] = fn
				}
				return sock
			})

			vm.incPending()
			go func() {
				conn, err := stdnet.DialTimeout("tcp", endpoint, 10*time.Second)
				vm.enqueue(func() {
					if err != nil {
						vm.decPending()
						if h, ok := handlers["error"]; ok {
							h(goja.Undefined(), rt.ToValue(err.Error()))
						}
						return
					}
					vm.wireSocket(sock, conn, handlers)
					if cb != nil {
						cb(goja.Undefined())
					}
				})
			}()
			return rt.ToValue(sock)
		},
	}
}

func (vm *scriptVM) resolveEndpoint(host string, port int) string {
	endpoint := host
	if vm.exec.Gateway != nil {
		if resolved, err := vm.exec.Gateway.Resolve(host); err == nil {
			endpoint = resolved
		}
	}
	if !strings.Contains(endpoint, ":") {
		endpoint = fmt.Sprintf("%s:%d", endpoint, port)
	}
	return endpoint
}

// wireSocket attaches write/end/destroy to sock and starts the background
// read loop that delivers "data" and "close" events via enqueue. Only
// called from within a job, so handlers is safe to read and write without
// its own lock: every access happens on the pump goroutine.
func (vm *scriptVM) wireSocket(sock *goja.Object, conn stdnet.Conn, handlers map[string]goja.Callable) {
	rt := vm.rt
	closed := false
	sock.Set("write", func(call goja.FunctionCall) goja.Value {
		conn.Write([]byte(call.Argument(0).String()))
		return rt.ToValue(true)
	})
	closeFn := func(call goja.FunctionCall) goja.Value {
		if !closed {
			closed = true
			conn.Close()
			vm.decPending()
		}
		return goja.Undefined()
	}
	sock.Set("end", closeFn)
	sock.Set("destroy", closeFn)

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				chunk := string(buf[:n])
				vm.enqueue(func() {
					if fn, ok := handlers["data"]; ok {
						fn(goja.Undefined(), rt.ToValue(chunk))
					}
				})
			}
			if err != nil {
				vm.enqueue(func() {
					if fn, ok := handlers["close"]; ok {
						fn(goja.Undefined())
					}
				})
				return
			}
		}
	}()
}

// dnsBinding forwards to the DNS gateway's one-shot resolver exchange.
func (vm *scriptVM) dnsBinding(ctx context.Context) interface{} {
	rt := vm.rt
	lookup := func(name, recordType string, cb goja.Callable) {
		if cb == nil {
			return
		}
		vm.incPending()
		go func() {
			var records []network.DNSRecord
			var err error
			if vm.exec.DNS != nil {
				records, err = vm.exec.DNS.Lookup(ctx, name, recordType)
			} else {
				err = fmt.Errorf("process: dns gateway not configured")
			}
			vm.enqueue(func() {
				vm.decPending()
				if err != nil {
					cb(goja.Undefined(), rt.ToValue(err.Error()))
					return
				}
				values := make([]string, len(records))
				for i, r := range records {
					values[i] = r.Value
				}
				if recordType == "A" {
					addr := ""
					if len(values) > 0 {
						addr = values[0]
					}
					cb(goja.Undefined(), goja.Null(), rt.ToValue(addr))
					return
				}
				cb(goja.Undefined(), goja.Null(), rt.ToValue(values))
			})
		}()
	}
	return map[string]interface{}{
		"lookup": func(call goja.FunctionCall) goja.Value {
			cb, _ := lastCallable(call.Arguments)
			lookup(call.Argument(0).String(), "A", cb)
			return goja.Undefined()
		},
		"resolve": func(call goja.FunctionCall) goja.Value {
			recordType := "A"
			if len(call.Arguments) > 2 {
				recordType = call.Argument(1).String()
			}
			cb, _ := lastCallable(call.Arguments)
			lookup(call.Argument(0).String(), recordType, cb)
			return goja.Undefined()
		},
	}
}

// childProcessBinding routes spawn() through SpawnChild, which the kernel
// wires to the same registry every other process goes through — there is
// no separate process bus for children.
func (vm *scriptVM) childProcessBinding(ctx context.Context) interface{} {
	rt := vm.rt
	return map[string]interface{}{
		"spawn": func(call goja.FunctionCall) goja.Value {
			entry := call.Argument(0).String()
			var args []string
			if arr, ok := call.Argument(1).Export().([]interface{}); ok {
				for _, a := range arr {
					args = append(args, fmt.Sprint(a))
				}
			}
			cb, _ := lastCallable(call.Arguments)

			child := rt.NewObject()
			handlers := map[string]goja.Callable{}
			child.Set("on", func(c goja.FunctionCall) goja.Value {
				if fn, ok := goja.AssertFunction(c.Argument(1)); ok {
					handlers[c.Argument(0).String()] = fn
				}
				return child
			})

			if vm.exec.SpawnChild == nil {
				vm.enqueue(func() {
					if h, ok := handlers["error"]; ok {
						h(goja.Undefined(), rt.ToValue("child_process: no spawn callback configured"))
					}
				})
				return rt.ToValue(child)
			}

			vm.incPending()
			go func() {
				p, err := vm.exec.SpawnChild(ctx, entry, args, vm.p.PID, vm.cwd, vm.p.Env)
				if err != nil {
					vm.enqueue(func() {
						vm.decPending()
						if h, ok := handlers["error"]; ok {
							h(goja.Undefined(), rt.ToValue(err.Error()))
						}
					})
					return
				}
				var stdout, stderr strings.Builder
				for frag := range p.Output() {
					data := string(frag.Data)
					stream := frag.Stream
					switch stream {
					case Stdout:
						stdout.WriteString(data)
					case Stderr:
						stderr.WriteString(data)
					}
					vm.enqueue(func() {
						if h, ok := handlers[string(stream)]; ok {
							h(goja.Undefined(), rt.ToValue(data))
						}
					})
				}
				code, _ := p.ExitCode()
				vm.enqueue(func() {
					vm.decPending()
					if cb != nil {
						cb(goja.Undefined(), goja.Null(), rt.ToValue(map[string]interface{}{
							"stdout":   stdout.String(),
							"stderr":   stderr.String(),
							"exitCode": code,
						}))
					}
					if h, ok := handlers["exit"]; ok {
						h(goja.Undefined(), rt.ToValue(code))
					}
				})
			}()
			return rt.ToValue(child)
		},
	}
}

// dgramBinding is a minimal UDP datagram socket: createSocket().bind(port)
// opens a real net.ListenUDP and delivers inbound packets as "message"
// events; send() writes a single datagram to a destination.
func (vm *scriptVM) dgramBinding(ctx context.Context) interface{} {
	rt := vm.rt
	return map[string]interface{}{
		"createSocket": func(call goja.FunctionCall) goja.Value {
			sock := rt.NewObject()
			handlers := map[string]goja.Callable{}
			var conn *stdnet.UDPConn

			sock.Set("on", func(c goja.FunctionCall) goja.Value {
				if fn, ok := goja.AssertFunction(c.Argument(1)); ok {
					handlers[c.Argument(0).String()] = fn
				}
				return sock
			})
			sock.Set("bind", func(c goja.FunctionCall) goja.Value {
				port := int(c.Argument(0).ToInteger())
				udpConn, err := stdnet.ListenUDP("udp", &stdnet.UDPAddr{Port: port})
				if err != nil {
					vm.enqueue(func() {
						if h, ok := handlers["error"]; ok {
							h(goja.Undefined(), rt.ToValue(err.Error()))
						}
					})
					return goja.Undefined()
				}
				conn = udpConn
				vm.incPending()
				go func() {
					buf := make([]byte, 65507)
					for {
						n, _, err := conn.ReadFromUDP(buf)
						if err != nil {
							return
						}
						msg := string(buf[:n])
						vm.enqueue(func() {
							if h, ok := handlers["message"]; ok {
								h(goja.Undefined(), rt.ToValue(msg))
							}
						})
					}
				}()
				if h, ok := handlers["listening"]; ok {
					vm.enqueue(func() { h(goja.Undefined()) })
				}
				return goja.Undefined()
			})
			sock.Set("send", func(c goja.FunctionCall) goja.Value {
				if conn == nil {
					return goja.Undefined()
				}
				msg := c.Argument(0).String()
				port := int(c.Argument(1).ToInteger())
				host := c.Argument(2).String()
				if dst, err := stdnet.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port)); err == nil {
					conn.WriteToUDP([]byte(msg), dst)
				}
				return goja.Undefined()
			})
			sock.Set("close", func(c goja.FunctionCall) goja.Value {
				if conn != nil {
					conn.Close()
					vm.decPending()
					conn = nil
				}
				return goja.Undefined()
			})
			return rt.ToValue(sock)
		},
	}
}

// tlsBinding is the same socket wiring as net, but dials through
// crypto/tls so guest code exercises a genuinely encrypted connection.
func (vm *scriptVM) tlsBinding(ctx context.Context) interface{} {
	rt := vm.rt
	return map[string]interface{}{
		"connect": func(call goja.FunctionCall) goja.Value {
			host := call.Argument(0).String()
			port := int(call.Argument(1).ToInteger())
			cb, _ := lastCallable(call.Arguments)

			endpoint := vm.resolveEndpoint(host, port)
			sock := rt.NewObject()
			handlers := map[string]goja.Callable{}
			sock.Set("on", func(c goja.FunctionCall) goja.Value {
				if fn, ok := goja.AssertFunction(c.Argument(1)); ok {
					handlers[c.Argument(0).String()] = fn
				}
				return sock
			})

			vm.incPending()
			go func() {
				conn, err := tls.DialWithDialer(&stdnet.Dialer{Timeout: 10 * time.Second}, "tcp", endpoint, &tls.Config{ServerName: host})
				vm.enqueue(func() {
					if err != nil {
						vm.decPending()
						if h, ok := handlers["error"]; ok {
							h(goja.Undefined(), rt.ToValue(err.Error()))
						}
						return
					}
					vm.wireSocket(sock, conn, handlers)
					if cb != nil {
						cb(goja.Undefined())
					}
				})
			}()
			return rt.ToValue(sock)
		},
	}
}

// cryptoBinding prefers host-provided primitives over a JS reimplementation,
// per the hybrid-crypto instruction: randomBytes/sha256 are real Go stdlib
// calls, not a guest-visible shim pretending to be one.
func (vm *scriptVM) cryptoBinding(ctx context.Context) interface{} {
	return map[string]interface{}{
		"randomBytes": func(n int) string {
			buf := make([]byte, n)
			rand.Read(buf)
			return hex.EncodeToString(buf)
		},
		"sha256": func(data string) string {
			sum := sha256.Sum256([]byte(data))
			return hex.EncodeToString(sum[:])
		},
	}
}
