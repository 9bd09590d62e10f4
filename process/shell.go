package process

import (
	"context"
	"fmt"
	"strings"
)

// Builtin is an in-process shell command.
type Builtin func(ctx context.Context, sh *ShellState, args []string) (output string, err error)

// ShellState is the mutable state a builtin runs against. Spawn builds a
// fresh one from its cwd and env for every command, so a cd changes only
// that command's state and does not carry over to later commands.
type ShellState struct {
	Cwd string
	Env map[string]string
}

var defaultBuiltins = map[string]Builtin{
	"cd": func(ctx context.Context, sh *ShellState, args []string) (string, error) {
		if len(args) == 0 {
			sh.Cwd = "/"
			return "", nil
		}
		sh.Cwd = resolveCwd(sh.Cwd, args[0])
		return "", nil
	},
	"pwd": func(ctx context.Context, sh *ShellState, args []string) (string, error) {
		return sh.Cwd + "\n", nil
	},
	"echo": func(ctx context.Context, sh *ShellState, args []string) (string, error) {
		return strings.Join(args, " ") + "\n", nil
	},
}

func resolveCwd(cwd, arg string) string {
	if strings.HasPrefix(arg, "/") {
		return arg
	}
	if cwd == "" {
		cwd = "/"
	}
	if cwd == "/" {
		return "/" + arg
	}
	return cwd + "/" + arg
}

// ShellExecutor runs command strings that name a shell builtin or an
// external executor registered by name (e.g. the script executor).
type ShellExecutor struct {
	Registry *Registry
	Builtins map[string]Builtin
	// Dispatch routes a non-builtin command name to another executor (the
	// ScriptExecutor, typically); nil means unresolved commands fail.
	Dispatch func(ctx context.Context, name string, args []string, parentPID int64, cwd string, env map[string]string) (*Process, error)
}

func NewShellExecutor(reg *Registry) *ShellExecutor {
	builtins := make(map[string]Builtin, len(defaultBuiltins))
	for k, v := range defaultBuiltins {
		builtins[k] = v
	}
	return &ShellExecutor{Registry: reg, Builtins: builtins}
}

// Spawn parses command into an argument vector (quoted-string aware) and
// either runs a builtin synchronously or dispatches to Dispatch.
func (e *ShellExecutor) Spawn(ctx context.Context, command string, parentPID int64, cwd string, env map[string]string) (*Process, error) {
	args, err := splitArgs(command)
	if err != nil {
		return nil, fmt.Errorf("process: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("process: empty command")
	}

	name, rest := args[0], args[1:]

	if builtin, ok := e.Builtins[name]; ok {
		p := e.Registry.New(KindShell, name, rest, parentPID, cwd, env)
		p.setRunning()
		state := &ShellState{Cwd: cwd, Env: env}
		out, err := builtin(ctx, state, rest)
		if err != nil {
			p.emit(ctx, Stderr, []byte(err.Error()))
			p.finish(StateFailed, 1)
			return p, nil
		}
		p.emit(ctx, Stdout, []byte(out))
		p.finish(StateCompleted, 0)
		return p, nil
	}

	if e.Dispatch == nil {
		return nil, fmt.Errorf("process: no executor registered for %q", name)
	}
	return e.Dispatch(ctx, name, rest, parentPID, cwd, env)
}

// splitArgs performs POSIX-ish whitespace splitting honoring single and
// double quotes, without pulling in a full shell grammar.
func splitArgs(s string) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote rune
	inArg := false

	flush := func() {
		if inArg {
			args = append(args, cur.String())
			cur.Reset()
			inArg = false
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			flush()
		default:
			inArg = true
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return args, nil
}
