package process

import (
	"context"
	"testing"
)

func TestShellExecutor_EchoBuiltin(t *testing.T) {
	reg := NewRegistry()
	sh := NewShellExecutor(reg)

	p, err := sh.Spawn(context.Background(), `echo hello world`, 0, "/", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	var out []byte
	for frag := range p.Output() {
		out = append(out, frag.Data...)
	}
	if string(out) != "hello world\n" {
		t.Fatalf("output = %q, want %q", out, "hello world\n")
	}
	if p.State() != StateCompleted {
		t.Fatalf("state = %s, want completed", p.State())
	}
	if code, exited := p.ExitCode(); !exited || code != 0 {
		t.Fatalf("exit code = %d exited=%v, want 0 true", code, exited)
	}
}

func TestShellExecutor_CdBuiltinUpdatesCwd(t *testing.T) {
	reg := NewRegistry()
	sh := NewShellExecutor(reg)

	var captured string
	realCd := sh.Builtins["cd"]
	sh.Builtins["cd"] = func(ctx context.Context, st *ShellState, args []string) (string, error) {
		out, err := realCd(ctx, st, args)
		captured = st.Cwd
		return out, err
	}

	if _, err := sh.Spawn(context.Background(), `cd /sub/dir`, 0, "/", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if captured != "/sub/dir" {
		t.Fatalf("cwd = %q, want /sub/dir", captured)
	}
}

func TestShellExecutor_UnknownCommandWithoutDispatchFails(t *testing.T) {
	reg := NewRegistry()
	sh := NewShellExecutor(reg)
	if _, err := sh.Spawn(context.Background(), "nonexistent-cmd", 0, "/", nil); err == nil {
		t.Fatalf("expected error for unregistered command")
	}
}

func TestSplitArgs_QuotedStrings(t *testing.T) {
	args, err := splitArgs(`echo "hello world" 'second arg'`)
	if err != nil {
		t.Fatalf("splitArgs: %v", err)
	}
	want := []string{"echo", "hello world", "second arg"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestSplitArgs_UnterminatedQuoteErrors(t *testing.T) {
	if _, err := splitArgs(`echo "unterminated`); err == nil {
		t.Fatalf("expected error for unterminated quote")
	}
}
