package kernel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sandkernel/kernel/config"
	"github.com/sandkernel/kernel/process"
)

func testOptions(t *testing.T) config.Options {
	t.Helper()
	opts := config.Defaults()
	opts.DataDir = filepath.Join(t.TempDir(), "kernel-data")
	return opts
}

func TestBoot_ProducesUsableKernel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	k, err := Boot(ctx, testOptions(t))
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer k.Dispose(ctx)

	if err := k.FS.WriteFile(ctx, "/hello.txt", []byte("hi")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := k.FS.ReadFile(ctx, "/hello.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hi" {
		t.Fatalf("content = %q, want hi", got)
	}

	if _, err := k.FS.Stat(ctx, "/builtins/primordials.js"); err != nil {
		t.Fatalf("expected builtins provisioned, Stat error: %v", err)
	}
}

func TestBoot_SecondBootFailsEEXISTUntilDisposed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := Boot(ctx, testOptions(t))
	if err != nil {
		t.Fatalf("first Boot: %v", err)
	}

	if _, err := Boot(ctx, testOptions(t)); err != ErrAlreadyBooted {
		t.Fatalf("second Boot err = %v, want ErrAlreadyBooted", err)
	}

	if err := first.Dispose(ctx); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	second, err := Boot(ctx, testOptions(t))
	if err != nil {
		t.Fatalf("Boot after Dispose: %v", err)
	}
	defer second.Dispose(ctx)
}

func TestBoot_ConcurrentBootWaitsForPriorToSettle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := Boot(ctx, testOptions(t))
	if err != nil {
		t.Fatalf("first Boot: %v", err)
	}
	defer first.Dispose(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := Boot(ctx, testOptions(t))
		done <- err
	}()

	select {
	case err := <-done:
		if err != ErrAlreadyBooted {
			t.Fatalf("concurrent Boot err = %v, want ErrAlreadyBooted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("concurrent Boot never returned; it should wait for the prior boot then fail fast")
	}
}

func TestKernel_DisposeIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	k, err := Boot(ctx, testOptions(t))
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := k.Dispose(ctx); err != nil {
		t.Fatalf("first Dispose: %v", err)
	}
	if err := k.Dispose(ctx); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}
}

func TestKernel_DisposeTerminatesLiveProcesses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	k, err := Boot(ctx, testOptions(t))
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	p, err := k.Shells.Spawn(ctx, "echo still-alive", 0, "/", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	<-p.Done()

	// A registered process that has not finished is still live at Dispose.
	live := k.Registry.New(process.KindShell, "idle", nil, 0, "/", nil)

	if err := k.Dispose(ctx); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	for _, proc := range k.Registry.List() {
		if !proc.State().Terminal() {
			t.Fatalf("pid %d not terminal after Dispose: %s", proc.PID, proc.State())
		}
	}
	if !live.State().Terminal() {
		t.Fatalf("live pid %d not terminal after Dispose: %s", live.PID, live.State())
	}
}
