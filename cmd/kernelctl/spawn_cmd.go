package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"
)

// SpawnCmd boots a kernel instance, spawns one shell command in it, streams
// its output to stdout, and exits with its exit code.
type SpawnCmd struct {
	Command     string `arg:"" help:"command string to run under the shell executor"`
	Interactive bool   `help:"attach the local terminal in raw mode and forward keystrokes as input"`
}

func (c *SpawnCmd) Run(cctx *Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	k, err := bootKernel(ctx, cctx.ConfigPath)
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}
	defer k.Dispose(context.Background())

	p, err := k.Shells.Spawn(ctx, c.Command, 0, "/", nil)
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}

	if c.Interactive && term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("spawn: enter raw mode: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), oldState)

		go func() {
			buf := make([]byte, 256)
			for {
				n, err := os.Stdin.Read(buf)
				if err != nil {
					return
				}
				select {
				case p.Input() <- append([]byte(nil), buf[:n]...):
				case <-p.Done():
					return
				}
			}
		}()
	}

	for frag := range p.Output() {
		os.Stdout.Write(frag.Data)
	}

	code, _ := p.ExitCode()
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
