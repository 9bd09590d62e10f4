package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sandkernel/kernel/bridge"
)

// BootCmd boots a kernel instance and blocks until interrupted, useful for
// smoke-testing a boot configuration or running a long-lived bridge peer.
type BootCmd struct {
	BridgeSocket string `default:"" placeholder:"<path>" help:"unix socket path to accept one bridge connection on"`
}

func (c *BootCmd) Run(cctx *Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	k, err := bootKernel(ctx, cctx.ConfigPath)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer k.Dispose(context.Background())

	socketPath := c.BridgeSocket
	if socketPath == "" {
		socketPath = k.Options.BridgeSocketPath
	}
	if socketPath != "" {
		ln, err := net.Listen("unix", socketPath)
		if err != nil {
			return fmt.Errorf("boot: listen on bridge socket: %w", err)
		}
		defer ln.Close()
		go func() {
			if conn, err := ln.Accept(); err == nil {
				k.AttachBridge(bridge.New(conn))
			}
		}()
	}

	fmt.Fprintf(os.Stdout, "kernel booted, identity=%x\n", k.Identity.Public)
	<-ctx.Done()
	fmt.Fprintln(os.Stdout, "shutting down")
	return nil
}
