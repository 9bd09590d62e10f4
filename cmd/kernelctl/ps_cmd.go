package main

import (
	"context"
	"fmt"
	"time"
)

// PsCmd lists the process table of a freshly booted kernel instance. With
// --pid, it lists only that process's subtree instead of the flat table.
type PsCmd struct {
	PID int64 `help:"show only the subtree rooted at this pid"`
}

func (c *PsCmd) Run(cctx *Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	k, err := bootKernel(ctx, cctx.ConfigPath)
	if err != nil {
		return err
	}
	defer k.Dispose(context.Background())

	procs := k.Registry.List()
	if c.PID != 0 {
		procs = k.Registry.Tree(c.PID)
	}

	fmt.Printf("%-6s %-8s %-20s %-10s\n", "PID", "KIND", "EXECUTABLE", "STATE")
	for _, p := range procs {
		fmt.Printf("%-6d %-8s %-20s %-10s\n", p.PID, p.Kind, p.Executable, p.State())
	}
	return nil
}
