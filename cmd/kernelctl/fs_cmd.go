package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sandkernel/kernel/vfs"
)

// FsCmd inspects the virtual filesystem of a freshly booted kernel
// instance: useful for verifying a boot configuration's data directory.
type FsCmd struct {
	Ls   FsLsCmd   `cmd:"" help:"list a directory"`
	Cat  FsCatCmd  `cmd:"" help:"print a file's contents"`
	Find FsFindCmd `cmd:"" help:"search file contents"`
}

type FsLsCmd struct {
	Path string `arg:"" default:"/" help:"directory to list"`
}

func (c *FsLsCmd) Run(cctx *Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	k, err := bootKernel(ctx, cctx.ConfigPath)
	if err != nil {
		return err
	}
	defer k.Dispose(context.Background())

	names, err := k.FS.Readdir(ctx, c.Path)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

type FsCatCmd struct {
	Path string `arg:"" help:"file to print"`
}

func (c *FsCatCmd) Run(cctx *Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	k, err := bootKernel(ctx, cctx.ConfigPath)
	if err != nil {
		return err
	}
	defer k.Dispose(context.Background())

	content, err := k.FS.ReadFile(ctx, c.Path)
	if err != nil {
		return err
	}
	os.Stdout.Write(content)
	return nil
}

type FsFindCmd struct {
	Prefix string `arg:"" help:"directory prefix to search under"`
	Query  string `arg:"" help:"text to search for"`
}

func (c *FsFindCmd) Run(cctx *Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	k, err := bootKernel(ctx, cctx.ConfigPath)
	if err != nil {
		return err
	}
	defer k.Dispose(context.Background())

	result, err := k.FS.TextSearch(ctx, vfs.SearchOptions{Query: c.Query, Folders: []string{c.Prefix}})
	if err != nil {
		return err
	}
	for _, m := range result.Matches {
		fmt.Printf("%s:%d:%d: %s\n", m.Path, m.LineNumber, m.MatchStart, m.LineContent)
	}
	if result.Truncated {
		fmt.Println("(results truncated)")
	}
	return nil
}
