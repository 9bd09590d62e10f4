// Command kernelctl drives a container kernel instance: boot it, spawn
// processes against it, inspect its filesystem, and list its live process
// table. Mirrors cmd/sand's kong-based CLI shape from the teacher repo.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	"github.com/jotaen/kong-completion"

	"github.com/sandkernel/kernel/config"
	"github.com/sandkernel/kernel/internal/obslog"
	"github.com/sandkernel/kernel/kernel"
)

// Context carries shared state into every subcommand's Run method.
type Context struct {
	ConfigPath string
	k          *kernel.Kernel
}

// CLI is the top-level command tree.
type CLI struct {
	ConfigFile string `default:"" placeholder:"<path>" help:"YAML boot-options file (overrides built-in defaults)"`
	LogFile    string `default:"" placeholder:"<path>" help:"log file path (empty logs to stderr)"`
	LogLevel   string `default:"info" placeholder:"<debug|info|warn|error>" help:"logging level"`

	Boot       BootCmd       `cmd:"" help:"boot a kernel instance and block until interrupted"`
	Spawn      SpawnCmd      `cmd:"" help:"boot a kernel instance and spawn one command in it"`
	Fs         FsCmd         `cmd:"" help:"inspect the virtual filesystem of a fresh kernel instance"`
	Ps         PsCmd         `cmd:"" help:"list the process table of a freshly booted kernel instance"`
	Version    VersionCmd    `cmd:"" help:"print version information"`
	Completion completion.Cmd `cmd:"" help:"generate shell completion scripts"`
}

func main() {
	var cli CLI

	parser, err := kong.New(&cli,
		kong.Description("Operate a browser-hosted application container kernel from the command line."),
		kong.Configuration(kongyaml.Loader, "kernelctl.yaml", "~/.kernelctl.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernelctl: %v\n", err)
		os.Exit(1)
	}
	completion.Register(parser)

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	obslog.Init(obslog.Options{Path: cli.LogFile, Level: cli.LogLevel})

	err = kctx.Run(&Context{ConfigPath: cli.ConfigFile})
	kctx.FatalIfErrorf(err)
}

func loadOptions(path string) (config.Options, error) {
	if path == "" {
		return config.Defaults(), nil
	}
	return config.Load(path)
}

func bootKernel(ctx context.Context, path string) (*kernel.Kernel, error) {
	opts, err := loadOptions(path)
	if err != nil {
		return nil, err
	}
	return kernel.Boot(ctx, opts)
}
