package main

import (
	"fmt"
	"runtime/debug"
)

// VersionCmd prints build information, the way cmd/sand's VersionCmd reads
// it from runtime/debug.BuildInfo rather than linker-injected variables.
type VersionCmd struct{}

func (c *VersionCmd) Run(cctx *Context) error {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		fmt.Println("build info not available")
		return nil
	}
	fmt.Printf("Module: %s\n", buildInfo.Main.Path)
	fmt.Printf("Go version: %s\n", buildInfo.GoVersion)
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case "vcs.revision":
			fmt.Printf("Git Commit: %s\n", setting.Value)
		case "vcs.time":
			fmt.Printf("Commit Time: %s\n", setting.Value)
		case "vcs.modified":
			fmt.Printf("Modified: %s\n", setting.Value)
		}
	}
	return nil
}
