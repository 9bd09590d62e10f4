// Package config loads the kernel's boot options, shared between the
// library's Boot(ctx, Options) entry point and the CLI (which layers
// kong-yaml config-file resolution over the same struct).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options are the container kernel's boot-time options.
type Options struct {
	// DataDir holds the VFS sqlite database and builtins scratch space.
	DataDir string `yaml:"dataDir"`

	LogFile  string `yaml:"logFile"`
	LogLevel string `yaml:"logLevel"`

	// Interpreter is the guest-visible interpreter identity reported as
	// process.argv[0] and process.release.name (default "node"). There is
	// no real interpreter binary behind it; scripts run in an embedded
	// interpreter context.
	Interpreter string `yaml:"interpreter"`

	// MemoryBudgetMB is loaded from the config file but not read by the
	// kernel or the executors: no per-process memory budget is enforced,
	// whatever its value.
	MemoryBudgetMB int `yaml:"memoryBudgetMB"`

	// BridgeSocketPath is the unix socket path the RPC bridge listens on.
	BridgeSocketPath string `yaml:"bridgeSocketPath"`

	// OTLPEndpoint is the tracing collector address; empty disables export.
	OTLPEndpoint string `yaml:"otlpEndpoint"`

	// DNSUpstream is the resolver address the DNS gateway forwards to.
	DNSUpstream string `yaml:"dnsUpstream"`

	// GatewayRules is an ssh_config-formatted host routing table.
	GatewayRules string `yaml:"gatewayRules"`
}

// Defaults returns the options used when a field is left unset.
func Defaults() Options {
	return Options{
		DataDir:        "/tmp/sandkernel",
		LogLevel:       "info",
		Interpreter:    "node",
		MemoryBudgetMB: 0,
		DNSUpstream:    "1.1.1.1:53",
	}
}

// Load reads YAML options from path and overlays them onto Defaults().
func Load(path string) (Options, error) {
	opts := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return opts, nil
}
