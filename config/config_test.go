package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.yaml")
	if err := os.WriteFile(path, []byte("logLevel: debug\ninterpreter: /usr/bin/node\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if opts.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", opts.LogLevel)
	}
	if opts.Interpreter != "/usr/bin/node" {
		t.Fatalf("Interpreter = %q, want /usr/bin/node", opts.Interpreter)
	}
	if opts.DataDir != Defaults().DataDir {
		t.Fatalf("DataDir = %q, want default %q", opts.DataDir, Defaults().DataDir)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/path.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
