package network

import "testing"

func TestGateway_ResolveMatchesHostPattern(t *testing.T) {
	g, err := NewGateway("Host *.internal\n  HostName 127.0.0.1:9000\n")
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	endpoint, err := g.Resolve("api.internal")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if endpoint != "127.0.0.1:9000" {
		t.Fatalf("endpoint = %q, want 127.0.0.1:9000", endpoint)
	}
}

func TestGateway_ResolveUnmatchedPassesThrough(t *testing.T) {
	g, err := NewGateway("Host *.internal\n  HostName 127.0.0.1:9000\n")
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	endpoint, err := g.Resolve("example.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if endpoint != "example.com" {
		t.Fatalf("endpoint = %q, want passthrough example.com", endpoint)
	}
}
