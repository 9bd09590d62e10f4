package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	sshconfig "github.com/kevinburke/ssh_config"
)

// Gateway resolves the host a guest socket/DNS shim is dialling against a
// table of host-pattern rules and forwards the connection to the matching
// external endpoint. The pattern-matching engine is borrowed from
// ssh_config's Host-pattern matcher (glob-style patterns with ! negation)
// rather than hand-rolling one, since the kernel's routing rules are
// themselves expressed as "Host <pattern>\n  HostName <endpoint>" blocks.
type Gateway struct {
	cfg *sshconfig.Config
}

// NewGateway parses routing rules from an ssh_config-formatted document,
// e.g.:
//
//	Host *.internal
//	  HostName 127.0.0.1:9000
//
//	Host api.example.com
//	  HostName upstream.example.com:443
func NewGateway(rules string) (*Gateway, error) {
	cfg, err := sshconfig.Decode(strings.NewReader(rules))
	if err != nil {
		return nil, fmt.Errorf("network: parse gateway rules: %w", err)
	}
	return &Gateway{cfg: cfg}, nil
}

// Resolve maps a guest-visible host (and optional port) to the real
// endpoint it should be forwarded to, per the gateway's routing table. If
// no Host pattern matches, the original host is returned unchanged (direct
// passthrough).
func (g *Gateway) Resolve(host string) (endpoint string, err error) {
	target, err := g.cfg.Get(host, "HostName")
	if err != nil {
		return "", fmt.Errorf("network: resolve gateway route for %q: %w", host, err)
	}
	if target == "" {
		return host, nil
	}
	return target, nil
}

// Dial resolves host through the gateway's routing table and issues a GET
// for path against the chosen endpoint. The net and tls shims call Resolve
// directly and the dns shim uses DNSGateway; none of them calls Dial.
func (g *Gateway) Dial(ctx context.Context, host string, port int, path string) (*http.Response, error) {
	endpoint, err := g.Resolve(host)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(endpoint, ":") && port != 0 {
		endpoint = endpoint + ":" + strconv.Itoa(port)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+endpoint+path, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

// drain discards and closes a response body. Nothing in the package calls
// it.
func drain(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}
