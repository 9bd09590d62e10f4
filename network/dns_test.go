package network

import "testing"

func TestDNSGateway_LookupRejectsUnknownType(t *testing.T) {
	g := NewDNSGateway("1.1.1.1:53")
	_, err := g.Lookup(nil, "example.com", "NOTAREALTYPE")
	if err == nil {
		t.Fatalf("expected error for unsupported record type")
	}
}
