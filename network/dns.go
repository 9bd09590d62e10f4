package network

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// DNSGateway answers guest-visible DNS shim calls by issuing a real one-shot
// DNS query against an upstream resolver, the same pattern the protonuke
// example tool uses for synthetic DNS generation: build a dns.Msg, send it
// over a dns.Client, read back the dns.Msg reply.
type DNSGateway struct {
	Upstream string // e.g. "1.1.1.1:53"
	Timeout  time.Duration
}

func NewDNSGateway(upstream string) *DNSGateway {
	return &DNSGateway{Upstream: upstream, Timeout: 5 * time.Second}
}

// DNSRecord is one answer returned to the guest's DNS shim.
type DNSRecord struct {
	Name  string
	Type  string
	Value string
	TTL   uint32
}

// Lookup resolves name for the given record type ("A", "AAAA", "TXT", "MX",
// "CNAME") against the configured upstream.
func (g *DNSGateway) Lookup(ctx context.Context, name, recordType string) ([]DNSRecord, error) {
	qtype, ok := dns.StringToType[recordType]
	if !ok {
		return nil, fmt.Errorf("network: unsupported DNS record type %q", recordType)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: g.Timeout}
	reply, _, err := client.ExchangeContext(ctx, msg, g.Upstream)
	if err != nil {
		return nil, fmt.Errorf("network: dns exchange: %w", err)
	}
	if reply.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("network: dns rcode %s for %s", dns.RcodeToString[reply.Rcode], name)
	}

	out := make([]DNSRecord, 0, len(reply.Answer))
	for _, rr := range reply.Answer {
		out = append(out, DNSRecord{
			Name:  rr.Header().Name,
			Type:  dns.TypeToString[rr.Header().Rrtype],
			Value: valueOf(rr),
			TTL:   rr.Header().Ttl,
		})
	}
	return out, nil
}

func valueOf(rr dns.RR) string {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String()
	case *dns.AAAA:
		return v.AAAA.String()
	case *dns.CNAME:
		return v.Target
	case *dns.TXT:
		if len(v.Txt) > 0 {
			return v.Txt[0]
		}
		return ""
	case *dns.MX:
		return fmt.Sprintf("%d %s", v.Preference, v.Mx)
	default:
		return rr.String()
	}
}
