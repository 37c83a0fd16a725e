package ruleengine

import (
	"testing"

	"github.com/arashdev/simorgh/pkg/address"
	"github.com/arashdev/simorgh/pkg/policy"
)

func TestResolveExactAndWildcard(t *testing.T) {
	rules := []policy.Rule{
		{Match: "ads.example.net", Policy: "reject"},
		{Match: "*.internal.example.com", Policy: "direct"},
		{Match: "*.example.com", Policy: "home-ss"},
	}
	proxies := []policy.ProxyConfig{{Name: "home-ss", Kind: "shadowsocks"}}
	def := policy.Rule{Policy: "direct"}

	e := New(rules, proxies, def, 0)

	cases := []struct {
		host string
		kind policy.Kind
	}{
		{"ads.example.net", policy.KindReject},
		{"db.internal.example.com", policy.KindDirect},
		{"www.example.com", policy.KindProxy},
		{"unrelated.test", policy.KindDirect},
	}
	for _, tc := range cases {
		got := e.Resolve(address.DomainPort(tc.host, 443))
		if got.Kind != tc.kind {
			t.Errorf("Resolve(%s): got kind %v, want %v", tc.host, got.Kind, tc.kind)
		}
	}
}

func TestResolveCachesDecision(t *testing.T) {
	rules := []policy.Rule{{Match: "example.com", Policy: "reject"}}
	e := New(rules, nil, policy.Rule{Policy: "direct"}, 0)

	target := address.DomainPort("example.com", 80)
	first := e.Resolve(target)
	second := e.Resolve(target)
	if first.Kind != second.Kind {
		t.Fatalf("cached decision changed: %v != %v", first.Kind, second.Kind)
	}
	if e.decision.Len() != 1 {
		t.Fatalf("expected exactly one cached entry, got %d", e.decision.Len())
	}
}

func TestResolveUnknownProxyNameRejects(t *testing.T) {
	rules := []policy.Rule{{Match: "example.com", Policy: "ghost-proxy"}}
	e := New(rules, nil, policy.Rule{Policy: "direct"}, 0)

	got := e.Resolve(address.DomainPort("example.com", 80))
	if got.Kind != policy.KindReject {
		t.Fatalf("got kind %v, want KindReject for unresolvable proxy name", got.Kind)
	}
}
