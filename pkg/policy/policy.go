// Package policy defines the routing decision data model: a proxy
// outbound's configuration and the rule an inbound destination resolves
// to (direct, reject, or via a named proxy).
package policy

// Kind is the action a matched rule or default policy resolves to.
type Kind int

const (
	KindProxy Kind = iota
	KindDirect
	KindReject
)

// ProxyConfig describes one configured outbound proxy. Only the fields
// relevant to Kind are meaningful; see internal/config for the TOML shape
// this is decoded from.
type ProxyConfig struct {
	Name string
	Kind string // "shadowsocks", "vmess", "trojan", "socks5", "http"

	Server string
	Port   uint16

	// Shadowsocks / Trojan / SOCKS5 / HTTP account secret
	Algorithm string
	Password  string

	// VMESS
	UUID      string
	Transport string // "tcp" or "ws"
	WSPath    string

	// Trojan / generic TLS
	TLS        bool
	ServerName string
	SkipVerify bool

	// SOCKS5 / HTTP
	Username string

	// HTTP only: carried over from the prefer-http-tunneling config key.
	// internal/outbound.Connector does not read it; it always opens a
	// CONNECT tunnel for Kind "http", whatever this field holds.
	PreferHTTPTunneling bool

	// outbound TLS fingerprint camouflage (utls client hello id), applies
	// to any Kind dialed over TLS.
	Fingerprint string
}

// Rule matches an inbound destination domain against a pattern and routes
// it to a Policy.
type Rule struct {
	Match  string // exact domain, or "*.suffix" wildcard
	Policy string // "direct", "reject", or a ProxyConfig.Name
}

// Policy is the resolved routing decision for one connection.
type Policy struct {
	Kind  Kind
	Proxy *ProxyConfig // set only when Kind == KindProxy
}
