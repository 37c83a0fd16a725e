package vmess

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/arashdev/simorgh/pkg/address"
)

// ShareLink is a parsed vmess://base64(json) URL. Every mainstream VMESS
// client (v2rayN, Shadowrocket, Clash) supports importing a proxy from one
// of these; the distilled spec.md never mentions it even though
// other_examples' Clash.Premium VmessOption is shaped to round-trip one.
// Parsing uses tidwall/gjson, pulled from the sub2api dependency set in
// the retrieval pack, instead of unmarshaling into a bespoke struct.
type ShareLink struct {
	ID       uuid.UUID
	Target   address.Addr
	Security byte
	Network  string // "tcp" or "ws"
	WSPath   string
	TLS      bool
	SNI      string
}

// ParseShareURL decodes a "vmess://..." share link.
func ParseShareURL(raw string) (ShareLink, error) {
	const prefix = "vmess://"
	if len(raw) <= len(prefix) || raw[:len(prefix)] != prefix {
		return ShareLink{}, fmt.Errorf("vmess: not a vmess:// URL")
	}
	decoded, err := base64.StdEncoding.DecodeString(withPadding(raw[len(prefix):]))
	if err != nil {
		return ShareLink{}, fmt.Errorf("vmess: decode share link: %w", err)
	}
	if !gjson.ValidBytes(decoded) {
		return ShareLink{}, fmt.Errorf("vmess: share link payload is not valid JSON")
	}
	root := gjson.ParseBytes(decoded)

	id, err := uuid.Parse(root.Get("id").String())
	if err != nil {
		return ShareLink{}, fmt.Errorf("vmess: parse id: %w", err)
	}
	port, err := strconv.Atoi(root.Get("port").String())
	if err != nil {
		return ShareLink{}, fmt.Errorf("vmess: parse port: %w", err)
	}

	link := ShareLink{
		ID:       id,
		Target:   address.DomainPort(root.Get("add").String(), uint16(port)),
		Security: securityFromName(root.Get("scy").String()),
		Network:  root.Get("net").String(),
		WSPath:   root.Get("path").String(),
		TLS:      root.Get("tls").String() == "tls",
		SNI:      root.Get("sni").String(),
	}
	if link.Network == "" {
		link.Network = "tcp"
	}
	return link, nil
}

func securityFromName(name string) byte {
	switch name {
	case "chacha20-poly1305":
		return SecurityChacha20Poly1305
	case "none":
		return SecurityNone
	default:
		return SecurityAES128GCM
	}
}

func withPadding(s string) string {
	if m := len(s) % 4; m != 0 {
		s += "===="[:4-m]
	}
	return s
}
