// Package config loads simorgh's TOML configuration file into the
// pkg/policy data model the rule engine and outbound connector consume.
//
// The loader follows the teacher's internal/config idiom exactly: a
// package-level sync.Once-guarded singleton loaded with BurntSushi/toml,
// a validate() pass that reports the missing top-level fields (listen
// addresses, default policy) together and otherwise stops at the first
// invalid [mitm] or proxy entry, and an applyDefaultValues() pass for
// anything left unset. The
// teacher split this into ClientConfig/ServerConfig because Gordafarid ran
// as two distinct binaries; simorgh listens and dials from the same
// process, so there is one Config instead.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/arashdev/simorgh/internal/logger"
	"github.com/arashdev/simorgh/pkg/vmess"
)

var (
	errInvalidConfigFile        = errors.New("invalid config file")
	errListenAddressMissing     = errors.New("listen.socks5 and listen.http are both empty")
	errDefaultPolicyMissing     = errors.New("default.policy is empty")
	errMitmFieldsMissing        = errors.New("mitm.enabled is true but base64-p12 or hostnames is empty")
	errProxyNameMissing         = errors.New("proxy entry has an empty name")
	errProxyNameDuplicate       = errors.New("duplicate proxy name")
	errProxyEndpointMissing     = errors.New("proxy entry is missing server or port")
	errUnknownProxyKind         = errors.New("proxy entry names an unrecognized kind")
	errShadowsocksFieldsMissing = errors.New("shadowsocks proxy is missing algorithm or password")
	errVmessUUIDMissing         = errors.New("vmess proxy is missing uuid")
	errTrojanPasswordMissing    = errors.New("trojan proxy is missing password")
)

// ListenConfig configures the inbound listeners. At least one must be set.
type ListenConfig struct {
	Socks5 string `toml:"socks5"`
	HTTP   string `toml:"http"`
}

// MitmConfig configures the optional HTTP CONNECT TLS interception
// subsystem (pkg/httpconnect's CertPool, internal/mitm).
type MitmConfig struct {
	Enabled    bool     `toml:"enabled"`
	Passphrase string   `toml:"passphrase"`
	Base64P12  string   `toml:"base64-p12"`
	Hostnames  []string `toml:"hostnames"`
}

// RuleConfig is one routing rule: a domain pattern and the policy name it
// resolves to ("direct", "reject", or a ProxyConfig.Name).
type RuleConfig struct {
	Match  string `toml:"match"`
	Policy string `toml:"policy"`
}

// ProxyConfig is the TOML shape of one [[proxies]] entry; Resolved()
// converts it into the pkg/policy.ProxyConfig the rule engine and outbound
// connector consume.
type ProxyConfig struct {
	Name      string `toml:"name"`
	Kind      string `toml:"kind"`
	Server    string `toml:"server"`
	Port      uint16 `toml:"port"`
	Algorithm string `toml:"algorithm"`
	Password  string `toml:"password"`

	UUID      string `toml:"uuid"`
	Transport string `toml:"transport"`
	WSPath    string `toml:"ws-path"`

	TLS        bool   `toml:"tls"`
	ServerName string `toml:"sni"`
	SkipVerify bool   `toml:"skip-cert-verify"`

	Username            string `toml:"username"`
	PreferHTTPTunneling bool   `toml:"prefer-http-tunneling"`

	Fingerprint string `toml:"fingerprint"`
}

// DefaultConfig names the policy applied when no rule matches.
type DefaultConfig struct {
	Policy string `toml:"policy"`
}

// Config is the full simorgh configuration file.
type Config struct {
	Listen ListenConfig `toml:"listen"`
	Mitm   MitmConfig   `toml:"mitm"`
	Rules  []RuleConfig `toml:"rules"`

	Proxies []ProxyConfig `toml:"proxies"`
	// ProxyLinks imports additional proxies from "vmess://base64(json)"
	// share links (pkg/vmess.ParseShareURL), the practical TOML-safe
	// realization of SPEC_FULL.md §6's "proxies entries given as a bare
	// string" share-link import path: a table array's elements can't
	// mix tables and bare strings in valid TOML, so share links get
	// their own flat string array instead.
	ProxyLinks []string `toml:"proxy-links"`

	Default DefaultConfig `toml:"default"`
}

var (
	instance *Config
	loadOnce sync.Once
)

// Get loads and returns the singleton Config. It uses sync.Once so the
// file is parsed exactly once even under concurrent callers; any loading
// error is fatal, matching the teacher's GetClientCofig/GetServerConfig.
func Get(path string) *Config {
	loadOnce.Do(func() {
		var err error
		if instance, err = load(path); err != nil {
			logger.Fatal(errors.Join(errInvalidConfigFile, err))
		}
	})
	return instance
}

func load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.importShareLinks(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaultValues()
	return &cfg, nil
}

func (c *Config) importShareLinks() error {
	for i, raw := range c.ProxyLinks {
		link, err := vmess.ParseShareURL(raw)
		if err != nil {
			return fmt.Errorf("proxy-links[%d]: %w", i, err)
		}
		c.Proxies = append(c.Proxies, ProxyConfig{
			Name:       fmt.Sprintf("share-link-%d", i),
			Kind:       "vmess",
			Server:     link.Target.Domain,
			Port:       link.Target.Port,
			Algorithm:  securityName(link.Security),
			UUID:       link.ID.String(),
			Transport:  link.Network,
			WSPath:     link.WSPath,
			TLS:        link.TLS,
			ServerName: link.SNI,
		})
	}
	return nil
}

func securityName(b byte) string {
	switch b {
	case vmess.SecurityChacha20Poly1305:
		return "chacha20-poly1305"
	case vmess.SecurityNone:
		return "none"
	default:
		return "aes-128-gcm"
	}
}

func (c *Config) validate() error {
	var missing []string
	if c.Listen.Socks5 == "" && c.Listen.HTTP == "" {
		missing = append(missing, errListenAddressMissing.Error())
	}
	if c.Default.Policy == "" {
		missing = append(missing, errDefaultPolicyMissing.Error())
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}

	if c.Mitm.Enabled && (c.Mitm.Base64P12 == "" || len(c.Mitm.Hostnames) == 0) {
		return errMitmFieldsMissing
	}

	seen := make(map[string]bool, len(c.Proxies))
	for i, p := range c.Proxies {
		if p.Name == "" {
			return fmt.Errorf("proxies[%d]: %w", i, errProxyNameMissing)
		}
		if seen[p.Name] {
			return fmt.Errorf("proxies[%d]: %w: %s", i, errProxyNameDuplicate, p.Name)
		}
		seen[p.Name] = true
		if err := validateProxy(p); err != nil {
			return fmt.Errorf("proxies[%d] (%s): %w", i, p.Name, err)
		}
	}
	return nil
}

func validateProxy(p ProxyConfig) error {
	if p.Server == "" || p.Port == 0 {
		return errProxyEndpointMissing
	}
	switch p.Kind {
	case "shadowsocks":
		if p.Algorithm == "" || p.Password == "" {
			return errShadowsocksFieldsMissing
		}
	case "vmess":
		if p.UUID == "" {
			return errVmessUUIDMissing
		}
	case "trojan":
		if p.Password == "" {
			return errTrojanPasswordMissing
		}
	case "socks5", "http":
		// credentials are optional for both.
	default:
		return fmt.Errorf("%w: %s", errUnknownProxyKind, p.Kind)
	}
	return nil
}

// applyDefaultValues fills in anything validate() allows to stay unset.
func (c *Config) applyDefaultValues() {
	for i := range c.Proxies {
		if c.Proxies[i].Transport == "" {
			c.Proxies[i].Transport = "tcp"
		}
	}
}
