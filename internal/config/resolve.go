package config

import "github.com/arashdev/simorgh/pkg/policy"

// Policy converts the config-file shape into the pkg/policy data model
// internal/ruleengine.New and internal/outbound.Connector consume.
func (c *Config) Policy() (rules []policy.Rule, proxies []policy.ProxyConfig, def policy.Rule) {
	rules = make([]policy.Rule, len(c.Rules))
	for i, r := range c.Rules {
		rules[i] = policy.Rule{Match: r.Match, Policy: r.Policy}
	}

	proxies = make([]policy.ProxyConfig, len(c.Proxies))
	for i, p := range c.Proxies {
		proxies[i] = policy.ProxyConfig{
			Name:                p.Name,
			Kind:                p.Kind,
			Server:              p.Server,
			Port:                p.Port,
			Algorithm:           p.Algorithm,
			Password:            p.Password,
			UUID:                p.UUID,
			Transport:           p.Transport,
			WSPath:              p.WSPath,
			TLS:                 p.TLS,
			ServerName:          p.ServerName,
			SkipVerify:          p.SkipVerify,
			Username:            p.Username,
			PreferHTTPTunneling: p.PreferHTTPTunneling,
			Fingerprint:         p.Fingerprint,
		}
	}

	def = policy.Rule{Policy: c.Default.Policy}
	return rules, proxies, def
}
