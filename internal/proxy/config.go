// Package proxy implements the Proxy Controller (C7) and Proxy Service
// (C8): the long-lived reverse-proxy runtime that terminates TLS in one of
// four modes, dispatches to registered engine drivers, and enforces the
// Security Service's per-request pipeline. The listener/accept-loop and
// reload-without-dropping-sockets shape follows Caddy's own Instance
// lifecycle (see caddy.go's run/provisionContext/unsyncedStop and its
// currentCtx read-mostly pointer for hot config swaps).
package proxy

import (
	"fmt"
	"net"
	"strings"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// validateConfig enforces the structural invariants in spec §3 before a
// handle is ever allocated: a single running handle per (listen_addr,
// port), ACME modes require acme_domain, and CustomSocks5 egress requires
// an endpoint.
func validateConfig(cfg ports.ProxyConfig, existing []ports.ProxyHandle) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return flmerr.New(flmerr.KindConfig, "port must be between 1 and 65535")
	}
	addr := cfg.ListenAddr
	if addr == "" {
		addr = "127.0.0.1"
	}
	for _, h := range existing {
		if h.Running && h.ListenAddr == addr && h.Port == cfg.Port {
			return flmerr.New(flmerr.KindConfig, fmt.Sprintf("a running handle already occupies %s:%d", addr, cfg.Port))
		}
	}

	switch cfg.Mode {
	case ports.ModeLocalHTTP, ports.ModeDevSelfSigned, ports.ModePackagedCA:
	case ports.ModeHTTPSAcme:
		if cfg.AcmeDomain == "" {
			return flmerr.New(flmerr.KindConfig, "acme_domain is required in https_acme mode")
		}
		if cfg.AcmeEmail == "" {
			return flmerr.New(flmerr.KindConfig, "acme_email is required in https_acme mode")
		}
		if strings.HasPrefix(cfg.AcmeDomain, "*.") && cfg.AcmeChallenge != ports.ChallengeDNS01 {
			return flmerr.New(flmerr.KindConfig, "wildcard domain "+cfg.AcmeDomain+" requires acme_challenge=dns-01")
		}
		if cfg.AcmeChallenge == ports.ChallengeDNS01 && cfg.AcmeDNSProfile == "" {
			return flmerr.New(flmerr.KindConfig, "acme_dns_profile is required for dns-01 challenges")
		}
	default:
		return flmerr.New(flmerr.KindConfig, "unknown proxy mode: "+string(cfg.Mode))
	}

	switch cfg.Egress.Mode {
	case ports.EgressDirect, ports.EgressTor:
	case ports.EgressCustomSocks:
		if cfg.Egress.Endpoint == "" {
			return flmerr.New(flmerr.KindConfig, "egress.endpoint is required for custom_socks5")
		}
	default:
		return flmerr.New(flmerr.KindConfig, "unknown egress mode: "+string(cfg.Egress.Mode))
	}

	for _, cidr := range cfg.TrustedProxyIPs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			if net.ParseIP(cidr) == nil {
				return flmerr.Wrap(flmerr.KindConfig, err, "invalid trusted_proxy_ips entry: "+cidr)
			}
		}
	}

	return nil
}

// isTLSMode reports whether cfg terminates TLS (every mode but LocalHTTP).
func isTLSMode(mode ports.ProxyMode) bool {
	return mode != ports.ModeLocalHTTP
}

// trustedProxySet compiles the CIDR/bare-IP list into a fast membership
// checker used to decide whether to honor X-Forwarded-For.
type trustedProxySet struct {
	nets []*net.IPNet
	ips  map[string]struct{}
}

func newTrustedProxySet(entries []string) *trustedProxySet {
	s := &trustedProxySet{ips: map[string]struct{}{}}
	for _, e := range entries {
		if _, n, err := net.ParseCIDR(e); err == nil {
			s.nets = append(s.nets, n)
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			s.ips[ip.String()] = struct{}{}
		}
	}
	return s
}

func (s *trustedProxySet) contains(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	if _, ok := s.ips[ip.String()]; ok {
		return true
	}
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP extracts the real client address from r, honoring
// X-Forwarded-For only when the immediate TCP peer is a trusted proxy
// (spec §4.5 step 2).
func clientIP(remoteAddr, xForwardedFor string, trusted *trustedProxySet) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if xForwardedFor == "" || !trusted.contains(host) {
		return host
	}
	parts := strings.Split(xForwardedFor, ",")
	return strings.TrimSpace(parts[0])
}

// ensureHandleID returns id if non-empty, else a generated one; kept as a
// seam so Service can inject deterministic ids in tests.
func ensureHandleID(id string, gen func() string) string {
	if id != "" {
		return id
	}
	return gen()
}
