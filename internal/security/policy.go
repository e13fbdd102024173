package security

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// PolicyDocument is the validated shape of a SecurityPolicy's PolicyJSON.
type PolicyDocument struct {
	IPWhitelist []string `json:"ip_whitelist,omitempty"`
	AcmeDomain  string   `json:"acme_domain,omitempty"`
	CORS        struct {
		AllowedOrigins []string `json:"allowed_origins,omitempty"`
	} `json:"cors"`
	RateLimitPerMinute int `json:"rate_limit_per_minute,omitempty"`
	IntrusionThreshold int `json:"intrusion_threshold,omitempty"`
}

// ValidateDomain is a pure function exposed for UI use (spec §4.4). A
// domain is valid when every label is 1-63 chars of alphanumeric/hyphen
// with no leading/trailing hyphen, the TLD is at least 2 chars, and the
// whole string is neither dot-prefixed nor dot-suffixed. "localhost" is
// accepted without a TLD and "*" is accepted as a CORS wildcard.
func ValidateDomain(s string) bool {
	if s == "*" || s == "localhost" {
		return true
	}
	if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return false
	}
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return false
	}
	for _, label := range labels {
		if !validLabel(label) {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	if len(label) < 1 || len(label) > 63 {
		return false
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return false
	}
	for _, r := range label {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}

// normalizeOrigin strips protocol, path, and port from a CORS origin
// before domain validation, per spec §4.4.
func normalizeOrigin(origin string) string {
	s := origin
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
	}
	if idx := strings.Index(s, "/"); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.LastIndex(s, ":"); idx >= 0 && isAllDigits(s[idx+1:]) {
		s = s[:idx]
	}
	return s
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// validateIPWhitelistEntry requires either a bare IP or a CIDR whose host
// bits are zero for any prefix shorter than the address's full bit width
// (rejects 192.168.1.5/24).
func validateIPWhitelistEntry(entry string) error {
	if !strings.Contains(entry, "/") {
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("%q is not a valid IP address", entry)
		}
		return nil
	}
	ip, network, err := net.ParseCIDR(entry)
	if err != nil {
		return fmt.Errorf("%q is not a valid CIDR: %w", entry, err)
	}
	if !ip.Equal(network.IP) {
		return fmt.Errorf("%q has non-zero host bits for its prefix", entry)
	}
	return nil
}

// ipInWhitelist reports whether ip matches any whitelist entry, each of
// which is either a bare IP or a CIDR (validated by validateIPWhitelistEntry
// at policy-save time, so parse failures here are simply treated as no
// match rather than surfaced as an error).
func ipInWhitelist(ip string, whitelist []string) bool {
	candidate := net.ParseIP(ip)
	if candidate == nil {
		return false
	}
	for _, entry := range whitelist {
		if !strings.Contains(entry, "/") {
			if net.ParseIP(entry).Equal(candidate) {
				return true
			}
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			continue
		}
		if network.Contains(candidate) {
			return true
		}
	}
	return false
}

// ValidatePolicyDocument enforces every rule in spec §4.4.
func ValidatePolicyDocument(doc PolicyDocument) error {
	for _, entry := range doc.IPWhitelist {
		if err := validateIPWhitelistEntry(entry); err != nil {
			return flmerr.Wrap(flmerr.KindPolicy, err, "invalid ip_whitelist entry")
		}
	}
	if doc.AcmeDomain != "" && !ValidateDomain(doc.AcmeDomain) {
		return flmerr.New(flmerr.KindPolicy, "invalid acme_domain: "+doc.AcmeDomain)
	}
	for _, origin := range doc.CORS.AllowedOrigins {
		host := normalizeOrigin(origin)
		if !ValidateDomain(host) {
			return flmerr.New(flmerr.KindPolicy, "invalid cors allowed_origins entry: "+origin)
		}
	}
	return nil
}

// SetPolicy validates policyJSON and persists it under id. id="default" is
// reserved for the implicit system-wide policy.
func (s *Service) SetPolicy(ctx context.Context, id, policyJSON string) error {
	var doc PolicyDocument
	if err := json.Unmarshal([]byte(policyJSON), &doc); err != nil {
		return flmerr.Wrap(flmerr.KindPolicy, err, "invalid policy document")
	}
	if err := ValidatePolicyDocument(doc); err != nil {
		return err
	}
	return s.repo.SavePolicy(ctx, ports.SecurityPolicy{ID: id, PolicyJSON: policyJSON, UpdatedAt: nowUTC()})
}

func (s *Service) GetPolicy(ctx context.Context, id string) (*ports.SecurityPolicy, error) {
	return s.repo.GetPolicy(ctx, id)
}

func (s *Service) ListPolicies(ctx context.Context) ([]ports.SecurityPolicy, error) {
	return s.repo.ListPolicies(ctx)
}
