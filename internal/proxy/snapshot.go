package proxy

import (
	"crypto/tls"
	"sync/atomic"

	"github.com/Unjuno/FLM-sub001/internal/ports"
	"github.com/Unjuno/FLM-sub001/internal/security"
)

// enforcementSnapshot is the immutable bundle of (policy, TLS material,
// trusted-proxy set, egress dialer) captured at request entry, per spec
// §4.8's "Enforcement snapshot" glossary entry. reload_config builds a new
// snapshot and swaps the pointer atomically; in-flight requests keep using
// whatever snapshot they already loaded. Modeled on caddy.go's
// currentCtx/ActiveContext read-mostly pointer pattern.
type enforcementSnapshot struct {
	policyDoc       security.PolicyDocument
	tlsConfig       *tls.Config
	trustedProxies  *trustedProxySet
	dial            dialContextFunc
	egress          ports.EgressConfig
}

// snapshotHolder is an atomic read-mostly pointer to the current snapshot.
type snapshotHolder struct {
	ptr atomic.Pointer[enforcementSnapshot]
}

func (h *snapshotHolder) Load() *enforcementSnapshot {
	return h.ptr.Load()
}

func (h *snapshotHolder) Store(s *enforcementSnapshot) {
	h.ptr.Store(s)
}
