package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// fakeSecurityRepo is a minimal in-memory ports.SecurityRepo for proxy
// package tests, covering only what security.Service's dispatch paths
// touch during a request: api keys, policies, certificates, ip failures.
type fakeSecurityRepo struct {
	mu           sync.Mutex
	active       []ports.ApiKeyRecord
	policies     map[string]ports.SecurityPolicy
	certs        map[string]ports.CertificateRecord
	ipFailures   map[string]ports.IpFailure
	rateLimits   map[string]ports.RateLimitState
}

func newFakeSecurityRepo() *fakeSecurityRepo {
	return &fakeSecurityRepo{
		policies:   map[string]ports.SecurityPolicy{},
		certs:      map[string]ports.CertificateRecord{},
		ipFailures: map[string]ports.IpFailure{},
		rateLimits: map[string]ports.RateLimitState{},
	}
}

func (r *fakeSecurityRepo) SaveApiKey(ctx context.Context, k ports.ApiKeyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = append(r.active, k)
	return nil
}
func (r *fakeSecurityRepo) GetApiKey(ctx context.Context, id string) (*ports.ApiKeyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.active {
		if r.active[i].ID == id {
			return &r.active[i], nil
		}
	}
	return nil, nil
}
func (r *fakeSecurityRepo) ListActiveApiKeys(ctx context.Context) ([]ports.ApiKeyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.ApiKeyRecord, 0, len(r.active))
	for _, k := range r.active {
		if k.RevokedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}
func (r *fakeSecurityRepo) ListApiKeys(ctx context.Context) ([]ports.ApiKeyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ports.ApiKeyRecord(nil), r.active...), nil
}
func (r *fakeSecurityRepo) RevokeApiKey(ctx context.Context, id string, revokedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.active {
		if r.active[i].ID == id {
			r.active[i].RevokedAt = &revokedAt
		}
	}
	return nil
}

func (r *fakeSecurityRepo) SavePolicy(ctx context.Context, p ports.SecurityPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.ID] = p
	return nil
}
func (r *fakeSecurityRepo) GetPolicy(ctx context.Context, id string) (*ports.SecurityPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}
func (r *fakeSecurityRepo) ListPolicies(ctx context.Context) ([]ports.SecurityPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.SecurityPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeSecurityRepo) UpsertDNSCredential(ctx context.Context, p ports.DnsCredentialProfile) error {
	return nil
}
func (r *fakeSecurityRepo) GetDNSCredential(ctx context.Context, id string) (*ports.DnsCredentialProfile, error) {
	return nil, nil
}
func (r *fakeSecurityRepo) ListDNSCredentials(ctx context.Context) ([]ports.DnsCredentialProfile, error) {
	return nil, nil
}
func (r *fakeSecurityRepo) DeleteDNSCredential(ctx context.Context, id string) error { return nil }

func (r *fakeSecurityRepo) SaveCertificate(ctx context.Context, c ports.CertificateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.certs[c.Domain] = c
	return nil
}
func (r *fakeSecurityRepo) GetCertificate(ctx context.Context, domain string) (*ports.CertificateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[domain]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
func (r *fakeSecurityRepo) ListCertificates(ctx context.Context) ([]ports.CertificateRecord, error) {
	return nil, nil
}

func (r *fakeSecurityRepo) UpsertIPFailure(ctx context.Context, f ports.IpFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ipFailures[f.IP] = f
	return nil
}
func (r *fakeSecurityRepo) GetIPFailure(ctx context.Context, ip string) (*ports.IpFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.ipFailures[ip]
	if !ok {
		return nil, nil
	}
	return &f, nil
}
func (r *fakeSecurityRepo) ListBlockedIPs(ctx context.Context) ([]ports.IpFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.IpFailure, 0, len(r.ipFailures))
	for _, f := range r.ipFailures {
		out = append(out, f)
	}
	return out, nil
}
func (r *fakeSecurityRepo) UnblockIP(ctx context.Context, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ipFailures, ip)
	return nil
}
func (r *fakeSecurityRepo) ClearTemporaryBlocks(ctx context.Context) error { return nil }

func (r *fakeSecurityRepo) SaveRateLimitState(ctx context.Context, s ports.RateLimitState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimits[s.Key] = s
	return nil
}
func (r *fakeSecurityRepo) GetRateLimitState(ctx context.Context, key string) (*ports.RateLimitState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rateLimits[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
func (r *fakeSecurityRepo) ListRateLimitStates(ctx context.Context) ([]ports.RateLimitState, error) {
	return nil, nil
}

func (r *fakeSecurityRepo) AppendAuditLog(ctx context.Context, row ports.AuditLogRow) error {
	return nil
}
func (r *fakeSecurityRepo) ListAuditLogs(ctx context.Context, limit int) ([]ports.AuditLogRow, error) {
	return nil, nil
}
func (r *fakeSecurityRepo) AppendIntrusionAttempt(ctx context.Context, row ports.IntrusionAttemptRow) error {
	return nil
}
func (r *fakeSecurityRepo) ListIntrusionAttempts(ctx context.Context, limit int) ([]ports.IntrusionAttemptRow, error) {
	return nil, nil
}
func (r *fakeSecurityRepo) AppendAnomalyDetection(ctx context.Context, row ports.AnomalyDetectionRow) error {
	return nil
}
func (r *fakeSecurityRepo) ListAnomalyDetections(ctx context.Context, ip string, limit int) ([]ports.AnomalyDetectionRow, error) {
	return nil, nil
}

func (r *fakeSecurityRepo) ReadOnly() bool { return false }
func (r *fakeSecurityRepo) Close() error   { return nil }

var _ ports.SecurityRepo = (*fakeSecurityRepo)(nil)

// fakeConfigRepo is a minimal in-memory ports.ConfigRepo for proxy package
// tests.
type fakeConfigRepo struct {
	mu      sync.Mutex
	handles map[string]ports.ProxyHandle
}

func newFakeConfigRepo() *fakeConfigRepo {
	return &fakeConfigRepo{handles: map[string]ports.ProxyHandle{}}
}

func (r *fakeConfigRepo) SaveHandle(ctx context.Context, h ports.ProxyHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.ID] = h
	return nil
}
func (r *fakeConfigRepo) GetHandle(ctx context.Context, id string) (*ports.ProxyHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, flmerr.New(flmerr.KindNotFound, "no such handle: "+id)
	}
	return &h, nil
}
func (r *fakeConfigRepo) ListHandles(ctx context.Context) ([]ports.ProxyHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.ProxyHandle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out, nil
}
func (r *fakeConfigRepo) DeleteHandle(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
	return nil
}
func (r *fakeConfigRepo) SaveEngineState(ctx context.Context, e ports.EngineState) error { return nil }
func (r *fakeConfigRepo) ListEngineStates(ctx context.Context) ([]ports.EngineState, error) {
	return nil, nil
}
func (r *fakeConfigRepo) AppendHealthLog(ctx context.Context, row ports.HealthLogRow) error {
	return nil
}
func (r *fakeConfigRepo) ListHealthLogs(ctx context.Context, engineID string, limit int) ([]ports.HealthLogRow, error) {
	return nil, nil
}
func (r *fakeConfigRepo) Close() error { return nil }

var _ ports.ConfigRepo = (*fakeConfigRepo)(nil)
