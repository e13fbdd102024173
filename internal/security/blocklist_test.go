package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

type memSecurityRepo struct {
	ipFailures map[string]ports.IpFailure
	active     []ports.ApiKeyRecord
}

func newMemSecurityRepo() *memSecurityRepo {
	return &memSecurityRepo{ipFailures: map[string]ports.IpFailure{}}
}

func (m *memSecurityRepo) SaveApiKey(ctx context.Context, k ports.ApiKeyRecord) error {
	m.active = append(m.active, k)
	return nil
}
func (m *memSecurityRepo) GetApiKey(ctx context.Context, id string) (*ports.ApiKeyRecord, error) {
	for _, k := range m.active {
		if k.ID == id {
			return &k, nil
		}
	}
	return nil, nil
}
func (m *memSecurityRepo) ListActiveApiKeys(ctx context.Context) ([]ports.ApiKeyRecord, error) {
	return m.active, nil
}
func (m *memSecurityRepo) ListApiKeys(ctx context.Context) ([]ports.ApiKeyRecord, error) {
	return m.active, nil
}
func (m *memSecurityRepo) RevokeApiKey(ctx context.Context, id string, revokedAt time.Time) error {
	return nil
}
func (m *memSecurityRepo) SavePolicy(ctx context.Context, p ports.SecurityPolicy) error { return nil }
func (m *memSecurityRepo) GetPolicy(ctx context.Context, id string) (*ports.SecurityPolicy, error) {
	return nil, nil
}
func (m *memSecurityRepo) ListPolicies(ctx context.Context) ([]ports.SecurityPolicy, error) {
	return nil, nil
}
func (m *memSecurityRepo) UpsertDNSCredential(ctx context.Context, p ports.DnsCredentialProfile) error {
	return nil
}
func (m *memSecurityRepo) GetDNSCredential(ctx context.Context, id string) (*ports.DnsCredentialProfile, error) {
	return nil, nil
}
func (m *memSecurityRepo) ListDNSCredentials(ctx context.Context) ([]ports.DnsCredentialProfile, error) {
	return nil, nil
}
func (m *memSecurityRepo) DeleteDNSCredential(ctx context.Context, id string) error { return nil }
func (m *memSecurityRepo) SaveCertificate(ctx context.Context, c ports.CertificateRecord) error {
	return nil
}
func (m *memSecurityRepo) GetCertificate(ctx context.Context, id string) (*ports.CertificateRecord, error) {
	return nil, nil
}
func (m *memSecurityRepo) ListCertificates(ctx context.Context) ([]ports.CertificateRecord, error) {
	return nil, nil
}
func (m *memSecurityRepo) UpsertIPFailure(ctx context.Context, f ports.IpFailure) error {
	m.ipFailures[f.IP] = f
	return nil
}
func (m *memSecurityRepo) GetIPFailure(ctx context.Context, ip string) (*ports.IpFailure, error) {
	f, ok := m.ipFailures[ip]
	if !ok {
		return nil, nil
	}
	return &f, nil
}
func (m *memSecurityRepo) ListBlockedIPs(ctx context.Context) ([]ports.IpFailure, error) {
	out := make([]ports.IpFailure, 0, len(m.ipFailures))
	for _, f := range m.ipFailures {
		out = append(out, f)
	}
	return out, nil
}
func (m *memSecurityRepo) UnblockIP(ctx context.Context, ip string) error {
	delete(m.ipFailures, ip)
	return nil
}
func (m *memSecurityRepo) ClearTemporaryBlocks(ctx context.Context) error { return nil }
func (m *memSecurityRepo) SaveRateLimitState(ctx context.Context, s ports.RateLimitState) error {
	return nil
}
func (m *memSecurityRepo) GetRateLimitState(ctx context.Context, key string) (*ports.RateLimitState, error) {
	return nil, nil
}
func (m *memSecurityRepo) ListRateLimitStates(ctx context.Context) ([]ports.RateLimitState, error) {
	return nil, nil
}
func (m *memSecurityRepo) AppendAuditLog(ctx context.Context, row ports.AuditLogRow) error {
	return nil
}
func (m *memSecurityRepo) ListAuditLogs(ctx context.Context, limit int) ([]ports.AuditLogRow, error) {
	return nil, nil
}
func (m *memSecurityRepo) AppendIntrusionAttempt(ctx context.Context, row ports.IntrusionAttemptRow) error {
	return nil
}
func (m *memSecurityRepo) ListIntrusionAttempts(ctx context.Context, limit int) ([]ports.IntrusionAttemptRow, error) {
	return nil, nil
}
func (m *memSecurityRepo) AppendAnomalyDetection(ctx context.Context, row ports.AnomalyDetectionRow) error {
	return nil
}
func (m *memSecurityRepo) ListAnomalyDetections(ctx context.Context, ip string, limit int) ([]ports.AnomalyDetectionRow, error) {
	return nil, nil
}
func (m *memSecurityRepo) ReadOnly() bool { return false }
func (m *memSecurityRepo) Close() error   { return nil }

var _ ports.SecurityRepo = (*memSecurityRepo)(nil)

func TestBlocklist_EscalationLadder(t *testing.T) {
	repo := newMemSecurityRepo()
	bl := NewBlocklist(repo, zap.NewNop())

	for i := 0; i < 4; i++ {
		blocked := bl.RecordFailure("1.2.3.4")
		assert.False(t, blocked)
	}
	assert.False(t, bl.IsBlocked("1.2.3.4"))

	blocked := bl.RecordFailure("1.2.3.4") // 5th failure -> 30min
	assert.True(t, blocked)
	assert.True(t, bl.IsBlocked("1.2.3.4"))

	for i := 0; i < 4; i++ {
		bl.RecordFailure("1.2.3.4")
	}
	blocked = bl.RecordFailure("1.2.3.4") // 10th failure -> 24h
	assert.True(t, blocked)

	for i := 0; i < 9; i++ {
		bl.RecordFailure("1.2.3.4")
	}
	blocked = bl.RecordFailure("1.2.3.4") // 20th failure -> permanent
	assert.True(t, blocked)
	assert.True(t, bl.IsBlocked("1.2.3.4"))
}

func TestBlocklist_SyncAndLoad(t *testing.T) {
	repo := newMemSecurityRepo()
	bl := NewBlocklist(repo, zap.NewNop())
	bl.RecordFailure("9.9.9.9")

	require.NoError(t, bl.Sync(context.Background()))
	assert.False(t, bl.NeedsSync())

	bl2 := NewBlocklist(repo, zap.NewNop())
	require.NoError(t, bl2.LoadFromRepo(context.Background()))
	assert.True(t, bl2.IsBlocked("9.9.9.9"))
}

func TestBlocklist_Unblock(t *testing.T) {
	repo := newMemSecurityRepo()
	bl := NewBlocklist(repo, zap.NewNop())
	for i := 0; i < 5; i++ {
		bl.RecordFailure("5.5.5.5")
	}
	require.True(t, bl.IsBlocked("5.5.5.5"))
	bl.Unblock("5.5.5.5")
	assert.False(t, bl.IsBlocked("5.5.5.5"))
}
