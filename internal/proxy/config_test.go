package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

func baseConfig() ports.ProxyConfig {
	return ports.ProxyConfig{
		Port: 8443, ListenAddr: "127.0.0.1", Mode: ports.ModeLocalHTTP,
		Egress: ports.EgressConfig{Mode: ports.EgressDirect},
	}
}

func TestValidateConfig_RejectsBadPort(t *testing.T) {
	cfg := baseConfig()
	cfg.Port = 0
	err := validateConfig(cfg, nil)
	require.Error(t, err)
	assert.True(t, flmerr.Is(err, flmerr.KindConfig))
}

func TestValidateConfig_RejectsCollidingListenAddrPort(t *testing.T) {
	cfg := baseConfig()
	existing := []ports.ProxyHandle{{ListenAddr: "127.0.0.1", Port: 8443, Running: true}}
	err := validateConfig(cfg, existing)
	require.Error(t, err)
}

func TestValidateConfig_AllowsSamePortWhenExistingStopped(t *testing.T) {
	cfg := baseConfig()
	existing := []ports.ProxyHandle{{ListenAddr: "127.0.0.1", Port: 8443, Running: false}}
	assert.NoError(t, validateConfig(cfg, existing))
}

func TestValidateConfig_AcmeRequiresDomain(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = ports.ModeHTTPSAcme
	err := validateConfig(cfg, nil)
	require.Error(t, err)
}

func TestValidateConfig_AcmeDNS01RequiresProfile(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = ports.ModeHTTPSAcme
	cfg.AcmeDomain = "example.com"
	cfg.AcmeEmail = "ops@example.com"
	cfg.AcmeChallenge = ports.ChallengeDNS01
	err := validateConfig(cfg, nil)
	require.Error(t, err)

	cfg.AcmeDNSProfile = "cloudflare-main"
	assert.NoError(t, validateConfig(cfg, nil))
}

func TestValidateConfig_WildcardDomainRequiresDNS01(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = ports.ModeHTTPSAcme
	cfg.AcmeDomain = "*.example.test"
	cfg.AcmeEmail = "ops@example.com"
	cfg.AcmeChallenge = ports.ChallengeHTTP01
	err := validateConfig(cfg, nil)
	require.Error(t, err)
	assert.True(t, flmerr.Is(err, flmerr.KindConfig))

	cfg.AcmeChallenge = ports.ChallengeDNS01
	cfg.AcmeDNSProfile = "cloudflare-main"
	assert.NoError(t, validateConfig(cfg, nil))
}

func TestValidateConfig_AcmeRequiresEmail(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = ports.ModeHTTPSAcme
	cfg.AcmeDomain = "example.com"
	err := validateConfig(cfg, nil)
	require.Error(t, err)
}

func TestValidateConfig_CustomSocksRequiresEndpoint(t *testing.T) {
	cfg := baseConfig()
	cfg.Egress = ports.EgressConfig{Mode: ports.EgressCustomSocks}
	err := validateConfig(cfg, nil)
	require.Error(t, err)

	cfg.Egress.Endpoint = "127.0.0.1:1080"
	assert.NoError(t, validateConfig(cfg, nil))
}

func TestValidateConfig_RejectsBadTrustedProxyEntry(t *testing.T) {
	cfg := baseConfig()
	cfg.TrustedProxyIPs = []string{"not-an-ip"}
	err := validateConfig(cfg, nil)
	require.Error(t, err)
}

func TestValidateConfig_AcceptsCIDRAndBareIP(t *testing.T) {
	cfg := baseConfig()
	cfg.TrustedProxyIPs = []string{"10.0.0.0/8", "192.168.1.1"}
	assert.NoError(t, validateConfig(cfg, nil))
}

func TestIsTLSMode(t *testing.T) {
	assert.False(t, isTLSMode(ports.ModeLocalHTTP))
	assert.True(t, isTLSMode(ports.ModeDevSelfSigned))
	assert.True(t, isTLSMode(ports.ModeHTTPSAcme))
	assert.True(t, isTLSMode(ports.ModePackagedCA))
}

func TestTrustedProxySet_Contains(t *testing.T) {
	set := newTrustedProxySet([]string{"10.0.0.0/8", "172.16.0.5"})
	assert.True(t, set.contains("10.1.2.3"))
	assert.True(t, set.contains("172.16.0.5"))
	assert.False(t, set.contains("8.8.8.8"))
	assert.False(t, set.contains("not-an-ip"))
}

func TestClientIP_HonorsForwardedOnlyWhenTrusted(t *testing.T) {
	trusted := newTrustedProxySet([]string{"127.0.0.1"})

	ip := clientIP("127.0.0.1:54321", "203.0.113.5, 10.0.0.1", trusted)
	assert.Equal(t, "203.0.113.5", ip)

	untrusted := newTrustedProxySet(nil)
	ip = clientIP("127.0.0.1:54321", "203.0.113.5", untrusted)
	assert.Equal(t, "127.0.0.1", ip)
}

func TestClientIP_FallsBackWhenNoPort(t *testing.T) {
	trusted := newTrustedProxySet(nil)
	ip := clientIP("203.0.113.9", "", trusted)
	assert.Equal(t, "203.0.113.9", ip)
}

func TestEnsureHandleID(t *testing.T) {
	assert.Equal(t, "fixed", ensureHandleID("fixed", func() string { return "generated" }))
	assert.Equal(t, "generated", ensureHandleID("", func() string { return "generated" }))
}
