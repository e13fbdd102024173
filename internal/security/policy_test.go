package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDomain(t *testing.T) {
	valid := []string{"example.com", "sub.example.co", "localhost", "*"}
	for _, d := range valid {
		assert.True(t, ValidateDomain(d), d)
	}
	invalid := []string{"", ".example.com", "example.com.", "-bad.com", "a"}
	for _, d := range invalid {
		assert.False(t, ValidateDomain(d), d)
	}
}

func TestValidateIPWhitelistEntry(t *testing.T) {
	assert.NoError(t, validateIPWhitelistEntry("127.0.0.1"))
	assert.NoError(t, validateIPWhitelistEntry("127.0.0.1/32"))
	assert.NoError(t, validateIPWhitelistEntry("192.168.1.0/24"))
	assert.Error(t, validateIPWhitelistEntry("192.168.1.5/24"))
	assert.Error(t, validateIPWhitelistEntry("not-an-ip"))
}

func TestIpInWhitelist(t *testing.T) {
	whitelist := []string{"127.0.0.1/32", "10.0.0.0/8"}
	assert.True(t, ipInWhitelist("127.0.0.1", whitelist))
	assert.True(t, ipInWhitelist("10.1.2.3", whitelist))
	assert.False(t, ipInWhitelist("192.168.1.1", whitelist))
	assert.False(t, ipInWhitelist("::1", whitelist))
}

func TestNormalizeOrigin(t *testing.T) {
	assert.Equal(t, "example.com", normalizeOrigin("https://example.com"))
	assert.Equal(t, "example.com", normalizeOrigin("http://example.com:8080/path"))
	assert.Equal(t, "example.com", normalizeOrigin("example.com"))
}

func TestValidatePolicyDocument(t *testing.T) {
	ok := PolicyDocument{IPWhitelist: []string{"10.0.0.0/8"}, AcmeDomain: "flm.example.com"}
	ok.CORS.AllowedOrigins = []string{"*", "https://app.example.com"}
	assert.NoError(t, ValidatePolicyDocument(ok))

	bad := PolicyDocument{IPWhitelist: []string{"10.0.0.5/8"}}
	assert.Error(t, ValidatePolicyDocument(bad))
}
