package runtime

import (
	"context"

	"github.com/zalando/go-keyring"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
)

// keyringService is the OS keyring service name FLM's DNS-01 credential
// tokens are stored under; the account name is the credential profile id.
const keyringService = "flm-dns-credentials"

// keyringTokenResolver is the default security.TokenResolver: it reads a
// DNS provider API token from the OS keyring (Keychain on macOS, Credential
// Manager on Windows, Secret Service/libsecret on Linux) and nowhere else.
// This is the only place in the module that touches the OS keyring,
// satisfying the constraint that keyring access happens only from the
// Security Service and only at proxy start.
func keyringTokenResolver(ctx context.Context, profileID string) (string, error) {
	token, err := keyring.Get(keyringService, profileID)
	if err != nil {
		return "", flmerr.Wrap(flmerr.KindPolicy, err, "reading dns credential token from os keyring")
	}
	return token, nil
}

// StoreDNSCredentialToken writes a DNS provider API token into the OS
// keyring under profileID, backing the CLI's credential-setup command.
// Callers (cmd/flm) never see the token after this call returns.
func StoreDNSCredentialToken(profileID, token string) error {
	if token == "" {
		return flmerr.New(flmerr.KindConfig, "dns credential token must not be empty")
	}
	if err := keyring.Set(keyringService, profileID, token); err != nil {
		return flmerr.Wrap(flmerr.KindPolicy, err, "storing dns credential token in os keyring")
	}
	return nil
}

// DeleteDNSCredentialToken removes profileID's token from the OS keyring,
// called alongside security.Service.DeleteDNSCredential so no orphaned
// secret is left behind once the metadata row is gone.
func DeleteDNSCredentialToken(profileID string) error {
	if err := keyring.Delete(keyringService, profileID); err != nil && err != keyring.ErrNotFound {
		return flmerr.Wrap(flmerr.KindPolicy, err, "deleting dns credential token from os keyring")
	}
	return nil
}
