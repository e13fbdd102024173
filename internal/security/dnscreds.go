package security

import (
	"context"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// TokenResolver fetches the live DNS-provider API token for a credential
// profile from wherever the OS actually stores secrets (keyring on
// macOS/Windows, libsecret/kwallet equivalents on Linux). Only metadata is
// persisted in security.db; the token itself never touches disk through
// this package. The ACME coordinator supplies the concrete resolver at
// startup once a provider-specific keyring binding exists.
type TokenResolver func(ctx context.Context, profileID string) (string, error)

// UpsertDNSCredential validates and persists a DNS provider credential
// profile's metadata (never the token).
func (s *Service) UpsertDNSCredential(ctx context.Context, p ports.DnsCredentialProfile) error {
	if p.ID == "" {
		return flmerr.New(flmerr.KindPolicy, "dns credential id is required")
	}
	if p.Provider == "" {
		return flmerr.New(flmerr.KindPolicy, "dns credential provider is required")
	}
	now := nowUTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return s.repo.UpsertDNSCredential(ctx, p)
}

func (s *Service) GetDNSCredential(ctx context.Context, id string) (*ports.DnsCredentialProfile, error) {
	return s.repo.GetDNSCredential(ctx, id)
}

func (s *Service) ListDNSCredentials(ctx context.Context) ([]ports.DnsCredentialProfile, error) {
	return s.repo.ListDNSCredentials(ctx)
}

func (s *Service) DeleteDNSCredential(ctx context.Context, id string) error {
	return s.repo.DeleteDNSCredential(ctx, id)
}

// ResolveDNSCredential loads a profile's metadata and resolves its live
// token through resolve, returning neither if the profile is unknown.
func (s *Service) ResolveDNSCredential(ctx context.Context, id string, resolve TokenResolver) (*ports.ResolvedDnsCredential, error) {
	profile, err := s.repo.GetDNSCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, flmerr.New(flmerr.KindNotFound, "dns credential not found: "+id)
	}
	token, err := resolve(ctx, id)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindPolicy, err, "resolving dns credential token")
	}
	return &ports.ResolvedDnsCredential{Profile: *profile, Token: token}, nil
}
