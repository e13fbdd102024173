package acme

import (
	"context"
	"time"

	"github.com/libdns/cloudflare"
	"github.com/libdns/libdns"
	acmeapi "github.com/mholt/acmez/v3/acme"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
	"github.com/Unjuno/FLM-sub001/internal/proxy"
)

// http01Solver answers an HTTP-01 challenge by registering the key
// authorization on the proxy's own plaintext listener, which is already
// serving wellKnownACMEPathPrefix by the time Provision runs (spec §4.7).
type http01Solver struct {
	responder proxy.ChallengeResponder
}

func (s *http01Solver) Present(ctx context.Context, challenge acmeapi.Challenge) error {
	s.responder.SetACMEChallenge(challenge.Token, challenge.KeyAuthorization)
	return nil
}

func (s *http01Solver) Wait(ctx context.Context, challenge acmeapi.Challenge) error {
	return nil
}

func (s *http01Solver) CleanUp(ctx context.Context, challenge acmeapi.Challenge) error {
	s.responder.ClearACMEChallenge(challenge.Token)
	return nil
}

// cloudflareSolver answers a DNS-01 challenge by publishing a TXT record
// through libdns' Cloudflare provider, the pattern used across the libdns
// ecosystem for every DNS-01-capable provider.
type cloudflareSolver struct {
	provider *cloudflare.Provider
	zone     string
	delay    time.Duration
}

func newCloudflareSolver(cred ports.ResolvedDnsCredential, delay time.Duration) (*cloudflareSolver, error) {
	if cred.Token == "" {
		return nil, flmerr.New(flmerr.KindACME, "dns credential profile "+cred.Profile.ID+" has no resolvable token")
	}
	if cred.Profile.ZoneName == "" {
		return nil, flmerr.New(flmerr.KindConfig, "dns credential profile "+cred.Profile.ID+" has no zone_name configured")
	}
	return &cloudflareSolver{
		provider: &cloudflare.Provider{APIToken: cred.Token},
		zone:     cred.Profile.ZoneName,
		delay:    delay,
	}, nil
}

func (s *cloudflareSolver) Present(ctx context.Context, challenge acmeapi.Challenge) error {
	rec := libdns.TXT{
		Name: challenge.DNS01TXTRecordName(),
		Text: challenge.DNS01KeyAuthorization(),
		TTL:  60 * time.Second,
	}
	_, err := s.provider.AppendRecords(ctx, s.zone, []libdns.Record{rec})
	if err != nil {
		return flmerr.Wrap(flmerr.KindACME, err, "publishing dns-01 txt record")
	}
	return nil
}

// Wait gives the published record time to propagate before the ACME
// server is asked to validate it; acmez itself retries validation, but a
// short local wait avoids burning through retry attempts against a record
// that a recursive resolver hasn't picked up yet.
func (s *cloudflareSolver) Wait(ctx context.Context, challenge acmeapi.Challenge) error {
	if s.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *cloudflareSolver) CleanUp(ctx context.Context, challenge acmeapi.Challenge) error {
	rec := libdns.TXT{
		Name: challenge.DNS01TXTRecordName(),
		Text: challenge.DNS01KeyAuthorization(),
	}
	_, err := s.provider.DeleteRecords(ctx, s.zone, []libdns.Record{rec})
	return err
}
