package security

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

const apiKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const apiKeyLength = 32

// CreatedApiKey carries the one-time plaintext alongside its persisted
// record (spec §4.4: "the plain is returned exactly once").
type CreatedApiKey struct {
	Plain  string
	Record ports.ApiKeyRecord
}

func generatePlainKey() (string, error) {
	out := make([]byte, apiKeyLength)
	max := big.NewInt(int64(len(apiKeyAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = apiKeyAlphabet[n.Int64()]
	}
	return string(out), nil
}

// CreateApiKey generates a 32-char plaintext key, hashes it with Argon2id,
// and persists the record.
func (s *Service) CreateApiKey(ctx context.Context, label string) (*CreatedApiKey, error) {
	plain, err := generatePlainKey()
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindInternal, err, "generate api key")
	}
	hash, err := hashApiKey(plain)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindInternal, err, "hash api key")
	}
	record := ports.ApiKeyRecord{
		ID:        uuid.NewString(),
		Label:     label,
		Hash:      hash,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveApiKey(ctx, record); err != nil {
		return nil, err
	}
	return &CreatedApiKey{Plain: plain, Record: record}, nil
}

// VerifyApiKey fetches every non-revoked key and checks plain against each
// hash, continuing past the first match, per spec §4.4's "constant-time-ish"
// requirement that prevents timing leaks on key existence.
func (s *Service) VerifyApiKey(ctx context.Context, plain string) (*ports.ApiKeyRecord, error) {
	keys, err := s.repo.ListActiveApiKeys(ctx)
	if err != nil {
		return nil, err
	}
	var matched *ports.ApiKeyRecord
	for i := range keys {
		ok, err := verifyApiKeyHash(keys[i].Hash, plain)
		if err != nil {
			continue
		}
		if ok && matched == nil {
			k := keys[i]
			matched = &k
		}
	}
	return matched, nil
}

func (s *Service) RevokeApiKey(ctx context.Context, id string) error {
	return s.repo.RevokeApiKey(ctx, id, time.Now().UTC())
}

// RotateApiKey revokes the old key and creates a new one, keeping the same
// label unless newLabel is provided.
func (s *Service) RotateApiKey(ctx context.Context, id string, newLabel string) (*CreatedApiKey, error) {
	old, err := s.repo.GetApiKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, flmerr.New(flmerr.KindNotFound, "api key not found: "+id)
	}
	label := old.Label
	if newLabel != "" {
		label = newLabel
	}
	if err := s.RevokeApiKey(ctx, id); err != nil {
		return nil, err
	}
	return s.CreateApiKey(ctx, label)
}

// ListApiKeys returns metadata only; the Hash field is never exposed past
// this layer to callers that render it (cmd/flm strips it explicitly).
func (s *Service) ListApiKeys(ctx context.Context) ([]ports.ApiKeyRecord, error) {
	return s.repo.ListApiKeys(ctx)
}
