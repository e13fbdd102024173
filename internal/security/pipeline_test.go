package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
)

func TestEnforce_RejectsMissingApiKey(t *testing.T) {
	svc := NewService(newMemSecurityRepo(), zap.NewNop())
	d := svc.Enforce(context.Background(), EnforceInput{IP: "1.1.1.1", Path: "/v1/models"})
	assert.False(t, d.Allow)
	assert.Equal(t, flmerr.KindAuth, d.RejectCode)
}

func TestEnforce_RejectsBlockedIP(t *testing.T) {
	svc := NewService(newMemSecurityRepo(), zap.NewNop())
	for i := 0; i < 5; i++ {
		svc.blocklist.RecordFailure("2.2.2.2")
	}
	d := svc.Enforce(context.Background(), EnforceInput{IP: "2.2.2.2", Path: "/v1/models"})
	assert.False(t, d.Allow)
	assert.Equal(t, flmerr.KindBlocked, d.RejectCode)
}

func TestEnforce_AllowsValidKey(t *testing.T) {
	repo := newMemSecurityRepo()
	svc := NewService(repo, zap.NewNop())
	created, err := svc.CreateApiKey(context.Background(), "test")
	require.NoError(t, err)

	d := svc.Enforce(context.Background(), EnforceInput{IP: "3.3.3.3", Path: "/v1/models", ApiKeyHint: created.Plain})
	assert.True(t, d.Allow)
	require.NotNil(t, d.ApiKey)
	assert.Equal(t, created.Record.ID, d.ApiKey.ID)
}

func TestEnforce_IPWhitelist(t *testing.T) {
	repo := newMemSecurityRepo()
	svc := NewService(repo, zap.NewNop())
	created, err := svc.CreateApiKey(context.Background(), "test")
	require.NoError(t, err)

	whitelist := []string{"127.0.0.1/32"}

	allowed := svc.Enforce(context.Background(), EnforceInput{
		IP: "127.0.0.1", Path: "/v1/models", ApiKeyHint: created.Plain, IPWhitelist: whitelist,
	})
	assert.True(t, allowed.Allow)

	rejected := svc.Enforce(context.Background(), EnforceInput{
		IP: "::1", Path: "/v1/models", ApiKeyHint: created.Plain, IPWhitelist: whitelist,
	})
	assert.False(t, rejected.Allow)
	assert.Equal(t, flmerr.KindBlocked, rejected.RejectCode)
}

func TestEnforce_BlocksHighScoreIntrusion(t *testing.T) {
	repo := newMemSecurityRepo()
	svc := NewService(repo, zap.NewNop())
	created, err := svc.CreateApiKey(context.Background(), "test")
	require.NoError(t, err)

	d := svc.Enforce(context.Background(), EnforceInput{
		IP: "4.4.4.4", Path: "/v1/x", ApiKeyHint: created.Plain,
		Query: "id=1 OR 1=1 UNION SELECT * FROM users", BodyPrefix: "x; rm -rf /",
	})
	assert.False(t, d.Allow)
	assert.Equal(t, flmerr.KindBlocked, d.RejectCode)
}

func TestScoreAnomalies_NeverBlocksTheTriggeringRequest(t *testing.T) {
	repo := newMemSecurityRepo()
	svc := NewService(repo, zap.NewNop())
	created, err := svc.CreateApiKey(context.Background(), "test")
	require.NoError(t, err)

	in := EnforceInput{
		IP: "7.7.7.7", Path: "/x?<script>", Method: "GET", ApiKeyHint: created.Plain,
		Duration: 75 * time.Second, UserAgent: "Mozilla/5.0 test", UserAgentPresent: true,
	}
	d := svc.Enforce(context.Background(), in)
	assert.True(t, d.Allow)

	svc.ScoreAnomalies(context.Background(), in, created.Record.ID)
	assert.True(t, d.Allow, "the response already returned for this request must stay allowed")
	assert.Greater(t, svc.anomaly.GetScore("7.7.7.7"), 0)
}
