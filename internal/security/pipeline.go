package security

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// Decision is the outcome of running one request through the Enforcement
// Pipeline (C6). Exactly one of Allow/Reject is meaningful.
type Decision struct {
	Allow      bool
	RejectCode flmerr.Kind
	Reason     string
	ApiKey     *ports.ApiKeyRecord
	RetryAfter time.Duration
}

// EnforceInput is the request surface the pipeline evaluates, gathered by
// the proxy controller before it dials upstream. UserAgent/UserAgentPresent
// and IPWhitelist are read from the current enforcement snapshot and
// request headers respectively; Is404 and the completed Duration are only
// known once the upstream response has finished, so the proxy controller
// leaves them zero here and instead feeds them to ScoreAnomalies after
// dispatch.
type EnforceInput struct {
	IP               string
	Path             string
	Query            string
	Method           string
	Headers          map[string]string
	BodyPrefix       string
	BodySize         int64
	ApiKeyHint       string // Authorization bearer token, if present
	Duration         time.Duration
	Is404            bool
	UserAgent        string
	UserAgentPresent bool
	IPWhitelist      []string
}

// Enforce runs the fixed-order chain from spec §4.6 up through the
// intrusion scan: IP blocklist, IP whitelist, auth, rate-limit, intrusion
// scan. Each stage can short-circuit the remaining ones; every rejection
// and every intrusion detection is audit-logged regardless of outcome.
// Anomaly scoring (step 6) runs separately, after the request completes;
// see ScoreAnomalies.
func (s *Service) Enforce(ctx context.Context, in EnforceInput) Decision {
	if s.blocklist.IsBlocked(in.IP) {
		s.audit(ctx, in, "", 403, "ip_blocked", "warn")
		return Decision{Allow: false, RejectCode: flmerr.KindBlocked, Reason: "ip is blocked"}
	}

	if len(in.IPWhitelist) > 0 && !ipInWhitelist(in.IP, in.IPWhitelist) {
		s.audit(ctx, in, "", 403, "ip_not_whitelisted", "warn")
		return Decision{Allow: false, RejectCode: flmerr.KindBlocked, Reason: "ip is not in the whitelist"}
	}

	var key *ports.ApiKeyRecord
	if in.ApiKeyHint != "" {
		matched, err := s.VerifyApiKey(ctx, in.ApiKeyHint)
		if err != nil || matched == nil {
			blocked := s.blocklist.RecordFailure(in.IP)
			severity := "warn"
			if blocked {
				severity = "error"
			}
			s.audit(ctx, in, "", 401, "auth_failed", severity)
			return Decision{Allow: false, RejectCode: flmerr.KindAuth, Reason: "invalid api key"}
		}
		key = matched
	} else {
		s.audit(ctx, in, "", 401, "auth_missing", "warn")
		return Decision{Allow: false, RejectCode: flmerr.KindAuth, Reason: "api key required"}
	}

	rateLimitKey := key.ID
	if allowed, resetAt := s.ratelimit.Allow(rateLimitKey); !allowed {
		s.audit(ctx, in, key.ID, 429, "rate_limited", "warn")
		return Decision{Allow: false, RejectCode: flmerr.KindRateLimited, Reason: "rate limit exceeded", ApiKey: key, RetryAfter: time.Until(resetAt)}
	}

	if hits := ScanIntrusion(IntrusionScanInput{
		IP: in.IP, Path: in.Path, Query: in.Query, Method: in.Method,
		Headers: in.Headers, BodyPrefix: in.BodyPrefix, UserAgent: in.UserAgent,
	}); len(hits) > 0 {
		for _, h := range hits {
			s.repo.AppendIntrusionAttempt(ctx, ports.IntrusionAttemptRow{
				ID: uuid.NewString(), IP: in.IP, Pattern: h.Pattern, Score: h.Score,
				RequestPath: in.Path, Method: in.Method, CreatedAt: nowUTC(),
			})
		}
		if totalScore(hits) >= 50 {
			s.blocklist.RecordFailure(in.IP)
			s.audit(ctx, in, key.ID, 403, "intrusion_blocked", "error")
			return Decision{Allow: false, RejectCode: flmerr.KindBlocked, Reason: "intrusion pattern detected", ApiKey: key}
		}
	}

	return Decision{Allow: true, ApiKey: key}
}

// ScoreAnomalies runs the anomaly-scoring stage from spec §4.6 step 6
// against a completed request: in must carry the real upstream status
// (Is404) and the completed Duration, which is why this runs after
// next(sw, r) returns rather than inside Enforce. Per spec's end-to-end
// scenario 6, the request that first trips an anomaly is still allowed —
// this method only ever persists detections and, once the cumulative score
// crosses ShouldBlock's threshold, blocks the IP for *subsequent* requests
// via the IP Blocklist stage.
func (s *Service) ScoreAnomalies(ctx context.Context, in EnforceInput, apiKeyID string) {
	detections, score := s.anomaly.CheckRequest(CheckRequestInput{
		IP: in.IP, Path: in.Path, Method: in.Method, BodySize: in.BodySize,
		Duration: in.Duration, Is404: in.Is404, HeaderCount: len(in.Headers),
		UserAgent: in.UserAgent, UserAgentPresent: in.UserAgentPresent,
	})
	for _, d := range detections {
		s.repo.AppendAnomalyDetection(ctx, ports.AnomalyDetectionRow{
			ID: uuid.NewString(), IP: in.IP, AnomalyType: d.AnomalyType, Score: d.Points, CreatedAt: nowUTC(),
		})
	}
	if blockFor, should := ShouldBlock(score); should {
		s.blocklist.BlockFor(in.IP, blockFor)
		s.audit(ctx, in, apiKeyID, 403, "anomaly_blocked", "error")
	}
}

func (s *Service) audit(ctx context.Context, in EnforceInput, apiKeyID string, status int, eventType, severity string) {
	_ = s.repo.AppendAuditLog(ctx, ports.AuditLogRow{
		ID: uuid.NewString(), ApiKeyID: apiKeyID, Endpoint: in.Path, Status: status,
		EventType: eventType, Severity: severity, IP: in.IP, CreatedAt: nowUTC(),
	})
}

// AuditCompletion records the terminal audit-log row for a request that
// made it past the enforcement pipeline, per spec §4.5 step 5: "On
// completion, emit an audit log row (request id, endpoint, status,
// latency, client IP, api-key-id if any)". The proxy controller calls
// this once the upstream response has finished streaming back.
func (s *Service) AuditCompletion(ctx context.Context, requestID, apiKeyID, endpoint, ip string, status int, latency time.Duration) {
	severity := "info"
	if status >= 500 {
		severity = "error"
	} else if status >= 400 {
		severity = "warn"
	}
	_ = s.repo.AppendAuditLog(ctx, ports.AuditLogRow{
		ID: uuid.NewString(), RequestID: requestID, ApiKeyID: apiKeyID, Endpoint: endpoint,
		Status: status, LatencyMs: latency.Milliseconds(), EventType: "auth_success",
		Severity: severity, IP: ip, CreatedAt: nowUTC(),
	})
}
