package security

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// anomalyState is the per-IP in-memory accumulator, grounded on
// crates/services/flm-proxy/src/security/anomaly_detection.rs's AnomalyScore.
type anomalyState struct {
	score          int
	lastDetection  time.Time
	recentRequests []time.Time // last 1s, for per-second rate
	minuteRequests []time.Time // last 60s, for per-minute rate
	failed404      map[string]int
	patternCounts  map[string]int
	bodySizes      []int64 // last 100, for the body-size distribution outlier check
	durationsMs    []int64 // last 100, for the duration distribution outlier check
}

// AnomalyTracker accumulates a closed taxonomy of anomaly points per IP and
// decays them 1 point per minute since the last detection, per spec §3/§4.6.
type AnomalyTracker struct {
	mu    sync.Mutex
	state map[string]*anomalyState

	perSecondThreshold int
	perMinuteThreshold int
	maxBodyBytes       int64
	maxDuration        time.Duration
}

func NewAnomalyTracker() *AnomalyTracker {
	return &AnomalyTracker{
		state:              make(map[string]*anomalyState),
		perSecondThreshold: 100,
		perMinuteThreshold: 1000,
		maxBodyBytes:       10 * 1024 * 1024,
		maxDuration:        60 * time.Second,
	}
}

// CheckRequestInput carries the observable signals for one request. Headers
// carry the full header set (scanned only for count), UserAgent/
// UserAgentPresent distinguish a missing User-Agent header (Present=false)
// from one that is present but empty or short, mirroring the Rust source's
// Option<&str> user_agent.
type CheckRequestInput struct {
	IP               string
	Path             string
	Method           string
	BodySize         int64
	Duration         time.Duration
	Is404            bool
	HeaderCount      int
	UserAgent        string
	UserAgentPresent bool
}

// normalHTTPMethods is the closed set spec §4.6 step 6 treats as unremarkable;
// anything else (TRACE, CONNECT, a bare typo, ...) scores as unusual.
var normalHTTPMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// suspiciousUserAgentSubstrings is the closed bot/scanner taxonomy scanned
// (case-insensitively) against a present, non-trivial User-Agent.
var suspiciousUserAgentSubstrings = []string{
	"scanner", "bot", "crawler", "spider", "wget", "curl",
	"python-requests", "go-http-client", "java/", "apache-httpclient", "okhttp",
}

// suspiciousPathChars are the encoding-attack markers checked against the
// raw request path.
const suspiciousPathChars = "<>\"'\\\x00"

// Detection is one named anomaly type with its point value, recorded for
// the caller to persist as an AnomalyDetectionRow.
type Detection struct {
	AnomalyType string
	Points      int
}

// CheckRequest records a request and returns the detections found plus the
// IP's new total score (after decay and this request's increments).
func (a *AnomalyTracker) CheckRequest(in CheckRequestInput) ([]Detection, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	st, ok := a.state[in.IP]
	if !ok {
		st = &anomalyState{lastDetection: now, failed404: map[string]int{}, patternCounts: map[string]int{}}
		a.state[in.IP] = st
	}

	// prune windows
	st.recentRequests = pruneOlderThan(st.recentRequests, now, time.Second)
	st.minuteRequests = pruneOlderThan(st.minuteRequests, now, time.Minute)

	// decay: 1 point per minute since last detection
	if st.score > 0 {
		minutes := int(now.Sub(st.lastDetection).Minutes())
		if minutes > 0 {
			decay := minutes
			if decay > st.score {
				decay = st.score
			}
			st.score -= decay
		}
	}

	var detections []Detection

	st.recentRequests = append(st.recentRequests, now)
	if len(st.recentRequests) >= a.perSecondThreshold {
		detections = append(detections, Detection{"high_request_rate_per_second", 30})
	}

	st.minuteRequests = append(st.minuteRequests, now)
	if len(st.minuteRequests) >= a.perMinuteThreshold {
		detections = append(detections, Detection{"high_request_rate_per_minute", 30})
	}

	if in.BodySize > a.maxBodyBytes {
		detections = append(detections, Detection{"oversized_request_body", 20})
	}
	st.bodySizes = append(st.bodySizes, in.BodySize)
	if len(st.bodySizes) > 100 {
		st.bodySizes = st.bodySizes[len(st.bodySizes)-100:]
	}
	if len(st.bodySizes) >= 10 {
		avg, stdDev := meanAndStdDev(st.bodySizes)
		size := in.BodySize
		if size > avg+3*stdDev || (size < avg && avg > size+3*stdDev) {
			detections = append(detections, Detection{"abnormal_body_size_distribution", 15})
		}
	}

	if in.Duration > a.maxDuration {
		detections = append(detections, Detection{"long_request_duration", 15})
	}
	durationMs := in.Duration.Milliseconds()
	st.durationsMs = append(st.durationsMs, durationMs)
	if len(st.durationsMs) > 100 {
		st.durationsMs = st.durationsMs[len(st.durationsMs)-100:]
	}
	if len(st.durationsMs) >= 10 {
		avg, stdDev := meanAndStdDev(st.durationsMs)
		if durationMs > avg+3*stdDev || (durationMs < avg && avg > durationMs+3*stdDev) {
			detections = append(detections, Detection{"abnormal_duration_distribution", 10})
		}
	}

	if in.Is404 {
		st.failed404[in.Path]++
		if st.failed404[in.Path] >= 10 {
			detections = append(detections, Detection{"repeated_404_errors", 10})
		}
	}

	patternKey := in.Method + ":" + in.Path
	st.patternCounts[patternKey]++
	total := 0
	for _, c := range st.patternCounts {
		total += c
	}
	current := st.patternCounts[patternKey]
	if total >= 20 {
		ratio := float64(current) / float64(total)
		if ratio > 0.8 {
			detections = append(detections, Detection{"excessive_duplicate_pattern", 15})
		} else if current >= 50 {
			detections = append(detections, Detection{"duplicate_request_pattern", 10})
		}
	} else if current >= 50 {
		detections = append(detections, Detection{"duplicate_request_pattern", 10})
	}

	if len(st.patternCounts) > 20 && len(st.minuteRequests) >= 20 {
		span := st.minuteRequests[len(st.minuteRequests)-1].Sub(st.minuteRequests[0])
		if span < 10*time.Second {
			detections = append(detections, Detection{"rapid_pattern_switching", 20})
		}
	}

	if in.UserAgentPresent {
		switch {
		case len(in.UserAgent) < 5:
			detections = append(detections, Detection{"missing_or_suspicious_user_agent", 5})
		default:
			lower := strings.ToLower(in.UserAgent)
			for _, pattern := range suspiciousUserAgentSubstrings {
				if strings.Contains(lower, pattern) {
					detections = append(detections, Detection{"suspicious_user_agent", 10})
					break
				}
			}
			if len(in.UserAgent) > 500 {
				detections = append(detections, Detection{"unusually_long_user_agent", 5})
			}
		}
	} else {
		detections = append(detections, Detection{"missing_user_agent", 5})
	}

	if in.HeaderCount > 30 {
		detections = append(detections, Detection{"excessive_http_headers", 10})
	}

	if len(in.Path) > 2000 {
		detections = append(detections, Detection{"unusually_long_path", 10})
	}
	if strings.Count(in.Path, "/") > 10 {
		detections = append(detections, Detection{"excessive_path_depth", 5})
	}
	if strings.ContainsAny(in.Path, suspiciousPathChars) {
		detections = append(detections, Detection{"suspicious_path_characters", 15})
	}
	if hasRepeatedPathSegments(in.Path) {
		detections = append(detections, Detection{"repeated_path_segments", 10})
	}

	if !normalHTTPMethods[in.Method] {
		detections = append(detections, Detection{"unusual_http_method", 10})
	}

	if len(detections) > 0 {
		for _, d := range detections {
			st.score += d.Points
		}
		st.lastDetection = now
	}

	return detections, st.score
}

// meanAndStdDev computes the integer mean and standard deviation of vals,
// mirroring the Rust source's usize arithmetic (truncating division, then an
// integer sqrt of the variance) rather than switching to floats throughout.
func meanAndStdDev(vals []int64) (mean, stdDev int64) {
	var sum int64
	for _, v := range vals {
		sum += v
	}
	mean = sum / int64(len(vals))

	var varianceSum int64
	for _, v := range vals {
		diff := v - mean
		if diff < 0 {
			diff = -diff
		}
		varianceSum += diff * diff
	}
	variance := varianceSum / int64(len(vals))
	stdDev = int64(math.Sqrt(float64(variance)))
	return mean, stdDev
}

// hasRepeatedPathSegments reports whether path contains 3 or more
// consecutive identical non-empty segments, a potential path-traversal
// scanning signature.
func hasRepeatedPathSegments(path string) bool {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) < 3 {
		return false
	}
	consecutive := 0
	for i := 1; i < len(segments); i++ {
		if segments[i] == segments[i-1] {
			consecutive++
		} else {
			consecutive = 0
		}
		if consecutive >= 3 {
			return true
		}
	}
	return false
}

func pruneOlderThan(times []time.Time, now time.Time, window time.Duration) []time.Time {
	out := times[:0]
	for _, t := range times {
		if now.Sub(t) <= window {
			out = append(out, t)
		}
	}
	return out
}

// GetScore returns the current (undecayed-since-last-check) score for ip.
func (a *AnomalyTracker) GetScore(ip string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.state[ip]; ok {
		return st.score
	}
	return 0
}

// ShouldBlock reports the auto-block duration triggered by score, per spec
// §3: >=200 -> 24h, >=100 -> 1h, else no block.
func ShouldBlock(score int) (blockFor time.Duration, shouldBlock bool) {
	switch {
	case score >= 200:
		return 24 * time.Hour, true
	case score >= 100:
		return time.Hour, true
	default:
		return 0, false
	}
}

// ResetScore clears the accumulated score for ip.
func (a *AnomalyTracker) ResetScore(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.state, ip)
}

// ScoreSnapshot is one IP's score and last-detection time, exported for the
// bounded-interval persistence sync the runtime drives (spec §9: the
// in-memory anomaly map is not itself durable, only its score/time pair is
// worth carrying across a restart — the request-rate windows are not, since
// they are only ever a few seconds to a minute wide).
type ScoreSnapshot struct {
	IP            string
	Score         int
	LastDetection time.Time
}

// Snapshot returns every IP currently tracked with a nonzero score, for the
// runtime to persist on its sync interval and at shutdown.
func (a *AnomalyTracker) Snapshot() []ScoreSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ScoreSnapshot, 0, len(a.state))
	for ip, st := range a.state {
		if st.score == 0 {
			continue
		}
		out = append(out, ScoreSnapshot{IP: ip, Score: st.score, LastDetection: st.lastDetection})
	}
	return out
}

// LoadSnapshot seeds the tracker's in-memory state from a prior Snapshot,
// used at startup to restore scores (and therefore decay schedules and
// auto-block eligibility) across a proxy restart.
func (a *AnomalyTracker) LoadSnapshot(rows []ScoreSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, row := range rows {
		a.state[row.IP] = &anomalyState{
			score: row.Score, lastDetection: row.LastDetection,
			failed404: map[string]int{}, patternCounts: map[string]int{},
		}
	}
}

// anomalyScoreSyncType marks the synthetic detection rows SyncAnomalyScores
// appends; they carry the IP's *current total*, not a point delta, so
// RestoreAnomalyScores reads only the most recent one per IP.
const anomalyScoreSyncType = "score_sync"

// SyncAnomalyScores persists every currently-nonzero anomaly score as an
// audit-log-adjacent detection row, per spec §9's "the in-memory anomaly
// map syncs to persistence on a bounded interval... and on graceful
// shutdown". Reusing AnomalyDetectionRow rather than a dedicated table
// keeps this a bookkeeping detail of the tracker instead of new schema.
func (s *Service) SyncAnomalyScores(ctx context.Context) error {
	for _, row := range s.anomaly.Snapshot() {
		if err := s.repo.AppendAnomalyDetection(ctx, ports.AnomalyDetectionRow{
			ID: uuid.NewString(), IP: row.IP, AnomalyType: anomalyScoreSyncType,
			Score: row.Score, CreatedAt: row.LastDetection,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAnomalyScores rebuilds the in-memory tracker from the most recent
// score_sync row per IP, so a restart doesn't silently reset every score
// (and every decay/auto-block clock) to zero.
func (s *Service) RestoreAnomalyScores(ctx context.Context) error {
	rows, err := s.repo.ListAnomalyDetections(ctx, "", 10000)
	if err != nil {
		return err
	}
	latest := map[string]ports.AnomalyDetectionRow{}
	for _, row := range rows {
		if row.AnomalyType != anomalyScoreSyncType {
			continue
		}
		if prev, ok := latest[row.IP]; !ok || row.CreatedAt.After(prev.CreatedAt) {
			latest[row.IP] = row
		}
	}
	snapshots := make([]ScoreSnapshot, 0, len(latest))
	for ip, row := range latest {
		snapshots = append(snapshots, ScoreSnapshot{IP: ip, Score: row.Score, LastDetection: row.CreatedAt})
	}
	s.anomaly.LoadSnapshot(snapshots)
	return nil
}
