package security

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnomalyTracker_HighRequestRatePerSecond(t *testing.T) {
	tr := NewAnomalyTracker()
	var score int
	for i := 0; i < 100; i++ {
		_, score = tr.CheckRequest(CheckRequestInput{IP: "1.1.1.1", Path: "/x", Method: "GET"})
	}
	assert.GreaterOrEqual(t, score, 30)
}

func TestAnomalyTracker_OversizedBody(t *testing.T) {
	tr := NewAnomalyTracker()
	detections, score := tr.CheckRequest(CheckRequestInput{
		IP: "2.2.2.2", Path: "/upload", Method: "POST", BodySize: 11 * 1024 * 1024,
		UserAgent: "Mozilla/5.0 (compatible test client)", UserAgentPresent: true,
	})
	assert.Len(t, detections, 1)
	assert.Equal(t, "oversized_request_body", detections[0].AnomalyType)
	assert.Equal(t, 20, score)
}

func TestAnomalyTracker_LongDuration(t *testing.T) {
	tr := NewAnomalyTracker()
	detections, _ := tr.CheckRequest(CheckRequestInput{
		IP: "3.3.3.3", Path: "/slow", Method: "GET", Duration: 75 * time.Second,
		UserAgent: "Mozilla/5.0 (compatible test client)", UserAgentPresent: true,
	})
	assert.Len(t, detections, 1)
	assert.Equal(t, "long_request_duration", detections[0].AnomalyType)
}

func TestAnomalyTracker_Repeated404(t *testing.T) {
	tr := NewAnomalyTracker()
	var detections []Detection
	for i := 0; i < 10; i++ {
		detections, _ = tr.CheckRequest(CheckRequestInput{IP: "4.4.4.4", Path: "/missing", Method: "GET", Is404: true})
	}
	found := false
	for _, d := range detections {
		if d.AnomalyType == "repeated_404_errors" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestShouldBlock_Thresholds(t *testing.T) {
	d, ok := ShouldBlock(99)
	assert.False(t, ok)
	assert.Zero(t, d)

	d, ok = ShouldBlock(100)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, d)

	d, ok = ShouldBlock(199)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, d)

	d, ok = ShouldBlock(200)
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, d)
}

func TestAnomalyTracker_ResetScore(t *testing.T) {
	tr := NewAnomalyTracker()
	tr.CheckRequest(CheckRequestInput{
		IP: "5.5.5.5", Path: "/x", Method: "GET", BodySize: 11 * 1024 * 1024,
		UserAgent: "Mozilla/5.0 (compatible test client)", UserAgentPresent: true,
	})
	assert.Equal(t, 20, tr.GetScore("5.5.5.5"))
	tr.ResetScore("5.5.5.5")
	assert.Equal(t, 0, tr.GetScore("5.5.5.5"))
}

func TestAnomalyTracker_MissingUserAgent(t *testing.T) {
	tr := NewAnomalyTracker()
	detections, score := tr.CheckRequest(CheckRequestInput{IP: "6.6.6.1", Path: "/x", Method: "GET"})
	assert.Len(t, detections, 1)
	assert.Equal(t, "missing_user_agent", detections[0].AnomalyType)
	assert.Equal(t, 5, score)
}

func TestAnomalyTracker_SuspiciousUserAgent(t *testing.T) {
	tr := NewAnomalyTracker()
	detections, score := tr.CheckRequest(CheckRequestInput{
		IP: "6.6.6.2", Path: "/x", Method: "GET", UserAgent: "python-requests/2.31", UserAgentPresent: true,
	})
	assert.Len(t, detections, 1)
	assert.Equal(t, "suspicious_user_agent", detections[0].AnomalyType)
	assert.Equal(t, 10, score)
}

func TestAnomalyTracker_ShortUserAgent(t *testing.T) {
	tr := NewAnomalyTracker()
	detections, score := tr.CheckRequest(CheckRequestInput{
		IP: "6.6.6.3", Path: "/x", Method: "GET", UserAgent: "ab", UserAgentPresent: true,
	})
	assert.Len(t, detections, 1)
	assert.Equal(t, "missing_or_suspicious_user_agent", detections[0].AnomalyType)
	assert.Equal(t, 5, score)
}

func TestAnomalyTracker_SuspiciousPathCharacters(t *testing.T) {
	tr := NewAnomalyTracker()
	detections, score := tr.CheckRequest(CheckRequestInput{
		IP: "6.6.6.4", Path: "/x?<script>", Method: "GET",
		UserAgent: "Mozilla/5.0 (compatible test client)", UserAgentPresent: true,
	})
	assert.Len(t, detections, 1)
	assert.Equal(t, "suspicious_path_characters", detections[0].AnomalyType)
	assert.Equal(t, 15, score)
}

func TestAnomalyTracker_UnusuallyLongPath(t *testing.T) {
	tr := NewAnomalyTracker()
	longPath := "/" + strings.Repeat("a", 2001)
	detections, score := tr.CheckRequest(CheckRequestInput{
		IP: "6.6.6.5", Path: longPath, Method: "GET",
		UserAgent: "Mozilla/5.0 (compatible test client)", UserAgentPresent: true,
	})
	assert.Len(t, detections, 1)
	assert.Equal(t, "unusually_long_path", detections[0].AnomalyType)
	assert.Equal(t, 10, score)
}

func TestAnomalyTracker_ExcessivePathDepth(t *testing.T) {
	tr := NewAnomalyTracker()
	segments := make([]string, 11)
	for i := range segments {
		segments[i] = fmt.Sprintf("seg%d", i)
	}
	deepPath := "/" + strings.Join(segments, "/")
	detections, score := tr.CheckRequest(CheckRequestInput{
		IP: "6.6.6.6", Path: deepPath, Method: "GET",
		UserAgent: "Mozilla/5.0 (compatible test client)", UserAgentPresent: true,
	})
	assert.Len(t, detections, 1)
	assert.Equal(t, "excessive_path_depth", detections[0].AnomalyType)
	assert.Equal(t, 5, score)
}

func TestAnomalyTracker_RepeatedPathSegments(t *testing.T) {
	tr := NewAnomalyTracker()
	detections, score := tr.CheckRequest(CheckRequestInput{
		IP: "6.6.6.7", Path: "/a/a/a/a", Method: "GET",
		UserAgent: "Mozilla/5.0 (compatible test client)", UserAgentPresent: true,
	})
	assert.Len(t, detections, 1)
	assert.Equal(t, "repeated_path_segments", detections[0].AnomalyType)
	assert.Equal(t, 10, score)
}

func TestAnomalyTracker_UnusualHTTPMethod(t *testing.T) {
	tr := NewAnomalyTracker()
	detections, score := tr.CheckRequest(CheckRequestInput{
		IP: "6.6.6.8", Path: "/x", Method: "TRACE",
		UserAgent: "Mozilla/5.0 (compatible test client)", UserAgentPresent: true,
	})
	assert.Len(t, detections, 1)
	assert.Equal(t, "unusual_http_method", detections[0].AnomalyType)
	assert.Equal(t, 10, score)
}

func TestAnomalyTracker_ExcessiveHTTPHeaders(t *testing.T) {
	tr := NewAnomalyTracker()
	detections, score := tr.CheckRequest(CheckRequestInput{
		IP: "6.6.6.9", Path: "/x", Method: "GET", HeaderCount: 31,
		UserAgent: "Mozilla/5.0 (compatible test client)", UserAgentPresent: true,
	})
	assert.Len(t, detections, 1)
	assert.Equal(t, "excessive_http_headers", detections[0].AnomalyType)
	assert.Equal(t, 10, score)
}

func TestAnomalyTracker_AbnormalBodySizeDistribution(t *testing.T) {
	tr := NewAnomalyTracker()
	ua := "Mozilla/5.0 (compatible test client)"
	for i := 0; i < 10; i++ {
		tr.CheckRequest(CheckRequestInput{
			IP: "6.6.6.10", Path: "/upload", Method: "POST", BodySize: 1000,
			UserAgent: ua, UserAgentPresent: true,
		})
	}
	detections, _ := tr.CheckRequest(CheckRequestInput{
		IP: "6.6.6.10", Path: "/upload", Method: "POST", BodySize: 1_000_000,
		UserAgent: ua, UserAgentPresent: true,
	})
	found := false
	for _, d := range detections {
		if d.AnomalyType == "abnormal_body_size_distribution" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAnomalyTracker_RapidPatternSwitching(t *testing.T) {
	tr := NewAnomalyTracker()
	ua := "Mozilla/5.0 (compatible test client)"
	var detections []Detection
	for i := 0; i < 25; i++ {
		detections, _ = tr.CheckRequest(CheckRequestInput{
			IP: "6.6.6.11", Path: fmt.Sprintf("/path%d", i), Method: "GET",
			UserAgent: ua, UserAgentPresent: true,
		})
	}
	found := false
	for _, d := range detections {
		if d.AnomalyType == "rapid_pattern_switching" {
			found = true
		}
	}
	assert.True(t, found)
}
