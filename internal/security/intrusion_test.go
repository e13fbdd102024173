package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanIntrusion_DetectsKnownPatterns(t *testing.T) {
	cases := []struct {
		name    string
		in      IntrusionScanInput
		pattern string
	}{
		{"sqli", IntrusionScanInput{Query: "id=1 OR 1=1"}, "sql_injection"},
		{"xss", IntrusionScanInput{Query: "name=<script>alert(1)</script>"}, "xss"},
		{"traversal", IntrusionScanInput{Path: "/files/../../etc/passwd"}, "path_traversal"},
		{"shell", IntrusionScanInput{BodyPrefix: "x; rm -rf /"}, "shell_metachar"},
	}
	for _, c := range cases {
		hits := ScanIntrusion(c.in)
		found := false
		for _, h := range hits {
			if h.Pattern == c.pattern {
				found = true
			}
		}
		assert.True(t, found, c.name)
	}
}

func TestScanIntrusion_CleanRequest(t *testing.T) {
	hits := ScanIntrusion(IntrusionScanInput{Path: "/v1/chat/completions", Method: "POST"})
	assert.Empty(t, hits)
}

func TestTotalScore(t *testing.T) {
	hits := []IntrusionHit{{Pattern: "sql_injection", Score: 25}, {Pattern: "xss", Score: 20}}
	assert.Equal(t, 45, totalScore(hits))
}
