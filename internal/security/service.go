// Package security implements the Security Service (C5: API-key
// lifecycle, policy validation, DNS-credential metadata, blocklist,
// rate-limiting, intrusion detection, anomaly scoring) and the
// Enforcement Pipeline (C6) that chains them into one per-request
// decision. Logging is a named zap sub-logger, following Caddy's
// convention of deriving scoped loggers from one root logger instead of a
// package-level global (see caddy.Context.Logger, whose callers always
// obtain a named child).
package security

import (
	"time"

	"go.uber.org/zap"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// Service bundles the Security Service (C5) repository and logger; every
// method that needs persistence hangs off this receiver rather than a
// package-level singleton.
type Service struct {
	repo   ports.SecurityRepo
	logger *zap.Logger

	blocklist *Blocklist
	anomaly   *AnomalyTracker
	ratelimit *RateLimiter
}

func NewService(repo ports.SecurityRepo, logger *zap.Logger) *Service {
	l := logger.Named("security")
	return &Service{
		repo:      repo,
		logger:    l,
		blocklist: NewBlocklist(repo, l),
		anomaly:   NewAnomalyTracker(),
		ratelimit: NewRateLimiter(repo),
	}
}

func (s *Service) Repo() ports.SecurityRepo { return s.repo }

// nowUTC is a small seam kept for clarity at call sites that persist
// timestamps; time.Now is otherwise called directly throughout.
func nowUTC() time.Time { return time.Now().UTC() }
