package security

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// Blocklist is an in-memory IP failure cache with periodic database
// synchronization, grounded on crates/flm-proxy/src/security/ip_blocklist.rs:
// a RwLock-protected map for fast lookups, a 5-minute sync interval tracked
// via needs_sync/mark_synced, and the escalating-penalty ladder at 5/10/20
// failures (30 min / 24 h / permanent).
type Blocklist struct {
	mu       sync.RWMutex
	entries  map[string]*ports.IpFailure
	repo     ports.SecurityRepo
	logger   *zap.Logger
	lastSync time.Time
	interval time.Duration
}

func NewBlocklist(repo ports.SecurityRepo, logger *zap.Logger) *Blocklist {
	return &Blocklist{
		entries:  make(map[string]*ports.IpFailure),
		repo:     repo,
		logger:   logger.Named("blocklist"),
		lastSync: time.Now(),
		interval: 5 * time.Minute,
	}
}

// IsBlocked reports whether ip is currently blocked, transparently expiring
// lapsed temporary blocks.
func (b *Blocklist) IsBlocked(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[ip]
	if !ok {
		return false
	}
	if entry.PermanentBlock {
		return true
	}
	if entry.BlockedUntil != nil {
		if time.Now().After(*entry.BlockedUntil) {
			delete(b.entries, ip)
			return false
		}
		return true
	}
	return false
}

// RecordFailure increments the failure count for ip and applies the
// escalation ladder: >=5 -> 30min, >=10 -> 24h, >=20 -> permanent. Returns
// true when this failure newly triggers (or maintains) a block.
func (b *Blocklist) RecordFailure(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	entry, ok := b.entries[ip]
	if !ok {
		entry = &ports.IpFailure{IP: ip, FirstFailureAt: now}
		b.entries[ip] = entry
	}
	entry.FailureCount++
	entry.LastAttempt = now

	var blocked bool
	switch {
	case entry.FailureCount >= 20:
		entry.PermanentBlock = true
		entry.BlockedUntil = nil
		blocked = true
		b.logger.Warn("ip permanently blocked", zap.String("ip", ip), zap.Int("failure_count", entry.FailureCount))
	case entry.FailureCount >= 10:
		until := now.Add(24 * time.Hour)
		entry.BlockedUntil = &until
		blocked = true
		b.logger.Warn("ip blocked for 24h", zap.String("ip", ip), zap.Int("failure_count", entry.FailureCount))
	case entry.FailureCount >= 5:
		until := now.Add(30 * time.Minute)
		entry.BlockedUntil = &until
		blocked = true
		b.logger.Warn("ip blocked for 30m", zap.String("ip", ip), zap.Int("failure_count", entry.FailureCount))
	default:
		b.logger.Warn("authentication failure recorded", zap.String("ip", ip), zap.Int("failure_count", entry.FailureCount))
	}
	return blocked
}

// BlockFor imposes a direct block of the given duration, independent of
// the failure-count ladder; used for anomaly-score-triggered blocks where
// the duration comes from ShouldBlock rather than from RecordFailure.
func (b *Blocklist) BlockFor(ip string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[ip]
	if !ok {
		entry = &ports.IpFailure{IP: ip, FirstFailureAt: time.Now()}
		b.entries[ip] = entry
	}
	until := time.Now().Add(d)
	entry.BlockedUntil = &until
	entry.LastAttempt = time.Now()
}

func (b *Blocklist) Unblock(ip string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, ip)
}

func (b *Blocklist) ClearTemporaryBlocks() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ip, entry := range b.entries {
		if !entry.PermanentBlock {
			delete(b.entries, ip)
		}
	}
}

func (b *Blocklist) ListBlocked() []ports.IpFailure {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ports.IpFailure, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, *e)
	}
	return out
}

// NeedsSync reports whether the 5-minute database sync interval has
// elapsed since the last sync.
func (b *Blocklist) NeedsSync() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return time.Since(b.lastSync) >= b.interval
}

// Sync persists every in-memory entry to security.db and records the sync
// time, mirroring ip_blocklist.rs's needs_sync/mark_synced pairing.
func (b *Blocklist) Sync(ctx context.Context) error {
	b.mu.Lock()
	entries := make([]ports.IpFailure, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, *e)
	}
	b.lastSync = time.Now()
	b.mu.Unlock()

	for _, e := range entries {
		if err := b.repo.UpsertIPFailure(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// LoadBlocklist hydrates the in-memory blocklist from security.db, called
// once by the runtime at proxy start.
func (s *Service) LoadBlocklist(ctx context.Context) error {
	return s.blocklist.LoadFromRepo(ctx)
}

// SyncBlocklist persists the in-memory blocklist if the 5-minute interval
// has elapsed, called from the same ticker that drives SyncAnomalyScores.
func (s *Service) SyncBlocklist(ctx context.Context) error {
	if !s.blocklist.NeedsSync() {
		return nil
	}
	return s.blocklist.Sync(ctx)
}

// FlushBlocklist persists the in-memory blocklist unconditionally,
// bypassing the 5-minute interval check; used at graceful shutdown so a
// block recorded seconds before exit isn't lost.
func (s *Service) FlushBlocklist(ctx context.Context) error {
	return s.blocklist.Sync(ctx)
}

// ListBlockedIPs returns every currently-tracked IP failure entry, backing
// the CLI's `security ip-blocklist list` command.
func (s *Service) ListBlockedIPs() []ports.IpFailure {
	return s.blocklist.ListBlocked()
}

// UnblockIP clears ip from both the in-memory cache and security.db.
func (s *Service) UnblockIP(ctx context.Context, ip string) error {
	s.blocklist.Unblock(ip)
	return s.repo.UnblockIP(ctx, ip)
}

// LoadFromRepo hydrates the in-memory cache from security.db on startup.
func (b *Blocklist) LoadFromRepo(ctx context.Context) error {
	rows, err := b.repo.ListBlockedIPs(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range rows {
		row := rows[i]
		b.entries[row.IP] = &row
	}
	return nil
}
