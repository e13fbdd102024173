package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// securityMigrations implements exactly the table set spec §6 names for
// security.db, grounded on the repository-adapter schema in
// crates/apps/flm-cli/src/adapters/security.rs.
var securityMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY, label TEXT NOT NULL, hash TEXT NOT NULL,
		created_at TEXT NOT NULL, revoked_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS security_policies (
		id TEXT PRIMARY KEY, policy_json TEXT NOT NULL, updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ip_blocklist (
		ip TEXT PRIMARY KEY, failure_count INTEGER NOT NULL, first_failure_at TEXT NOT NULL,
		blocked_until TEXT, permanent_block INTEGER NOT NULL, last_attempt TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rate_limit_states (
		api_key_id TEXT PRIMARY KEY, requests_count INTEGER NOT NULL, reset_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY, request_id TEXT NOT NULL, api_key_id TEXT,
		endpoint TEXT NOT NULL, status INTEGER NOT NULL, latency_ms INTEGER NOT NULL,
		event_type TEXT NOT NULL, severity TEXT NOT NULL, ip TEXT NOT NULL,
		details TEXT, created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at)`,
	`CREATE TABLE IF NOT EXISTS intrusion_attempts (
		id TEXT PRIMARY KEY, ip TEXT NOT NULL, pattern TEXT NOT NULL, score INTEGER NOT NULL,
		request_path TEXT NOT NULL, user_agent TEXT, method TEXT NOT NULL, created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS anomaly_detections (
		id TEXT PRIMARY KEY, ip TEXT NOT NULL, anomaly_type TEXT NOT NULL, score INTEGER NOT NULL,
		details TEXT, created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomaly_ip ON anomaly_detections(ip, created_at)`,
	`CREATE TABLE IF NOT EXISTS certificates (
		id TEXT PRIMARY KEY, cert_path TEXT NOT NULL, key_path TEXT NOT NULL, mode TEXT NOT NULL,
		domain TEXT, expires_at TEXT, updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dns_credentials (
		id TEXT PRIMARY KEY, provider TEXT NOT NULL, label TEXT NOT NULL, zone_id TEXT NOT NULL,
		zone_name TEXT, created_at TEXT NOT NULL, updated_at TEXT NOT NULL
	)`,
}

// SecurityRepo implements ports.SecurityRepo.
type SecurityRepo struct {
	db *DB
}

func NewSecurityRepo(db *DB) (*SecurityRepo, error) {
	if !db.readOnly {
		if err := db.Migrate(securityMigrations); err != nil {
			return nil, err
		}
	}
	return &SecurityRepo{db: db}, nil
}

func (r *SecurityRepo) ReadOnly() bool { return r.db.readOnly }
func (r *SecurityRepo) Close() error   { return r.db.Close() }

// --- api_keys ---

func (r *SecurityRepo) SaveApiKey(ctx context.Context, k ports.ApiKeyRecord) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys(id,label,hash,created_at,revoked_at) VALUES(?,?,?,?,?)`,
		k.ID, k.Label, k.Hash, k.CreatedAt.UTC().Format(time.RFC3339Nano), nullableTime(k.RevokedAt))
	return err
}

func (r *SecurityRepo) GetApiKey(ctx context.Context, id string) (*ports.ApiKeyRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id,label,hash,created_at,revoked_at FROM api_keys WHERE id=?`, id)
	return scanApiKey(row)
}

func (r *SecurityRepo) ListActiveApiKeys(ctx context.Context) ([]ports.ApiKeyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,label,hash,created_at,revoked_at FROM api_keys WHERE revoked_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanApiKeys(rows)
}

func (r *SecurityRepo) ListApiKeys(ctx context.Context) ([]ports.ApiKeyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,label,hash,created_at,revoked_at FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanApiKeys(rows)
}

func (r *SecurityRepo) RevokeApiKey(ctx context.Context, id string, revokedAt time.Time) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at=? WHERE id=? AND revoked_at IS NULL`,
		revokedAt.UTC().Format(time.RFC3339Nano), id)
	return err
}

func scanApiKey(row *sql.Row) (*ports.ApiKeyRecord, error) {
	var k ports.ApiKeyRecord
	var created string
	var revoked sql.NullString
	if err := row.Scan(&k.ID, &k.Label, &k.Hash, &created, &revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, err
	}
	k.CreatedAt = t
	rt, err := parseNullableTime(revoked)
	if err != nil {
		return nil, err
	}
	k.RevokedAt = rt
	return &k, nil
}

func scanApiKeys(rows *sql.Rows) ([]ports.ApiKeyRecord, error) {
	var out []ports.ApiKeyRecord
	for rows.Next() {
		var k ports.ApiKeyRecord
		var created string
		var revoked sql.NullString
		if err := rows.Scan(&k.ID, &k.Label, &k.Hash, &created, &revoked); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, err
		}
		k.CreatedAt = t
		rt, err := parseNullableTime(revoked)
		if err != nil {
			return nil, err
		}
		k.RevokedAt = rt
		out = append(out, k)
	}
	return out, rows.Err()
}

// --- security_policies ---

func (r *SecurityRepo) SavePolicy(ctx context.Context, p ports.SecurityPolicy) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO security_policies(id,policy_json,updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET policy_json=excluded.policy_json, updated_at=excluded.updated_at`,
		p.ID, p.PolicyJSON, p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *SecurityRepo) GetPolicy(ctx context.Context, id string) (*ports.SecurityPolicy, error) {
	var p ports.SecurityPolicy
	var updated string
	err := r.db.QueryRowContext(ctx, `SELECT id,policy_json,updated_at FROM security_policies WHERE id=?`, id).
		Scan(&p.ID, &p.PolicyJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SecurityRepo) ListPolicies(ctx context.Context) ([]ports.SecurityPolicy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,policy_json,updated_at FROM security_policies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ports.SecurityPolicy
	for rows.Next() {
		var p ports.SecurityPolicy
		var updated string
		if err := rows.Scan(&p.ID, &p.PolicyJSON, &updated); err != nil {
			return nil, err
		}
		p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- dns_credentials ---

func (r *SecurityRepo) UpsertDNSCredential(ctx context.Context, p ports.DnsCredentialProfile) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dns_credentials(id,provider,label,zone_id,zone_name,created_at,updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET provider=excluded.provider, label=excluded.label,
		 zone_id=excluded.zone_id, zone_name=excluded.zone_name, updated_at=excluded.updated_at`,
		p.ID, p.Provider, p.Label, p.ZoneID, p.ZoneName, now, now)
	return err
}

func (r *SecurityRepo) GetDNSCredential(ctx context.Context, id string) (*ports.DnsCredentialProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id,provider,label,zone_id,zone_name,created_at,updated_at FROM dns_credentials WHERE id=?`, id)
	return scanDNSCred(row)
}

func (r *SecurityRepo) ListDNSCredentials(ctx context.Context) ([]ports.DnsCredentialProfile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,provider,label,zone_id,zone_name,created_at,updated_at FROM dns_credentials`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ports.DnsCredentialProfile
	for rows.Next() {
		p, err := scanDNSCredRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *SecurityRepo) DeleteDNSCredential(ctx context.Context, id string) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM dns_credentials WHERE id=?`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDNSCred(row *sql.Row) (*ports.DnsCredentialProfile, error) {
	p, err := scanDNSCredFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func scanDNSCredRow(rows *sql.Rows) (*ports.DnsCredentialProfile, error) {
	return scanDNSCredFrom(rows)
}

func scanDNSCredFrom(s scanner) (*ports.DnsCredentialProfile, error) {
	var p ports.DnsCredentialProfile
	var zoneName sql.NullString
	var created, updated string
	if err := s.Scan(&p.ID, &p.Provider, &p.Label, &p.ZoneID, &zoneName, &created, &updated); err != nil {
		return nil, err
	}
	p.ZoneName = zoneName.String
	var err error
	p.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// --- certificates ---

func (r *SecurityRepo) SaveCertificate(ctx context.Context, c ports.CertificateRecord) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO certificates(id,cert_path,key_path,mode,domain,expires_at,updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET cert_path=excluded.cert_path, key_path=excluded.key_path,
		 mode=excluded.mode, domain=excluded.domain, expires_at=excluded.expires_at, updated_at=excluded.updated_at`,
		c.ID, c.CertPath, c.KeyPath, string(c.Mode), c.Domain, nullableTime(c.ExpiresAt),
		c.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *SecurityRepo) GetCertificate(ctx context.Context, domain string) (*ports.CertificateRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id,cert_path,key_path,mode,domain,expires_at,updated_at FROM certificates WHERE domain=? ORDER BY updated_at DESC LIMIT 1`, domain)
	var c ports.CertificateRecord
	var mode string
	var dom sql.NullString
	var expires sql.NullString
	var updated string
	err := row.Scan(&c.ID, &c.CertPath, &c.KeyPath, &mode, &dom, &expires, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Mode = ports.ProxyMode(mode)
	c.Domain = dom.String
	c.ExpiresAt, err = parseNullableTime(expires)
	if err != nil {
		return nil, err
	}
	c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *SecurityRepo) ListCertificates(ctx context.Context) ([]ports.CertificateRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,cert_path,key_path,mode,domain,expires_at,updated_at FROM certificates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ports.CertificateRecord
	for rows.Next() {
		var c ports.CertificateRecord
		var mode string
		var dom, expires sql.NullString
		var updated string
		if err := rows.Scan(&c.ID, &c.CertPath, &c.KeyPath, &mode, &dom, &expires, &updated); err != nil {
			return nil, err
		}
		c.Mode = ports.ProxyMode(mode)
		c.Domain = dom.String
		c.ExpiresAt, err = parseNullableTime(expires)
		if err != nil {
			return nil, err
		}
		c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- ip_blocklist ---

func (r *SecurityRepo) UpsertIPFailure(ctx context.Context, f ports.IpFailure) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ip_blocklist(ip,failure_count,first_failure_at,blocked_until,permanent_block,last_attempt,updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(ip) DO UPDATE SET failure_count=excluded.failure_count, blocked_until=excluded.blocked_until,
		 permanent_block=excluded.permanent_block, last_attempt=excluded.last_attempt, updated_at=excluded.updated_at`,
		f.IP, f.FailureCount, f.FirstFailureAt.UTC().Format(time.RFC3339Nano), nullableTime(f.BlockedUntil),
		boolToInt(f.PermanentBlock), f.LastAttempt.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (r *SecurityRepo) GetIPFailure(ctx context.Context, ip string) (*ports.IpFailure, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT ip,failure_count,first_failure_at,blocked_until,permanent_block,last_attempt FROM ip_blocklist WHERE ip=?`, ip)
	return scanIPFailure(row)
}

func (r *SecurityRepo) ListBlockedIPs(ctx context.Context) ([]ports.IpFailure, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ip,failure_count,first_failure_at,blocked_until,permanent_block,last_attempt FROM ip_blocklist`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ports.IpFailure
	for rows.Next() {
		f, err := scanIPFailureFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (r *SecurityRepo) UnblockIP(ctx context.Context, ip string) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM ip_blocklist WHERE ip=?`, ip)
	return err
}

func (r *SecurityRepo) ClearTemporaryBlocks(ctx context.Context) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM ip_blocklist WHERE permanent_block=0`)
	return err
}

func scanIPFailure(row *sql.Row) (*ports.IpFailure, error) {
	f, err := scanIPFailureFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func scanIPFailureFrom(s scanner) (*ports.IpFailure, error) {
	var f ports.IpFailure
	var first, last string
	var blockedUntil sql.NullString
	var permanent int
	if err := s.Scan(&f.IP, &f.FailureCount, &first, &blockedUntil, &permanent, &last); err != nil {
		return nil, err
	}
	var err error
	f.FirstFailureAt, err = time.Parse(time.RFC3339Nano, first)
	if err != nil {
		return nil, err
	}
	f.LastAttempt, err = time.Parse(time.RFC3339Nano, last)
	if err != nil {
		return nil, err
	}
	f.BlockedUntil, err = parseNullableTime(blockedUntil)
	if err != nil {
		return nil, err
	}
	f.PermanentBlock = permanent != 0
	return &f, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- rate_limit_states ---

func (r *SecurityRepo) SaveRateLimitState(ctx context.Context, s ports.RateLimitState) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rate_limit_states(api_key_id,requests_count,reset_at) VALUES(?,?,?)
		 ON CONFLICT(api_key_id) DO UPDATE SET requests_count=excluded.requests_count, reset_at=excluded.reset_at`,
		s.Key, s.RequestsCount, s.ResetAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *SecurityRepo) GetRateLimitState(ctx context.Context, key string) (*ports.RateLimitState, error) {
	var s ports.RateLimitState
	var reset string
	err := r.db.QueryRowContext(ctx, `SELECT api_key_id,requests_count,reset_at FROM rate_limit_states WHERE api_key_id=?`, key).
		Scan(&s.Key, &s.RequestsCount, &reset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.ResetAt, err = time.Parse(time.RFC3339Nano, reset)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SecurityRepo) ListRateLimitStates(ctx context.Context) ([]ports.RateLimitState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT api_key_id,requests_count,reset_at FROM rate_limit_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ports.RateLimitState
	for rows.Next() {
		var s ports.RateLimitState
		var reset string
		if err := rows.Scan(&s.Key, &s.RequestsCount, &reset); err != nil {
			return nil, err
		}
		s.ResetAt, err = time.Parse(time.RFC3339Nano, reset)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- audit_logs / intrusion_attempts / anomaly_detections ---

func (r *SecurityRepo) AppendAuditLog(ctx context.Context, row ports.AuditLogRow) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs(id,request_id,api_key_id,endpoint,status,latency_ms,event_type,severity,ip,details,created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		row.ID, row.RequestID, row.ApiKeyID, row.Endpoint, row.Status, row.LatencyMs,
		row.EventType, row.Severity, row.IP, row.Details, row.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *SecurityRepo) ListAuditLogs(ctx context.Context, limit int) ([]ports.AuditLogRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id,request_id,api_key_id,endpoint,status,latency_ms,event_type,severity,ip,details,created_at
		 FROM audit_logs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ports.AuditLogRow
	for rows.Next() {
		var row ports.AuditLogRow
		var created string
		var apiKeyID, details sql.NullString
		if err := rows.Scan(&row.ID, &row.RequestID, &apiKeyID, &row.Endpoint, &row.Status, &row.LatencyMs,
			&row.EventType, &row.Severity, &row.IP, &details, &created); err != nil {
			return nil, err
		}
		row.ApiKeyID = apiKeyID.String
		row.Details = details.String
		row.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SecurityRepo) AppendIntrusionAttempt(ctx context.Context, row ports.IntrusionAttemptRow) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO intrusion_attempts(id,ip,pattern,score,request_path,user_agent,method,created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		row.ID, row.IP, row.Pattern, row.Score, row.RequestPath, row.UserAgent, row.Method,
		row.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *SecurityRepo) ListIntrusionAttempts(ctx context.Context, limit int) ([]ports.IntrusionAttemptRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id,ip,pattern,score,request_path,user_agent,method,created_at
		 FROM intrusion_attempts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ports.IntrusionAttemptRow
	for rows.Next() {
		var row ports.IntrusionAttemptRow
		var created string
		var ua sql.NullString
		if err := rows.Scan(&row.ID, &row.IP, &row.Pattern, &row.Score, &row.RequestPath, &ua, &row.Method, &created); err != nil {
			return nil, err
		}
		row.UserAgent = ua.String
		row.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SecurityRepo) AppendAnomalyDetection(ctx context.Context, row ports.AnomalyDetectionRow) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO anomaly_detections(id,ip,anomaly_type,score,details,created_at) VALUES(?,?,?,?,?,?)`,
		row.ID, row.IP, row.AnomalyType, row.Score, row.Details, row.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *SecurityRepo) ListAnomalyDetections(ctx context.Context, ip string, limit int) ([]ports.AnomalyDetectionRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ip,anomaly_type,score,details,created_at FROM anomaly_detections`
	args := []any{}
	if ip != "" {
		query += ` WHERE ip=?`
		args = append(args, ip)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ports.AnomalyDetectionRow
	for rows.Next() {
		var row ports.AnomalyDetectionRow
		var created string
		var details sql.NullString
		if err := rows.Scan(&row.ID, &row.IP, &row.AnomalyType, &row.Score, &details, &created); err != nil {
			return nil, err
		}
		row.Details = details.String
		row.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var _ ports.ConfigRepo = (*ConfigRepo)(nil)
var _ ports.SecurityRepo = (*SecurityRepo)(nil)
