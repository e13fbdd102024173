// Package ports defines the typed repository contracts (C1) that every
// persisted entity in FLM is accessed through. Concrete implementations
// live under internal/storage/sqlite. The shape of these interfaces is
// grounded on the repository-adapter pattern in the original Rust
// implementation's crates/apps/flm-cli/src/adapters/security.rs, translated
// into idiomatic Go ports-and-adapters rather than a single monolithic
// adapter struct.
package ports

import (
	"context"
	"time"
)

// ProxyMode enumerates the four TLS modes a proxy handle can run in.
type ProxyMode string

const (
	ModeLocalHTTP     ProxyMode = "local_http"
	ModeDevSelfSigned ProxyMode = "dev_self_signed"
	ModeHTTPSAcme     ProxyMode = "https_acme"
	ModePackagedCA    ProxyMode = "packaged_ca"
)

// AcmeChallenge enumerates the two supported ACME challenge types.
type AcmeChallenge string

const (
	ChallengeHTTP01 AcmeChallenge = "http-01"
	ChallengeDNS01  AcmeChallenge = "dns-01"
)

// EgressMode enumerates how the proxy dials upstream inference backends.
type EgressMode string

const (
	EgressDirect      EgressMode = "direct"
	EgressTor         EgressMode = "tor"
	EgressCustomSocks EgressMode = "custom_socks5"
)

// EgressConfig describes the outbound network path (spec §3).
type EgressConfig struct {
	Mode     EgressMode `json:"mode"`
	Endpoint string     `json:"endpoint,omitempty"` // for EgressCustomSocks
	FailOpen bool        `json:"fail_open"`
}

// ProxyConfig is the immutable-once-started input to the proxy lifecycle.
type ProxyConfig struct {
	Port            int           `json:"port"`
	ListenAddr      string        `json:"listen_addr"`
	Mode            ProxyMode     `json:"mode"`
	AcmeEmail       string        `json:"acme_email,omitempty"`
	AcmeDomain      string        `json:"acme_domain,omitempty"`
	AcmeChallenge   AcmeChallenge `json:"acme_challenge,omitempty"`
	AcmeDNSProfile  string        `json:"acme_dns_profile,omitempty"`
	Egress          EgressConfig  `json:"egress"`
	TrustedProxyIPs []string      `json:"trusted_proxy_ips,omitempty"`
}

// ProxyHandle is the observable state of a running (or stopped) proxy.
type ProxyHandle struct {
	ID          string     `json:"id"`
	Port        int        `json:"port"`
	HTTPSPort   int        `json:"https_port,omitempty"`
	Mode        ProxyMode  `json:"mode"`
	ListenAddr  string     `json:"listen_addr"`
	AcmeDomain  string     `json:"acme_domain,omitempty"`
	Running     bool       `json:"running"`
	LastError   string     `json:"last_error,omitempty"`
	Egress      EgressConfig `json:"egress"`
}

// ApiKeyRecord is persisted metadata for an API key; the plaintext key is
// never stored, only the Argon2 hash.
type ApiKeyRecord struct {
	ID        string
	Label     string
	Hash      string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// SecurityPolicy is a validated policy document.
type SecurityPolicy struct {
	ID         string
	PolicyJSON string
	UpdatedAt  time.Time
}

// DnsCredentialProfile holds only metadata; the token lives in the OS
// keyring and is never persisted here.
type DnsCredentialProfile struct {
	ID        string
	Provider  string
	Label     string
	ZoneID    string
	ZoneName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResolvedDnsCredential is the short-lived, in-memory-only token fetched
// from the OS keyring at proxy-start time. Never persisted.
type ResolvedDnsCredential struct {
	Profile DnsCredentialProfile
	Token   string
}

// CertificateRecord describes a minted/cached certificate pair on disk.
type CertificateRecord struct {
	ID        string
	CertPath  string
	KeyPath   string
	Mode      ProxyMode
	Domain    string
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

// Usable reports whether both cert/key files exist (checked by the caller)
// and now falls within validity.
func (c CertificateRecord) Usable(now time.Time, notBefore time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(notBefore) && now.Before(*c.ExpiresAt)
}

// IpFailure tracks the escalating-penalty blocklist entry for one IP.
type IpFailure struct {
	IP              string
	FailureCount    int
	FirstFailureAt  time.Time
	BlockedUntil    *time.Time
	PermanentBlock  bool
	LastAttempt     time.Time
}

// RateLimitState is the persisted token-bucket snapshot for one key.
type RateLimitState struct {
	Key            string // api_key_id or "ip:<addr>"
	RequestsCount  int
	ResetAt        time.Time
}

// AuditLogRow is one emitted audit-log event.
type AuditLogRow struct {
	ID         string
	RequestID  string
	ApiKeyID   string
	Endpoint   string
	Status     int
	LatencyMs  int64
	EventType  string
	Severity   string
	IP         string
	Details    string
	CreatedAt  time.Time
}

// IntrusionAttemptRow records a single intrusion-detection hit.
type IntrusionAttemptRow struct {
	ID          string
	IP          string
	Pattern     string
	Score       int
	RequestPath string
	UserAgent   string
	Method      string
	CreatedAt   time.Time
}

// AnomalyDetectionRow records a single anomaly-scoring event.
type AnomalyDetectionRow struct {
	ID          string
	IP          string
	AnomalyType string
	Score       int
	Details     string
	CreatedAt   time.Time
}

// EngineStatus is the closed set of engine health variants.
type EngineStatus string

const (
	EngineInstalledOnly     EngineStatus = "installed_only"
	EngineRunningHealthy    EngineStatus = "running_healthy"
	EngineRunningDegraded   EngineStatus = "running_degraded"
	EngineErrorNetwork      EngineStatus = "error_network"
	EngineErrorAPI          EngineStatus = "error_api"
)

// EngineKind identifies which of the four backends an EngineState describes.
type EngineKind string

const (
	EngineOllama    EngineKind = "ollama"
	EngineVLLM      EngineKind = "vllm"
	EngineLMStudio  EngineKind = "lm_studio"
	EngineLlamaCpp  EngineKind = "llama_cpp"
)

// Capabilities declares the static capability flags of a driver or model.
type Capabilities struct {
	Chat           bool
	ChatStream     bool
	Embeddings     bool
	Moderation     bool
	Tools          bool
	Reasoning      bool
	VisionInputs   bool
	AudioInputs    bool
	AudioOutputs   bool
	MaxImageBytes  int64
	MaxAudioBytes  int64
}

// EngineState is a point-in-time snapshot of one registered engine.
type EngineState struct {
	ID           string
	Kind         EngineKind
	Name         string
	Version      string
	Status       EngineStatus
	LatencyMs    int64
	Reason       string
	ConsecutiveFailures int
	Capabilities Capabilities
}

// HealthLogRow is one row recorded by the Engine Service per detection.
type HealthLogRow struct {
	ID        string
	EngineID  string
	ErrorRate float64
	CreatedAt time.Time
}

// ModelInfo is one model advertised by an engine's list_models operation.
type ModelInfo struct {
	ModelID      string // flm://{engine_id}/{name}
	Name         string
	Capabilities Capabilities
}

// ErrReadOnly is returned by write methods when a repository is opened in
// read-only mode (spec §5); it is wrapped in a flmerr.Error by callers.
var ErrReadOnlyMarker = struct{}{}

// ConfigRepo owns proxy_handles, engine_registry, health_logs (config.db).
type ConfigRepo interface {
	SaveHandle(ctx context.Context, h ProxyHandle) error
	GetHandle(ctx context.Context, id string) (*ProxyHandle, error)
	ListHandles(ctx context.Context) ([]ProxyHandle, error)
	DeleteHandle(ctx context.Context, id string) error

	SaveEngineState(ctx context.Context, e EngineState) error
	ListEngineStates(ctx context.Context) ([]EngineState, error)

	AppendHealthLog(ctx context.Context, row HealthLogRow) error
	ListHealthLogs(ctx context.Context, engineID string, limit int) ([]HealthLogRow, error)

	Close() error
}

// SecurityRepo owns every table in security.db.
type SecurityRepo interface {
	SaveApiKey(ctx context.Context, k ApiKeyRecord) error
	GetApiKey(ctx context.Context, id string) (*ApiKeyRecord, error)
	ListActiveApiKeys(ctx context.Context) ([]ApiKeyRecord, error)
	ListApiKeys(ctx context.Context) ([]ApiKeyRecord, error)
	RevokeApiKey(ctx context.Context, id string, revokedAt time.Time) error

	SavePolicy(ctx context.Context, p SecurityPolicy) error
	GetPolicy(ctx context.Context, id string) (*SecurityPolicy, error)
	ListPolicies(ctx context.Context) ([]SecurityPolicy, error)

	UpsertDNSCredential(ctx context.Context, p DnsCredentialProfile) error
	GetDNSCredential(ctx context.Context, id string) (*DnsCredentialProfile, error)
	ListDNSCredentials(ctx context.Context) ([]DnsCredentialProfile, error)
	DeleteDNSCredential(ctx context.Context, id string) error

	SaveCertificate(ctx context.Context, c CertificateRecord) error
	GetCertificate(ctx context.Context, domain string) (*CertificateRecord, error)
	ListCertificates(ctx context.Context) ([]CertificateRecord, error)

	UpsertIPFailure(ctx context.Context, f IpFailure) error
	GetIPFailure(ctx context.Context, ip string) (*IpFailure, error)
	ListBlockedIPs(ctx context.Context) ([]IpFailure, error)
	UnblockIP(ctx context.Context, ip string) error
	ClearTemporaryBlocks(ctx context.Context) error

	SaveRateLimitState(ctx context.Context, s RateLimitState) error
	GetRateLimitState(ctx context.Context, key string) (*RateLimitState, error)
	ListRateLimitStates(ctx context.Context) ([]RateLimitState, error)

	AppendAuditLog(ctx context.Context, row AuditLogRow) error
	ListAuditLogs(ctx context.Context, limit int) ([]AuditLogRow, error)

	AppendIntrusionAttempt(ctx context.Context, row IntrusionAttemptRow) error
	ListIntrusionAttempts(ctx context.Context, limit int) ([]IntrusionAttemptRow, error)

	AppendAnomalyDetection(ctx context.Context, row AnomalyDetectionRow) error
	ListAnomalyDetections(ctx context.Context, ip string, limit int) ([]AnomalyDetectionRow, error)

	// ReadOnly reports whether this repo was opened in read-only mode; write
	// methods above must return a flmerr.Repo(RepoReadOnly, ...) immediately
	// without touching the database when true.
	ReadOnly() bool

	Close() error
}
