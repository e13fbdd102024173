// Package runtime wires the Services aggregate (C10): the concrete
// construction of every other component behind one lifecycle entry point,
// plus the foreground/detached duality spec §9 calls for. It is the one
// place allowed to know about every concrete package under internal/ —
// everything else talks through the ports/proxy/security/enginesvc
// interfaces. Modeled on Caddy's cmd package, which is the only package
// that imports both caddy.Context construction and the individual app
// modules it registers.
package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Unjuno/FLM-sub001/internal/acme"
	"github.com/Unjuno/FLM-sub001/internal/certsvc"
	"github.com/Unjuno/FLM-sub001/internal/enginesvc"
	"github.com/Unjuno/FLM-sub001/internal/engines"
	"github.com/Unjuno/FLM-sub001/internal/engines/llamacpp"
	"github.com/Unjuno/FLM-sub001/internal/engines/lmstudio"
	"github.com/Unjuno/FLM-sub001/internal/engines/ollama"
	"github.com/Unjuno/FLM-sub001/internal/engines/vllm"
	"github.com/Unjuno/FLM-sub001/internal/ports"
	"github.com/Unjuno/FLM-sub001/internal/proxy"
	"github.com/Unjuno/FLM-sub001/internal/security"
	"github.com/Unjuno/FLM-sub001/internal/storage/sqlite"
)

// EngineEndpoint is one backend's configured (or probed) base URL, supplied
// by the CLI/config layer rather than hardcoded, since any of the four
// backends may run on a non-default port.
type EngineEndpoint struct {
	ID      string
	Kind    ports.EngineKind
	BaseURL string
}

// DefaultEngineEndpoints returns the four backends at their conventional
// local ports; callers override individual entries from configuration.
func DefaultEngineEndpoints() []EngineEndpoint {
	return []EngineEndpoint{
		{ID: "ollama", Kind: ports.EngineOllama, BaseURL: "http://127.0.0.1:11434"},
		{ID: "vllm", Kind: ports.EngineVLLM, BaseURL: "http://127.0.0.1:8000"},
		{ID: "lm_studio", Kind: ports.EngineLMStudio, BaseURL: "http://127.0.0.1:1234"},
		{ID: "llama_cpp", Kind: ports.EngineLlamaCpp, BaseURL: "http://127.0.0.1:8080"},
	}
}

// Options configures a Services aggregate. DataDir holds both SQLite
// database files and any minted certificate material, mirroring spec §6's
// "two independent database files" under one data directory.
type Options struct {
	DataDir            string
	ReadOnly           bool
	AcmeDirectoryURL   string
	EngineEndpoints    []EngineEndpoint
	DNSTokenResolver   security.TokenResolver
	Logger             *zap.Logger
	AnomalySyncInterval time.Duration
}

// Services is the explicit aggregate every entry point (foreground run,
// detached daemon, and the CLI's direct-invocation commands) constructs
// once and passes by reference, per spec §9's redesign note rejecting
// ambient globals.
type Services struct {
	opts Options

	ConfigDB   *sqlite.DB
	SecurityDB *sqlite.DB
	ConfigRepo ports.ConfigRepo
	SecRepo    ports.SecurityRepo

	Security *security.Service
	Engines  *enginesvc.Registry
	ACME     *acme.Coordinator
	Proxy    *proxy.Service

	Logger *zap.Logger

	stopSync func()
}

// Open constructs every component in dependency order: databases, then
// repos, then the Security/Engine/ACME/Proxy services that sit on top of
// them. Nothing here binds a network listener; that only happens when a
// caller invokes Proxy.Start for a given handle.
func Open(ctx context.Context, opts Options) (*Services, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("runtime: DataDir is required")
	}
	if opts.Logger == nil {
		var err error
		opts.Logger, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("runtime: building default logger: %w", err)
		}
	}
	if opts.AnomalySyncInterval <= 0 {
		opts.AnomalySyncInterval = 5 * time.Minute
	}
	if len(opts.EngineEndpoints) == 0 {
		opts.EngineEndpoints = DefaultEngineEndpoints()
	}

	configDB, err := sqlite.Open(sqlite.OpenOptions{Path: filepath.Join(opts.DataDir, "config.db"), ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, err
	}
	securityDB, err := sqlite.Open(sqlite.OpenOptions{Path: filepath.Join(opts.DataDir, "security.db"), ReadOnly: opts.ReadOnly})
	if err != nil {
		_ = configDB.Close()
		return nil, err
	}

	configRepo, err := sqlite.NewConfigRepo(configDB)
	if err != nil {
		_ = configDB.Close()
		_ = securityDB.Close()
		return nil, err
	}
	secRepo, err := sqlite.NewSecurityRepo(securityDB)
	if err != nil {
		_ = configDB.Close()
		_ = securityDB.Close()
		return nil, err
	}

	secSvc := security.NewService(secRepo, opts.Logger)
	if err := secSvc.RestoreAnomalyScores(ctx); err != nil {
		opts.Logger.Warn("failed to restore anomaly scores from prior run", zap.Error(err))
	}
	if err := secSvc.LoadBlocklist(ctx); err != nil {
		opts.Logger.Warn("failed to load ip blocklist from prior run", zap.Error(err))
	}

	probes := make([]enginesvc.BinaryProbe, 0, len(opts.EngineEndpoints))
	for _, e := range opts.EngineEndpoints {
		probes = append(probes, enginesvc.BinaryProbe{EngineID: e.ID, Kind: e.Kind, BinaryName: binaryNameFor(e.Kind), HTTPProbe: e.BaseURL})
	}
	registry := enginesvc.NewRegistry(configRepo, opts.Logger, probes)
	for _, e := range opts.EngineEndpoints {
		if d := driverFor(e); d != nil {
			registry.Register(d)
		}
	}

	certDir := filepath.Join(opts.DataDir, "certs")
	if err := os.MkdirAll(certDir, 0o700); err != nil {
		_ = configDB.Close()
		_ = securityDB.Close()
		return nil, fmt.Errorf("runtime: creating cert dir: %w", err)
	}
	resolver := opts.DNSTokenResolver
	if resolver == nil {
		resolver = keyringTokenResolver
	}
	coordinator := acme.NewCoordinator(opts.AcmeDirectoryURL, certDir, secRepo, secSvc, resolver, opts.Logger)

	proxySvc := proxy.NewService(configRepo, registry, secSvc, coordinator, opts.Logger)

	svc := &Services{
		opts: opts, ConfigDB: configDB, SecurityDB: securityDB,
		ConfigRepo: configRepo, SecRepo: secRepo,
		Security: secSvc, Engines: registry, ACME: coordinator, Proxy: proxySvc,
		Logger: opts.Logger,
	}
	svc.startAnomalySync()
	return svc, nil
}

// binaryNameFor returns the conventional CLI binary enginesvc probes for on
// PATH, per spec §4.3's installed-only detection path.
func binaryNameFor(kind ports.EngineKind) string {
	switch kind {
	case ports.EngineOllama:
		return "ollama"
	case ports.EngineLlamaCpp:
		return "llama-server"
	default:
		return ""
	}
}

func driverFor(e EngineEndpoint) engines.Driver {
	switch e.Kind {
	case ports.EngineOllama:
		return ollama.New(e.ID, e.BaseURL)
	case ports.EngineVLLM:
		return vllm.New(e.ID, e.BaseURL)
	case ports.EngineLMStudio:
		return lmstudio.New(e.ID, e.BaseURL)
	case ports.EngineLlamaCpp:
		return llamacpp.New(e.ID, e.BaseURL)
	default:
		return nil
	}
}

// startAnomalySync runs the bounded-interval persistence sync spec §9
// requires so the in-memory anomaly map isn't purely volatile, alongside
// the blocklist's own 5-minute sync interval (spec's ip_blocklist.rs
// needs_sync/mark_synced pairing).
func (s *Services) startAnomalySync() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.opts.AnomalySyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Security.SyncAnomalyScores(ctx); err != nil {
					s.Logger.Warn("anomaly score sync failed", zap.Error(err))
				}
				if err := s.Security.SyncBlocklist(ctx); err != nil {
					s.Logger.Warn("blocklist sync failed", zap.Error(err))
				}
			}
		}
	}()
	s.stopSync = func() {
		cancel()
		<-done
	}
}

// InstallCA writes and registers a dev/packaged root CA with the OS trust
// store, backing the CLI's `security install-ca` command.
func (s *Services) InstallCA(commonName string) error {
	root, err := certsvc.GenerateRootCA(commonName, 3650)
	if err != nil {
		return err
	}
	return certsvc.RegisterRootCAWithOSTrustStore(root.CertPEM, "flm-root-ca.crt")
}

// Close flushes the anomaly sync one last time (per spec §9's "on graceful
// shutdown" requirement) and releases both database handles.
func (s *Services) Close(ctx context.Context) error {
	if s.stopSync != nil {
		s.stopSync()
	}
	if err := s.Security.SyncAnomalyScores(ctx); err != nil {
		s.Logger.Warn("final anomaly score sync failed", zap.Error(err))
	}
	if err := s.Security.FlushBlocklist(ctx); err != nil {
		s.Logger.Warn("final blocklist sync failed", zap.Error(err))
	}
	var firstErr error
	if err := s.ConfigDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.SecurityDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
