package proxy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Unjuno/FLM-sub001/internal/certsvc"
	"github.com/Unjuno/FLM-sub001/internal/enginesvc"
	"github.com/Unjuno/FLM-sub001/internal/engines"
	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
	"github.com/Unjuno/FLM-sub001/internal/security"
)

// ChallengeResponder is the subset of Controller that the ACME coordinator
// needs to serve an HTTP-01 challenge on the plaintext listener that is
// already bound before a certificate exists (spec §4.7). Controller
// implements this directly.
type ChallengeResponder interface {
	SetACMEChallenge(token, keyAuth string)
	ClearACMEChallenge(token string)
}

// CertProvisioner mints or reuses TLS material for a handle. The ACME
// coordinator (C9) implements this for HttpsAcme; Service itself handles
// DevSelfSigned and PackagedCA directly through certsvc.
type CertProvisioner interface {
	Provision(ctx context.Context, cfg ports.ProxyConfig, responder ChallengeResponder) (certPEM, keyPEM []byte, err error)
}

// Service is the Proxy Service (C8): a map handle_id -> running Controller,
// orchestrating C2 (certsvc), C6 (security.Service), and C9 (acme) behind
// the lifecycle operations in spec §4.5. Modeled on Caddy's Instance
// registry (caddy.go's currentCtx/ActiveContext), but keyed by handle
// rather than holding one process-global instance.
type Service struct {
	mu          sync.Mutex
	controllers map[string]*Controller

	configRepo ports.ConfigRepo
	registry   *enginesvc.Registry
	sec        *security.Service
	acme       CertProvisioner
	logger     *zap.Logger

	rootCAPEM    []byte
	rootKeyPEM   []byte
	rootCALoaded bool
}

func NewService(configRepo ports.ConfigRepo, registry *enginesvc.Registry, sec *security.Service, acme CertProvisioner, logger *zap.Logger) *Service {
	return &Service{
		controllers: make(map[string]*Controller),
		configRepo:  configRepo,
		registry:    registry,
		sec:         sec,
		acme:        acme,
		logger:      logger.Named("proxyservice"),
	}
}

// Start implements spec §4.5's start(config) -> ProxyHandle: validate,
// acquire TLS material, build the enforcement snapshot, bind sockets, and
// only then persist the handle. A failed start leaves no half-bound
// sockets and no orphan handle record.
func (s *Service) Start(ctx context.Context, cfg ports.ProxyConfig) (*ports.ProxyHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.configRepo.ListHandles(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg, existing); err != nil {
		return nil, err
	}

	handle := ports.ProxyHandle{
		ID: uuid.NewString(), Port: cfg.Port, Mode: cfg.Mode,
		ListenAddr: cfg.ListenAddr, AcmeDomain: cfg.AcmeDomain, Egress: cfg.Egress,
	}
	if handle.ListenAddr == "" {
		handle.ListenAddr = "127.0.0.1"
	}
	if isTLSMode(cfg.Mode) {
		handle.HTTPSPort = cfg.Port + 1
	}

	policyDoc, err := s.loadPolicy(ctx)
	if err != nil {
		return nil, err
	}

	controller := NewController(handle, s.registry, s.sec, s.logger)
	controller.SetSnapshot(policyDoc, nil, cfg.TrustedProxyIPs, cfg.Egress)
	s.registry.SetEgressDialer(engines.DialFunc(newEgressDialer(cfg.Egress)))

	if !isTLSMode(cfg.Mode) {
		if err := controller.Start(ctx); err != nil {
			return nil, err
		}
	} else {
		// Bind the plaintext listener first: HTTP-01 needs a live
		// challenge responder before any certificate exists.
		if err := controller.startPlaintext(ctx); err != nil {
			return nil, err
		}
		certPEM, keyPEM, err := s.provisionCert(ctx, cfg, controller)
		if err != nil {
			_ = controller.Stop(ctx)
			handle.LastError = err.Error()
			return &handle, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			_ = controller.Stop(ctx)
			handle.LastError = err.Error()
			return &handle, flmerr.Wrap(flmerr.KindTLS, err, "parsing provisioned certificate")
		}
		tlsConf := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		controller.SetSnapshot(policyDoc, tlsConf, cfg.TrustedProxyIPs, cfg.Egress)
		if err := controller.startTLS(ctx); err != nil {
			_ = controller.Stop(ctx)
			return nil, err
		}
	}

	handle.Running = true
	if err := s.configRepo.SaveHandle(ctx, handle); err != nil {
		_ = controller.Stop(ctx)
		return nil, err
	}

	s.controllers[handle.ID] = controller
	return &handle, nil
}

// provisionCert dispatches on mode: DevSelfSigned mints a fresh
// self-signed pair via certsvc, PackagedCA signs a leaf off the bundled
// root, HttpsAcme delegates to the ACME coordinator with a reuse check
// against any cached, non-expired certificate for acme_domain.
func (s *Service) provisionCert(ctx context.Context, cfg ports.ProxyConfig, responder ChallengeResponder) ([]byte, []byte, error) {
	switch cfg.Mode {
	case ports.ModeDevSelfSigned:
		root, err := certsvc.GenerateRootCA("FLM Dev CA", 3650)
		if err != nil {
			return nil, nil, err
		}
		leaf, err := certsvc.GenerateServerCert(root.CertPEM, root.KeyPEM, "localhost", 825, nil)
		if err != nil {
			return nil, nil, err
		}
		return leaf.CertPEM, leaf.KeyPEM, nil

	case ports.ModePackagedCA:
		rootPEM, rootKeyPEM, err := s.packagedRoot(ctx)
		if err != nil {
			return nil, nil, err
		}
		leaf, err := certsvc.GenerateServerCert(rootPEM, rootKeyPEM, "localhost", 825, nil)
		if err != nil {
			return nil, nil, err
		}
		return leaf.CertPEM, leaf.KeyPEM, nil

	case ports.ModeHTTPSAcme:
		if cached, err := s.reuseCachedCert(ctx, cfg.AcmeDomain); err == nil && cached != nil {
			return cached.certPEM, cached.keyPEM, nil
		}
		if s.acme == nil {
			return nil, nil, flmerr.New(flmerr.KindACME, "no ACME coordinator configured")
		}
		certPEM, keyPEM, err := s.acme.Provision(ctx, cfg, responder)
		if err != nil {
			// fall back to dev-self-signed per spec §4.7, surfacing the
			// ACME failure as a warning rather than aborting start.
			s.logger.Warn("acme provisioning failed, falling back to self-signed", zap.Error(err))
			root, rerr := certsvc.GenerateRootCA("FLM Dev CA", 3650)
			if rerr != nil {
				return nil, nil, err
			}
			leaf, rerr := certsvc.GenerateServerCert(root.CertPEM, root.KeyPEM, cfg.AcmeDomain, 825, nil)
			if rerr != nil {
				return nil, nil, err
			}
			return leaf.CertPEM, leaf.KeyPEM, nil
		}
		return certPEM, keyPEM, nil

	default:
		return nil, nil, flmerr.New(flmerr.KindConfig, "mode does not require tls material")
	}
}

type cachedCert struct{ certPEM, keyPEM []byte }

// reuseCachedCert implements the "expires_at - now > 0" reuse rule from
// spec §3/§4.7's acceptance scenario 5: a security.db row whose
// expires_at is still in the future and whose files still parse as a
// currently-valid certificate is reused without calling the ACME
// coordinator at all.
func (s *Service) reuseCachedCert(ctx context.Context, domain string) (*cachedCert, error) {
	rec, err := s.sec.Repo().GetCertificate(ctx, domain)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.ExpiresAt == nil || !time.Now().Before(*rec.ExpiresAt) {
		return nil, nil
	}
	certPEM, err := os.ReadFile(rec.CertPath)
	if err != nil {
		return nil, nil
	}
	keyPEM, err := os.ReadFile(rec.KeyPath)
	if err != nil {
		return nil, nil
	}
	if !certsvc.IsCertificateValid(certPEM) {
		return nil, nil
	}
	return &cachedCert{certPEM: certPEM, keyPEM: keyPEM}, nil
}

func (s *Service) packagedRoot(ctx context.Context) ([]byte, []byte, error) {
	if s.rootCALoaded {
		return s.rootCAPEM, s.rootKeyPEM, nil
	}
	root, err := certsvc.GenerateRootCA("FLM Packaged CA", 3650)
	if err != nil {
		return nil, nil, err
	}
	s.rootCAPEM, s.rootKeyPEM, s.rootCALoaded = root.CertPEM, root.KeyPEM, true
	return s.rootCAPEM, s.rootKeyPEM, nil
}

func (s *Service) loadPolicy(ctx context.Context) (security.PolicyDocument, error) {
	p, err := s.sec.GetPolicy(ctx, "default")
	if err != nil {
		return security.PolicyDocument{}, err
	}
	if p == nil {
		return security.PolicyDocument{}, nil
	}
	var doc security.PolicyDocument
	if err := json.Unmarshal([]byte(p.PolicyJSON), &doc); err != nil {
		return security.PolicyDocument{}, flmerr.Wrap(flmerr.KindPolicy, err, "parsing stored default policy")
	}
	return doc, nil
}

// Stop shuts down and unregisters the handle's controller, then marks the
// persisted handle not-running.
func (s *Service) Stop(ctx context.Context, handleID string) error {
	s.mu.Lock()
	controller, ok := s.controllers[handleID]
	if ok {
		delete(s.controllers, handleID)
	}
	s.mu.Unlock()

	if !ok {
		return flmerr.New(flmerr.KindNotFound, "no running handle: "+handleID)
	}
	if err := controller.Stop(ctx); err != nil {
		return err
	}

	h, err := s.configRepo.GetHandle(ctx, handleID)
	if err != nil || h == nil {
		return err
	}
	h.Running = false
	return s.configRepo.SaveHandle(ctx, *h)
}

// ReloadConfig rebuilds the enforcement snapshot (policy + trusted-proxy
// set) and atomically swaps it on the running controller, per spec §4.5:
// in-flight requests finish on the old snapshot, new ones see the new one.
func (s *Service) ReloadConfig(ctx context.Context, handleID string) error {
	s.mu.Lock()
	controller, ok := s.controllers[handleID]
	s.mu.Unlock()
	if !ok {
		return flmerr.New(flmerr.KindNotFound, "no running handle: "+handleID)
	}

	policyDoc, err := s.loadPolicy(ctx)
	if err != nil {
		return err
	}
	prior := controller.snapshot.Load()
	var tlsConf *tls.Config
	var egress ports.EgressConfig
	trustedIPs := []string{}
	if prior != nil {
		tlsConf = prior.tlsConfig
		egress = prior.egress
	}
	controller.SetSnapshot(policyDoc, tlsConf, trustedIPs, egress)
	return nil
}

// Status lists every known handle with its live running state, per spec
// §4.5's status().
func (s *Service) Status(ctx context.Context) ([]ports.ProxyHandle, error) {
	return s.configRepo.ListHandles(ctx)
}
