package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Unjuno/FLM-sub001/internal/enginesvc"
	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
	"github.com/Unjuno/FLM-sub001/internal/security"
)

// bodyPrefixLimit bounds how much of the request body the intrusion scan
// and anomaly scorer ever see, so a multi-gigabyte upload doesn't get
// buffered in memory just to look for a SQLi signature in its first bytes.
const bodyPrefixLimit = 4096

// Controller is the Proxy Controller (C7): one HTTP(S) listener pair bound
// to a single handle, dispatching to engine drivers through registry and
// enforcing security through sec. Its enforcement material (policy, TLS
// config, trusted-proxy set) is read from an atomically-swapped snapshot so
// reload_config never blocks or drops an in-flight request.
type Controller struct {
	handle   ports.ProxyHandle
	registry *enginesvc.Registry
	sec      *security.Service
	logger   *zap.Logger

	snapshot       snapshotHolder
	acmeChallenges sync.Map // token -> keyAuthorization

	httpServer  *http.Server
	httpsServer *http.Server
	listeners   []net.Listener
}

// NewController builds a Controller for handle, wiring its initial
// enforcement snapshot from policyDoc/tlsConfig/egress.
func NewController(handle ports.ProxyHandle, registry *enginesvc.Registry, sec *security.Service, logger *zap.Logger) *Controller {
	return &Controller{
		handle:   handle,
		registry: registry,
		sec:      sec,
		logger:   logger.Named("proxy").With(zap.String("handle_id", handle.ID)),
	}
}

// SetSnapshot installs a new enforcement snapshot via one atomic pointer
// store; in-flight requests keep referencing whatever snapshot they loaded
// at entry, per spec §4.5's reload_config semantics.
func (c *Controller) SetSnapshot(policyDoc security.PolicyDocument, tlsConfig *tls.Config, trustedProxyIPs []string, egress ports.EgressConfig) {
	c.snapshot.Store(&enforcementSnapshot{
		policyDoc:      policyDoc,
		tlsConfig:      tlsConfig,
		trustedProxies: newTrustedProxySet(trustedProxyIPs),
		dial:           newEgressDialer(egress),
		egress:         egress,
	})
}

func (c *Controller) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", c.withEnforcement(c.handleChatCompletions))
	mux.HandleFunc("/v1/models", c.withEnforcement(c.handleModels))
	mux.HandleFunc("/v1/embeddings", c.withEnforcement(c.handleEmbeddings))
	mux.HandleFunc(wellKnownACMEPathPrefix, c.handleACMEChallenge)
	return mux
}

// withEnforcement wraps a handler with the fixed-order pipeline from
// spec §4.6, loading the current snapshot once at request entry. Anomaly
// scoring (step 6) needs the completed response's status and latency, so it
// runs after next(sw, r) returns rather than as part of the pre-dispatch
// Enforce call.
func (c *Controller) withEnforcement(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		snap := c.snapshot.Load()
		if snap == nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "proxy not yet configured")
			return
		}

		ip := clientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), snap.trustedProxies)
		apiKey := bearerToken(r.Header.Get("Authorization"))
		headers := flattenHeaders(r.Header)
		bodyPrefix, bodySize := peekBodyPrefix(r)
		userAgent, userAgentPresent := headerValue(r.Header, "User-Agent")

		enforceIn := security.EnforceInput{
			IP: ip, Path: r.URL.Path, Query: r.URL.RawQuery, Method: r.Method,
			Headers: headers, BodyPrefix: bodyPrefix, BodySize: bodySize,
			ApiKeyHint: apiKey, UserAgent: userAgent, UserAgentPresent: userAgentPresent,
			IPWhitelist: snap.policyDoc.IPWhitelist,
		}

		decision := c.sec.Enforce(r.Context(), enforceIn)
		if !decision.Allow {
			if decision.RejectCode == flmerr.KindRateLimited && decision.RetryAfter > 0 {
				w.Header().Set("Retry-After", decision.RetryAfter.Round(time.Second).String())
			}
			writeError(w, statusForKind(decision.RejectCode), string(decision.RejectCode), decision.Reason)
			return
		}

		r.Header.Set("X-Forwarded-For", ip)
		r.Header.Set("X-Forwarded-Proto", schemeFor(r))
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = newRequestID()
			r.Header.Set("X-Request-Id", requestID)
		}

		apiKeyID := ""
		if decision.ApiKey != nil {
			apiKeyID = decision.ApiKey.ID
		}
		sw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		completed := time.Since(start)
		c.sec.AuditCompletion(r.Context(), requestID, apiKeyID, r.URL.Path, ip, sw.status, completed)

		enforceIn.Duration = completed
		enforceIn.Is404 = sw.status == http.StatusNotFound
		c.sec.ScoreAnomalies(r.Context(), enforceIn, apiKeyID)
	}
}

// flattenHeaders collapses net/http's multi-value header map to one value
// per key (the first), which is all the intrusion scan and header-count
// anomaly check need.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// headerValue returns a header's first value and whether the header key was
// present at all, distinguishing "absent" from "present but empty" the way
// http.Header.Get alone cannot.
func headerValue(h http.Header, key string) (value string, present bool) {
	v, ok := h[http.CanonicalHeaderKey(key)]
	if !ok || len(v) == 0 {
		return "", ok
	}
	return v[0], true
}

// peekBodyPrefix reads up to bodyPrefixLimit bytes from the request body for
// the intrusion scan and anomaly scorer to inspect, then restores r.Body so
// the engine driver downstream still sees the full, unconsumed body.
func peekBodyPrefix(r *http.Request) (prefix string, bodySize int64) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", 0
	}
	buf := make([]byte, bodyPrefixLimit)
	n, _ := io.ReadFull(r.Body, buf)
	prefix = string(buf[:n])

	bodySize = r.ContentLength
	if bodySize < 0 {
		bodySize = int64(n)
	}
	r.Body = prefixRestoredBody{
		Reader: io.MultiReader(bytes.NewReader(buf[:n]), r.Body),
		closer: r.Body,
	}
	return prefix, bodySize
}

// prefixRestoredBody re-threads a body whose first bytes were already read
// by peekBodyPrefix back into an io.ReadCloser, closing the original
// underlying body when the handler is done with it.
type prefixRestoredBody struct {
	io.Reader
	closer io.Closer
}

func (b prefixRestoredBody) Close() error {
	return b.closer.Close()
}

// statusCapturingWriter records the status code a handler actually wrote
// so the completion audit row (spec §4.5 step 5) reflects the real
// response, including the http.Flusher passthrough chat_stream needs.
type statusCapturingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusCapturingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusCapturingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func statusForKind(k flmerr.Kind) int {
	switch k {
	case flmerr.KindAuth:
		return http.StatusUnauthorized
	case flmerr.KindBlocked:
		return http.StatusForbidden
	case flmerr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

func schemeFor(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// Start binds the listener(s) for c.handle.Mode and begins serving.
// LocalHTTP binds one plaintext port; every TLS mode binds both a
// plaintext port (redirect + ACME challenge responder) and an HTTPS port.
// The two are split into startPlaintext/startTLS because spec §4.7's
// HTTP-01 flow needs the plaintext challenge responder live *before* a
// certificate exists to put on the HTTPS listener; Service.Start calls
// them separately for HttpsAcme and together (via Start) for every other
// mode.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.startPlaintext(ctx); err != nil {
		return err
	}
	if !isTLSMode(c.handle.Mode) {
		return nil
	}
	return c.startTLS(ctx)
}

// startPlaintext binds the plaintext port only. For TLS modes it serves
// the 301 redirect (with the ACME challenge path carved out); for
// LocalHttp it serves the full mux directly.
func (c *Controller) startPlaintext(ctx context.Context) error {
	addr := c.handle.ListenAddr
	if addr == "" {
		addr = "127.0.0.1"
	}

	httpAddr := net.JoinHostPort(addr, strconv.Itoa(c.handle.Port))
	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return flmerr.Wrap(flmerr.KindConfig, err, "binding http listener "+httpAddr)
	}
	c.listeners = append(c.listeners, httpLn)

	if !isTLSMode(c.handle.Mode) {
		c.httpServer = &http.Server{Handler: c.mux()}
	} else {
		c.httpServer = &http.Server{Handler: c.redirectHandler()}
	}
	go c.httpServer.Serve(httpLn)
	return nil
}

// startTLS binds the HTTPS listener using whatever TLS config is currently
// in the snapshot; the caller must have installed one via SetSnapshot
// first.
func (c *Controller) startTLS(ctx context.Context) error {
	addr := c.handle.ListenAddr
	if addr == "" {
		addr = "127.0.0.1"
	}

	httpsAddr := net.JoinHostPort(addr, strconv.Itoa(c.handle.HTTPSPort))
	httpsLn, err := net.Listen("tcp", httpsAddr)
	if err != nil {
		return flmerr.Wrap(flmerr.KindConfig, err, "binding https listener "+httpsAddr)
	}
	c.listeners = append(c.listeners, httpsLn)

	snap := c.snapshot.Load()
	var tlsConf *tls.Config
	if snap != nil {
		tlsConf = snap.tlsConfig
	}
	c.httpsServer = &http.Server{Handler: c.mux(), TLSConfig: tlsConf}
	tlsLn := tls.NewListener(httpsLn, tlsConf)
	go c.httpsServer.Serve(tlsLn)
	return nil
}

// redirectHandler serves 301 redirects to HTTPS on the plaintext port,
// except for ACME HTTP-01 challenges which must stay plaintext.
func (c *Controller) redirectHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wellKnownACMEPathPrefix, c.handleACMEChallenge)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		target := "https://" + r.Host
		if c.handle.HTTPSPort != 0 && c.handle.HTTPSPort != 443 {
			host, _, err := net.SplitHostPort(r.Host)
			if err != nil {
				host = r.Host
			}
			target = "https://" + net.JoinHostPort(host, strconv.Itoa(c.handle.HTTPSPort))
		}
		http.Redirect(w, r, target+r.URL.Path, http.StatusMovedPermanently)
	})
	return mux
}

// SetACMEChallenge registers a pending HTTP-01 key authorization, read by
// handleACMEChallenge when the ACME server requests it.
func (c *Controller) SetACMEChallenge(token, keyAuth string) {
	c.acmeChallenges.Store(token, keyAuth)
}

// ClearACMEChallenge removes a completed or abandoned challenge token.
func (c *Controller) ClearACMEChallenge(token string) {
	c.acmeChallenges.Delete(token)
}

func newRequestID() string {
	return uuid.NewString()
}

// Stop gracefully shuts down both listeners, releasing the sockets per
// spec §3's "either stop has been called and sockets are released" safety
// property.
func (c *Controller) Stop(ctx context.Context) error {
	var firstErr error
	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.httpsServer != nil {
		if err := c.httpsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

