// Package certsvc implements the Certificate Service (C2): root CA
// generation, server certificate issuance, file persistence, validity
// checks, and OS trust-store registration. Key generation and PEM
// marshaling follow the pattern exercised by Caddy's own PKI test suite
// (modules/caddypki/crypto_test.go), which drives go.step.sm/crypto's
// keyutil and pemutil packages rather than hand-rolled PEM encoding.
package certsvc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.step.sm/crypto/keyutil"
	"go.step.sm/crypto/pemutil"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
)

// RootCaInfo is the output of generate_root_ca.
type RootCaInfo struct {
	CertPEM     []byte
	KeyPEM      []byte
	Fingerprint string // SHA-256 of DER, hex with colon separators
	NotBefore   time.Time
	NotAfter    time.Time
}

// ServerCertInfo is the output of generate_server_cert.
type ServerCertInfo struct {
	CertPEM   []byte
	KeyPEM    []byte
	NotBefore time.Time
	NotAfter  time.Time
	SANs      []string
}

// rfc1918Representatives gives one address per private range, per spec
// §4.1's SAN set requirement.
var rfc1918Representatives = []string{"10.0.0.1", "172.16.0.1", "192.168.0.1"}

func fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// GenerateRootCA mints an ECDSA P-256 root CA certificate, basic
// constraints CA:true, key usage cert-sign + CRL-sign.
func GenerateRootCA(commonName string, validityDays int) (*RootCaInfo, error) {
	signer, err := keyutil.GenerateSigner("EC", "P-256", 0)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "generate root key")
	}

	notBefore := time.Now().UTC()
	notAfter := notBefore.Add(time.Duration(validityDays) * 24 * time.Hour)
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "generate serial number")
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"FLM Local Gateway"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, signer.Public(), signer)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "create root certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "parse root certificate")
	}

	certBlock, err := pemutil.Serialize(cert)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "serialize root certificate")
	}
	keyBlock, err := pemutil.Serialize(signer)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "serialize root key")
	}

	return &RootCaInfo{
		CertPEM:     pem.EncodeToMemory(certBlock),
		KeyPEM:      pem.EncodeToMemory(keyBlock),
		Fingerprint: fingerprint(der),
		NotBefore:   notBefore,
		NotAfter:    notAfter,
	}, nil
}

// GenerateServerCert mints a server certificate signed by the given root,
// with the mandatory SAN set (localhost, loopback addresses, one
// representative per RFC1918 range) merged with extraSAN, deduplicated.
func GenerateServerCert(rootPEM, rootKeyPEM []byte, cn string, validityDays int, extraSAN []string) (*ServerCertInfo, error) {
	rootCerts, err := pemutil.ParseCertificateBundle(rootPEM)
	if err != nil || len(rootCerts) == 0 {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "parse root certificate")
	}
	root := rootCerts[0]

	rootSigner, err := pemutil.ParseKey(rootKeyPEM)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "parse root key")
	}
	rootKey, ok := rootSigner.(crypto.Signer)
	if !ok {
		return nil, flmerr.New(flmerr.KindCertificate, "root key is not a signer")
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "generate server key")
	}

	sanSet := map[string]struct{}{
		"localhost": {}, "127.0.0.1": {}, "::1": {},
	}
	for _, rep := range rfc1918Representatives {
		sanSet[rep] = struct{}{}
	}
	for _, s := range extraSAN {
		sanSet[s] = struct{}{}
	}

	names := make([]string, 0, len(sanSet))
	for s := range sanSet {
		names = append(names, s)
	}
	sort.Strings(names)

	var dnsNames []string
	var ipAddrs []net.IP
	for _, n := range names {
		if ip := net.ParseIP(n); ip != nil {
			ipAddrs = append(ipAddrs, ip)
		} else {
			dnsNames = append(dnsNames, n)
		}
	}

	notBefore := time.Now().UTC()
	notAfter := notBefore.Add(time.Duration(validityDays) * 24 * time.Hour)
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "generate serial number")
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dnsNames,
		IPAddresses:  ipAddrs,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, root, leafKey.Public(), rootKey)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "create server certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "parse server certificate")
	}

	certBlock, err := pemutil.Serialize(cert)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "serialize server certificate")
	}
	keyBlock, err := pemutil.Serialize(leafKey)
	if err != nil {
		return nil, flmerr.Wrap(flmerr.KindCertificate, err, "serialize server key")
	}

	return &ServerCertInfo{
		CertPEM:   pem.EncodeToMemory(certBlock),
		KeyPEM:    pem.EncodeToMemory(keyBlock),
		NotBefore: notBefore,
		NotAfter:  notAfter,
		SANs:      names,
	}, nil
}

// SaveCertificateFiles writes cert_pem/key_pem under dir, restricting the
// key file to 0600 on POSIX, and returns the certificate path.
func SaveCertificateFiles(dir string, certPEM, keyPEM []byte, certName, keyName string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", flmerr.WithPath(flmerr.KindCertificate, err, dir)
	}
	certPath := filepath.Join(dir, certName)
	keyPath := filepath.Join(dir, keyName)

	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return "", flmerr.WithPath(flmerr.KindCertificate, err, certPath)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return "", flmerr.WithPath(flmerr.KindCertificate, err, keyPath)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(keyPath, 0o600); err != nil {
			return "", flmerr.WithPath(flmerr.KindCertificate, err, keyPath)
		}
	}
	return certPath, nil
}

// IsCertificateValid reports whether pemBytes parses as a certificate and
// now falls within its validity window.
func IsCertificateValid(pemBytes []byte) bool {
	certs, err := pemutil.ParseCertificateBundle(pemBytes)
	if err != nil || len(certs) == 0 {
		return false
	}
	now := time.Now()
	cert := certs[0]
	return !now.Before(cert.NotBefore) && now.Before(cert.NotAfter)
}
