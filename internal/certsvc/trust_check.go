package certsvc

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// IsCertificateRegisteredInTrustStore reports whether certPEM's SHA-256
// fingerprint already appears in the platform's trust store, per
// spec §4.1's "mint/install" surface supplemented with a read-only
// verification step (no cert is installed or modified by this call).
// It never returns an error: an unreadable store or unsupported platform
// simply reads as "not registered", matching the original adapter's
// fail-to-false behavior.
func IsCertificateRegisteredInTrustStore(certPEM []byte) bool {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return false
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(cert.Raw)
	thumbprint := strings.ToUpper(hex.EncodeToString(sum[:]))

	switch runtime.GOOS {
	case "windows":
		return isRegisteredWindows(thumbprint)
	case "darwin":
		return isRegisteredDarwin(thumbprint)
	case "linux":
		return isRegisteredLinux(thumbprint)
	default:
		return false
	}
}

func isRegisteredWindows(thumbprint string) bool {
	for _, store := range []string{`Cert:\CurrentUser\Root`, `Cert:\LocalMachine\Root`} {
		script := `Get-ChildItem -Path ` + store + ` | Where-Object { $_.Thumbprint -eq '` + thumbprint + `' } | Select-Object -ExpandProperty Thumbprint`
		out, err := exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).CombinedOutput()
		if err == nil && strings.Contains(string(out), thumbprint) {
			return true
		}
	}
	return false
}

func isRegisteredDarwin(thumbprint string) bool {
	home, _ := os.UserHomeDir()
	keychains := []string{"/Library/Keychains/System.keychain"}
	if home != "" {
		keychains = append([]string{filepath.Join(home, "Library/Keychains/login.keychain-db")}, keychains...)
	}
	for _, kc := range keychains {
		out, err := exec.Command("security", "find-certificate", "-a", "-Z", kc).CombinedOutput()
		if err == nil && strings.Contains(strings.ToUpper(string(out)), thumbprint) {
			return true
		}
	}
	return false
}

func isRegisteredLinux(thumbprint string) bool {
	dirs := []string{
		"/usr/local/share/ca-certificates",
		"/etc/ssl/certs",
		"/etc/ca-certificates/trust-source/anchors",
	}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			block, _ := pem.Decode(data)
			if block == nil {
				continue
			}
			sum := sha256.Sum256(block.Bytes)
			if strings.ToUpper(hex.EncodeToString(sum[:])) == thumbprint {
				return true
			}
		}
	}
	return false
}
