package certsvc

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/smallstep/truststore"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
)

// RegisterRootCAWithOSTrustStore installs the root CA PEM into the
// platform's trust store, following spec §4.1's per-platform dispatch:
// Windows CurrentUser\Root with LocalMachine\Root fallback, macOS
// add-trusted-cert into the login keychain, Linux copy into
// /usr/local/share/ca-certificates plus update-ca-certificates with an
// update-ca-trust fallback. smallstep/truststore already implements the
// Windows/macOS certutil-based paths (the same library Caddy's local CA
// mode depends on); the Linux distro-update-command path is handled
// directly since truststore has no Linux backend.
func RegisterRootCAWithOSTrustStore(certPEM []byte, preferredFilename string) error {
	dir, err := os.MkdirTemp("", "flm-root-ca-*")
	if err != nil {
		return flmerr.Wrap(flmerr.KindCertificate, err, "create temp dir for trust store install")
	}
	defer os.RemoveAll(dir)

	certPath := filepath.Join(dir, preferredFilename)
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return flmerr.WithPath(flmerr.KindCertificate, err, certPath)
	}

	switch runtime.GOOS {
	case "windows", "darwin":
		if err := truststore.Install(certPath); err != nil {
			return elevatedPrivilegeError(err)
		}
		return nil
	case "linux":
		return installLinuxTrustStore(certPath, preferredFilename)
	default:
		return flmerr.New(flmerr.KindCertificate, fmt.Sprintf("unsupported platform %s for trust store install", runtime.GOOS))
	}
}

func installLinuxTrustStore(certPath, preferredFilename string) error {
	dest := filepath.Join("/usr/local/share/ca-certificates", preferredFilename)
	data, err := os.ReadFile(certPath)
	if err != nil {
		return flmerr.WithPath(flmerr.KindCertificate, err, certPath)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return elevatedPrivilegeError(flmerr.WithPath(flmerr.KindCertificate, err, dest))
	}

	if out, err := exec.Command("update-ca-certificates").CombinedOutput(); err == nil {
		return nil
	} else if fallbackOut, fallbackErr := exec.Command("update-ca-trust", "extract").CombinedOutput(); fallbackErr != nil {
		return flmerr.Wrap(flmerr.KindCertificate, fallbackErr,
			fmt.Sprintf("update-ca-certificates failed (%s) and update-ca-trust fallback also failed (%s)", out, fallbackOut))
	}
	return nil
}

// elevatedPrivilegeError reports the exact command the user should re-run
// with elevated privileges, per spec §4.1's requirement that trust-store
// permission failures never be silently ignored.
func elevatedPrivilegeError(cause error) error {
	var hint string
	switch runtime.GOOS {
	case "windows":
		hint = "re-run this command from an elevated (Administrator) PowerShell"
	case "darwin":
		hint = "re-run with sudo, or approve the Keychain Access prompt"
	case "linux":
		hint = "re-run with sudo (writes to /usr/local/share/ca-certificates require root)"
	default:
		hint = "re-run with elevated privileges"
	}
	return flmerr.Wrap(flmerr.KindCertificate, cause, "trust store installation failed: "+hint)
}
