package certsvc

import (
	"testing"
)

func TestGenerateRootCA(t *testing.T) {
	root, err := GenerateRootCA("FLM Test Root", 30)
	if err != nil {
		t.Fatalf("GenerateRootCA: %v", err)
	}
	if len(root.CertPEM) == 0 || len(root.KeyPEM) == 0 {
		t.Fatal("expected non-empty cert/key PEM")
	}
	if root.Fingerprint == "" {
		t.Fatal("expected a fingerprint")
	}
	if !root.NotAfter.After(root.NotBefore) {
		t.Fatal("expected NotAfter after NotBefore")
	}
	if !IsCertificateValid(root.CertPEM) {
		t.Fatal("expected freshly minted root to be valid")
	}
}

func TestGenerateServerCert_MandatorySANs(t *testing.T) {
	root, err := GenerateRootCA("FLM Test Root", 30)
	if err != nil {
		t.Fatalf("GenerateRootCA: %v", err)
	}
	leaf, err := GenerateServerCert(root.CertPEM, root.KeyPEM, "flm.local", 7, []string{"extra.example.com"})
	if err != nil {
		t.Fatalf("GenerateServerCert: %v", err)
	}

	want := []string{"localhost", "127.0.0.1", "::1", "10.0.0.1", "172.16.0.1", "192.168.0.1", "extra.example.com"}
	for _, w := range want {
		found := false
		for _, san := range leaf.SANs {
			if san == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected SAN %q to be present, got %v", w, leaf.SANs)
		}
	}
	if !IsCertificateValid(leaf.CertPEM) {
		t.Fatal("expected freshly minted leaf to be valid")
	}
}

func TestIsCertificateValid_Expired(t *testing.T) {
	root, err := GenerateRootCA("FLM Test Root", -1)
	if err != nil {
		t.Fatalf("GenerateRootCA: %v", err)
	}
	if IsCertificateValid(root.CertPEM) {
		t.Fatal("expected an already-expired certificate to be invalid")
	}
}

func TestSaveCertificateFiles(t *testing.T) {
	root, err := GenerateRootCA("FLM Test Root", 30)
	if err != nil {
		t.Fatalf("GenerateRootCA: %v", err)
	}
	dir := t.TempDir()
	certPath, err := SaveCertificateFiles(dir, root.CertPEM, root.KeyPEM, "root.pem", "root.key")
	if err != nil {
		t.Fatalf("SaveCertificateFiles: %v", err)
	}
	if certPath == "" {
		t.Fatal("expected non-empty cert path")
	}
}
