package tls

import (
	standardtls "crypto/tls"
	"crypto/x509"
	"testing"
	"time"
)

func TestLoad_SelfSigned(t *testing.T) {
	t.Parallel()

	tlsConfig, err := Load("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tlsConfig == nil {
		t.Fatal("TLS config is nil")
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Fatalf("Certificates: got %d, want 1", len(tlsConfig.Certificates))
	}
	if tlsConfig.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2 (%d)", tlsConfig.MinVersion, standardtls.VersionTLS12)
	}

	leaf, err := x509.ParseCertificate(tlsConfig.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	if leaf.Subject.CommonName != "localhost" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "localhost")
	}

	validDuration := leaf.NotAfter.Sub(leaf.NotBefore)
	expected := 365 * 24 * time.Hour
	if validDuration < expected-time.Hour || validDuration > expected+time.Hour {
		t.Errorf("validity duration: got %v, want approximately %v", validDuration, expected)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()

	if _, err := Load("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Error("expected error for nonexistent files, got nil")
	}
}
