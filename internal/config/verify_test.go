package config

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

// signFixture builds a Minisign key pair and a detached signature for data.
func signFixture(t *testing.T, data []byte) (pubKey string, signature string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyID := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	keyBlob := append(append([]byte("Ed"), keyID...), pub...)
	pubKey = "untrusted comment: minisign public key\n" + base64.StdEncoding.EncodeToString(keyBlob)

	sig := ed25519.Sign(priv, data)
	sigBlob := append(append([]byte("Ed"), keyID...), sig...)
	trusted := "scenario fixture"
	global := ed25519.Sign(priv, append(append([]byte(nil), sig...), []byte(trusted)...))
	signature = "untrusted comment: signature\n" +
		base64.StdEncoding.EncodeToString(sigBlob) + "\n" +
		"trusted comment: " + trusted + "\n" +
		base64.StdEncoding.EncodeToString(global)
	return pubKey, signature
}

func TestMinisignVerifierAcceptsSignedScenario(t *testing.T) {
	dir := t.TempDir()
	data := []byte(sampleYAML)
	pubKey, sig := signFixture(t, data)

	path := filepath.Join(dir, "scenario.yaml")
	sigPath := path + ".minisig"
	keyPath := filepath.Join(dir, "scenario.pub")
	for p, body := range map[string]string{path: sampleYAML, sigPath: sig + "\n", keyPath: pubKey} {
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	verifier, err := NewMinisignVerifierFromFile(keyPath)
	if err != nil {
		t.Fatalf("NewMinisignVerifierFromFile: %v", err)
	}
	ctx := context.Background()
	if err := verifier.Verify(ctx, path, sigPath); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	cfg, err := LoadVerified(ctx, path, sigPath, verifier)
	if err != nil {
		t.Fatalf("LoadVerified returned error: %v", err)
	}
	if cfg.Topology.Nodes != 6 {
		t.Fatalf("unexpected nodes: %d", cfg.Topology.Nodes)
	}
}

func TestMinisignVerifierRejectsTamperedScenario(t *testing.T) {
	dir := t.TempDir()
	pubKey, sig := signFixture(t, []byte(sampleYAML))

	tampered := filepath.Join(dir, "scenario.yaml")
	sigPath := tampered + ".minisig"
	if err := os.WriteFile(tampered, []byte(sampleYAML+"\n# edited\n"), 0o600); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	if err := os.WriteFile(sigPath, []byte(sig), 0o600); err != nil {
		t.Fatalf("write signature: %v", err)
	}

	verifier, err := NewMinisignVerifier(pubKey)
	if err != nil {
		t.Fatalf("NewMinisignVerifier: %v", err)
	}
	if err := verifier.Verify(context.Background(), tampered, sigPath); err == nil {
		t.Fatalf("expected verification failure for tampered scenario")
	}
	if _, err := LoadVerified(context.Background(), tampered, sigPath, verifier); err == nil {
		t.Fatalf("expected LoadVerified to refuse tampered scenario")
	}
}

func TestNewMinisignVerifierRequiresKey(t *testing.T) {
	if _, err := NewMinisignVerifier("  "); err == nil {
		t.Fatalf("expected error for empty key")
	}
	var v *MinisignVerifier
	if err := v.VerifyBytes(context.Background(), nil, "sig"); err == nil {
		t.Fatalf("expected error for nil verifier")
	}
}
