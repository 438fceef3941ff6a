package bundle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDeriveSignerIsDeterministic(t *testing.T) {
	a, err := DeriveSigner("hunter2", []byte("salt"))
	if err != nil {
		t.Fatalf("DeriveSigner: %v", err)
	}
	b, err := DeriveSigner("hunter2", []byte("salt"))
	if err != nil {
		t.Fatalf("DeriveSigner: %v", err)
	}
	if string(a.PublicKey()) != string(b.PublicKey()) {
		t.Fatal("expected identical passphrase+salt to derive identical keys")
	}

	c, err := DeriveSigner("different", []byte("salt"))
	if err != nil {
		t.Fatalf("DeriveSigner: %v", err)
	}
	if string(a.PublicKey()) == string(c.PublicKey()) {
		t.Fatal("expected different passphrase to derive different keys")
	}
}

func TestBuildAndVerify(t *testing.T) {
	dir := t.TempDir()
	auvDir := filepath.Join(dir, "auv-101", "api")
	if err := os.MkdirAll(auvDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(auvDir, "result.json"), []byte(`{"ok":true}`), 0o644); err != nil {
		t.Fatal(err)
	}

	signer, err := DeriveSigner("passphrase", []byte("fixed-salt"))
	if err != nil {
		t.Fatalf("DeriveSigner: %v", err)
	}

	outDir := t.TempDir()
	result, err := Build(context.Background(), outDir, Config{
		ProjectID: "demo",
		RunID:     "RUN-2026-07-29-ab12",
		AUVIDs:    []string{"auv-101"},
	}, map[string]string{"auv-101": filepath.Join(dir, "auv-101")}, signer)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.ArtifactCount != 1 {
		t.Fatalf("expected 1 artifact layer, got %d", result.ArtifactCount)
	}

	ok, err := Verify(result.ManifestDigest, result.Signature, result.PublicKey)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}

	tampered, err := Verify(result.ManifestDigest, result.Signature, result.PublicKey[:len(result.PublicKey)-2]+"ab")
	if err == nil && tampered {
		t.Fatal("expected verification against a different key to fail")
	}
}
