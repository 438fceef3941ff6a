/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package bundle packages a run's artifacts into a signed delivery bundle
// (spec.md §1 "package a signed delivery bundle"). The bundle is an OCI
// image layout on local disk — grounded on legator's
// internal/skills.RegistryClient.Push (oras.PushBytes layer upload,
// oras.PackManifest manifest assembly, store.Tag) but targeting a local
// oci.Store instead of a remote registry, since Swarm1 has no registry
// component and the spec only calls for an artifact a downstream consumer
// can verify off disk.
//
// Signing uses ed25519 rather than the teacher's HMAC-SHA256
// internal/shared/signing.Signer: a delivery bundle is verified by a
// downstream consumer that never shares a secret with the producer, so a
// public-key scheme is the correct fit (see DESIGN.md). The teacher's
// DeriveProbeKey derive-from-master-key idea is kept in spirit via HKDF.
package bundle

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/crypto/hkdf"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/oci"
)

const (
	// MediaTypeConfig is the bundle's config blob media type.
	MediaTypeConfig = "application/vnd.swarm1.bundle.config.v1+json"
	// MediaTypeArtifact is the media type of each packaged artifact
	// layer (a gzip tar of one AUV's artifact tree).
	MediaTypeArtifact = "application/vnd.swarm1.bundle.artifact.v1.tar+gzip"
	// ArtifactType is the OCI artifact type for the manifest.
	ArtifactType = "application/vnd.swarm1.bundle.v1"

	// manifestSignatureAnnotation carries the detached ed25519 signature
	// over the manifest digest, base64-less (hex) for readability.
	manifestSignatureAnnotation = "swarm1.signature.ed25519"
	// manifestSignerAnnotation carries the hex-encoded public key that
	// can verify the signature.
	manifestSignerAnnotation = "swarm1.signature.public_key"
)

// Config is the bundle's config blob: which AUVs it delivers and when it
// was built.
type Config struct {
	ProjectID string   `json:"project_id"`
	RunID     string   `json:"run_id"`
	AUVIDs    []string `json:"auv_ids"`
	BuiltAt   string   `json:"built_at"`
}

// Signer holds an ed25519 keypair used to sign delivery bundles.
type Signer struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// DeriveSigner derives a deterministic ed25519 signer from an operator
// passphrase via HKDF-SHA256, so operators don't need to generate and
// store a raw 32-byte seed out of band.
func DeriveSigner(passphrase string, salt []byte) (*Signer, error) {
	reader := hkdf.New(sha256.New, []byte(passphrase), salt, []byte("swarm1-bundle-signing"))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("derive signing seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// PublicKey returns the signer's public key, distributed to verifiers.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.public }

// BuildResult describes a packaged bundle.
type BuildResult struct {
	Path            string `json:"path"`
	ManifestDigest  string `json:"manifest_digest"`
	Signature       string `json:"signature"`
	PublicKey       string `json:"public_key"`
	ArtifactCount   int    `json:"artifact_count"`
}

// Build packages artifactDirs (one directory per AUV) into an OCI image
// layout at outDir, tags it, and signs the resulting manifest digest.
func Build(ctx context.Context, outDir string, cfg Config, artifactDirs map[string]string, signer *Signer) (*BuildResult, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create bundle dir: %w", err)
	}
	store, err := oci.New(outDir)
	if err != nil {
		return nil, fmt.Errorf("open oci store: %w", err)
	}

	configBytes, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	configDesc, err := oras.PushBytes(ctx, store, MediaTypeConfig, configBytes)
	if err != nil {
		return nil, fmt.Errorf("push config: %w", err)
	}

	auvIDs := make([]string, 0, len(artifactDirs))
	for id := range artifactDirs {
		auvIDs = append(auvIDs, id)
	}
	sort.Strings(auvIDs)

	layers := make([]ocispec.Descriptor, 0, len(auvIDs))
	for _, id := range auvIDs {
		data, err := tarGzWalk(artifactDirs[id])
		if err != nil {
			return nil, fmt.Errorf("package artifacts for %s: %w", id, err)
		}
		desc, err := oras.PushBytes(ctx, store, MediaTypeArtifact, data)
		if err != nil {
			return nil, fmt.Errorf("push artifact layer for %s: %w", id, err)
		}
		desc.Annotations = map[string]string{ocispec.AnnotationTitle: id}
		layers = append(layers, desc)
	}

	manifestDesc, err := oras.PackManifest(ctx, store, oras.PackManifestVersion1_1, ArtifactType, oras.PackManifestOptions{
		ConfigDescriptor: &configDesc,
		Layers:           layers,
	})
	if err != nil {
		return nil, fmt.Errorf("pack manifest: %w", err)
	}

	sig := ed25519.Sign(signer.private, []byte(manifestDesc.Digest.String()))
	manifestDesc.Annotations = map[string]string{
		manifestSignatureAnnotation: hex.EncodeToString(sig),
		manifestSignerAnnotation:    hex.EncodeToString(signer.public),
	}

	tag := cfg.RunID
	if tag == "" {
		tag = "latest"
	}
	if err := store.Tag(ctx, manifestDesc, tag); err != nil {
		return nil, fmt.Errorf("tag manifest: %w", err)
	}

	return &BuildResult{
		Path:           outDir,
		ManifestDigest: manifestDesc.Digest.String(),
		Signature:      hex.EncodeToString(sig),
		PublicKey:      hex.EncodeToString(signer.public),
		ArtifactCount:  len(layers),
	}, nil
}

// Verify checks that signature (hex) over digest was produced by the
// holder of publicKey (hex).
func Verify(digest, signatureHex, publicKeyHex string) (bool, error) {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size %d", len(pub))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(digest), sig), nil
}
