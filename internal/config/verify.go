package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	minisign "github.com/jedisct1/go-minisign"
)

// MinisignVerifier checks detached Minisign signatures of scenario files.
type MinisignVerifier struct {
	publicKey minisign.PublicKey
}

// NewMinisignVerifier parses a Minisign public key including its comment line.
func NewMinisignVerifier(pubKey string) (*MinisignVerifier, error) {
	pubKey = strings.TrimSpace(pubKey)
	if pubKey == "" {
		return nil, errors.New("minisign public key is required")
	}
	publicKey, err := minisign.DecodePublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("parse minisign public key: %w", err)
	}
	return &MinisignVerifier{publicKey: publicKey}, nil
}

// NewMinisignVerifierFromFile reads the public key from path.
func NewMinisignVerifierFromFile(path string) (*MinisignVerifier, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read public key %q: %w", path, err)
	}
	return NewMinisignVerifier(string(data))
}

// Verify reads the file and its detached signature from disk.
func (v *MinisignVerifier) Verify(ctx context.Context, path, signaturePath string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("scenario path is required")
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read scenario %q: %w", path, err)
	}
	return v.VerifyBytes(ctx, data, signaturePath)
}

// VerifyBytes validates data against the signature stored at signaturePath.
func (v *MinisignVerifier) VerifyBytes(ctx context.Context, data []byte, signaturePath string) error {
	if v == nil {
		return errors.New("signature verifier not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(signaturePath) == "" {
		return errors.New("signature path is required")
	}
	raw, err := os.ReadFile(filepath.Clean(signaturePath))
	if err != nil {
		return fmt.Errorf("read signature %q: %w", signaturePath, err)
	}
	signature, err := minisign.DecodeSignature(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("decode signature %q: %w", signaturePath, err)
	}
	ok, err := v.publicKey.Verify(data, signature)
	if err != nil {
		return fmt.Errorf("verify signature %q: %w", signaturePath, err)
	}
	if !ok {
		return errors.New("signature verification failed")
	}
	return nil
}

// LoadVerified reads a scenario once, checks its signature and parses it.
func LoadVerified(ctx context.Context, path, signaturePath string, v *MinisignVerifier) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read scenario %q: %w", path, err)
	}
	if err := v.VerifyBytes(ctx, data, signaturePath); err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}
