// Package keys owns the tool's signing key pair and resolves the public
// keys of launch platforms, either from a JWKS endpoint or from locally
// stored key material.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ToolKeyID is the fixed kid carried in the header of every token the
// tool signs (state tokens, session tokens, deep-linking responses).
const ToolKeyID = "classbridge-tool-1"

// KeyPair is the tool's long-lived RSA pair.
type KeyPair struct {
	KID        string
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// GenerateKeyPair creates a fresh RSA-2048 pair under the fixed tool kid.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("keys: rsa generate: %w", err)
	}
	return &KeyPair{KID: ToolKeyID, PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// LoadKeyPair reads a PKCS#1 or PKCS#8 RSA private key PEM from disk.
func LoadKeyPair(privatePEMPath string) (*KeyPair, error) {
	data, err := os.ReadFile(privatePEMPath)
	if err != nil {
		return nil, fmt.Errorf("keys: read private key: %w", err)
	}
	priv, err := ParseRSAPrivatePEM(data)
	if err != nil {
		return nil, err
	}
	return &KeyPair{KID: ToolKeyID, PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// LoadOrGenerate prefers the configured PEM path and falls back to a
// generated pair when the path is empty.
func LoadOrGenerate(privatePEMPath string) (*KeyPair, error) {
	if privatePEMPath != "" {
		return LoadKeyPair(privatePEMPath)
	}
	return GenerateKeyPair()
}

// ParseRSAPrivatePEM accepts "RSA PRIVATE KEY" (PKCS#1) and
// "PRIVATE KEY" (PKCS#8) blocks.
func ParseRSAPrivatePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("keys: no PEM block in private key data")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse private key: %w", err)
	}
	rk, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("keys: private key is not RSA")
	}
	return rk, nil
}

// ParseRSAPublicPEM accepts "PUBLIC KEY" (PKIX) and "RSA PUBLIC KEY"
// (PKCS#1) blocks.
func ParseRSAPublicPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("keys: no PEM block in public key data")
	}
	if k, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return k, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse public key: %w", err)
	}
	rk, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("keys: public key is not RSA")
	}
	return rk, nil
}

// ExportPublicPEM renders the public half as a PKIX "PUBLIC KEY" block.
func (kp *KeyPair) ExportPublicPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.PublicKey)
	if err != nil {
		return "", fmt.Errorf("keys: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
