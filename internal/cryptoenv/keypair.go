// Package cryptoenv implements Kapua's cryptographic envelope: the
// long-lived RSA-2048 keypair (generate/load/PEM-persist), the hybrid
// asymmetric wrap of a session key, and the AES-256-CBC symmetric primitive
// that protects a single datagram's payload.
//
// Grounded on sage/crypto/keys/rs256.go for RSA-2048 generation idiom, and
// the PEM/DER marshal shape used across the pack's RSA examples
// (crypto/x509 + crypto/rsa, never a third-party wrapper).
package cryptoenv

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// DefaultKeyBits is the RSA modulus size used for a node's long-lived
// identity key.
const DefaultKeyBits = 2048

// KeyPair is an opaque handle to a node's long-lived asymmetric identity.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair creates a fresh RSA key pair of the given bit size.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("cryptoenv: generate key pair: %w", err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// Save persists kp as two PEM files: PKCS#1 for the private key, PKIX for
// the public key, so keys interoperate across restarts and across any
// PEM-speaking tool.
func (kp *KeyPair) Save(pubPath, privPath string) error {
	privDER := x509.MarshalPKCS1PrivateKey(kp.Private)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("cryptoenv: write private key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(kp.Public)
	if err != nil {
		return fmt.Errorf("cryptoenv: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("cryptoenv: write public key: %w", err)
	}
	return nil
}

// LoadKeyPair loads a PEM-encoded key pair from disk. If privPath does not
// exist, the caller is expected to generate and persist a new pair first;
// LoadKeyPair itself never generates.
func LoadKeyPair(pubPath, privPath string) (*KeyPair, error) {
	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("cryptoenv: read private key: %w", err)
	}
	privBlock, _ := pem.Decode(privPEM)
	if privBlock == nil {
		return nil, fmt.Errorf("cryptoenv: %s is not valid PEM", privPath)
	}
	priv, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoenv: parse private key: %w", err)
	}

	pubPEM, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("cryptoenv: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("cryptoenv: %s is not valid PEM", pubPath)
	}
	pubAny, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoenv: parse public key: %w", err)
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("cryptoenv: %s does not contain an RSA public key", pubPath)
	}

	return &KeyPair{Private: priv, Public: pub}, nil
}

// LoadOrGenerateKeyPair is the node's startup key contract: if the private
// key file is missing, generate a fresh pair, persist it, then load it back,
// so the on-disk and in-memory representations are always proven to
// round-trip through PEM.
func LoadOrGenerateKeyPair(pubPath, privPath string, bits int) (*KeyPair, error) {
	if _, err := os.Stat(privPath); os.IsNotExist(err) {
		kp, err := GenerateKeyPair(bits)
		if err != nil {
			return nil, err
		}
		if err := kp.Save(pubPath, privPath); err != nil {
			return nil, err
		}
	}
	return LoadKeyPair(pubPath, privPath)
}
