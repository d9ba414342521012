package kms

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the minimum master secret length.
const MasterKeySize = 32

// HKDF info strings separating the derived secrets.
const (
	tokenSecretInfo = "agentsec/token-secret/v1"
	kdfSaltInfo     = "agentsec/kdf-salt/v1"
)

// Secrets are the deployment secrets shared by every tier.
type Secrets struct {
	// TokenSecret signs and verifies session tokens.
	TokenSecret []byte
	// Salt feeds the clearance key derivation.
	Salt []byte
}

// NewSecrets validates directly supplied secrets.
func NewSecrets(tokenSecret, salt string) (Secrets, error) {
	if tokenSecret == "" {
		return Secrets{}, errors.New("token secret is not set")
	}
	if salt == "" {
		return Secrets{}, errors.New("kdf salt is not set")
	}
	return Secrets{TokenSecret: []byte(tokenSecret), Salt: []byte(salt)}, nil
}

// DeriveSecrets expands a master secret into the deployment secrets.
func DeriveSecrets(masterKey []byte) (Secrets, error) {
	if len(masterKey) < MasterKeySize {
		return Secrets{}, fmt.Errorf("master key must be at least %d bytes", MasterKeySize)
	}

	tokenSecret, err := expand(masterKey, tokenSecretInfo)
	if err != nil {
		return Secrets{}, err
	}
	salt, err := expand(masterKey, kdfSaltInfo)
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{TokenSecret: tokenSecret, Salt: salt}, nil
}

func expand(masterKey []byte, info string) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("failed to derive %s: %w", info, err)
	}
	return out, nil
}
