package kms

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ruteri/agentsec-relay/cryptoutils"
	"github.com/ruteri/agentsec-relay/interfaces"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 iteration count.
	DefaultIterations = 100_000
	// MinIterations is the lowest accepted PBKDF2 iteration count.
	MinIterations = 100_000
	// KeySize is the derived key length (AES-256).
	KeySize = 32
)

// Encryptor is the clearance-keyed encryption service.
type Encryptor struct {
	salt       []byte
	iterations int
	registry   interfaces.ClearanceRegistry

	keys sync.Map // "level|identity" -> []byte
}

// NewEncryptor creates an encryption service. iterations below MinIterations
// are rejected; zero selects DefaultIterations.
func NewEncryptor(salt []byte, iterations int, registry interfaces.ClearanceRegistry) (*Encryptor, error) {
	if len(salt) == 0 {
		return nil, errors.New("kdf salt must not be empty")
	}
	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < MinIterations {
		return nil, fmt.Errorf("kdf iterations %d below minimum %d", iterations, MinIterations)
	}
	return &Encryptor{
		salt:       append([]byte(nil), salt...),
		iterations: iterations,
		registry:   registry,
	}, nil
}

// DeriveKey returns the 32-byte key for (level, identity).
func (e *Encryptor) DeriveKey(level interfaces.ClearanceLevel, identity string) []byte {
	password := identity + "_" + strconv.Itoa(int(level))
	if cached, ok := e.keys.Load(password); ok {
		return cached.([]byte)
	}

	key := pbkdf2.Key([]byte(password), e.salt, e.iterations, KeySize, sha256.New)
	actual, _ := e.keys.LoadOrStore(password, key)
	return actual.([]byte)
}

// Encrypt seals plaintext under the key for (level, identity).
func (e *Encryptor) Encrypt(plaintext string, level interfaces.ClearanceLevel, identity string) (string, error) {
	sealed, err := cryptoutils.SealAESGCM(e.DeriveKey(level, identity), []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext with the key for the identity's registry level.
func (e *Encryptor) Decrypt(ciphertext string, identity string) (string, error) {
	return e.DecryptAt(ciphertext, e.registry.ClearanceLevel(identity), identity)
}

// DecryptAt opens ciphertext with the key for an explicit (level, identity).
func (e *Encryptor) DecryptAt(ciphertext string, level interfaces.ClearanceLevel, identity string) (string, error) {
	sealed, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", interfaces.ErrDecryptionFailure)
	}

	plaintext, err := cryptoutils.OpenAESGCM(e.DeriveKey(level, identity), sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrDecryptionFailure, err)
	}
	return string(plaintext), nil
}
