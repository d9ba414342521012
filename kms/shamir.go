package kms

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/agentsec-relay/cryptoutils"
)

var (
	ErrLocked          = errors.New("secrets are locked - need more shares to unlock")
	ErrAlreadyUnlocked = errors.New("secrets are already unlocked")
	ErrUnknownAdmin    = errors.New("unregistered admin public key")
	ErrInvalidShareSig = errors.New("invalid share signature")
)

// ShamirKeeper holds the master secret protected by Shamir's Secret Sharing.
//
// In recovery mode the keeper starts locked and collects admin-signed shares;
// once the threshold is reached the master secret is reconstructed, kept only
// in memory, and the deployment secrets are derived from it.
type ShamirKeeper struct {
	mu             sync.RWMutex
	masterKey      []byte
	isUnlocked     bool
	threshold      int
	receivedShares map[int][]byte

	adminPubKeys map[string]cryptoutils.VerifyingKey // fingerprint -> key
	adminPEMs    map[string][]byte

	unlocked chan struct{}
}

// ShamirConfig contains configuration parameters for a ShamirKeeper.
type ShamirConfig struct {
	// Threshold is the minimum number of shares required to reconstruct the master key
	Threshold int
	// AdminPubKeys is the list of authorized administrator public keys in PEM format
	AdminPubKeys [][]byte
}

// Fingerprint identifies an admin public key.
func Fingerprint(publicKeyPEM []byte) string {
	sum := sha256.Sum256(publicKeyPEM)
	return hex.EncodeToString(sum[:])
}

func newKeeper(config ShamirConfig) (*ShamirKeeper, error) {
	if config.Threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if len(config.AdminPubKeys) < config.Threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	k := &ShamirKeeper{
		threshold:      config.Threshold,
		receivedShares: make(map[int][]byte),
		adminPubKeys:   make(map[string]cryptoutils.VerifyingKey),
		adminPEMs:      make(map[string][]byte),
		unlocked:       make(chan struct{}),
	}

	for _, publicKeyPEM := range config.AdminPubKeys {
		key, err := cryptoutils.ParsePublicKeyPEM(publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("invalid admin pubkey: %w", err)
		}
		fingerprint := Fingerprint(publicKeyPEM)
		k.adminPubKeys[fingerprint] = key
		k.adminPEMs[fingerprint] = publicKeyPEM
	}
	return k, nil
}

// NewShamirKeeper splits masterKey into one share per admin key. The returned
// keeper is unlocked; the caller must distribute the shares and discard masterKey.
func NewShamirKeeper(masterKey []byte, config ShamirConfig) (*ShamirKeeper, [][]byte, error) {
	if len(masterKey) < MasterKeySize {
		return nil, nil, fmt.Errorf("master key must be at least %d bytes", MasterKeySize)
	}

	k, err := newKeeper(config)
	if err != nil {
		return nil, nil, err
	}

	shares, err := shamir.Split(masterKey, len(config.AdminPubKeys), config.Threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to split master key: %w", err)
	}

	k.masterKey = append([]byte(nil), masterKey...)
	k.isUnlocked = true
	close(k.unlocked)
	return k, shares, nil
}

// NewShamirKeeperRecovery creates a locked keeper waiting for shares.
func NewShamirKeeperRecovery(config ShamirConfig) (*ShamirKeeper, error) {
	return newKeeper(config)
}

// SubmitShare verifies the admin signature over the share and records it.
// When the threshold is reached the master key is reconstructed.
func (k *ShamirKeeper) SubmitShare(shareIndex int, share, signature, adminPubKeyPEM []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.isUnlocked {
		return ErrAlreadyUnlocked
	}

	fingerprint := Fingerprint(adminPubKeyPEM)
	pubKey, found := k.adminPubKeys[fingerprint]
	if !found {
		return ErrUnknownAdmin
	}
	if !bytes.Equal(k.adminPEMs[fingerprint], adminPubKeyPEM) {
		return errors.New("invalid pubkey passed for a matching fingerprint")
	}

	digest := sha256.Sum256(share)
	if !pubKey.Verify(digest[:], signature) {
		return ErrInvalidShareSig
	}

	k.receivedShares[shareIndex] = append([]byte(nil), share...)
	return k.tryReconstruct()
}

func (k *ShamirKeeper) tryReconstruct() error {
	if len(k.receivedShares) < k.threshold {
		return nil
	}

	shares := make([][]byte, 0, len(k.receivedShares))
	for _, share := range k.receivedShares {
		shares = append(shares, share)
	}

	masterKey, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct master key: %w", err)
	}

	k.masterKey = masterKey
	k.isUnlocked = true
	close(k.unlocked)

	for i := range k.receivedShares {
		wipeBytes(k.receivedShares[i])
	}
	k.receivedShares = make(map[int][]byte)
	return nil
}

// IsUnlocked reports whether the master key is available.
func (k *ShamirKeeper) IsUnlocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.isUnlocked
}

// Threshold returns the number of shares needed.
func (k *ShamirKeeper) Threshold() int {
	return k.threshold
}

// TotalShares returns the number of registered admins.
func (k *ShamirKeeper) TotalShares() int {
	return len(k.adminPubKeys)
}

// ReceivedShares returns how many shares are pending reconstruction.
func (k *ShamirKeeper) ReceivedShares() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.receivedShares)
}

// AdminKey returns the registered PEM key with the given fingerprint.
func (k *ShamirKeeper) AdminKey(fingerprint string) ([]byte, bool) {
	pem, ok := k.adminPEMs[fingerprint]
	return pem, ok
}

// Wait blocks until the keeper is unlocked or ctx is done.
func (k *ShamirKeeper) Wait(ctx context.Context) error {
	select {
	case <-k.unlocked:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Secrets derives the deployment secrets from the master key.
func (k *ShamirKeeper) Secrets() (Secrets, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if !k.isUnlocked {
		return Secrets{}, ErrLocked
	}
	return DeriveSecrets(k.masterKey)
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// SignShare signs sha256(share) with an administrator's key.
func SignShare(share []byte, key cryptoutils.SigningKey) ([]byte, error) {
	digest := sha256.Sum256(share)
	return key.Sign(digest[:])
}
