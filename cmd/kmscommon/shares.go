package kmscommon

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ruteri/agentsec-relay/api"
	"github.com/ruteri/agentsec-relay/cryptoutils"
	"github.com/ruteri/agentsec-relay/kms"
)

// NewMasterKey returns a random master secret.
func NewMasterKey() ([]byte, error) {
	masterKey := make([]byte, kms.MasterKeySize)
	if _, err := rand.Read(masterKey); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	return masterKey, nil
}

// SplitSealed splits masterKey into one share per admin and seals every
// share to its admin's public key. Admin keys must be P-256.
func SplitSealed(masterKey []byte, threshold int, admins []AdminKey) ([]api.SealedShare, error) {
	_, shares, err := kms.NewShamirKeeper(masterKey, kms.ShamirConfig{
		Threshold:    threshold,
		AdminPubKeys: PEMs(admins),
	})
	if err != nil {
		return nil, err
	}

	sealed := make([]api.SealedShare, len(shares))
	for i, share := range shares {
		ct, err := cryptoutils.SealForRecipient([]byte(admins[i].PublicKey), share)
		if err != nil {
			return nil, fmt.Errorf("could not seal share for admin %d (%s): %w", i, admins[i].ID, err)
		}
		sealed[i] = api.SealedShare{
			ShareIndex: i,
			AdminID:    admins[i].ID,
			AdminKey:   admins[i].PublicKey,
			Sealed:     base64.StdEncoding.EncodeToString(ct),
		}
	}
	return sealed, nil
}

// OpenAndSign decrypts a sealed share with the admin's private key and signs
// it for submission to the bootstrap API.
func OpenAndSign(sealed api.SealedShare, adminPrivPEM []byte) (api.ShareSubmission, error) {
	if sealed.AdminKey == "" {
		return api.ShareSubmission{}, errors.New("sealed share carries no admin key")
	}
	key, _, err := cryptoutils.ParseKeyPair(adminPrivPEM, []byte(sealed.AdminKey))
	if err != nil {
		return api.ShareSubmission{}, fmt.Errorf("private key does not belong to the share's admin: %w", err)
	}

	ct, err := base64.StdEncoding.DecodeString(sealed.Sealed)
	if err != nil {
		return api.ShareSubmission{}, fmt.Errorf("invalid sealed share encoding: %w", err)
	}
	share, err := cryptoutils.OpenAsRecipient(adminPrivPEM, ct)
	if err != nil {
		return api.ShareSubmission{}, fmt.Errorf("could not open share: %w", err)
	}

	sig, err := kms.SignShare(share, key)
	if err != nil {
		return api.ShareSubmission{}, fmt.Errorf("could not sign share: %w", err)
	}

	return api.ShareSubmission{
		ShareIndex: sealed.ShareIndex,
		Share:      base64.StdEncoding.EncodeToString(share),
		Signature:  base64.StdEncoding.EncodeToString(sig),
		AdminKey:   sealed.AdminKey,
	}, nil
}
