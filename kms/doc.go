// Package kms provides the clearance-keyed encryption service and the
// management of deployment secrets.
//
// # Encryption Service
//
// Encryptor implements interfaces.Cipher. Keys are derived with
// PBKDF2-HMAC-SHA256 from the password "{identity}_{level}" and the
// deployment salt:
//
//	key = PBKDF2(sha256, identity + "_" + level, salt, 100000, 32)
//
// Payloads are sealed with AES-256-GCM under a random nonce and encoded as
// base64url text. Decryption always re-derives the key from the
// identity's registry level, so ciphertext produced for a higher level than
// the identity holds fails with ErrDecryptionFailure.
//
// Derived keys are deterministic and memoised per (level, identity).
//
// # Deployment Secrets
//
// Secrets carries the token signing secret and the key-derivation salt. They
// are either supplied directly (SECRET_KEY and SALT_VALUE) or derived with
// HKDF-SHA256 from a master secret.
//
// # ShamirKeeper
//
// The master secret can be protected with Shamir's Secret Sharing. It is split
// into N shares, one per administrator, and a threshold M of them is required
// to reconstruct it:
//
//   - Split into N shares, requiring M (threshold) shares to reconstruct
//   - Each share handed to a different administrator, sealed to their key
//   - Shares submitted back with a signature by the administrator's key
//   - Reconstructed secret kept only in memory
//
// Administrator keys may use any signature scheme supported by cryptoutils.
package kms
