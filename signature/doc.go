// Package signature signs and verifies relay envelopes.
//
// An envelope moves through UNSIGNED -> SIGNED -> {VERIFIED, REJECTED}. The
// signature covers the SHA-256 digest of
//
//	message|sender|token|timestamp|id|kind|clearance_level|encrypted
//
// and is hex-encoded on the wire. Verification requires both a valid signature
// and a timestamp within the freshness window (300 seconds by default) of the
// verifier's clock, in either direction. With a replay guard enabled, an
// envelope identified by (kind, sender, id) verifies at most once inside the
// window; the window bounds how long the guard has to remember it.
package signature
