// Package storage implements the clearance-gated content store and the
// snapshot backends it persists to.
//
// GatedStore keeps an ordered collection of interfaces.ContentItem values.
// Items above level zero are encrypted for (level, owner) on write; reads are
// refused when the requester clearance is below the item level and otherwise
// decrypted with the requester identity. Every mutation rewrites the whole
// collection as a JSON array through a SnapshotBackend.
//
// # Backend URI Format
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/agentsec/ (snapshot at content_store.json inside the directory)
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix/?region=us-west-2&endpoint=...
//   - vault://vault.example.com:8200/secret/agentsec/content?token=...
//   - ipfs://127.0.0.1:5001/agentsec
//
// Several locations can be combined through BackendFactory.CreateMultiBackend.
// The resulting backend saves to every reachable location and loads from the
// first one that holds a snapshot.
package storage
