// Package auditlog is the append-only, hash-chained action log of the relay.
//
// Every agent action becomes an Entry. Entries are chained by content
// identifier: each entry carries the CID of its predecessor, so removing or
// editing a line of the JSONL file breaks VerifyChain from that point on.
//
// Recording is advisory. Log.Record queues the event and returns at once; a
// full queue or a failing sink drops the entry with a warning instead of
// stalling the pipeline.
package auditlog
