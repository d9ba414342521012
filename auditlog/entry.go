package auditlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Outcome values recorded on entries.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// ErrBrokenChain is returned by VerifyChain when an entry does not link to its predecessor.
var ErrBrokenChain = errors.New("action log chain broken")

// Entry is one append-only action log record. CID is a CIDv1 (raw codec,
// sha2-256) over the JSON encoding of the entry with CID left empty. Prev is
// the CID of the preceding entry.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Prev      string    `json:"prev,omitempty"`
	CID       string    `json:"cid,omitempty"`
}

// ComputeCID derives the content identifier of the entry.
func (e Entry) ComputeCID() (cid.Cid, error) {
	e.CID = ""
	data, err := json.Marshal(e)
	if err != nil {
		return cid.Undef, err
	}
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// VerifyChain checks sequence numbers, prev links and CIDs of consecutive
// entries. The first entry may start mid-chain.
func VerifyChain(entries []Entry) error {
	for i, entry := range entries {
		computed, err := entry.ComputeCID()
		if err != nil {
			return fmt.Errorf("entry %d: %w", entry.Seq, err)
		}
		recorded, err := cid.Decode(entry.CID)
		if err != nil {
			return fmt.Errorf("%w: entry %d has invalid cid: %v", ErrBrokenChain, entry.Seq, err)
		}
		if !computed.Equals(recorded) {
			return fmt.Errorf("%w: entry %d content does not match cid %s", ErrBrokenChain, entry.Seq, entry.CID)
		}

		if i == 0 {
			if entry.Seq == 1 && entry.Prev != "" {
				return fmt.Errorf("%w: first entry links to %s", ErrBrokenChain, entry.Prev)
			}
			continue
		}

		previous := entries[i-1]
		if entry.Seq != previous.Seq+1 {
			return fmt.Errorf("%w: entry %d follows %d", ErrBrokenChain, entry.Seq, previous.Seq)
		}
		if entry.Prev != previous.CID {
			return fmt.Errorf("%w: entry %d links to %s, want %s", ErrBrokenChain, entry.Seq, entry.Prev, previous.CID)
		}
	}
	return nil
}

// ReadEntries decodes a JSONL action log.
func ReadEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
