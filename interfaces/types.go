package interfaces

import (
	"fmt"
	"strconv"
	"time"
)

// ClearanceLevel is an integer trust rank gating read and decrypt access.
type ClearanceLevel int

const (
	// Unclassified data is readable by anyone and stored in plaintext.
	Unclassified ClearanceLevel = iota
	// EdgeClearance is the rank of edge agents.
	EdgeClearance
	// AuditorClearance is the rank of auditor agents.
	AuditorClearance
	// CoreClearance is the rank of core agents.
	CoreClearance
)

// MaxClearance is the highest defined clearance level.
const MaxClearance = CoreClearance

// Valid reports whether the level is within the defined range.
func (l ClearanceLevel) Valid() bool {
	return l >= Unclassified && l <= MaxClearance
}

// String returns the tier name for the level.
func (l ClearanceLevel) String() string {
	switch l {
	case Unclassified:
		return "unclassified"
	case EdgeClearance:
		return "edge"
	case AuditorClearance:
		return "auditor"
	case CoreClearance:
		return "core"
	default:
		return "level-" + strconv.Itoa(int(l))
	}
}

// ParseClearanceLevel converts a decimal string or tier name into a level.
func ParseClearanceLevel(s string) (ClearanceLevel, error) {
	switch s {
	case "unclassified":
		return Unclassified, nil
	case "edge":
		return EdgeClearance, nil
	case "auditor":
		return AuditorClearance, nil
	case "core":
		return CoreClearance, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid clearance level %q: %w", s, err)
	}
	level := ClearanceLevel(n)
	if !level.Valid() {
		return 0, fmt.Errorf("clearance level %d out of range", n)
	}
	return level, nil
}

// ContentItem is a stored piece of data tagged with a clearance level and owner.
// Content holds ciphertext whenever ClearanceLevel > 0.
type ContentItem struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	ClearanceLevel ClearanceLevel `json:"clearance_level"`
	Timestamp      time.Time      `json:"timestamp"`
	Owner          string         `json:"owner,omitempty"`
}

// Encrypted reports whether the item content is stored as ciphertext.
func (i ContentItem) Encrypted() bool {
	return i.ClearanceLevel > Unclassified
}

// ItemUpdate lists the fields to overwrite on an existing item. Nil fields are kept.
type ItemUpdate struct {
	Content        *string
	ClearanceLevel *ClearanceLevel
	Owner          *string
}

// Requester identifies who is asking for stored data.
type Requester struct {
	Identity  string
	Clearance ClearanceLevel
}
