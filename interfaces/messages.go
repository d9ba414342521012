package interfaces

import (
	"strconv"
	"strings"
)

// MessageKind tags the variant of a relayed message.
type MessageKind string

const (
	// KindExternal marks unsigned input arriving from outside the pipeline.
	KindExternal MessageKind = "external"
	// KindInstruction marks signed commands travelling down the hierarchy.
	KindInstruction MessageKind = "instruction"
	// KindData marks signed results travelling up the hierarchy.
	KindData MessageKind = "data"
)

// Message is the closed set of message variants handled by the relay.
// Only *External, *Instruction and *Data implement it.
type Message interface {
	Kind() MessageKind
	MessageID() string
	isMessage()
}

// External is a command from an unsecured source; it carries a session token
// instead of a signature.
type External struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Sender  string `json:"sender"`
	Token   string `json:"token"`
}

func (m *External) Kind() MessageKind { return KindExternal }
func (m *External) MessageID() string { return m.ID }
func (m *External) isMessage()        {}

// Envelope is the signed wire form shared by instructions and data.
//
// Wire format: {id, kind, message, sender, token, timestamp, signature(hex),
// clearance_level?, encrypted}. The signature covers SigningString().
type Envelope struct {
	ID             string          `json:"id"`
	Type           MessageKind     `json:"kind"`
	Message        string          `json:"message"`
	Sender         string          `json:"sender"`
	Token          string          `json:"token,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	Signature      string          `json:"signature"`
	ClearanceLevel *ClearanceLevel `json:"clearance_level,omitempty"`
	Encrypted      bool            `json:"encrypted,omitempty"`
}

// SigningString returns message|sender|token|timestamp followed by the fields
// binding the envelope to its id, kind, classification and encryption marker.
func (e *Envelope) SigningString() string {
	level := ""
	if e.ClearanceLevel != nil {
		level = strconv.Itoa(int(*e.ClearanceLevel))
	}
	enc := "0"
	if e.Encrypted {
		enc = "1"
	}
	return strings.Join([]string{
		e.Message,
		e.Sender,
		e.Token,
		strconv.FormatInt(e.Timestamp, 10),
		e.ID,
		string(e.Type),
		level,
		enc,
	}, "|")
}

// Clone returns a deep copy of the envelope.
func (e Envelope) Clone() Envelope {
	if e.ClearanceLevel != nil {
		level := *e.ClearanceLevel
		e.ClearanceLevel = &level
	}
	return e
}

// Instruction is a signed command flowing Core -> Auditor -> Edge.
type Instruction struct {
	Envelope
}

func (m *Instruction) Kind() MessageKind { return KindInstruction }
func (m *Instruction) MessageID() string { return m.ID }
func (m *Instruction) isMessage()        {}

// Data is a signed result flowing Edge -> Auditor -> Core.
type Data struct {
	Envelope
}

func (m *Data) Kind() MessageKind { return KindData }
func (m *Data) MessageID() string { return m.ID }
func (m *Data) isMessage()        {}

// WrapEnvelope returns the message variant matching the envelope kind.
func WrapEnvelope(env Envelope) (Message, error) {
	switch env.Type {
	case KindInstruction:
		return &Instruction{Envelope: env}, nil
	case KindData:
		return &Data{Envelope: env}, nil
	default:
		return nil, &VerificationError{Reason: ReasonMalformed, Detail: "unknown envelope kind " + string(env.Type)}
	}
}

// LevelPtr is a small helper for optional clearance fields.
func LevelPtr(l ClearanceLevel) *ClearanceLevel {
	return &l
}
