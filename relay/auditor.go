package relay

import (
	"context"
	"fmt"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// Auditor sits between core and edge. Nothing travels between them without
// its signature, and it filters traffic in both directions.
type Auditor struct {
	id        string
	clearance interfaces.ClearanceLevel
	core      string
	edge      string

	hop          *HopContext
	instructions InstructionPolicy
	content      ContentPolicy
}

// AuditorConfig configures an Auditor. A nil Instructions policy passes
// everything through; a nil Content policy blocks DefaultBlockedTerms.
type AuditorConfig struct {
	ID           string
	Core         string
	Edge         string
	Instructions InstructionPolicy
	Content      ContentPolicy
}

func NewAuditor(cfg AuditorConfig, hop *HopContext) (*Auditor, error) {
	if cfg.ID == "" || cfg.Core == "" || cfg.Edge == "" {
		return nil, fmt.Errorf("auditor needs its own, the core and the edge ids")
	}
	if err := hop.validate(); err != nil {
		return nil, err
	}

	a := &Auditor{
		id:           cfg.ID,
		clearance:    hop.Registry.ClearanceLevel(cfg.ID),
		core:         cfg.Core,
		edge:         cfg.Edge,
		hop:          hop,
		instructions: cfg.Instructions,
		content:      cfg.Content,
	}
	if a.instructions == nil {
		a.instructions = PassThrough
	}
	if a.content == nil {
		a.content = KeywordPolicy{Terms: DefaultBlockedTerms}
	}
	return a, nil
}

func (a *Auditor) ID() string                           { return a.id }
func (a *Auditor) Clearance() interfaces.ClearanceLevel { return a.clearance }

func (a *Auditor) Handle(ctx context.Context, d Delivery) Outcome {
	switch msg := d.Message.(type) {
	case *interfaces.Instruction:
		return a.handleInstruction(ctx, d, msg)
	case *interfaces.Data:
		return a.handleData(ctx, d, msg)
	default:
		return a.hop.reject(ctx, a.id, "accept", d.Message,
			fmt.Errorf("%w: auditor does not accept %s messages", interfaces.ErrRouteNotAllowed, d.Message.Kind()))
	}
}

func (a *Auditor) handleInstruction(ctx context.Context, d Delivery, msg *interfaces.Instruction) Outcome {
	const op = "audit instruction"

	if err := a.hop.verifyFrom(d, msg.Envelope, a.core); err != nil {
		return a.hop.reject(ctx, a.id, op, msg, err)
	}
	if senderLevel := a.hop.Registry.ClearanceLevel(msg.Sender); senderLevel <= a.clearance {
		return a.hop.reject(ctx, a.id, op, msg,
			fmt.Errorf("%w: instruction sender %s at level %d does not outrank auditor at %d",
				interfaces.ErrAccessDenied, msg.Sender, senderLevel, a.clearance))
	}

	task, err := a.hop.open(a.id, msg.Envelope)
	if err != nil {
		return a.hop.reject(ctx, a.id, op, msg, err)
	}

	if err := a.instructions.Inspect(ctx, Inspection{
		MessageID: msg.ID,
		Kind:      interfaces.KindInstruction,
		Sender:    msg.Sender,
		Clearance: msg.ClearanceLevel,
		Content:   task,
	}); err != nil {
		return a.hop.reject(ctx, a.id, op, msg, err)
	}

	env, err := a.hop.sign(interfaces.KindInstruction, task, a.id, a.edge, msg.Token, a.relayOptions(msg.Envelope)...)
	if err != nil {
		return a.hop.reject(ctx, a.id, op, msg, err)
	}
	return a.hop.accept(ctx, a.id, op, msg, Dispatch{To: a.edge, Message: &interfaces.Instruction{Envelope: env}})
}

func (a *Auditor) handleData(ctx context.Context, d Delivery, msg *interfaces.Data) Outcome {
	const op = "audit data"

	if err := a.hop.verifyFrom(d, msg.Envelope, a.edge); err != nil {
		return a.hop.reject(ctx, a.id, op, msg, err)
	}

	content, err := a.hop.open(a.id, msg.Envelope)
	if err != nil {
		return a.hop.reject(ctx, a.id, op, msg, err)
	}

	if err := a.content.Inspect(ctx, Inspection{
		MessageID: msg.ID,
		Kind:      interfaces.KindData,
		Sender:    msg.Sender,
		Clearance: msg.ClearanceLevel,
		Content:   content,
	}); err != nil {
		return a.hop.reject(ctx, a.id, op, msg, err)
	}

	env, err := a.hop.sign(interfaces.KindData, content, a.id, a.core, msg.Token, a.relayOptions(msg.Envelope)...)
	if err != nil {
		return a.hop.reject(ctx, a.id, op, msg, err)
	}
	return a.hop.accept(ctx, a.id, op, msg, Dispatch{To: a.core, Message: &interfaces.Data{Envelope: env}})
}

// relayOptions keeps the ingress id and the declared level on the re-signed envelope.
func (a *Auditor) relayOptions(env interfaces.Envelope) []interfaces.SignOption {
	opts := []interfaces.SignOption{interfaces.WithMessageID(env.ID)}
	if env.ClearanceLevel != nil {
		opts = append(opts, interfaces.WithClearance(*env.ClearanceLevel))
	}
	return opts
}
