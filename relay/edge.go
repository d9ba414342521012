package relay

import (
	"context"
	"fmt"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// Edge is the lowest tier. It executes instructions the auditor signed and
// reports the result back up as data.
type Edge struct {
	id        string
	clearance interfaces.ClearanceLevel
	auditor   string

	hop      *HopContext
	executor Executor
}

// EdgeConfig configures an Edge. A nil Executor echoes the task.
type EdgeConfig struct {
	ID       string
	Auditor  string
	Executor Executor
}

func NewEdge(cfg EdgeConfig, hop *HopContext) (*Edge, error) {
	if cfg.ID == "" || cfg.Auditor == "" {
		return nil, fmt.Errorf("edge needs its own id and the auditor id")
	}
	if err := hop.validate(); err != nil {
		return nil, err
	}

	e := &Edge{
		id:        cfg.ID,
		clearance: hop.Registry.ClearanceLevel(cfg.ID),
		auditor:   cfg.Auditor,
		hop:       hop,
		executor:  cfg.Executor,
	}
	if e.executor == nil {
		e.executor = EchoExecutor(cfg.ID)
	}
	return e, nil
}

func (e *Edge) ID() string                           { return e.id }
func (e *Edge) Clearance() interfaces.ClearanceLevel { return e.clearance }

func (e *Edge) Handle(ctx context.Context, d Delivery) Outcome {
	msg, ok := d.Message.(*interfaces.Instruction)
	if !ok {
		return e.hop.reject(ctx, e.id, "accept", d.Message,
			fmt.Errorf("%w: edge only accepts instructions, got %s", interfaces.ErrRouteNotAllowed, d.Message.Kind()))
	}

	const op = "execute instruction"

	if err := e.hop.verifyFrom(d, msg.Envelope, e.auditor); err != nil {
		return e.hop.reject(ctx, e.id, op, msg, err)
	}

	task, err := e.hop.open(e.id, msg.Envelope)
	if err != nil {
		return e.hop.reject(ctx, e.id, op, msg, err)
	}

	result, err := e.executor.Execute(ctx, task)
	if err != nil {
		return e.hop.reject(ctx, e.id, op, msg, fmt.Errorf("execution failed: %w", err))
	}

	env, err := e.hop.sign(interfaces.KindData, result, e.id, e.auditor, msg.Token,
		interfaces.WithMessageID(msg.ID),
		interfaces.WithClearance(e.clearance))
	if err != nil {
		return e.hop.reject(ctx, e.id, op, msg, err)
	}
	return e.hop.accept(ctx, e.id, op, msg, Dispatch{To: e.auditor, Message: &interfaces.Data{Envelope: env}})
}
