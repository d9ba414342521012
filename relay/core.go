package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/agentsec-relay/interfaces"
)

// pendingTTL bounds how long the core remembers a request whose data never came back.
const pendingTTL = 10 * time.Minute

type pendingRequest struct {
	subject string
	since   time.Time
}

// Core is the top tier. It authenticates external commands, signs them as
// instructions for the auditor, and classifies and stores the data that
// comes back.
type Core struct {
	id        string
	clearance interfaces.ClearanceLevel
	auditor   string

	hop            *HopContext
	tokens         interfaces.TokenVerifier
	store          interfaces.ItemStore
	responses      *ResponseQueue
	minClearance   interfaces.ClearanceLevel
	approval       ApprovalPolicy
	transformer    Transformer
	classification ClassificationPolicy
	now            func() time.Time

	// only touched from Handle, which the runtime never runs concurrently
	pending map[string]pendingRequest
}

// CoreConfig configures a Core. Nil policies fall back to AutoApprove, no
// transformation and FixedClassification at the core's own level.
type CoreConfig struct {
	ID             string
	Auditor        string
	MinClearance   interfaces.ClearanceLevel
	Tokens         interfaces.TokenVerifier
	Store          interfaces.ItemStore
	Responses      *ResponseQueue
	Approval       ApprovalPolicy
	Transformer    Transformer
	Classification ClassificationPolicy
}

func NewCore(cfg CoreConfig, hop *HopContext) (*Core, error) {
	if cfg.ID == "" || cfg.Auditor == "" {
		return nil, fmt.Errorf("core needs its own id and the auditor id")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("core needs a token verifier")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("core needs a content store")
	}
	if err := hop.validate(); err != nil {
		return nil, err
	}

	c := &Core{
		id:             cfg.ID,
		clearance:      hop.Registry.ClearanceLevel(cfg.ID),
		auditor:        cfg.Auditor,
		hop:            hop,
		tokens:         cfg.Tokens,
		store:          cfg.Store,
		responses:      cfg.Responses,
		minClearance:   cfg.MinClearance,
		approval:       cfg.Approval,
		transformer:    cfg.Transformer,
		classification: cfg.Classification,
		now:            time.Now,
		pending:        make(map[string]pendingRequest),
	}
	if c.approval == nil {
		c.approval = AutoApprove
	}
	if c.classification == nil {
		c.classification = FixedClassification(c.clearance)
	}
	if c.responses == nil {
		c.responses = NewResponseQueue(0)
	}
	return c, nil
}

func (c *Core) ID() string                           { return c.id }
func (c *Core) Clearance() interfaces.ClearanceLevel { return c.clearance }

// Responses returns the queue completed relays are published to.
func (c *Core) Responses() *ResponseQueue { return c.responses }

func (c *Core) Handle(ctx context.Context, d Delivery) Outcome {
	switch msg := d.Message.(type) {
	case *interfaces.External:
		if d.From != Ingress {
			return c.hop.reject(ctx, c.id, "accept command", msg,
				fmt.Errorf("%w: external command from %s", interfaces.ErrRouteNotAllowed, d.From))
		}
		return c.handleExternal(ctx, msg)
	case *interfaces.Data:
		return c.handleData(ctx, d, msg)
	default:
		return c.hop.reject(ctx, c.id, "accept", d.Message,
			fmt.Errorf("%w: core does not accept %s messages", interfaces.ErrRouteNotAllowed, d.Message.Kind()))
	}
}

func (c *Core) handleExternal(ctx context.Context, msg *interfaces.External) Outcome {
	const op = "sign instruction"

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	claims, err := c.tokens.Parse(msg.Token)
	if err != nil {
		return c.hop.reject(ctx, c.id, op, msg, err)
	}
	if msg.Sender != "" && msg.Sender != claims.Subject {
		return c.hop.reject(ctx, c.id, op, msg,
			fmt.Errorf("%w: token issued to %q, command sent by %q", interfaces.ErrAuthenticationFailure, claims.Subject, msg.Sender))
	}
	if claims.ClearanceLevel < c.minClearance {
		return c.hop.reject(ctx, c.id, op, msg,
			fmt.Errorf("%w: commands need level %d, token carries %d", interfaces.ErrAccessDenied, c.minClearance, claims.ClearanceLevel))
	}

	now := c.now()
	c.prunePending(now)
	if _, inflight := c.pending[msg.ID]; inflight {
		return c.hop.reject(ctx, c.id, op, msg,
			fmt.Errorf("%w: request %s is already in flight", interfaces.ErrPolicyViolation, msg.ID))
	}

	approved, err := c.approval.Approve(ctx, ApprovalRequest{
		MessageID: msg.ID,
		Subject:   claims.Subject,
		Clearance: claims.ClearanceLevel,
		Content:   msg.Content,
	})
	if err != nil {
		return c.hop.reject(ctx, c.id, op, msg, fmt.Errorf("approval failed: %w", err))
	}
	if !approved {
		return c.hop.reject(ctx, c.id, op, msg, fmt.Errorf("%w: command not approved", interfaces.ErrPolicyViolation))
	}

	task := msg.Content
	if c.transformer != nil {
		task, err = c.transformer.Transform(ctx, TransformRequest{
			MessageID: msg.ID,
			Subject:   claims.Subject,
			Clearance: claims.ClearanceLevel,
			Content:   msg.Content,
		})
		if err != nil {
			return c.hop.reject(ctx, c.id, op, msg, fmt.Errorf("transform failed: %w", err))
		}
	}

	env, err := c.hop.sign(interfaces.KindInstruction, task, c.id, c.auditor, msg.Token,
		interfaces.WithMessageID(msg.ID),
		interfaces.WithClearance(claims.ClearanceLevel))
	if err != nil {
		return c.hop.reject(ctx, c.id, op, msg, err)
	}

	c.pending[msg.ID] = pendingRequest{subject: claims.Subject, since: now}
	return c.hop.accept(ctx, c.id, op, msg, Dispatch{To: c.auditor, Message: &interfaces.Instruction{Envelope: env}})
}

func (c *Core) handleData(ctx context.Context, d Delivery, msg *interfaces.Data) Outcome {
	const op = "store data"

	if err := c.hop.verifyFrom(d, msg.Envelope, c.auditor); err != nil {
		return c.hop.reject(ctx, c.id, op, msg, err)
	}

	content, err := c.hop.open(c.id, msg.Envelope)
	if err != nil {
		return c.hop.reject(ctx, c.id, op, msg, err)
	}

	level, err := c.classification.Classify(ctx, ClassificationRequest{
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Content:   content,
		Declared:  msg.ClearanceLevel,
	})
	if err != nil {
		return c.hop.reject(ctx, c.id, op, msg, fmt.Errorf("classification failed: %w", err))
	}
	if !level.Valid() {
		return c.hop.reject(ctx, c.id, op, msg, fmt.Errorf("classification produced invalid level %d", level))
	}
	if msg.ClearanceLevel != nil && level < *msg.ClearanceLevel {
		return c.hop.reject(ctx, c.id, op, msg,
			fmt.Errorf("%w: cannot store level %d data at level %d", interfaces.ErrPolicyViolation, *msg.ClearanceLevel, level))
	}

	// stored under a fresh id, msg.ID only correlates the response
	item, err := c.store.Write(ctx, interfaces.ContentItem{
		Content:        content,
		ClearanceLevel: level,
		Timestamp:      c.now().UTC(),
		Owner:          c.id,
	})
	if err != nil {
		return c.hop.reject(ctx, c.id, op, msg, err)
	}

	request, known := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	if !known {
		c.hop.Log.Warn("Data for unknown request", "message_id", msg.ID)
	}

	c.responses.Publish(Response{
		MessageID:      msg.ID,
		ItemID:         item.ID,
		Requester:      request.subject,
		Content:        content,
		ClearanceLevel: level,
		Timestamp:      item.Timestamp,
	})
	return c.hop.accept(ctx, c.id, op, msg)
}

func (c *Core) prunePending(now time.Time) {
	for id, p := range c.pending {
		if now.Sub(p.since) > pendingTTL {
			delete(c.pending, id)
		}
	}
}
