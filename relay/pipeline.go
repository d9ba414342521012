package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/metrics"
)

// Default agent identities, matching the shipped registry file.
const (
	DefaultCoreID    = "core_agent"
	DefaultAuditorID = "auditor_agent"
	DefaultEdgeID    = "edge_agent_one"
)

// Config names the three tiers and sets runtime behaviour.
type Config struct {
	CoreID    string
	AuditorID string
	EdgeID    string

	// MinClearance is the lowest token clearance the core accepts commands from.
	MinClearance    interfaces.ClearanceLevel
	ReencryptRelays bool
	MailboxSize     int
}

func (c *Config) setDefaults() {
	if c.CoreID == "" {
		c.CoreID = DefaultCoreID
	}
	if c.AuditorID == "" {
		c.AuditorID = DefaultAuditorID
	}
	if c.EdgeID == "" {
		c.EdgeID = DefaultEdgeID
	}
}

// Dependencies are the services shared by all tiers.
type Dependencies struct {
	Registry interfaces.ClearanceRegistry
	Tokens   interfaces.TokenVerifier
	Signer   interfaces.EnvelopeSigner
	Verifier interfaces.EnvelopeVerifier
	Cipher   interfaces.Cipher
	Store    interfaces.ItemStore
	Actions  interfaces.ActionLogger
	Metrics  *metrics.Recorder
	Log      *slog.Logger
}

// Policies plug the decision points of each tier. Zero values pick the defaults.
type Policies struct {
	Approval       ApprovalPolicy
	Transformer    Transformer
	Classification ClassificationPolicy
	Instructions   InstructionPolicy
	Content        ContentPolicy
	Executor       Executor
}

// Pipeline wires core, auditor and edge into a running runtime.
type Pipeline struct {
	config    Config
	runtime   *Runtime
	core      *Core
	auditor   *Auditor
	edge      *Edge
	responses *ResponseQueue
	log       *slog.Logger
}

func NewPipeline(cfg Config, deps Dependencies, policies Policies) (*Pipeline, error) {
	cfg.setDefaults()
	if deps.Log == nil {
		return nil, errors.New("pipeline needs a logger")
	}
	if deps.Registry == nil {
		return nil, errors.New("pipeline needs a clearance registry")
	}

	coreLevel := deps.Registry.ClearanceLevel(cfg.CoreID)
	auditorLevel := deps.Registry.ClearanceLevel(cfg.AuditorID)
	edgeLevel := deps.Registry.ClearanceLevel(cfg.EdgeID)
	if !(coreLevel > auditorLevel && auditorLevel > edgeLevel) {
		return nil, fmt.Errorf("tiers must have strictly decreasing clearance, got core=%d auditor=%d edge=%d",
			coreLevel, auditorLevel, edgeLevel)
	}

	hop := &HopContext{
		Signer:          deps.Signer,
		Verifier:        deps.Verifier,
		Cipher:          deps.Cipher,
		Registry:        deps.Registry,
		Actions:         deps.Actions,
		Metrics:         deps.Metrics,
		Log:             deps.Log,
		ReencryptRelays: cfg.ReencryptRelays,
	}

	responses := NewResponseQueue(0)
	core, err := NewCore(CoreConfig{
		ID:             cfg.CoreID,
		Auditor:        cfg.AuditorID,
		MinClearance:   cfg.MinClearance,
		Tokens:         deps.Tokens,
		Store:          deps.Store,
		Responses:      responses,
		Approval:       policies.Approval,
		Transformer:    policies.Transformer,
		Classification: policies.Classification,
	}, hop)
	if err != nil {
		return nil, err
	}
	auditor, err := NewAuditor(AuditorConfig{
		ID:           cfg.AuditorID,
		Core:         cfg.CoreID,
		Edge:         cfg.EdgeID,
		Instructions: policies.Instructions,
		Content:      policies.Content,
	}, hop)
	if err != nil {
		return nil, err
	}
	edge, err := NewEdge(EdgeConfig{
		ID:       cfg.EdgeID,
		Auditor:  cfg.AuditorID,
		Executor: policies.Executor,
	}, hop)
	if err != nil {
		return nil, err
	}

	runtime := NewRuntime(deps.Log,
		WithMailboxSize(cfg.MailboxSize),
		WithRuntimeActionLog(deps.Actions),
		WithRuntimeMetrics(deps.Metrics))
	for tier, agent := range map[Tier]Agent{TierCore: core, TierAuditor: auditor, TierEdge: edge} {
		if err := runtime.Register(tier, agent); err != nil {
			return nil, err
		}
	}

	return &Pipeline{
		config:    cfg,
		runtime:   runtime,
		core:      core,
		auditor:   auditor,
		edge:      edge,
		responses: responses,
		log:       deps.Log,
	}, nil
}

func (p *Pipeline) Start(ctx context.Context) {
	p.log.Info("Starting relay pipeline",
		slog.String("core", p.config.CoreID),
		slog.String("auditor", p.config.AuditorID),
		slog.String("edge", p.config.EdgeID),
		slog.Bool("reencrypt", p.config.ReencryptRelays))
	p.runtime.Start(ctx)
}

// Submit hands an external command to the core and returns the id the
// response will carry. Authentication happens asynchronously at the core.
func (p *Pipeline) Submit(msg *interfaces.External) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := p.runtime.Send(Ingress, p.config.CoreID, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Quiesce waits until every submitted command has finished travelling.
func (p *Pipeline) Quiesce(ctx context.Context) error {
	return p.runtime.Quiesce(ctx)
}

func (p *Pipeline) Stop() {
	p.runtime.Stop()
}

func (p *Pipeline) Responses() *ResponseQueue { return p.responses }

func (p *Pipeline) Runtime() *Runtime { return p.runtime }

func (p *Pipeline) Config() Config { return p.config }
